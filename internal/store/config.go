package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"fx-forward-runner/internal/types"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Mode DRY_RUN evaluates and logs signals but never submits orders.
	Mode string `yaml:"mode"`

	Broker struct {
		Environment    types.Environment `yaml:"environment"`
		AccountID      string            `yaml:"account_id"`
		APIKey         string            `yaml:"-"`
		BaseURL        string            `yaml:"base_url"`
		TimeoutSeconds int               `yaml:"timeout_seconds"`
	} `yaml:"broker"`

	Strategy types.Strategy `yaml:"strategy"`

	Runner struct {
		UserID        string `yaml:"user_id"`
		RegistryURL   string `yaml:"registry_url"`
		RegistryToken string `yaml:"-"`
		StatusAddr    string `yaml:"status_addr"`
		AutoStart     bool   `yaml:"auto_start"`
	} `yaml:"runner"`

	Keepalive struct {
		IntervalSeconds  int `yaml:"interval_seconds"`
		FailureThreshold int `yaml:"failure_threshold"`
		WatchdogSeconds  int `yaml:"watchdog_seconds"`
	} `yaml:"keepalive"`

	Poller struct {
		MonitorIntervalSeconds  int    `yaml:"monitor_interval_seconds"`
		AutoTestIntervalSeconds int    `yaml:"auto_test_interval_seconds"`
		MinIntervalSeconds      int    `yaml:"min_interval_seconds"`
		MaxIntervalSeconds      int    `yaml:"max_interval_seconds"`
		HistorySize             int    `yaml:"history_size"`
		CandleCount             int    `yaml:"candle_count"`
		Granularity             string `yaml:"granularity"`
	} `yaml:"poller"`

	Reconcile struct {
		DebounceSeconds     int  `yaml:"debounce_seconds"`
		IntervalSeconds     int  `yaml:"interval_seconds"`
		AutoResolveMismatch bool `yaml:"auto_resolve_mismatch"`
	} `yaml:"reconcile"`

	Server struct {
		Addr                string   `yaml:"addr"`
		AllowedOrigins      []string `yaml:"allowed_origins"`
		EnforceSingleActive *bool    `yaml:"enforce_single_active"`
		JWTSecret           string   `yaml:"-"`
		TriggerSecret       string   `yaml:"-"`
	} `yaml:"server"`

	Job struct {
		Instrument         string `yaml:"instrument"`
		Granularity        string `yaml:"granularity"`
		ShortWindow        int    `yaml:"short_window"`
		LongWindow         int    `yaml:"long_window"`
		CandleMargin       int    `yaml:"candle_margin"`
		Units              int64  `yaml:"units"`
		SkipIfPositionOpen *bool  `yaml:"skip_if_position_open"`
		Lock               struct {
			RedisURL   string `yaml:"redis_url"`
			TTLSeconds int    `yaml:"ttl_seconds"`
		} `yaml:"lock"`
	} `yaml:"job"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	TradeLog struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"tradelog"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Broker.Environment != types.EnvPractice && c.Broker.Environment != types.EnvLive {
		return fmt.Errorf("broker.environment must be 'practice' or 'live', got '%s'", c.Broker.Environment)
	}
	if c.Keepalive.FailureThreshold < 1 {
		return fmt.Errorf("keepalive.failure_threshold must be at least 1, got %d", c.Keepalive.FailureThreshold)
	}
	if c.Poller.MinIntervalSeconds <= 0 || c.Poller.MinIntervalSeconds > c.Poller.MaxIntervalSeconds {
		return fmt.Errorf("poller interval bounds invalid: min=%d max=%d", c.Poller.MinIntervalSeconds, c.Poller.MaxIntervalSeconds)
	}
	if c.Job.ShortWindow <= 0 || c.Job.ShortWindow >= c.Job.LongWindow {
		return fmt.Errorf("job.short_window must be positive and below job.long_window, got %d/%d", c.Job.ShortWindow, c.Job.LongWindow)
	}
	if c.Job.Units <= 0 {
		return errors.New("job.units must be positive")
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes YAML, overlays secrets from the environment and fills defaults.
func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyEnv()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

func (c *Config) applyEnv() {
	c.Broker.APIKey = os.Getenv("OANDA_API_KEY")
	if v := os.Getenv("OANDA_ACCOUNT_ID"); v != "" {
		c.Broker.AccountID = v
	}
	if v := os.Getenv("OANDA_ENVIRONMENT"); v != "" {
		c.Broker.Environment = types.Environment(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Job.Lock.RedisURL = v
	}
	c.Server.JWTSecret = os.Getenv("JWT_SECRET")
	c.Server.TriggerSecret = os.Getenv("JOB_TRIGGER_SECRET")
	c.Runner.RegistryToken = os.Getenv("REGISTRY_TOKEN")
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if c.Broker.Environment == "" {
		c.Broker.Environment = types.EnvPractice
	}
	if c.Broker.TimeoutSeconds == 0 {
		c.Broker.TimeoutSeconds = 10
	}

	if c.Runner.StatusAddr == "" {
		c.Runner.StatusAddr = ":8090"
	}

	if c.Keepalive.IntervalSeconds == 0 {
		c.Keepalive.IntervalSeconds = 240
	}
	if c.Keepalive.FailureThreshold == 0 {
		c.Keepalive.FailureThreshold = 3
	}
	if c.Keepalive.WatchdogSeconds == 0 {
		c.Keepalive.WatchdogSeconds = 60
	}

	if c.Poller.MonitorIntervalSeconds == 0 {
		c.Poller.MonitorIntervalSeconds = 60
	}
	if c.Poller.AutoTestIntervalSeconds == 0 {
		c.Poller.AutoTestIntervalSeconds = 60
	}
	if c.Poller.MinIntervalSeconds == 0 {
		c.Poller.MinIntervalSeconds = 10
	}
	if c.Poller.MaxIntervalSeconds == 0 {
		c.Poller.MaxIntervalSeconds = 300
	}
	if c.Poller.HistorySize == 0 {
		c.Poller.HistorySize = 20
	}
	if c.Poller.CandleCount == 0 {
		c.Poller.CandleCount = 100
	}
	if c.Poller.Granularity == "" {
		c.Poller.Granularity = "M1"
	}

	if c.Reconcile.DebounceSeconds == 0 {
		c.Reconcile.DebounceSeconds = 30
	}
	if c.Reconcile.IntervalSeconds == 0 {
		c.Reconcile.IntervalSeconds = 120
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.EnforceSingleActive == nil {
		on := true
		c.Server.EnforceSingleActive = &on
	}

	if c.Job.Instrument == "" {
		c.Job.Instrument = "EUR_USD"
	}
	if c.Job.Granularity == "" {
		c.Job.Granularity = "M1"
	}
	if c.Job.ShortWindow == 0 {
		c.Job.ShortWindow = 10
	}
	if c.Job.LongWindow == 0 {
		c.Job.LongWindow = 20
	}
	if c.Job.CandleMargin == 0 {
		c.Job.CandleMargin = 5
	}
	if c.Job.Units == 0 {
		c.Job.Units = 100
	}
	if c.Job.SkipIfPositionOpen == nil {
		on := true
		c.Job.SkipIfPositionOpen = &on
	}
	if c.Job.Lock.TTLSeconds == 0 {
		c.Job.Lock.TTLSeconds = 55
	}

	if c.TradeLog.Dir == "" {
		c.TradeLog.Dir = "logs"
	}
}

// Credential assembles the broker credential from the config and environment.
func (c *Config) Credential() types.Credential {
	return types.Credential{
		AccountID:   c.Broker.AccountID,
		APIKey:      c.Broker.APIKey,
		Environment: c.Broker.Environment,
	}
}

func (c *Config) BrokerTimeout() time.Duration {
	return time.Duration(c.Broker.TimeoutSeconds) * time.Second
}

func (c *Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.Keepalive.IntervalSeconds) * time.Second
}

func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Keepalive.WatchdogSeconds) * time.Second
}

func (c *Config) ReconcileDebounce() time.Duration {
	return time.Duration(c.Reconcile.DebounceSeconds) * time.Second
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconcile.IntervalSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Job.Lock.TTLSeconds) * time.Second
}
