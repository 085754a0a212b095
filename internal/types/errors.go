package types

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfiguration covers a missing or incomplete credential or strategy.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransientBroker covers network failures and 5xx answers.
	ErrTransientBroker = errors.New("transient broker error")
	// ErrAuth covers 401/403 answers; it stays terminal until the credential changes.
	ErrAuth = errors.New("broker authentication error")
	// ErrRegistry wraps any session store failure.
	ErrRegistry = errors.New("registry error")

	ErrActiveSessionExists = errors.New("user already has an active session")
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidInterval     = errors.New("poll interval out of range")
	ErrNotEnoughCandles    = errors.New("not enough candles")
)

// BrokerError is a non-2xx broker answer. Message holds the broker's
// errorMessage verbatim when it sent one.
type BrokerError struct {
	Status  int
	Message string
}

func (e *BrokerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("broker HTTP %d", e.Status)
	}
	return fmt.Sprintf("broker HTTP %d: %s", e.Status, e.Message)
}

func (e *BrokerError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrAuth
	case e.Status >= 500:
		return ErrTransientBroker
	default:
		return nil
	}
}

func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
