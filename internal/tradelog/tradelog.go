package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type OrderEntry struct {
	Time, SessionID, Instrument, Side string
	Units                             string
	CreateTxID, FillTxID              string
	Price                             string
	Filled                            bool
	Extra                             map[string]any `json:"extra,omitempty"`
}

type SignalEntry struct {
	Time, SessionID, Instrument, Signal, Reason string
	ShortMA, LongMA, PrevShortMA, PrevLongMA    float64
	Price                                       float64
}

// Writer appends daily JSON lines files under Dir: orders to <day>.txt and
// signals to signals/<day>.txt. Days roll over in UTC.
type Writer struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func New(dir string) *Writer {
	if dir == "" {
		dir = "logs"
	}
	return &Writer{dir: dir, now: time.Now}
}

func (w *Writer) Dir() string { return w.dir }

func (w *Writer) ordersPath(t time.Time) string {
	return filepath.Join(w.dir, t.UTC().Format("2006-01-02")+".txt")
}

// OrdersFile is the order log for t's UTC day.
func (w *Writer) OrdersFile(t time.Time) string { return w.ordersPath(t) }

func (w *Writer) signalsPath(t time.Time) string {
	return filepath.Join(w.dir, "signals", t.UTC().Format("2006-01-02")+".txt")
}

func (w *Writer) AppendOrder(e OrderEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now().UTC()
	e.Time = now.Format(time.RFC3339)
	return appendLine(w.ordersPath(now), e)
}

func (w *Writer) AppendSignal(e SignalEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now().UTC()
	e.Time = now.Format(time.RFC3339)
	return appendLine(w.signalsPath(now), e)
}

func appendLine(p string, v any) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips .txt files last modified more than retentionDays ago
// and removes the originals.
func (w *Writer) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := w.now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(w.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".txt" {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err != nil {
			return nil
		}
		_ = os.Remove(p)
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
