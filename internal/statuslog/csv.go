package statuslog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	fileLayout      = "06_01_02"
	timestampLayout = "2006-01-02 15:04:05"
)

var csvHeader = []string{"Timestamp", "Service Name", "Status", "Alert Sent", "Alert Type", "Recipients"}

// CSVRecorder writes <dir>/<yy_mm_dd>.csv files, starting each with a
// header row.
type CSVRecorder struct {
	dir string
	mu  sync.Mutex
}

// NewCSVRecorder creates dir if needed.
func NewCSVRecorder(dir string) (*CSVRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create status log dir: %w", err)
	}
	return &CSVRecorder{dir: dir}, nil
}

// Path returns the file holding entries for the day of e.
func (r *CSVRecorder) Path(e Entry) string {
	return filepath.Join(r.dir, e.Timestamp.Format(fileLayout)+".csv")
}

// Record implements Recorder.
func (r *CSVRecorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.Path(e)
	_, err := os.Stat(path)
	fresh := errors.Is(err, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open status log: %w", err)
	}

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return fmt.Errorf("write status log header: %w", err)
		}
	}
	if err := w.Write(row(e)); err != nil {
		f.Close()
		return fmt.Errorf("write status log row: %w", err)
	}
	w.Flush()

	return errors.Join(w.Error(), f.Close())
}

func row(e Entry) []string {
	return []string{
		e.Timestamp.Format(timestampLayout),
		e.Service,
		e.Status,
		formatBool(e.AlertSent),
		e.Channel,
		strings.Join(e.Recipients, ", "),
	}
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
