// Package statuslog appends one row per service observation to a
// per-day log.
package statuslog

import (
	"context"
	"errors"
	"time"
)

// Entry is one status log row.
type Entry struct {
	Timestamp  time.Time
	Service    string
	Status     string
	AlertSent  bool
	Channel    string
	Recipients []string
}

// Recorder appends entries. Implementations are safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Multi fans entries out to every recorder and joins their errors.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
