package pipeline

import (
	"context"
	"sync"
)

// Mailbox holds the most recent Result. Put overwrites, readers never block
// the writer. It is the only hand-off between the loop and presentation
// surfaces.
type Mailbox struct {
	mu      sync.RWMutex
	latest  Result
	ok      bool
	changed chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{changed: make(chan struct{})}
}

// Put replaces the stored result and wakes every waiter.
func (m *Mailbox) Put(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = res
	m.ok = true
	close(m.changed)
	m.changed = make(chan struct{})
}

// Latest returns the stored result, if any.
func (m *Mailbox) Latest() (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.ok
}

// Changed returns a channel closed by the next Put.
func (m *Mailbox) Changed() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changed
}

// Handle implements Sink.
func (m *Mailbox) Handle(_ context.Context, res Result) error {
	m.Put(res)
	return nil
}
