package monitor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/clalos/dashwatch/internal/alert"
	"github.com/clalos/dashwatch/internal/pipeline"
	"github.com/clalos/dashwatch/internal/registry"
	"github.com/clalos/dashwatch/internal/statuslog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDispatcher struct {
	channel  string
	attempt  bool
	notified []string
	targets  []registry.Targets
}

func (d *fakeDispatcher) Channel() string { return d.channel }

func (d *fakeDispatcher) NotifyDown(_ context.Context, service registry.Identity, targets registry.Targets) alert.Delivery {
	d.notified = append(d.notified, service.Name)
	d.targets = append(d.targets, targets)
	if !d.attempt {
		return alert.Delivery{}
	}
	return alert.Delivery{Attempted: true, Recipients: targets.Email}
}

type memRecorder struct {
	entries []statuslog.Entry
	err     error
}

func (r *memRecorder) Record(_ context.Context, e statuslog.Entry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func sampleResult() pipeline.Result {
	return pipeline.Result{
		CycleID:   "c1",
		Timestamp: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
		Down: []registry.Identity{{
			Name:       "ECIS",
			Registered: true,
			Targets:    registry.Targets{Email: []string{"loans@example.com"}},
		}},
		Up: []registry.Identity{{Name: "BTSS"}, {Name: "IWPG"}},
	}
}

func TestHandleAlertsAndRecords(t *testing.T) {
	email := &fakeDispatcher{channel: "Email", attempt: true}
	whatsapp := &fakeDispatcher{channel: "WhatsApp"}
	rec := &memRecorder{}

	m := New(rec, testLogger(), nil, email, whatsapp)
	if err := m.Handle(context.Background(), sampleResult()); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	for _, d := range []*fakeDispatcher{email, whatsapp} {
		if len(d.notified) != 1 || d.notified[0] != "ECIS" {
			t.Errorf("%s notified = %v, want [ECIS]", d.channel, d.notified)
		}
		if d.targets[0].Email[0] != "loans@example.com" {
			t.Errorf("%s got targets %+v", d.channel, d.targets[0])
		}
	}

	if len(rec.entries) != 4 {
		t.Fatalf("entries = %d, want 4: %+v", len(rec.entries), rec.entries)
	}
	first := rec.entries[0]
	if first.Service != "ECIS" || first.Status != "DOWN" || !first.AlertSent || first.Channel != "Email" || len(first.Recipients) != 1 {
		t.Errorf("email row = %+v", first)
	}
	second := rec.entries[1]
	if second.AlertSent || second.Channel != "WhatsApp" {
		t.Errorf("whatsapp row = %+v", second)
	}
	for _, e := range rec.entries[2:] {
		if e.Status != "UP" || e.AlertSent || e.Channel != "" {
			t.Errorf("up row = %+v", e)
		}
		if !e.Timestamp.Equal(sampleResult().Timestamp) {
			t.Errorf("row timestamp = %v", e.Timestamp)
		}
	}
}

func TestHandleWithoutDispatchers(t *testing.T) {
	rec := &memRecorder{}
	if err := New(rec, testLogger(), nil).Handle(context.Background(), sampleResult()); err != nil {
		t.Fatal(err)
	}
	if len(rec.entries) != 3 || rec.entries[0].Status != "DOWN" || rec.entries[0].AlertSent {
		t.Errorf("entries = %+v", rec.entries)
	}
}

func TestHandleRecorderErrorsDoNotStopAlerts(t *testing.T) {
	boom := errors.New("disk full")
	email := &fakeDispatcher{channel: "Email", attempt: true}
	rec := &memRecorder{err: boom}

	res := sampleResult()
	res.Down = append(res.Down, registry.Identity{Name: "payments"})

	err := New(rec, testLogger(), nil, email).Handle(context.Background(), res)
	if !errors.Is(err, boom) {
		t.Errorf("Handle() error = %v, want %v", err, boom)
	}
	if len(email.notified) != 2 {
		t.Errorf("notified = %v, want both down services", email.notified)
	}
	if len(rec.entries) != 4 {
		t.Errorf("entries attempted = %d, want 4", len(rec.entries))
	}
}

func TestHandleEmptyResult(t *testing.T) {
	email := &fakeDispatcher{channel: "Email"}
	rec := &memRecorder{}
	if err := New(rec, testLogger(), nil, email).Handle(context.Background(), pipeline.Result{}); err != nil {
		t.Fatal(err)
	}
	if len(email.notified) != 0 || len(rec.entries) != 0 {
		t.Errorf("notified = %v, entries = %v", email.notified, rec.entries)
	}
}
