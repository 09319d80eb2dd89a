// Package monitor turns cycle results into alerts and status log rows.
package monitor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/clalos/dashwatch/internal/alert"
	"github.com/clalos/dashwatch/internal/metrics"
	"github.com/clalos/dashwatch/internal/pipeline"
	"github.com/clalos/dashwatch/internal/statuslog"
	"github.com/clalos/dashwatch/internal/vision"
)

// Monitor alerts on every DOWN service on every cycle and logs every
// observed service. It keeps no state between cycles.
type Monitor struct {
	dispatchers []alert.Dispatcher
	recorder    statuslog.Recorder
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a monitor. recorder and m may be nil.
func New(recorder statuslog.Recorder, logger *slog.Logger, m *metrics.Metrics, dispatchers ...alert.Dispatcher) *Monitor {
	return &Monitor{dispatchers: dispatchers, recorder: recorder, logger: logger, metrics: m}
}

// Handle implements pipeline.Sink. Dispatch failures are absorbed by the
// dispatchers; recorder failures are joined into the returned error after
// every row has been attempted.
func (m *Monitor) Handle(ctx context.Context, res pipeline.Result) error {
	var errs []error
	record := func(e statuslog.Entry) {
		if m.recorder == nil {
			return
		}
		if err := m.recorder.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}

	for _, service := range res.Down {
		m.logger.Warn("Service DOWN", "service", service.Name, "registered", service.Registered, "cycle_id", res.CycleID)

		if len(m.dispatchers) == 0 {
			record(statuslog.Entry{Timestamp: res.Timestamp, Service: service.Name, Status: string(vision.StatusDown)})
			continue
		}
		for _, d := range m.dispatchers {
			delivery := d.NotifyDown(ctx, service, service.Targets)
			m.metrics.AlertAttempt(d.Channel(), delivery.Attempted)
			record(statuslog.Entry{
				Timestamp:  res.Timestamp,
				Service:    service.Name,
				Status:     string(vision.StatusDown),
				AlertSent:  delivery.Attempted,
				Channel:    d.Channel(),
				Recipients: delivery.Recipients,
			})
		}
	}

	for _, service := range res.Up {
		m.logger.Info("Service UP", "service", service.Name, "cycle_id", res.CycleID)
		record(statuslog.Entry{Timestamp: res.Timestamp, Service: service.Name, Status: string(vision.StatusUp)})
	}

	return errors.Join(errs...)
}
