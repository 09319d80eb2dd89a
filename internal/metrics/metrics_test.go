package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CycleCompleted("ok", time.Second)
	m.RegionsFound("red", 2)
	m.Observed("DOWN", true)
	m.OCRError()
	m.AlertAttempt("email", true)
	m.ReconnectAttempt()
	m.SetCircuitState(1)
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CycleCompleted("ok", 100*time.Millisecond)
	m.CycleCompleted("ok", 200*time.Millisecond)
	m.CycleCompleted("capture_failed", 0)
	m.RegionsFound("red", 3)
	m.AlertAttempt("email", false)
	m.OCRError()

	if got := testutil.ToFloat64(m.cycles.WithLabelValues("ok")); got != 2 {
		t.Errorf("cycles{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.cycles.WithLabelValues("capture_failed")); got != 1 {
		t.Errorf("cycles{capture_failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.regions.WithLabelValues("red")); got != 3 {
		t.Errorf("regions{red} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.alerts.WithLabelValues("email", "skipped")); got != 1 {
		t.Errorf("alerts{email,skipped} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ocrErrors); got != 1 {
		t.Errorf("ocr errors = %v, want 1", got)
	}
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := New(reg)
	second := New(reg)

	first.OCRError()
	second.OCRError()

	if got := testutil.ToFloat64(first.ocrErrors); got != 2 {
		t.Errorf("shared ocr errors = %v, want 2", got)
	}
}
