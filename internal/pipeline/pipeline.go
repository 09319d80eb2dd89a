// Package pipeline runs the capture, segment, extract, OCR and resolve
// stages that turn one dashboard frame into a service status snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/clalos/dashwatch/internal/capture"
	"github.com/clalos/dashwatch/internal/metrics"
	"github.com/clalos/dashwatch/internal/ocr"
	"github.com/clalos/dashwatch/internal/registry"
	"github.com/clalos/dashwatch/internal/vision"
)

// ErrCaptureFailed marks a cycle abandoned because no frame was available.
var ErrCaptureFailed = errors.New("capture failed")

// Resolver maps OCR'd text to a service identity.
type Resolver interface {
	Resolve(raw string) registry.Identity
}

// Observation is one labelled status region.
type Observation struct {
	RawText string            `json:"raw_text"`
	Key     string            `json:"key"`
	Service registry.Identity `json:"service"`
	Status  vision.Status     `json:"status"`
	Region  vision.Region     `json:"region"`
}

// Result is the outcome of one cycle. Down and Up hold one identity per
// service name, sorted by name.
type Result struct {
	CycleID      string              `json:"cycle_id"`
	Timestamp    time.Time           `json:"timestamp"`
	FrameIndex   int64               `json:"frame_index"`
	FrameHash    string              `json:"frame_hash,omitempty"`
	Down         []registry.Identity `json:"down"`
	Up           []registry.Identity `json:"up"`
	Observations []Observation       `json:"observations"`
	Skipped      int                 `json:"skipped"`
}

// Options tunes region extraction.
type Options struct {
	Policy vision.CapturePolicy
	// DiagnosticsDir, when set, receives the frame and its masks every cycle.
	DiagnosticsDir string
}

// Pipeline owns the frame source and the OCR reader for its lifetime. It
// runs one cycle at a time and is not safe for concurrent use.
type Pipeline struct {
	source   capture.Source
	reader   ocr.Reader
	resolver Resolver
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New wires a pipeline. m may be nil.
func New(source capture.Source, reader ocr.Reader, resolver Resolver, opts Options, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		source:   source,
		reader:   reader,
		resolver: resolver,
		opts:     opts,
		logger:   logger,
		metrics:  m,
	}
}

// RunCycle captures one frame and processes it. A capture fault returns an
// error wrapping ErrCaptureFailed and no result.
func (p *Pipeline) RunCycle(ctx context.Context) (Result, error) {
	start := time.Now()

	frame, err := p.source.Read(ctx)
	if err != nil {
		p.metrics.CycleCompleted("capture_failed", time.Since(start))
		return Result{}, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	defer frame.Close()

	res := p.Process(frame)
	p.metrics.CycleCompleted("ok", time.Since(start))
	return res, nil
}

// Process segments frame, reads the label of every red and green region and
// resolves it. A region whose OCR fails is skipped and counted; a region
// with no readable text is dropped.
func (p *Pipeline) Process(frame capture.Frame) Result {
	res := Result{
		CycleID:    uuid.NewString(),
		Timestamp:  frame.Timestamp,
		FrameIndex: frame.Index,
		FrameHash:  p.fingerprint(frame.Image),
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}

	masks := vision.Segment(frame.Image)
	defer masks.Close()

	if p.opts.DiagnosticsDir != "" {
		if err := vision.SaveDiagnostics(p.opts.DiagnosticsDir, res.CycleID, frame.Image, masks); err != nil {
			p.logger.Warn("Failed to save diagnostic images", "dir", p.opts.DiagnosticsDir, "error", err)
		}
	}

	for _, class := range []vision.ColorClass{vision.Red, vision.Green} {
		regions := vision.Extract(masks.Get(class), class, vision.NoiseFilter, p.opts.Policy)
		p.metrics.RegionsFound(class.String(), len(regions))
		status, _ := class.Status()

		for _, region := range regions {
			obs, ok := p.observe(frame, region, status, &res)
			if !ok {
				continue
			}
			res.Observations = append(res.Observations, obs)
			p.metrics.Observed(string(status), obs.Service.Registered)
		}
	}

	res.Down = collect(res.Observations, vision.StatusDown)
	res.Up = collect(res.Observations, vision.StatusUp)

	p.logger.Info("Cycle processed",
		"cycle_id", res.CycleID,
		"frame_index", res.FrameIndex,
		"down", names(res.Down),
		"up", names(res.Up),
		"skipped", res.Skipped)
	return res
}

func (p *Pipeline) observe(frame capture.Frame, region vision.Region, status vision.Status, res *Result) (Observation, bool) {
	text, err := p.reader.Read(frame.Image, region.Capture)
	if err != nil {
		res.Skipped++
		p.metrics.OCRError()
		p.logger.Warn("Skipping region after OCR failure",
			"cycle_id", res.CycleID,
			"class", region.Class,
			"box", region.Box,
			"error", err)
		return Observation{}, false
	}
	if text == "" {
		p.logger.Debug("Dropping region without text", "cycle_id", res.CycleID, "class", region.Class, "box", region.Box)
		return Observation{}, false
	}

	id := p.resolver.Resolve(text)
	if id.Name == "" {
		p.logger.Debug("Dropping region with unusable text", "cycle_id", res.CycleID, "text", text)
		return Observation{}, false
	}

	return Observation{
		RawText: text,
		Key:     id.Key,
		Service: id,
		Status:  status,
		Region:  region,
	}, true
}

// Survey lists the service labels next to orange indicator dots, in region
// order and without duplicates. It is used to bootstrap the registry.
func (p *Pipeline) Survey(frame capture.Frame) []string {
	masks := vision.Segment(frame.Image)
	defer masks.Close()

	regions := vision.Extract(masks.Orange, vision.Orange, vision.CircleFilter, vision.IndicatorDot)
	p.metrics.RegionsFound(vision.Orange.String(), len(regions))

	seen := make(map[string]bool, len(regions))
	var found []string
	for _, region := range regions {
		text, err := p.reader.Read(frame.Image, region.Capture)
		if err != nil {
			p.metrics.OCRError()
			p.logger.Warn("Skipping indicator after OCR failure", "box", region.Box, "error", err)
			continue
		}
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		found = append(found, text)
	}
	return found
}

// Discover captures one frame and surveys it.
func (p *Pipeline) Discover(ctx context.Context) ([]string, error) {
	frame, err := p.source.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	defer frame.Close()
	return p.Survey(frame), nil
}

func (p *Pipeline) fingerprint(img gocv.Mat) string {
	if img.Empty() {
		return ""
	}
	decoded, err := img.ToImage()
	if err != nil {
		p.logger.Debug("Frame fingerprint unavailable", "error", err)
		return ""
	}
	hash, err := goimagehash.PerceptionHash(decoded)
	if err != nil {
		p.logger.Debug("Frame fingerprint unavailable", "error", err)
		return ""
	}
	return hash.ToString()
}

func collect(observations []Observation, status vision.Status) []registry.Identity {
	byName := make(map[string]registry.Identity)
	for _, obs := range observations {
		if obs.Status != status {
			continue
		}
		if _, ok := byName[obs.Service.Name]; !ok {
			byName[obs.Service.Name] = obs.Service
		}
	}

	out := make([]registry.Identity, 0, len(byName))
	for _, id := range byName {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func names(ids []registry.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Name
	}
	return out
}
