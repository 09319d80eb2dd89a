package vision

import (
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// Filter decides which contours count as status blobs.
type Filter struct {
	// MinArea is the contour area threshold in pixels.
	MinArea float64
	// Inclusive accepts contours whose area equals MinArea.
	Inclusive bool
	// AspectTolerance, when positive, rejects bounding boxes whose
	// width/height ratio deviates from 1 by more than this fraction.
	AspectTolerance float64
}

var (
	// NoiseFilter keeps any blob larger than 100 px.
	NoiseFilter = Filter{MinArea: 100}
	// CircleFilter keeps roughly square blobs of at least 50 px, the shape of
	// an indicator dot.
	CircleFilter = Filter{MinArea: 50, Inclusive: true, AspectTolerance: 0.1}
)

// Accept reports whether a contour with the given area and bounding box passes.
func (f Filter) Accept(area float64, box image.Rectangle) bool {
	if f.Inclusive {
		if area < f.MinArea {
			return false
		}
	} else if area <= f.MinArea {
		return false
	}

	if f.AspectTolerance > 0 {
		if box.Dy() == 0 {
			return false
		}
		ratio := float64(box.Dx()) / float64(box.Dy())
		if ratio < 1-f.AspectTolerance || ratio > 1+f.AspectTolerance {
			return false
		}
	}
	return true
}

// CapturePolicy decides where the OCR rectangle sits relative to a blob.
type CapturePolicy int

const (
	// AdjacentText pads the blob by 20 px vertically and 100 px horizontally.
	AdjacentText CapturePolicy = iota
	// IndicatorDot widens the blob to 140% around its horizontal midpoint and
	// doubles its height downward from the blob top.
	IndicatorDot
)

const (
	adjacentPadX = 100
	adjacentPadY = 20
	dotWidthMul  = 1.4
	dotHeightMul = 2
)

// String returns the configuration name of the policy.
func (p CapturePolicy) String() string {
	if p == IndicatorDot {
		return "dot"
	}
	return "adjacent"
}

// ParseCapturePolicy maps "adjacent" or "dot" to a policy.
func ParseCapturePolicy(s string) (CapturePolicy, error) {
	switch s {
	case "adjacent":
		return AdjacentText, nil
	case "dot":
		return IndicatorDot, nil
	default:
		return AdjacentText, fmt.Errorf("unknown capture policy %q", s)
	}
}

// CaptureRect computes the OCR rectangle for box, clamped to a frame of the
// given size. The result is empty when nothing of it lies inside the frame.
func CaptureRect(policy CapturePolicy, box image.Rectangle, frame image.Point) image.Rectangle {
	var r image.Rectangle
	switch policy {
	case IndicatorDot:
		w, h := box.Dx(), box.Dy()
		rw := int(float64(w) * dotWidthMul)
		rh := h * dotHeightMul
		x1 := box.Min.X + w/2 - rw/2
		y1 := box.Min.Y
		r = image.Rect(x1, y1, x1+rw, y1+rh)
	default:
		r = image.Rect(box.Min.X-adjacentPadX, box.Min.Y-adjacentPadY, box.Max.X+adjacentPadX, box.Max.Y+adjacentPadY)
	}
	return r.Intersect(image.Rectangle{Max: frame})
}

// Region is one detected blob and its OCR capture rectangle.
type Region struct {
	Class   ColorClass      `json:"class"`
	Box     image.Rectangle `json:"box"`
	Capture image.Rectangle `json:"capture"`
	Area    float64         `json:"area"`
}

// Extract finds the external contours of mask that pass filter and computes
// their capture rectangles with policy. Regions are ordered top to bottom,
// then left to right.
func Extract(mask gocv.Mat, class ColorClass, filter Filter, policy CapturePolicy) []Region {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	frame := image.Pt(mask.Cols(), mask.Rows())
	var regions []Region
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		box := gocv.BoundingRect(contour)
		if !filter.Accept(area, box) {
			continue
		}

		capture := CaptureRect(policy, box, frame)
		if capture.Empty() {
			continue
		}
		regions = append(regions, Region{
			Class:   class,
			Box:     box,
			Capture: capture,
			Area:    area,
		})
	}

	sort.Slice(regions, func(i, j int) bool {
		a, b := regions[i].Box.Min, regions[j].Box.Min
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return regions
}
