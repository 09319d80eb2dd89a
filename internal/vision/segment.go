// Package vision turns a dashboard frame into colored status regions.
//
// Segmentation works in OpenCV HSV space (hue 0-179, saturation and value
// 0-255) with fixed, pre-tuned bounds per status color. Region extraction
// scans a mask for external contours and derives the rectangle that is handed
// to OCR.
package vision

import (
	"fmt"
	"path/filepath"

	"gocv.io/x/gocv"
)

// ColorClass identifies a status color.
type ColorClass int

const (
	Red ColorClass = iota
	Green
	Orange
)

// String returns the lowercase color name.
func (c ColorClass) String() string {
	switch c {
	case Red:
		return "red"
	case Green:
		return "green"
	case Orange:
		return "orange"
	default:
		return "unknown"
	}
}

// MarshalText encodes the class by name.
func (c ColorClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a class name written by MarshalText.
func (c *ColorClass) UnmarshalText(text []byte) error {
	for _, candidate := range []ColorClass{Red, Green, Orange} {
		if candidate.String() == string(text) {
			*c = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown color class %q", text)
}

// Status is the service state signalled by a color.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Status maps red to DOWN and green to UP. Orange carries no status.
func (c ColorClass) Status() (Status, bool) {
	switch c {
	case Red:
		return StatusDown, true
	case Green:
		return StatusUp, true
	default:
		return "", false
	}
}

// HSVRange is an inclusive HSV threshold.
type HSVRange struct {
	Lower, Upper gocv.Scalar
}

// Thresholds per color class.
var (
	RedRange = HSVRange{
		Lower: gocv.NewScalar(0, 120, 70, 0),
		Upper: gocv.NewScalar(10, 255, 255, 0),
	}
	GreenRange = HSVRange{
		Lower: gocv.NewScalar(35, 120, 70, 0),
		Upper: gocv.NewScalar(85, 255, 255, 0),
	}
	OrangeRange = HSVRange{
		Lower: gocv.NewScalar(10, 100, 100, 0),
		Upper: gocv.NewScalar(25, 255, 255, 0),
	}
)

// Range returns the HSV threshold for c.
func (c ColorClass) Range() HSVRange {
	switch c {
	case Green:
		return GreenRange
	case Orange:
		return OrangeRange
	default:
		return RedRange
	}
}

// Masks holds one single-channel binary mask per color class, each the size
// of the source frame.
type Masks struct {
	Red, Green, Orange gocv.Mat
}

// Get returns the mask for c.
func (m Masks) Get(c ColorClass) gocv.Mat {
	switch c {
	case Green:
		return m.Green
	case Orange:
		return m.Orange
	default:
		return m.Red
	}
}

// Close releases all three masks.
func (m Masks) Close() {
	m.Red.Close()
	m.Green.Close()
	m.Orange.Close()
}

// Segment converts a BGR frame to HSV and thresholds it for every color class.
// An all-zero mask is a valid result. The caller must Close the returned Masks.
func Segment(frame gocv.Mat) Masks {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(frame, &hsv, gocv.ColorBGRToHSV)

	return Masks{
		Red:    threshold(hsv, RedRange),
		Green:  threshold(hsv, GreenRange),
		Orange: threshold(hsv, OrangeRange),
	}
}

func threshold(hsv gocv.Mat, r HSVRange) gocv.Mat {
	mask := gocv.NewMat()
	gocv.InRangeWithScalar(hsv, r.Lower, r.Upper, &mask)
	return mask
}

// SaveDiagnostics writes the frame and its masks as PNG files into dir, using
// prefix to name them.
func SaveDiagnostics(dir, prefix string, frame gocv.Mat, masks Masks) error {
	files := []struct {
		name string
		mat  gocv.Mat
	}{
		{"frame", frame},
		{"red", masks.Red},
		{"green", masks.Green},
		{"orange", masks.Orange},
	}
	for _, f := range files {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", prefix, f.name))
		if !gocv.IMWrite(path, f.mat) {
			return fmt.Errorf("write diagnostic image %s", path)
		}
	}
	return nil
}
