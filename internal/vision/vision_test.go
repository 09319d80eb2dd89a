package vision

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"gocv.io/x/gocv"
)

var (
	pureRed    = color.RGBA{R: 255, A: 255}
	pureGreen  = color.RGBA{G: 255, A: 255}
	pureOrange = color.RGBA{R: 255, G: 128, A: 255}
)

// newFrame returns a BGR frame filled with bg.
func newFrame(w, h int, bg gocv.Scalar) gocv.Mat {
	img := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	img.SetTo(bg)
	return img
}

func TestSegmentNoStatusColors(t *testing.T) {
	backgrounds := map[string]gocv.Scalar{
		"white": gocv.NewScalar(255, 255, 255, 0),
		"black": gocv.NewScalar(0, 0, 0, 0),
		"gray":  gocv.NewScalar(128, 128, 128, 0),
		"blue":  gocv.NewScalar(255, 0, 0, 0),
	}

	for name, bg := range backgrounds {
		t.Run(name, func(t *testing.T) {
			frame := newFrame(200, 150, bg)
			defer frame.Close()

			masks := Segment(frame)
			defer masks.Close()

			for _, class := range []ColorClass{Red, Green, Orange} {
				mask := masks.Get(class)
				if mask.Cols() != 200 || mask.Rows() != 150 {
					t.Errorf("%s mask size = %dx%d, want 200x150", class, mask.Cols(), mask.Rows())
				}
				if n := gocv.CountNonZero(mask); n != 0 {
					t.Errorf("%s mask has %d pixels set, want 0", class, n)
				}
			}
		})
	}
}

func TestSegmentSeparatesColors(t *testing.T) {
	frame := newFrame(300, 200, gocv.NewScalar(255, 255, 255, 0))
	defer frame.Close()
	gocv.Rectangle(&frame, image.Rect(10, 10, 29, 29), pureRed, -1)
	gocv.Rectangle(&frame, image.Rect(100, 10, 119, 29), pureGreen, -1)
	gocv.Rectangle(&frame, image.Rect(200, 10, 219, 29), pureOrange, -1)

	masks := Segment(frame)
	defer masks.Close()

	tests := []struct {
		class ColorClass
		probe image.Point
	}{
		{Red, image.Pt(20, 20)},
		{Green, image.Pt(110, 20)},
		{Orange, image.Pt(210, 20)},
	}

	for _, tt := range tests {
		for _, other := range tests {
			got := masks.Get(other.class).GetUCharAt(tt.probe.Y, tt.probe.X)
			want := uint8(0)
			if other.class == tt.class {
				want = 255
			}
			if got != want {
				t.Errorf("%s mask at %s blob = %d, want %d", other.class, tt.class, got, want)
			}
		}
	}
}

func TestColorClassStatus(t *testing.T) {
	if s, ok := Red.Status(); !ok || s != StatusDown {
		t.Errorf("Red.Status() = %q, %v, want DOWN, true", s, ok)
	}
	if s, ok := Green.Status(); !ok || s != StatusUp {
		t.Errorf("Green.Status() = %q, %v, want UP, true", s, ok)
	}
	if _, ok := Orange.Status(); ok {
		t.Error("Orange.Status() ok = true, want false")
	}
}

func TestColorClassText(t *testing.T) {
	for _, c := range []ColorClass{Red, Green, Orange} {
		text, err := c.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var back ColorClass
		if err := back.UnmarshalText(text); err != nil || back != c {
			t.Errorf("UnmarshalText(%q) = %v, %v, want %v", text, back, err, c)
		}
	}

	var c ColorClass
	if err := c.UnmarshalText([]byte("blue")); err == nil {
		t.Error("UnmarshalText(blue) error = nil")
	}
}

func TestFilterAccept(t *testing.T) {
	square := image.Rect(0, 0, 20, 20)
	wide := image.Rect(0, 0, 40, 20)

	tests := []struct {
		name   string
		filter Filter
		area   float64
		box    image.Rectangle
		want   bool
	}{
		{"noise rejects small", NoiseFilter, 80, square, false},
		{"noise rejects exactly 100", NoiseFilter, 100, square, false},
		{"noise accepts large", NoiseFilter, 361, square, true},
		{"noise ignores shape", NoiseFilter, 700, wide, true},
		{"circle accepts square dot", CircleFilter, 361, square, true},
		{"circle accepts exactly 50", CircleFilter, 50, image.Rect(0, 0, 8, 8), true},
		{"circle rejects tiny", CircleFilter, 49, square, false},
		{"circle rejects wide", CircleFilter, 700, wide, false},
		{"circle accepts 5 percent off", CircleFilter, 400, image.Rect(0, 0, 21, 20), true},
		{"circle rejects 15 percent off", CircleFilter, 400, image.Rect(0, 0, 23, 20), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Accept(tt.area, tt.box); got != tt.want {
				t.Errorf("Accept(%v, %v) = %v, want %v", tt.area, tt.box, got, tt.want)
			}
		})
	}
}

func TestCaptureRect(t *testing.T) {
	frame := image.Pt(640, 480)

	tests := []struct {
		name   string
		policy CapturePolicy
		box    image.Rectangle
		want   image.Rectangle
	}{
		{"adjacent interior", AdjacentText, image.Rect(200, 200, 220, 220), image.Rect(100, 180, 320, 240)},
		{"adjacent clamps top left", AdjacentText, image.Rect(5, 5, 25, 25), image.Rect(0, 0, 125, 45)},
		{"adjacent clamps bottom right", AdjacentText, image.Rect(620, 470, 640, 480), image.Rect(520, 450, 640, 480)},
		{"dot interior", IndicatorDot, image.Rect(100, 100, 120, 120), image.Rect(96, 100, 124, 140)},
		{"dot clamps left", IndicatorDot, image.Rect(0, 10, 20, 30), image.Rect(0, 10, 24, 50)},
		{"dot clamps bottom", IndicatorDot, image.Rect(300, 460, 320, 480), image.Rect(296, 460, 324, 480)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CaptureRect(tt.policy, tt.box, frame); got != tt.want {
				t.Errorf("CaptureRect(%v, %v) = %v, want %v", tt.policy, tt.box, got, tt.want)
			}
		})
	}
}

func TestCaptureRectWithinFrame(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		w, h := 1+rng.Intn(800), 1+rng.Intn(600)
		x0, y0 := rng.Intn(w), rng.Intn(h)
		x1, y1 := x0+1+rng.Intn(w-x0), y0+1+rng.Intn(h-y0)
		box := image.Rect(x0, y0, x1, y1)

		for _, policy := range []CapturePolicy{AdjacentText, IndicatorDot} {
			r := CaptureRect(policy, box, image.Pt(w, h))
			if r.Empty() {
				continue
			}
			if r.Min.X < 0 || r.Min.Y < 0 || r.Min.X >= r.Max.X || r.Min.Y >= r.Max.Y || r.Max.X > w || r.Max.Y > h {
				t.Fatalf("CaptureRect(%v, %v, %dx%d) = %v escapes frame", policy, box, w, h, r)
			}
		}
	}
}

func TestParseCapturePolicy(t *testing.T) {
	for _, p := range []CapturePolicy{AdjacentText, IndicatorDot} {
		got, err := ParseCapturePolicy(p.String())
		if err != nil || got != p {
			t.Errorf("ParseCapturePolicy(%q) = %v, %v, want %v", p.String(), got, err, p)
		}
	}
	if _, err := ParseCapturePolicy("both"); err == nil {
		t.Error("ParseCapturePolicy(both) error = nil, want error")
	}
}

func TestExtract(t *testing.T) {
	frame := newFrame(640, 480, gocv.NewScalar(255, 255, 255, 0))
	defer frame.Close()
	gocv.Rectangle(&frame, image.Rect(100, 100, 119, 119), pureRed, -1)
	gocv.Rectangle(&frame, image.Rect(400, 300, 419, 319), pureRed, -1)
	// Below the noise threshold.
	gocv.Rectangle(&frame, image.Rect(300, 50, 304, 54), pureRed, -1)

	masks := Segment(frame)
	defer masks.Close()

	regions := Extract(masks.Red, Red, NoiseFilter, AdjacentText)
	if len(regions) != 2 {
		t.Fatalf("Extract() returned %d regions, want 2: %+v", len(regions), regions)
	}

	found := map[image.Point]bool{}
	for _, r := range regions {
		found[r.Box.Min] = true
		if r.Class != Red {
			t.Errorf("region class = %v, want red", r.Class)
		}
		if !r.Box.In(r.Capture) {
			t.Errorf("box %v not inside capture %v", r.Box, r.Capture)
		}
		if !r.Capture.In(image.Rect(0, 0, 640, 480)) {
			t.Errorf("capture %v outside frame", r.Capture)
		}
	}
	for _, want := range []image.Point{image.Pt(100, 100), image.Pt(400, 300)} {
		if !found[want] {
			t.Errorf("no region with box origin %v in %+v", want, regions)
		}
	}
	if regions[0].Box.Min.Y > regions[1].Box.Min.Y {
		t.Errorf("regions not ordered top to bottom: %v then %v", regions[0].Box, regions[1].Box)
	}
}

func TestExtractCircleFilterRejectsBars(t *testing.T) {
	frame := newFrame(400, 200, gocv.NewScalar(255, 255, 255, 0))
	defer frame.Close()
	gocv.Rectangle(&frame, image.Rect(20, 20, 39, 39), pureOrange, -1)
	gocv.Rectangle(&frame, image.Rect(100, 20, 199, 39), pureOrange, -1)

	masks := Segment(frame)
	defer masks.Close()

	regions := Extract(masks.Orange, Orange, CircleFilter, IndicatorDot)
	if len(regions) != 1 {
		t.Fatalf("Extract() returned %d regions, want 1: %+v", len(regions), regions)
	}
	if regions[0].Box.Min != image.Pt(20, 20) {
		t.Errorf("kept box %v, want the square dot", regions[0].Box)
	}
}

func TestExtractEmptyMask(t *testing.T) {
	mask := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8U)
	defer mask.Close()
	mask.SetTo(gocv.NewScalar(0, 0, 0, 0))

	if regions := Extract(mask, Green, NoiseFilter, AdjacentText); len(regions) != 0 {
		t.Errorf("Extract(empty) = %+v, want none", regions)
	}
}
