package pipeline

import (
	"image"
	"testing"

	"gocv.io/x/gocv"

	"github.com/clalos/dashwatch/internal/capture"
	"github.com/clalos/dashwatch/internal/vision"
)

// BenchmarkProcess measures one full cycle over a dashboard-sized frame with
// a grid of indicators, OCR replaced by a constant reader.
func BenchmarkProcess(b *testing.B) {
	img := gocv.NewMatWithSize(1080, 1920, gocv.MatTypeCV8UC3)
	defer img.Close()
	img.SetTo(gocv.NewScalar(255, 255, 255, 0))
	for row := 0; row < 8; row++ {
		for col := 0; col < 6; col++ {
			c := pureGreen
			if (row+col)%5 == 0 {
				c = pureRed
			}
			x, y := 100+col*300, 80+row*120
			gocv.Rectangle(&img, image.Rect(x, y, x+24, y+24), c, -1)
		}
	}

	p := New(nil, &fakeReader{fallback: "ECIS Loans"}, ecisRegistry(), Options{Policy: vision.AdjacentText}, testLogger(), nil)
	frame := capture.Frame{Image: img}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.Process(frame)
	}
}
