// Package ocr reads the label next to a status blob with Tesseract.
package ocr

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

// ErrEmptyRegion is returned when the capture rectangle has no pixels inside the frame.
var ErrEmptyRegion = errors.New("capture rectangle is empty")

// Reader extracts the text inside a rectangle of a frame.
type Reader interface {
	Read(frame gocv.Mat, rect image.Rectangle) (string, error)
	Close() error
}

// TesseractReader owns a single Tesseract client. It must not be shared
// between goroutines.
type TesseractReader struct {
	client *gosseract.Client
	logger *slog.Logger
}

// NewTesseractReader creates a client for the given language codes
// ("eng", "eng+ita"), configured to treat each crop as one uniform block of
// text. The engine runs in its default mode, which is LSTM for the standard
// traineddata files.
func NewTesseractReader(language string, logger *slog.Logger) (*TesseractReader, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(strings.Split(language, "+")...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	logger.Debug("Tesseract reader initialized", "language", language, "psm", "single_block")
	return &TesseractReader{client: client, logger: logger}, nil
}

// Close releases the Tesseract client.
func (r *TesseractReader) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Read crops rect out of frame, binarizes it and runs OCR. An empty string
// means no text was found and is not an error.
func (r *TesseractReader) Read(frame gocv.Mat, rect image.Rectangle) (string, error) {
	processed, err := Preprocess(frame, rect)
	if err != nil {
		return "", err
	}
	defer processed.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, processed)
	if err != nil {
		return "", fmt.Errorf("encode crop: %w", err)
	}
	defer buf.Close()

	if err := r.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return "", fmt.Errorf("set OCR image: %w", err)
	}

	text, err := r.client.Text()
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return CleanText(text), nil
}

// Preprocess crops rect out of frame, converts it to luminance and applies
// Otsu binarization. The caller must close the returned Mat.
func Preprocess(frame gocv.Mat, rect image.Rectangle) (gocv.Mat, error) {
	rect = rect.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if rect.Empty() {
		return gocv.NewMat(), ErrEmptyRegion
	}

	crop := frame.Region(rect)
	defer crop.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if crop.Channels() == 1 {
		crop.CopyTo(&gray)
	} else {
		gocv.CvtColor(crop, &gray, gocv.ColorBGRToGray)
	}

	binary := gocv.NewMat()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	return binary, nil
}

// CleanText joins the non-blank lines of raw OCR output with single spaces.
func CleanText(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
