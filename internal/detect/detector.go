package detect

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	_ "golang.org/x/image/webp"
)

// Detector locates a machine-readable code inside a scanned page image.
// A clean scan with no code present returns ("", false, nil); only decoder
// or image failures produce an error.
type Detector interface {
	Detect(ctx context.Context, imageData []byte) (code string, found bool, err error)
}

type qrDetector struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewQRDetector returns a Detector backed by a ZXing QR reader.
func NewQRDetector() Detector {
	return &qrDetector{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

func (d *qrDetector) Detect(ctx context.Context, imageData []byte) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", false, fmt.Errorf("failed to decode image for code detection: %w", err)
	}

	bitmap, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false, fmt.Errorf("failed to binarize image: %w", err)
	}

	result, err := qrcode.NewQRCodeReader().Decode(bitmap, d.hints)
	if err != nil {
		// The reader reports absence as NotFoundException
		if _, notFound := err.(gozxing.NotFoundException); notFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to decode code region: %w", err)
	}

	return result.GetText(), true, nil
}
