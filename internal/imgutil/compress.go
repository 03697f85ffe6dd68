package imgutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"net/http"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

var (
	// ErrUnsupportedFormat indicates the payload is not a jpeg, png or webp image.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrDimensionsOutOfRange indicates the decoded image violates the configured pixel bounds.
	ErrDimensionsOutOfRange = errors.New("image dimensions out of range")
	// ErrBudgetExceeded indicates the image could not be compressed under the byte budget.
	ErrBudgetExceeded = errors.New("compressed image exceeds byte budget")
)

// CompressOptions bounds a single compression run.
type CompressOptions struct {
	MinDimensionPx int
	MaxDimensionPx int
	TargetBytes    int64
	Quality        float32
	QualityFloor   float32
	QualityStep    float32
}

// Result is a compressed scan ready for storage.
type Result struct {
	Data        []byte
	Width       int
	Height      int
	ContentType string
}

// Compress decodes a scanned page, validates its dimensions and re-encodes it
// as lossy WebP under the byte budget. Quality steps down first; if the floor
// quality still overshoots, the image is downscaled and the sweep repeated.
func Compress(data []byte, opts CompressOptions) (*Result, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < opts.MinDimensionPx || height < opts.MinDimensionPx {
		return nil, fmt.Errorf("%w: %dx%d below minimum %dpx", ErrDimensionsOutOfRange, width, height, opts.MinDimensionPx)
	}
	if width > opts.MaxDimensionPx || height > opts.MaxDimensionPx {
		return nil, fmt.Errorf("%w: %dx%d above maximum %dpx", ErrDimensionsOutOfRange, width, height, opts.MaxDimensionPx)
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = 85
	}
	floor := opts.QualityFloor
	if floor <= 0 {
		floor = 40
	}
	step := opts.QualityStep
	if step <= 0 {
		step = 10
	}

	current := img
	for attempt := 0; attempt < 4; attempt++ {
		for q := quality; q >= floor; q -= step {
			encoded, err := encodeWebP(current, q)
			if err != nil {
				return nil, err
			}
			if opts.TargetBytes <= 0 || int64(len(encoded)) <= opts.TargetBytes {
				b := current.Bounds()
				return &Result{
					Data:        encoded,
					Width:       b.Dx(),
					Height:      b.Dy(),
					ContentType: "image/webp",
				}, nil
			}
		}

		// Floor quality was not enough; shrink and sweep again.
		b := current.Bounds()
		cw, ch := b.Dx(), b.Dy()
		nw := int(math.Round(float64(cw) * 0.75))
		nh := int(math.Round(float64(ch) * 0.75))
		if nw < opts.MinDimensionPx || nh < opts.MinDimensionPx {
			break
		}
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), current, b, draw.Over, nil)
		current = dst
	}

	return nil, fmt.Errorf("%w: budget %d bytes", ErrBudgetExceeded, opts.TargetBytes)
}

// Thumbnail produces a small WebP preview bounded by edgePx on the long side.
func Thumbnail(data []byte, edgePx int) ([]byte, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}

	fitted := imaging.Fit(img, edgePx, edgePx, imaging.Lanczos)
	return encodeWebP(fitted, 75)
}

func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedFormat)
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	contentType := http.DetectContentType(head)

	var (
		img image.Image
		err error
	)
	switch {
	case strings.Contains(contentType, "jpeg"):
		img, err = jpeg.Decode(bytes.NewReader(data))
	case strings.Contains(contentType, "png"):
		img, err = png.Decode(bytes.NewReader(data))
	case strings.Contains(contentType, "webp"):
		img, err = webp.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, contentType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func encodeWebP(img image.Image, quality float32) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode webp: %w", err)
	}
	return buf.Bytes(), nil
}
