package imgutil

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8((x + y) % 256), A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func defaultOptions() CompressOptions {
	return CompressOptions{
		MinDimensionPx: 64,
		MaxDimensionPx: 4096,
		TargetBytes:    512 << 10,
		Quality:        85,
		QualityFloor:   40,
		QualityStep:    10,
	}
}

func TestCompress(t *testing.T) {
	result, err := Compress(testPNG(t, 800, 600), defaultOptions())
	if err != nil {
		t.Fatalf("Compress returned error: %v", err)
	}
	if result.ContentType != "image/webp" {
		t.Errorf("content type = %q, want image/webp", result.ContentType)
	}
	if result.Width != 800 || result.Height != 600 {
		t.Errorf("dimensions = %dx%d, want 800x600", result.Width, result.Height)
	}
	if int64(len(result.Data)) > defaultOptions().TargetBytes {
		t.Errorf("compressed size %d exceeds budget %d", len(result.Data), defaultOptions().TargetBytes)
	}
}

func TestCompress_DimensionBounds(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
	}{
		{"too small", 32, 32},
		{"too wide", 5000, 600},
		{"too tall", 600, 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compress(testPNG(t, tt.width, tt.height), defaultOptions())
			if !errors.Is(err, ErrDimensionsOutOfRange) {
				t.Fatalf("err = %v, want ErrDimensionsOutOfRange", err)
			}
		})
	}
}

func TestCompress_UnsupportedFormat(t *testing.T) {
	_, err := Compress([]byte("definitely not an image"), defaultOptions())
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}

	_, err = Compress(nil, defaultOptions())
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat for empty payload", err)
	}
}

func TestThumbnail(t *testing.T) {
	thumb, err := Thumbnail(testPNG(t, 800, 600), 160)
	if err != nil {
		t.Fatalf("Thumbnail returned error: %v", err)
	}
	if len(thumb) == 0 {
		t.Fatal("expected non-empty thumbnail")
	}

	decoded, err := decodeImage(thumb)
	if err != nil {
		t.Fatalf("failed to decode thumbnail: %v", err)
	}
	bounds := decoded.Bounds()
	if bounds.Dx() > 160 || bounds.Dy() > 160 {
		t.Errorf("thumbnail %dx%d exceeds 160px bound", bounds.Dx(), bounds.Dy())
	}
}
