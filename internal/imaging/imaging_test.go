package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func createTestJPEG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{255, 0, 0, 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

// createTestSignature draws a dark stroke on a transparent canvas.
func createTestSignature(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.NRGBA{0, 0, 0, 255})
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("expected jpeg output, got %s", format)
	}
	return img
}

func TestProcessJPEG(t *testing.T) {
	out, err := Process(createTestJPEG(100, 100), Photo)
	if err != nil {
		t.Fatalf("Process JPEG: %v", err)
	}
	img := decode(t, out)
	if img.Bounds().Dx() != 100 {
		t.Errorf("expected width 100, got %d", img.Bounds().Dx())
	}
}

func TestProcessSignatureFlattensTransparency(t *testing.T) {
	out, err := Process(createTestSignature(200, 50), Signature)
	if err != nil {
		t.Fatalf("Process PNG: %v", err)
	}
	img := decode(t, out)

	// Background pixel must be (close to) white, not black.
	r, g, b, _ := img.At(5, 5).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("expected white background, got %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestProcessDownscales(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		profile      Profile
		wantW, wantH int
	}{
		{"landscape photo", 2048, 1024, Photo, 1024, 512},
		{"portrait photo", 600, 1200, Photo, 512, 1024},
		{"wide signature", 1600, 400, Signature, 800, 200},
		{"within bounds", 300, 200, Photo, 300, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Process(createTestJPEG(tt.w, tt.h), tt.profile)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			b := decode(t, out).Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("expected %dx%d, got %dx%d", tt.wantW, tt.wantH, b.Dx(), b.Dy())
			}
		})
	}
}

func TestProcessRejectsUnsupported(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("this is not an image")},
		{"gif", []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Process(tt.data, Photo); !errors.Is(err, ErrInvalidImage) {
				t.Errorf("expected ErrInvalidImage, got %v", err)
			}
		})
	}
}
