package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/acervoteatro/acervo/internal/blob"
)

func testPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	img.Set(1, 1, color.RGBA{1, 2, 3, 255})
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func TestUpload(t *testing.T) {
	store := blob.NewMemory("/media")
	u := New(store)
	u.Now = func() time.Time { return time.UnixMilli(1700000000000) }

	url, err := u.Upload(context.Background(), testPNG(), FolderPhotos)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	pattern := regexp.MustCompile(`^/media/inventory/photos/1700000000000-[0-9a-f]{12}\.jpg$`)
	if !pattern.MatchString(url) {
		t.Errorf("unexpected URL %q", url)
	}

	keys := store.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "inventory/photos/") {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestUploadKeysAreUnique(t *testing.T) {
	store := blob.NewMemory("")
	u := New(store)
	u.Now = func() time.Time { return time.UnixMilli(1) }

	a, _ := u.Upload(context.Background(), testPNG(), FolderSignatures)
	b, _ := u.Upload(context.Background(), testPNG(), FolderSignatures)
	if a == b {
		t.Errorf("expected distinct URLs, got %q twice", a)
	}
}

func TestUploadErrors(t *testing.T) {
	tests := []struct {
		name  string
		store blob.Store
		data  []byte
	}{
		{"not an image", blob.NewMemory(""), []byte("hello")},
		{"store down", blob.Unavailable(), testPNG()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.store).Upload(context.Background(), tt.data, FolderPhotos); err == nil {
				t.Error("expected error")
			}
		})
	}
}
