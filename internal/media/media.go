// Package media uploads normalized images to the blob store and returns
// their public URLs.
package media

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/acervoteatro/acervo/internal/blob"
	"github.com/acervoteatro/acervo/internal/imaging"
)

// Upload folders.
const (
	FolderPhotos     = "photos"
	FolderSignatures = "signatures"
	FolderItems      = "items"
)

// Uploader stores images under "<prefix>/<folder>/<unix-millis>-<random>.jpg".
type Uploader struct {
	Store  blob.Store
	Prefix string
	// Now is the clock used for key names; nil means time.Now.
	Now func() time.Time
}

// New returns an Uploader writing under the "inventory" prefix.
func New(store blob.Store) *Uploader {
	return &Uploader{Store: store, Prefix: "inventory"}
}

// Upload normalizes data and stores it, returning the public URL. Keys are
// never reused so concurrent uploads cannot overwrite each other.
func (u *Uploader) Upload(ctx context.Context, data []byte, folder string) (string, error) {
	profile := imaging.Photo
	if folder == FolderSignatures {
		profile = imaging.Signature
	}
	out, err := imaging.Process(data, profile)
	if err != nil {
		return "", err
	}

	key, err := u.key(folder)
	if err != nil {
		return "", err
	}
	if err := u.Store.Put(ctx, key, bytes.NewReader(out), "image/jpeg"); err != nil {
		return "", fmt.Errorf("storing %s: %w", key, err)
	}

	slog.Debug("image uploaded", "key", key, "bytes", len(out))
	return u.Store.URL(key), nil
}

func (u *Uploader) key(folder string) (string, error) {
	now := time.Now
	if u.Now != nil {
		now = u.Now
	}
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	key := fmt.Sprintf("%s/%d-%s.jpg", folder, now().UnixMilli(), hex.EncodeToString(buf))
	if u.Prefix != "" {
		key = u.Prefix + "/" + key
	}
	return key, nil
}
