package imaging

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"strings"

	// Registered decoders define which containers DetectFormat understands.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/maltedev/grid-scraper/internal/models"
)

// FallbackFormat is used when a decoder reports no format name.
const FallbackFormat = "jpg"

var (
	ErrEmptyImage  = errors.New("image payload is empty")
	ErrUndecodable = errors.New("image payload could not be decoded")
)

// ObjectStore is the subset of a content-addressable store the ingestor needs.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	URI(key string) string
}

// Fingerprint returns the hex SHA-256 digest of the exact bytes given.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DetectFormat reads just the image header to find its encoding.
func DetectFormat(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FallbackFormat
	}
	return format, nil
}

// StorageKey derives the content address of an image.
func StorageKey(fingerprint, format string) string {
	return fingerprint + "." + format
}

// Ingest fingerprints data and determines its format. It has no side effects.
func Ingest(data []byte) (*models.ImageAsset, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}

	fingerprint := Fingerprint(data)
	return &models.ImageAsset{
		Fingerprint: fingerprint,
		Format:      format,
		StorageKey:  StorageKey(fingerprint, format),
	}, nil
}

// Store writes data under the asset's key unless an object already exists
// there, and records the resulting URI on the asset. It reports whether a
// write happened.
//
// Two callers racing on the same content may both write; the key is derived
// from the bytes, so the second write replaces identical content.
func Store(ctx context.Context, asset *models.ImageAsset, data []byte, store ObjectStore) (bool, error) {
	exists, err := store.Exists(ctx, asset.StorageKey)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", asset.StorageKey, err)
	}

	if exists {
		asset.StorageURI = store.URI(asset.StorageKey)
		return false, nil
	}

	uri, err := store.Put(ctx, asset.StorageKey, data, ContentType(asset.Format))
	if err != nil {
		return false, fmt.Errorf("failed to store %s: %w", asset.StorageKey, err)
	}

	asset.StorageURI = uri
	return true, nil
}

func ContentType(format string) string {
	return "image/" + format
}
