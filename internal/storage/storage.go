// Package storage keeps finished ad videos in storage the service owns, so
// result URLs do not expire with the provider's delivery links. It defines the
// Storage port with local disk and S3 implementations, and the Mirrorer that
// copies a provider artifact into it.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidKey is returned when an object key is empty or escapes the storage root.
var ErrInvalidKey = errors.New("storage: invalid object key")

// Storage defines the interface for persistent object storage.
type Storage interface {
	// Put stores data under key and returns the object's public URL.
	Put(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}
