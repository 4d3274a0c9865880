// Package storage is the object-storage boundary: originals, thumbnails and
// download archives live behind the ObjectStore contract.
package storage

import (
	"context"
	"io"
	"time"
)

type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string, w io.Writer) error
	// Remove deletes the given keys; missing keys are not an error.
	Remove(ctx context.Context, keys ...string) error
	// Presign returns a time-limited URL for client-side download of key.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}
