// Package media is the boundary to the external transformation collaborator
// that derives thumbnails and dimensions. The sync core only consumes the
// result and persists it.
package media

import (
	"context"
	"errors"
)

// ErrUnsupported means the processor cannot derive a thumbnail or dimensions
// for this mime type. It is not a failure: the file simply gets none.
var ErrUnsupported = errors.New("media type not supported")

type Dimensions struct {
	Width  int
	Height int
}

type Processor interface {
	// Thumbnail renders a preview of the content at srcPath and returns the
	// path of the generated image, or ErrUnsupported.
	Thumbnail(ctx context.Context, srcPath, mimeType string) (string, error)

	// Dimensions extracts pixel dimensions, or ErrUnsupported.
	Dimensions(ctx context.Context, srcPath, mimeType string) (Dimensions, error)
}

// NoopProcessor is used when no transformation service is configured; assets
// are stored without previews.
type NoopProcessor struct{}

func (NoopProcessor) Thumbnail(ctx context.Context, srcPath, mimeType string) (string, error) {
	return "", ErrUnsupported
}

func (NoopProcessor) Dimensions(ctx context.Context, srcPath, mimeType string) (Dimensions, error) {
	return Dimensions{}, ErrUnsupported
}
