// Package source abstracts the remote file providers (Dropbox, OneDrive, or
// a local directory for development) behind one change-feed surface.
// Provider-specific pagination, cursors and token handling stay inside each
// adapter.
package source

import (
	"context"
	"errors"
	"os"
	"strings"
)

var (
	// ErrAuth marks expired or invalid provider credentials. Callers
	// re-initialize once and retry the failed operation exactly once.
	ErrAuth = errors.New("source authentication failed")

	// ErrFetch marks a network or provider failure.
	ErrFetch = errors.New("source fetch failed")
)

type EntryKind string

const (
	KindFolder EntryKind = "folder"
	KindFile   EntryKind = "file"
)

// ChangeEntry is one item of a provider's change feed. Folder entries for a
// path are always emitted before file entries underneath it within one feed.
type ChangeEntry struct {
	Kind             EntryKind
	ExternalID       string
	ParentExternalID string // empty for root-level entries
	Name             string
	Checksum         string // files only
	Size             int64  // files only
	MimeType         string // files only
}

// Source is the uniform contract the sync core depends on.
type Source interface {
	// Initialize acquires or refreshes provider credentials.
	Initialize(ctx context.Context) error

	// FetchChanges streams the provider's feed to fn. Full-listing
	// providers emit a recursive snapshot of the whole tree; incremental
	// ones only what changed since the previous call.
	FetchChanges(ctx context.Context, fn func(ChangeEntry) error) error

	// Incremental reports whether the next FetchChanges yields a delta
	// rather than a full snapshot. Only full snapshots allow the caller to
	// treat untouched entities as removed.
	Incremental() bool

	// FetchContent downloads the file's bytes to a temporary file and
	// returns its path. The caller owns the file.
	FetchContent(ctx context.Context, externalID string) (string, error)
}

// Waker is implemented by sources that can signal changes between polls.
type Waker interface {
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// skippable filters out non-assets: dot-prefixed names (placeholders such as
// .DS_Store) and zero-byte files.
func skippable(name string, size int64, kind EntryKind) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return kind == KindFile && size == 0
}

// withAuthRetry runs op, and on an auth failure re-initializes the source
// once and retries op once more before surfacing the error.
func withAuthRetry(ctx context.Context, src Source, op func() error) error {
	err := op()
	if err == nil || !errors.Is(err, ErrAuth) {
		return err
	}
	if initErr := src.Initialize(ctx); initErr != nil {
		return initErr
	}
	return op()
}

func tempFile(pattern string) (*os.File, error) {
	return os.CreateTemp("", pattern)
}
