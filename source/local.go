package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Local serves a directory on disk as an asset source. It is meant for
// development and tests: every pass is a full walk, and a filesystem watcher
// can wake the sync driver early instead of waiting for the next poll.
type Local struct {
	root string
	log  zerolog.Logger
}

func NewLocal(root string, log zerolog.Logger) *Local {
	return &Local{root: root, log: log.With().Str("source", "local").Logger()}
}

func (l *Local) Initialize(ctx context.Context) error {
	info, err := os.Stat(l.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrFetch, l.root)
	}
	return nil
}

func (l *Local) Incremental() bool { return false }

func (l *Local) FetchChanges(ctx context.Context, fn func(ChangeEntry) error) error {
	return filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == l.root {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		parent := parentRel(rel)

		if d.IsDir() {
			if skippable(d.Name(), 0, KindFolder) {
				return fs.SkipDir
			}
			return fn(ChangeEntry{
				Kind:             KindFolder,
				ExternalID:       rel,
				ParentExternalID: parent,
				Name:             d.Name(),
			})
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if skippable(d.Name(), info.Size(), KindFile) {
			return nil
		}
		return fn(ChangeEntry{
			Kind:             KindFile,
			ExternalID:       rel,
			ParentExternalID: parent,
			Name:             d.Name(),
			Checksum:         fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano()),
			Size:             info.Size(),
			MimeType:         mimeTypeByName(d.Name()),
		})
	})
}

func (l *Local) FetchContent(ctx context.Context, externalID string) (string, error) {
	src, err := os.Open(filepath.Join(l.root, filepath.FromSlash(externalID)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer src.Close()

	tmp, err := tempFile("brandvault-local-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

// Watch emits a signal (debounced) whenever anything under the root changes.
func (l *Local) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			return watcher.Add(p)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return nil, err
	}

	signals := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		var pending bool
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Create) {
					// new directories need their own watch
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				if !pending {
					pending = true
					debounce.Reset(time.Second)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.log.Warn().Err(err).Msg("watch error")
			case <-debounce.C:
				pending = false
				select {
				case signals <- struct{}{}:
				default:
				}
			}
		}
	}()
	return signals, nil
}

func parentRel(rel string) string {
	dir := filepath.ToSlash(filepath.Dir(rel))
	if dir == "." {
		return ""
	}
	return dir
}
