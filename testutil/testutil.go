// Package testutil holds the shared fakes and database setup used by the
// service and queue tests.
package testutil

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"brandvault/app/models"
	"brandvault/source"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDB opens a fresh in-memory sqlite database with the full schema.
// TranslateError matches the production connection so duplicate-key handling
// behaves the same under test.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	err = db.AutoMigrate(
		&models.AssetFolder{}, &models.AssetFile{},
		&models.License{}, &models.AssetType{},
		&models.Collection{}, &models.CollectionFile{},
		&models.MenuItem{}, &models.Download{}, &models.Product{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// FakeStore is an in-memory ObjectStore.
type FakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	Removed []string
}

func NewFakeStore() *FakeStore {
	return &FakeStore{objects: map[string][]byte{}}
}

func (s *FakeStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *FakeStore) Get(ctx context.Context, key string, w io.Writer) error {
	s.mu.Lock()
	data, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return os.ErrNotExist
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (s *FakeStore) Remove(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.objects, key)
		s.Removed = append(s.Removed, key)
	}
	return nil
}

func (s *FakeStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://store.test/" + key, nil
}

func (s *FakeStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// FakeSource replays a scripted change feed. Content bytes per external id
// are optional; FetchContent writes them to a temp file like the real
// adapters do.
type FakeSource struct {
	Entries     []source.ChangeEntry
	Content     map[string][]byte
	Delta       bool
	InitErr     error
	Initialized int
}

func (s *FakeSource) Initialize(ctx context.Context) error {
	s.Initialized++
	return s.InitErr
}

func (s *FakeSource) FetchChanges(ctx context.Context, fn func(source.ChangeEntry) error) error {
	for _, entry := range s.Entries {
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *FakeSource) Incremental() bool { return s.Delta }

func (s *FakeSource) FetchContent(ctx context.Context, externalID string) (string, error) {
	data := s.Content[externalID]
	f, err := os.CreateTemp("", "fake-content-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}
