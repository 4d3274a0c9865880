package services

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"brandvault/app/repo"
	"brandvault/media"
	"brandvault/queue"
	"brandvault/testutil"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// fixture wires the full service graph against an in-memory database. The
// queue engine runs inline through ProcessAvailable so tests drain work
// deterministically.
type fixture struct {
	db          *gorm.DB
	engine      *queue.Engine
	store       *testutil.FakeStore
	src         *testutil.FakeSource
	folders     *repo.AssetFolderRepository
	files       *repo.AssetFileRepository
	collections *repo.CollectionRepository
	menuItems   *repo.MenuItemRepository
	downloads   *repo.DownloadRepository

	assets        *AssetService
	collectionSvc *CollectionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	engine := queue.NewEngine(db, zerolog.Nop())
	if err := engine.Migrate(); err != nil {
		t.Fatalf("migrate jobs: %v", err)
	}

	f := &fixture{
		db:          db,
		engine:      engine,
		store:       testutil.NewFakeStore(),
		src:         &testutil.FakeSource{Content: map[string][]byte{}},
		folders:     repo.NewAssetFolderRepository(db),
		files:       repo.NewAssetFileRepository(db),
		collections: repo.NewCollectionRepository(db),
		menuItems:   repo.NewMenuItemRepository(db),
		downloads:   repo.NewDownloadRepository(db),
	}

	f.assets = NewAssetService(AssetServiceParams{
		DB:          db,
		Folders:     f.folders,
		Files:       f.files,
		Collections: f.collections,
		Products:    repo.NewProductRepository(db),
		Jobs:        engine,
		Store:       f.store,
		Media:       media.NoopProcessor{},
		Source:      f.src,
		MatchRegex:  regexp.MustCompile(`^([A-Z]{2}\d{4})(?:_(\w+))?\.`),
		Log:         zerolog.Nop(),
	})
	f.collectionSvc = NewCollectionService(CollectionServiceParams{
		DB:          db,
		Collections: f.collections,
		Folders:     f.folders,
		MenuItems:   f.menuItems,
		Jobs:        engine,
		Store:       f.store,
		Log:         zerolog.Nop(),
	})

	register := func(name string, p queue.Processor) {
		if err := engine.Register(name, p, queue.Options{}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	register(QueueUpdateContent, func(ctx context.Context, payload []byte) error {
		var p FileContentPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return f.assets.UpdateFileContent(ctx, p.AssetFileID)
	})
	register(QueueCollectionSync, func(ctx context.Context, payload []byte) error {
		var p CollectionSyncPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return f.collectionSvc.Synchronize(ctx, p.CollectionID)
	})
	register(QueueProcessDeletion, func(ctx context.Context, _ []byte) error {
		return f.assets.ProcessDeletion(ctx)
	})
	return f
}

// drain runs every runnable job, including the ones enqueued by jobs that
// just ran, until the queues are quiescent.
func (f *fixture) drain(t *testing.T) int {
	t.Helper()
	n, err := f.engine.ProcessAvailable(context.Background())
	if err != nil {
		t.Fatalf("drain queues: %v", err)
	}
	return n
}

func (f *fixture) pendingJobs(t *testing.T, queueName string) int64 {
	t.Helper()
	n, err := f.engine.CountByState(queueName, queue.JobCreated, queue.JobRetry, queue.JobActive)
	if err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	return n
}
