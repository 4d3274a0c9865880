package services

import (
	"context"
	"testing"

	"brandvault/app/models"
	"brandvault/source"

	"github.com/rs/zerolog"
)

func newSyncService(f *fixture) *SyncService {
	return NewSyncService(SyncServiceParams{
		Assets: f.assets,
		Source: f.src,
		Log:    zerolog.Nop(),
	})
}

func TestRunOnceFullListing(t *testing.T) {
	f := newFixture(t)
	sync := newSyncService(f)
	ctx := context.Background()

	f.src.Entries = []source.ChangeEntry{
		{Kind: source.KindFolder, ExternalID: "ext-root", Name: "Brand"},
		{Kind: source.KindFolder, ExternalID: "ext-sub", ParentExternalID: "ext-root", Name: "Logos"},
		{Kind: source.KindFile, ExternalID: "ext-file", ParentExternalID: "ext-sub",
			Name: "logo.png", Checksum: "abc", Size: 3, MimeType: "image/png"},
	}
	f.src.Content["ext-file"] = []byte("png")

	if err := sync.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	f.drain(t)

	root, _ := f.folders.FindByExternalID("ext-root")
	sub, _ := f.folders.FindByExternalID("ext-sub")
	if root == nil || sub == nil {
		t.Fatal("folders not mirrored")
	}
	file, _ := f.files.FindByExternalID("ext-file")
	if file == nil || file.Status != models.FileUpToDate {
		t.Fatalf("file = %+v, want mirrored UP_TO_DATE", file)
	}

	// next pass no longer lists the subfolder; full listing marks it
	f.src.Entries = f.src.Entries[:1]
	if err := sync.RunOnce(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	sub, _ = f.folders.FindByExternalID("ext-sub")
	if sub.Status != models.FolderPendingDeletion {
		t.Fatalf("sub status = %s, want PENDING_DELETION", sub.Status)
	}
	file, _ = f.files.FindByExternalID("ext-file")
	if file.Status != models.FilePendingDeletion {
		t.Fatalf("file status = %s, want PENDING_DELETION", file.Status)
	}
	root, _ = f.folders.FindByExternalID("ext-root")
	if root.Status != models.FolderUpToDate {
		t.Fatalf("root status = %s, want UP_TO_DATE", root.Status)
	}
}

func TestRunOnceIncrementalNeverMarksDeletion(t *testing.T) {
	f := newFixture(t)
	sync := newSyncService(f)
	ctx := context.Background()

	f.src.Entries = []source.ChangeEntry{
		{Kind: source.KindFolder, ExternalID: "ext-a", Name: "A"},
		{Kind: source.KindFolder, ExternalID: "ext-b", Name: "B"},
	}
	if err := sync.RunOnce(ctx); err != nil {
		t.Fatalf("full pass: %v", err)
	}

	// delta pass mentions only one folder; the other must survive
	f.src.Delta = true
	f.src.Entries = f.src.Entries[:1]
	if err := sync.RunOnce(ctx); err != nil {
		t.Fatalf("delta pass: %v", err)
	}
	b, _ := f.folders.FindByExternalID("ext-b")
	if b.Status != models.FolderUpToDate {
		t.Fatalf("untouched folder status = %s after delta pass, want UP_TO_DATE", b.Status)
	}
}

func TestRunOnceIsolatesEntryFailures(t *testing.T) {
	f := newFixture(t)
	sync := newSyncService(f)
	ctx := context.Background()

	// a file pointing at a folder the feed never declares still resolves to
	// a nil folder and the pass carries on
	f.src.Entries = []source.ChangeEntry{
		{Kind: source.KindFile, ExternalID: "ext-orphan", ParentExternalID: "ext-missing",
			Name: "stray.png", Checksum: "abc", Size: 3, MimeType: "image/png"},
		{Kind: source.KindFolder, ExternalID: "ext-ok", Name: "OK"},
	}
	if err := sync.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	ok, _ := f.folders.FindByExternalID("ext-ok")
	if ok == nil {
		t.Fatal("pass aborted before later entries")
	}
	orphan, _ := f.files.FindByExternalID("ext-orphan")
	if orphan == nil || orphan.FolderID != nil {
		t.Fatalf("orphan file = %+v, want stored without folder", orphan)
	}
}
