package services

import (
	"context"
	"errors"
	"testing"

	"brandvault/app/models"

	"gorm.io/gorm"
)

func TestUpsertFolderCreatesWithPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-root", Name: "Brand"})
	if err != nil {
		t.Fatalf("upsert root: %v", err)
	}
	if root.Status != models.FolderUpToDate {
		t.Fatalf("status = %s, want UP_TO_DATE", root.Status)
	}
	if root.Path != root.ID+"." {
		t.Fatalf("root path = %q, want %q", root.Path, root.ID+".")
	}

	child, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-child", ParentExternalID: "ext-root", Name: "Logos"})
	if err != nil {
		t.Fatalf("upsert child: %v", err)
	}
	if child.ParentID == nil || *child.ParentID != root.ID {
		t.Fatal("child not linked to root")
	}
	if child.Path != root.Path+child.ID+"." {
		t.Fatalf("child path = %q, want %q", child.Path, root.Path+child.ID+".")
	}
}

func TestUpsertFolderIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mkFolder(t, f, "ext-a", "", "A")
	mkCollection(t, f, "ext-a", "A")

	// a rename enqueues one sync job for the mirroring collection
	if _, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-a", Name: "A2"}); err != nil {
		t.Fatalf("rename upsert: %v", err)
	}
	if got := f.pendingJobs(t, QueueCollectionSync); got != 1 {
		t.Fatalf("pending sync jobs = %d, want 1", got)
	}

	// repeating the identical upsert changes nothing and enqueues nothing
	if _, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-a", Name: "A2"}); err != nil {
		t.Fatalf("repeat upsert: %v", err)
	}
	if got := f.pendingJobs(t, QueueCollectionSync); got != 1 {
		t.Fatalf("pending sync jobs after repeat = %d, want still 1", got)
	}
}

func TestUpsertFolderInheritsOnParentChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	license := models.License{Name: "EU only"}
	if err := f.db.Create(&license).Error; err != nil {
		t.Fatalf("create license: %v", err)
	}

	parentA, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-pa", Name: "PA"})
	if err != nil {
		t.Fatalf("upsert parent A: %v", err)
	}
	parentA.LicenseID = &license.ID
	if err := f.folders.Save(parentA); err != nil {
		t.Fatalf("save parent A: %v", err)
	}
	if _, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-pb", Name: "PB"}); err != nil {
		t.Fatalf("upsert parent B: %v", err)
	}

	child, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-c", ParentExternalID: "ext-pa", Name: "C"})
	if err != nil {
		t.Fatalf("upsert child: %v", err)
	}
	if child.LicenseID == nil || *child.LicenseID != license.ID {
		t.Fatal("child did not inherit license from parent")
	}

	// moving under PB drops the inherited license
	child, err = f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-c", ParentExternalID: "ext-pb", Name: "C"})
	if err != nil {
		t.Fatalf("move child: %v", err)
	}
	if child.LicenseID != nil {
		t.Fatal("license survived a parent change")
	}
}

func TestMovePreservesPathInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	upsert := func(ext, parent, name string) *models.AssetFolder {
		folder, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: ext, ParentExternalID: parent, Name: name})
		if err != nil {
			t.Fatalf("upsert %s: %v", ext, err)
		}
		return folder
	}

	upsert("ext-a", "", "A")
	upsert("ext-b", "", "B")
	upsert("ext-x", "ext-a", "X")
	upsert("ext-y", "ext-x", "Y")

	// move X (and implicitly Y) under B, then back under A
	upsert("ext-x", "ext-b", "X")
	upsert("ext-x", "ext-a", "X")

	var folders []models.AssetFolder
	if err := f.db.Find(&folders).Error; err != nil {
		t.Fatalf("list folders: %v", err)
	}
	byID := map[string]*models.AssetFolder{}
	for i := range folders {
		byID[folders[i].ID] = &folders[i]
	}
	for _, folder := range byID {
		want := folder.ID + "."
		if folder.ParentID != nil {
			want = byID[*folder.ParentID].Path + folder.ID + "."
		}
		if folder.Path != want {
			t.Errorf("folder %s path = %q, want %q", folder.Name, folder.Path, want)
		}
	}
}

func TestUpsertFileChecksumChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-f", Name: "F"}); err != nil {
		t.Fatalf("upsert folder: %v", err)
	}
	f.src.Content["ext-file"] = []byte("image bytes")

	file, err := f.assets.UpsertFile(ctx, UpsertFileInput{
		ExternalID: "ext-file", ExternalChecksum: "abc",
		FolderExternalID: "ext-f", Name: "logo.png", Size: 11, MimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("upsert file: %v", err)
	}
	if file.Status != models.FileCreating {
		t.Fatalf("status = %s, want CREATING", file.Status)
	}
	f.drain(t)

	file, err = f.files.FindByID(file.ID)
	if err != nil {
		t.Fatalf("reload file: %v", err)
	}
	if file.Status != models.FileUpToDate {
		t.Fatalf("status after content refresh = %s, want UP_TO_DATE", file.Status)
	}
	if !f.store.Has(file.OriginalStorageKey()) {
		t.Fatal("original not stored")
	}

	file, err = f.assets.UpsertFile(ctx, UpsertFileInput{
		ExternalID: "ext-file", ExternalChecksum: "def",
		FolderExternalID: "ext-f", Name: "logo.png", Size: 11, MimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("re-upsert file: %v", err)
	}
	if file.Status != models.FileOutdated {
		t.Fatalf("status = %s, want OUTDATED", file.Status)
	}
	if got := f.pendingJobs(t, QueueUpdateContent); got != 1 {
		t.Fatalf("pending content jobs = %d, want 1", got)
	}
}

func TestUpsertFileUnchangedChecksumEnqueuesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-f", Name: "F"}); err != nil {
		t.Fatalf("upsert folder: %v", err)
	}
	in := UpsertFileInput{
		ExternalID: "ext-file", ExternalChecksum: "abc",
		FolderExternalID: "ext-f", Name: "a.png", Size: 5, MimeType: "image/png",
	}
	if _, err := f.assets.UpsertFile(ctx, in); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	f.drain(t)

	if _, err := f.assets.UpsertFile(ctx, in); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if got := f.pendingJobs(t, QueueUpdateContent); got != 0 {
		t.Fatalf("pending content jobs = %d, want 0", got)
	}
}

func TestUpsertFileResurrectionRefetchesContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	folder := mkFolder(t, f, "ext-f", "", "F")
	f.src.Content["ext-file"] = []byte("image bytes")
	in := UpsertFileInput{
		ExternalID: "ext-file", ExternalChecksum: "abc",
		FolderExternalID: "ext-f", Name: "a.png", Size: 5, MimeType: "image/png",
	}
	file, err := f.assets.UpsertFile(ctx, in)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	f.drain(t)

	// a full pass that never lists the file marks it for deletion
	if err := f.assets.FinishListingPass([]string{folder.ID}, nil); err != nil {
		t.Fatalf("finish pass: %v", err)
	}
	file, err = f.files.FindByID(file.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if file.Status != models.FilePendingDeletion {
		t.Fatalf("status = %s, want PENDING_DELETION", file.Status)
	}

	// it reappears with the same checksum before the sweep runs
	file, err = f.assets.UpsertFile(ctx, in)
	if err != nil {
		t.Fatalf("resurrect: %v", err)
	}
	if file.Status != models.FileOutdated {
		t.Fatalf("status = %s, want OUTDATED", file.Status)
	}
	if got := f.pendingJobs(t, QueueUpdateContent); got != 1 {
		t.Fatalf("pending content jobs = %d, want 1", got)
	}
	f.drain(t)

	file, err = f.files.FindByID(file.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if file.Status != models.FileUpToDate {
		t.Fatalf("status after refresh = %s, want UP_TO_DATE", file.Status)
	}
}

func TestUpsertFileFolderChangeRederivesMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mkFolder(t, f, "ext-a", "", "A")
	mkFolder(t, f, "ext-b", "", "B")
	collA := mkCollection(t, f, "ext-a", "A")
	collB := mkCollection(t, f, "ext-b", "B")

	file, err := f.assets.UpsertFile(ctx, UpsertFileInput{
		ExternalID: "ext-file", ExternalChecksum: "abc",
		FolderExternalID: "ext-a", Name: "x.png", Size: 5, MimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	assertMembers(t, f, collA.ID, file.ID)
	assertMembers(t, f, collB.ID)

	if _, err := f.assets.UpsertFile(ctx, UpsertFileInput{
		ExternalID: "ext-file", ExternalChecksum: "abc",
		FolderExternalID: "ext-b", Name: "x.png", Size: 5, MimeType: "image/png",
	}); err != nil {
		t.Fatalf("move: %v", err)
	}
	assertMembers(t, f, collA.ID)
	assertMembers(t, f, collB.ID, file.ID)
}

func TestRenameFansOutToCollections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	folder, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-a", Name: "A"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	coll := mkCollection(t, f, "ext-a", "A")
	f.drain(t)

	if _, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-a", Name: "A2"}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	f.drain(t)

	reloaded, err := f.collections.FindByID(coll.ID)
	if err != nil {
		t.Fatalf("reload collection: %v", err)
	}
	if reloaded.Name != "A2" {
		t.Fatalf("collection name = %q, want A2", reloaded.Name)
	}
	got, err := f.folders.FindByExternalID("ext-a")
	if err != nil {
		t.Fatalf("reload folder: %v", err)
	}
	if got.ID != folder.ID {
		t.Fatal("external id no longer resolves to the same folder")
	}
}

func TestFinishListingPassMarksUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kept, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-kept", Name: "Kept"})
	if err != nil {
		t.Fatalf("upsert kept: %v", err)
	}
	gone, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-gone", Name: "Gone"})
	if err != nil {
		t.Fatalf("upsert gone: %v", err)
	}

	if err := f.assets.FinishListingPass([]string{kept.ID}, nil); err != nil {
		t.Fatalf("finish pass: %v", err)
	}

	keptNow, _ := f.folders.FindByExternalID("ext-kept")
	goneNow, _ := f.folders.FindByExternalID("ext-gone")
	if keptNow.Status != models.FolderUpToDate {
		t.Fatalf("kept status = %s", keptNow.Status)
	}
	if goneNow.Status != models.FolderPendingDeletion {
		t.Fatalf("gone status = %s, want PENDING_DELETION", goneNow.Status)
	}

	// the source lists it again, it comes back
	back, err := f.assets.UpsertFolder(ctx, UpsertFolderInput{ExternalID: "ext-gone", Name: "Gone"})
	if err != nil {
		t.Fatalf("resurrect: %v", err)
	}
	if back.ID != gone.ID || back.Status != models.FolderUpToDate {
		t.Fatal("pending-deletion folder not resurrected in place")
	}
}

func TestDeletionSweepOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mkFolder(t, f, "ext-top", "", "Top")
	mkFolder(t, f, "ext-mid", "ext-top", "Mid")
	coll := mkCollection(t, f, "ext-mid", "Mid")
	file, err := f.assets.UpsertFile(ctx, UpsertFileInput{
		ExternalID: "ext-file", ExternalChecksum: "abc",
		FolderExternalID: "ext-mid", Name: "x.png", Size: 5, MimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("upsert file: %v", err)
	}

	if err := f.assets.FinishListingPass(nil, nil); err != nil {
		t.Fatalf("finish pass: %v", err)
	}
	if err := f.assets.ProcessDeletion(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var folderCount, fileCount, collCount, memberCount int64
	f.db.Model(&models.AssetFolder{}).Count(&folderCount)
	f.db.Model(&models.AssetFile{}).Count(&fileCount)
	f.db.Model(&models.Collection{}).Count(&collCount)
	f.db.Model(&models.CollectionFile{}).Count(&memberCount)
	if folderCount != 0 || fileCount != 0 || collCount != 0 || memberCount != 0 {
		t.Fatalf("leftovers after sweep: folders=%d files=%d collections=%d members=%d",
			folderCount, fileCount, collCount, memberCount)
	}
	_ = coll
	_ = file

	// sweep is idempotent
	if err := f.assets.ProcessDeletion(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
}

func TestDeleteFileRollsBackDetachOnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mkFolder(t, f, "ext-a", "", "A")
	coll := mkCollection(t, f, "ext-a", "A")
	file, err := f.assets.UpsertFile(ctx, UpsertFileInput{
		ExternalID: "ext-file", ExternalChecksum: "abc",
		FolderExternalID: "ext-a", Name: "x.png", Size: 5, MimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	f.drain(t)
	assertMembers(t, f, coll.ID, file.ID)

	// fail the row delete after the detach already ran in the transaction
	errInjected := errors.New("file delete rejected")
	err = f.db.Callback().Delete().Before("gorm:delete").Register("fail_file_delete", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "asset_files" {
			tx.AddError(errInjected)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	if err := f.assets.DeleteFile(ctx, file); !errors.Is(err, errInjected) {
		t.Fatalf("delete err = %v, want injected failure", err)
	}
	assertMembers(t, f, coll.ID, file.ID)

	if err := f.db.Callback().Delete().Remove("fail_file_delete"); err != nil {
		t.Fatalf("remove callback: %v", err)
	}
	if err := f.assets.DeleteFile(ctx, file); err != nil {
		t.Fatalf("delete: %v", err)
	}
	assertMembers(t, f, coll.ID)
}

func TestAssignProducts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product := models.Product{ProductKey: "AB1234", Name: "Sneaker"}
	if err := f.db.Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	mkFolder(t, f, "ext-f", "", "F")
	file, err := f.assets.UpsertFile(ctx, UpsertFileInput{
		ExternalID: "ext-file", ExternalChecksum: "abc",
		FolderExternalID: "ext-f", Name: "AB1234_front.png", Size: 5, MimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("upsert file: %v", err)
	}
	other, err := f.assets.UpsertFile(ctx, UpsertFileInput{
		ExternalID: "ext-other", ExternalChecksum: "abc",
		FolderExternalID: "ext-f", Name: "banner.png", Size: 5, MimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("upsert other: %v", err)
	}

	if err := f.assets.AssignProducts(ctx); err != nil {
		t.Fatalf("assign: %v", err)
	}

	file, _ = f.files.FindByID(file.ID)
	if file.ProductID == nil || *file.ProductID != product.ID {
		t.Fatal("file not linked to product")
	}
	if file.ProductView == nil || *file.ProductView != "front" {
		t.Fatalf("product view = %v, want front", file.ProductView)
	}
	other, _ = f.files.FindByID(other.ID)
	if other.ProductID != nil {
		t.Fatal("non-matching file got a product")
	}
}

// mkFolder creates a folder through the upsert engine.
func mkFolder(t *testing.T, f *fixture, ext, parentExt, name string) *models.AssetFolder {
	t.Helper()
	folder, err := f.assets.UpsertFolder(context.Background(), UpsertFolderInput{
		ExternalID: ext, ParentExternalID: parentExt, Name: name,
	})
	if err != nil {
		t.Fatalf("upsert folder %s: %v", ext, err)
	}
	return folder
}

// mkCollection creates a synchronized collection mirroring the folder with
// the given external id.
func mkCollection(t *testing.T, f *fixture, folderExt, name string) *models.Collection {
	t.Helper()
	folder, err := f.folders.FindByExternalID(folderExt)
	if err != nil || folder == nil {
		t.Fatalf("folder %s: %v", folderExt, err)
	}
	coll := &models.Collection{
		Name:          name,
		AssetFolderID: &folder.ID,
		Public:        true,
		OwnerID:       "owner-1",
	}
	if err := f.db.Create(coll).Error; err != nil {
		t.Fatalf("create collection: %v", err)
	}
	coll.Path = coll.ID + "."
	if err := f.collections.Save(coll); err != nil {
		t.Fatalf("save collection path: %v", err)
	}
	return coll
}

func assertMembers(t *testing.T, f *fixture, collectionID string, want ...string) {
	t.Helper()
	got, err := f.collections.MembershipFileIDs(collectionID)
	if err != nil {
		t.Fatalf("memberships of %s: %v", collectionID, err)
	}
	if len(got) != len(want) {
		t.Fatalf("collection %s has %d members, want %d", collectionID, len(got), len(want))
	}
	wantSet := map[string]bool{}
	for _, id := range want {
		wantSet[id] = true
	}
	for _, id := range got {
		if !wantSet[id] {
			t.Fatalf("unexpected member %s in collection %s", id, collectionID)
		}
	}
}
