package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"

	"brandvault/app/models"
	"brandvault/app/repo"
	"brandvault/media"
	"brandvault/queue"
	"brandvault/source"
	"brandvault/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// AssetService owns the folder/file mirror of the external source: upserts
// driven by the change feed, the content refresh pipeline, product matching
// and the deferred deletion sweep.
type AssetService struct {
	db          *gorm.DB
	folders     *repo.AssetFolderRepository
	files       *repo.AssetFileRepository
	collections *repo.CollectionRepository
	products    *repo.ProductRepository
	jobs        *queue.Engine
	store       storage.ObjectStore
	media       media.Processor
	source      source.Source
	matchRegex  *regexp.Regexp
	log         zerolog.Logger
}

type AssetServiceParams struct {
	DB          *gorm.DB
	Folders     *repo.AssetFolderRepository
	Files       *repo.AssetFileRepository
	Collections *repo.CollectionRepository
	Products    *repo.ProductRepository
	Jobs        *queue.Engine
	Store       storage.ObjectStore
	Media       media.Processor
	Source      source.Source
	MatchRegex  *regexp.Regexp
	Log         zerolog.Logger
}

func NewAssetService(p AssetServiceParams) *AssetService {
	return &AssetService{
		db:          p.DB,
		folders:     p.Folders,
		files:       p.Files,
		collections: p.Collections,
		products:    p.Products,
		jobs:        p.Jobs,
		store:       p.Store,
		media:       p.Media,
		source:      p.Source,
		matchRegex:  p.MatchRegex,
		log:         p.Log.With().Str("component", "assets").Logger(),
	}
}

type UpsertFolderInput struct {
	ExternalID       string
	ParentExternalID string
	Name             string
}

// UpsertFolder reconciles one folder entry of the change feed. A sync job is
// enqueued for every collection mirroring the folder, its new parent, and
// (on a move) its previous parent, deduplicated through singleton keys so
// repeating the call with identical input enqueues nothing new.
func (s *AssetService) UpsertFolder(ctx context.Context, in UpsertFolderInput) (*models.AssetFolder, error) {
	folder, err := s.folders.FindByExternalID(in.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("look up folder %s: %w", in.ExternalID, err)
	}
	isNew := folder == nil
	if isNew {
		folder = &models.AssetFolder{
			ID:         uuid.NewString(),
			ExternalID: in.ExternalID,
			Status:     models.FolderUpToDate,
		}
	}

	nameChanged := !isNew && folder.Name != in.Name
	folder.Name = in.Name

	previousParent := folder.Parent
	parentChanged := false
	if isNew || externalIDOf(folder.Parent) != in.ParentExternalID {
		var newParent *models.AssetFolder
		if in.ParentExternalID != "" {
			newParent, err = s.folders.FindByExternalID(in.ParentExternalID)
			if err != nil {
				return nil, fmt.Errorf("look up parent %s: %w", in.ParentExternalID, err)
			}
		}
		parentChanged = !isNew && folderID(previousParent) != folderID(newParent)
		folder.Parent = newParent
		if newParent != nil {
			folder.ParentID = &newParent.ID
		} else {
			folder.ParentID = nil
		}
	}

	if isNew || parentChanged {
		if folder.Parent != nil {
			folder.LicenseID = folder.Parent.LicenseID
			folder.AssetTypeID = folder.Parent.AssetTypeID
		} else {
			folder.LicenseID = nil
			folder.AssetTypeID = nil
		}
	}

	oldPath := folder.Path
	folder.Path = parentPathOf(folder.Parent) + folder.ID + "."
	if folder.Status == models.FolderPendingDeletion {
		// the source still lists it, resurrect
		folder.Status = models.FolderUpToDate
	}

	if isNew {
		err = s.folders.Create(folder)
	} else {
		err = s.folders.Save(folder)
	}
	if err != nil {
		return nil, fmt.Errorf("persist folder %s: %w", in.ExternalID, err)
	}

	if parentChanged && oldPath != folder.Path {
		if err := s.folders.RebasePaths(oldPath, folder.Path); err != nil {
			return nil, fmt.Errorf("rebase descendant paths of %s: %w", folder.ID, err)
		}
	}

	if isNew || nameChanged || parentChanged {
		reqs := collectionSyncRequests(folder, previousParent, parentChanged)
		if len(reqs) > 0 {
			if err := s.jobs.BulkPush(ctx, reqs); err != nil {
				return nil, fmt.Errorf("enqueue collection sync for %s: %w", folder.ID, err)
			}
		}
	}
	return folder, nil
}

func collectionSyncRequests(folder, previousParent *models.AssetFolder, parentChanged bool) []queue.JobRequest {
	seen := map[string]struct{}{}
	var reqs []queue.JobRequest
	add := func(collections []models.Collection) {
		for _, c := range collections {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			reqs = append(reqs, queue.JobRequest{
				Queue:        QueueCollectionSync,
				Payload:      CollectionSyncPayload{CollectionID: c.ID},
				SingletonKey: collectionSyncKey(c.ID),
			})
		}
	}
	add(folder.Collections)
	if folder.Parent != nil {
		add(folder.Parent.Collections)
	}
	if parentChanged && previousParent != nil {
		add(previousParent.Collections)
	}
	return reqs
}

type UpsertFileInput struct {
	ExternalID       string
	ExternalChecksum string
	FolderExternalID string
	Name             string
	Size             int64
	MimeType         string
}

// UpsertFile reconciles one file entry. A checksum change against the stored
// value on a non-creating file moves it to OUTDATED and schedules a content
// refresh; a folder change re-derives the file's collection memberships.
func (s *AssetService) UpsertFile(ctx context.Context, in UpsertFileInput) (*models.AssetFile, error) {
	file, err := s.files.FindByExternalID(in.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("look up file %s: %w", in.ExternalID, err)
	}
	isNew := file == nil
	if isNew {
		file = &models.AssetFile{
			ID:         uuid.NewString(),
			ExternalID: in.ExternalID,
			Status:     models.FileCreating,
		}
	}

	checksumChanged := !isNew && file.ExternalChecksum != in.ExternalChecksum
	if checksumChanged && file.Status != models.FileCreating {
		file.Status = models.FileOutdated
	}
	resurrected := !isNew && file.Status == models.FilePendingDeletion
	if resurrected {
		file.Status = models.FileOutdated
	}
	file.ExternalChecksum = in.ExternalChecksum
	file.Name = in.Name
	file.Size = in.Size
	file.MimeType = in.MimeType

	previousFolderID := strOrEmpty(file.FolderID)
	folder, err := s.folders.FindByExternalID(in.FolderExternalID)
	if err != nil {
		return nil, fmt.Errorf("look up folder %s: %w", in.FolderExternalID, err)
	}
	if folder != nil {
		file.FolderID = &folder.ID
		file.LicenseID = folder.LicenseID
		file.AssetTypeID = folder.AssetTypeID
	} else {
		file.FolderID = nil
		file.LicenseID = nil
		file.AssetTypeID = nil
	}

	if isNew {
		err = s.files.Create(file)
	} else {
		err = s.files.Save(file)
	}
	if err != nil {
		return nil, fmt.Errorf("persist file %s: %w", in.ExternalID, err)
	}

	// A resurrected file is OUTDATED without a checksum change, so it needs
	// the refresh job too or it would never reach UP_TO_DATE again.
	if checksumChanged || resurrected || file.Status == models.FileCreating {
		err := s.jobs.Push(ctx, QueueUpdateContent,
			FileContentPayload{AssetFileID: file.ID},
			queue.WithSingletonKey("content:"+file.ID))
		if err != nil {
			return nil, fmt.Errorf("enqueue content refresh for %s: %w", file.ID, err)
		}
	}

	folderChanged := previousFolderID != strOrEmpty(file.FolderID)
	if folderChanged || isNew {
		if folderChanged && !isNew {
			if err := s.collections.DetachFileEverywhere(file.ID); err != nil {
				return nil, fmt.Errorf("detach file %s: %w", file.ID, err)
			}
		}
		if file.FolderID != nil {
			if err := s.collections.AttachFileToFolderCollections(file.ID, *file.FolderID); err != nil {
				return nil, fmt.Errorf("attach file %s: %w", file.ID, err)
			}
		}
	}
	return file, nil
}

// FinishListingPass marks everything the full listing did not touch as
// pending deletion; the sweeper removes it later. Never called after an
// incremental pass.
func (s *AssetService) FinishListingPass(touchedFolderIDs, touchedFileIDs []string) error {
	if err := s.folders.MarkPendingDeletionExcept(touchedFolderIDs); err != nil {
		return err
	}
	return s.files.MarkPendingDeletionExcept(touchedFileIDs)
}

// ProcessDeletion finalizes pending deletions: files first, then folders
// (each folder recursively, children before parents). Idempotent, runs on a
// cron.
func (s *AssetService) ProcessDeletion(ctx context.Context) error {
	files, err := s.files.ListPendingDeletion()
	if err != nil {
		return err
	}
	for i := range files {
		if err := s.DeleteFile(ctx, &files[i]); err != nil {
			return err
		}
	}

	folders, err := s.folders.ListPendingDeletion()
	if err != nil {
		return err
	}
	for i := range folders {
		if err := s.DeleteFolder(ctx, folders[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFile removes the file's membership rows and its row, then clears the
// stored blobs best-effort.
func (s *AssetService) DeleteFile(ctx context.Context, file *models.AssetFile) error {
	// Detach and delete commit together so a crash cannot leave a file row
	// that lost its collection memberships.
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := repo.NewCollectionRepository(tx).DetachFileEverywhere(file.ID); err != nil {
			return fmt.Errorf("detach file %s: %w", file.ID, err)
		}
		if err := repo.NewAssetFileRepository(tx).Delete(file); err != nil {
			return fmt.Errorf("delete file %s: %w", file.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	keys := []string{file.OriginalStorageKey()}
	if file.HasThumbnail {
		keys = append(keys, file.ThumbnailStorageKey())
	}
	if err := s.store.Remove(ctx, keys...); err != nil {
		s.log.Warn().Str("file", file.ID).Err(err).Msg("blob removal failed")
	}
	return nil
}

// DeleteFolder removes the folder and everything underneath it: child
// folders first, then contained files, then mirroring collections, then the
// folder row, respecting foreign-key order.
func (s *AssetService) DeleteFolder(ctx context.Context, folderID string) error {
	folder, err := s.folders.FindByID(folderID)
	if err != nil {
		return err
	}
	if folder == nil {
		return nil
	}
	for i := range folder.Children {
		if err := s.DeleteFolder(ctx, folder.Children[i].ID); err != nil {
			return err
		}
	}
	for i := range folder.Files {
		if err := s.DeleteFile(ctx, &folder.Files[i]); err != nil {
			return err
		}
	}
	if err := s.collections.DeleteByAssetFolderID(folder.ID); err != nil {
		return fmt.Errorf("delete collections of folder %s: %w", folder.ID, err)
	}
	if err := s.folders.Delete(folder); err != nil {
		return fmt.Errorf("delete folder %s: %w", folder.ID, err)
	}
	return nil
}

// UpdateFileContent runs the content refresh pipeline: fetch the bytes from
// the source, store the original, derive thumbnail and dimensions, mark the
// file up to date. Re-running it converges to the same state.
func (s *AssetService) UpdateFileContent(ctx context.Context, fileID string) error {
	file, err := s.files.FindByID(fileID)
	if err != nil {
		return err
	}
	if file == nil {
		s.log.Debug().Str("file", fileID).Msg("content refresh for vanished file skipped")
		return nil
	}

	contentPath, err := s.source.FetchContent(ctx, file.ExternalID)
	if err != nil {
		return fmt.Errorf("fetch content of %s: %w", file.ID, err)
	}
	defer os.Remove(contentPath)

	file.MimeType = sniffMimeType(contentPath, file.MimeType)

	content, err := os.Open(contentPath)
	if err != nil {
		return err
	}
	info, err := content.Stat()
	if err != nil {
		content.Close()
		return err
	}
	err = s.store.Put(ctx, file.OriginalStorageKey(), content, info.Size(), file.MimeType)
	content.Close()
	if err != nil {
		return fmt.Errorf("store original of %s: %w", file.ID, err)
	}

	if err := s.refreshThumbnail(ctx, file, contentPath); err != nil {
		return err
	}

	dims, err := s.media.Dimensions(ctx, contentPath, file.MimeType)
	switch {
	case err == nil:
		w, h := dims.Width, dims.Height
		file.Width = &w
		file.Height = &h
	case errors.Is(err, media.ErrUnsupported):
		file.Width = nil
		file.Height = nil
	default:
		return fmt.Errorf("dimensions of %s: %w", file.ID, err)
	}

	file.Status = models.FileUpToDate
	if err := s.files.Save(file); err != nil {
		return fmt.Errorf("persist file %s: %w", file.ID, err)
	}
	return nil
}

func (s *AssetService) refreshThumbnail(ctx context.Context, file *models.AssetFile, contentPath string) error {
	thumbPath, err := s.media.Thumbnail(ctx, contentPath, file.MimeType)
	if err != nil {
		if !errors.Is(err, media.ErrUnsupported) {
			return fmt.Errorf("thumbnail of %s: %w", file.ID, err)
		}
		if file.HasThumbnail {
			file.HasThumbnail = false
			if rmErr := s.store.Remove(ctx, file.ThumbnailStorageKey()); rmErr != nil {
				s.log.Warn().Str("file", file.ID).Err(rmErr).Msg("stale thumbnail removal failed")
			}
		}
		return nil
	}
	defer os.Remove(thumbPath)

	thumb, err := os.Open(thumbPath)
	if err != nil {
		return err
	}
	defer thumb.Close()
	info, err := thumb.Stat()
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, file.ThumbnailStorageKey(), thumb, info.Size(), "image/webp"); err != nil {
		return fmt.Errorf("store thumbnail of %s: %w", file.ID, err)
	}
	file.HasThumbnail = true
	return nil
}

// AssignProducts links asset files to PIM products by matching file names
// against the configured pattern. The first capture group is the product
// key, the optional second one the product view.
func (s *AssetService) AssignProducts(ctx context.Context) error {
	if s.matchRegex == nil {
		s.log.Warn().Msg("product matching pattern not configured")
		return nil
	}
	return s.files.ListAll(func(batch []models.AssetFile) error {
		for i := range batch {
			file := &batch[i]
			match := s.matchRegex.FindStringSubmatch(file.Name)
			if match == nil {
				continue
			}
			product, err := s.products.FindByKey(match[1])
			if err != nil {
				return err
			}
			if product == nil {
				continue
			}
			file.ProductID = &product.ID
			file.ProductView = nil
			if len(match) > 2 && match[2] != "" {
				view := match[2]
				file.ProductView = &view
			}
			if err := s.files.Save(file); err != nil {
				return err
			}
		}
		return nil
	})
}

func sniffMimeType(path, fallback string) string {
	if fallback != "" && fallback != "application/octet-stream" {
		return fallback
	}
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := f.Read(head)
	if n == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(head[:n])
}

func externalIDOf(folder *models.AssetFolder) string {
	if folder == nil {
		return ""
	}
	return folder.ExternalID
}

func folderID(folder *models.AssetFolder) string {
	if folder == nil {
		return ""
	}
	return folder.ID
}

func parentPathOf(folder *models.AssetFolder) string {
	if folder == nil {
		return ""
	}
	return folder.Path
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
