package services

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"time"

	"brandvault/app/models"
	"brandvault/app/repo"
	"brandvault/mailer"
	"brandvault/queue"
	"brandvault/storage"

	"github.com/rs/zerolog"
)

const presignTTL = 24 * time.Hour

// DownloadService builds zip archives of asset files on request, notifies the
// requester, and expires old archives.
type DownloadService struct {
	downloads *repo.DownloadRepository
	files     *repo.AssetFileRepository
	jobs      *queue.Engine
	store     storage.ObjectStore
	mail      mailer.Mailer
	expiry    time.Duration
	log       zerolog.Logger
}

type DownloadServiceParams struct {
	Downloads *repo.DownloadRepository
	Files     *repo.AssetFileRepository
	Jobs      *queue.Engine
	Store     storage.ObjectStore
	Mail      mailer.Mailer
	Expiry    time.Duration
	Log       zerolog.Logger
}

func NewDownloadService(p DownloadServiceParams) *DownloadService {
	expiry := p.Expiry
	if expiry == 0 {
		expiry = 7 * 24 * time.Hour
	}
	return &DownloadService{
		downloads: p.Downloads,
		files:     p.Files,
		jobs:      p.Jobs,
		store:     p.Store,
		mail:      p.Mail,
		expiry:    expiry,
		log:       p.Log.With().Str("component", "downloads").Logger(),
	}
}

// Request records a pending download and enqueues the archive build.
func (s *DownloadService) Request(ctx context.Context, ownerID, ownerEmail string, fileIDs []string) (*models.Download, error) {
	download := &models.Download{
		OwnerID:    ownerID,
		OwnerEmail: ownerEmail,
		FileIDs:    fileIDs,
		Status:     models.DownloadPending,
		ExpiresAt:  time.Now().Add(s.expiry),
	}
	if err := s.downloads.Create(download); err != nil {
		return nil, err
	}
	err := s.jobs.Push(ctx, QueueCreateArchive,
		DownloadPayload{DownloadID: download.ID},
		queue.WithSingletonKey("archive:"+download.ID))
	if err != nil {
		return nil, err
	}
	return download, nil
}

// CreateArchive streams every requested file into a zip, stores it, marks the
// download ready and enqueues the notification. Re-running overwrites the
// same archive key, so retries converge.
func (s *DownloadService) CreateArchive(ctx context.Context, downloadID string) error {
	download, err := s.downloads.FindByID(downloadID)
	if err != nil {
		return err
	}
	if download == nil {
		s.log.Debug().Str("download", downloadID).Msg("archive build for vanished download skipped")
		return nil
	}
	if download.Status == models.DownloadReady {
		return nil
	}

	files, err := s.files.FindByIDs(download.FileIDs)
	if err != nil {
		return err
	}

	archive, err := os.CreateTemp("", "archive-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(archive.Name())
	defer archive.Close()

	zw := zip.NewWriter(archive)
	seen := map[string]int{}
	for i := range files {
		file := &files[i]
		name := file.Name
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%d-%s", n, name)
		}
		seen[file.Name]++
		entry, err := zw.Create(name)
		if err != nil {
			return err
		}
		if err := s.store.Get(ctx, file.OriginalStorageKey(), entry); err != nil {
			return fmt.Errorf("read original of %s: %w", file.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}

	info, err := archive.Stat()
	if err != nil {
		return err
	}
	if _, err := archive.Seek(0, 0); err != nil {
		return err
	}
	if err := s.store.Put(ctx, download.ArchiveStorageKey(), archive, info.Size(), "application/zip"); err != nil {
		return fmt.Errorf("store archive %s: %w", download.ID, err)
	}

	download.Status = models.DownloadReady
	download.ArchiveSize = info.Size()
	if err := s.downloads.Save(download); err != nil {
		return err
	}
	return s.jobs.Push(ctx, QueueDownloadReady,
		DownloadPayload{DownloadID: download.ID},
		queue.WithSingletonKey("notify:"+download.ID))
}

// NotifyReady mails the requester a presigned link to the finished archive.
func (s *DownloadService) NotifyReady(ctx context.Context, downloadID string) error {
	download, err := s.downloads.FindByID(downloadID)
	if err != nil {
		return err
	}
	if download == nil || download.Status != models.DownloadReady {
		return nil
	}
	url, err := s.store.Presign(ctx, download.ArchiveStorageKey(), presignTTL)
	if err != nil {
		return fmt.Errorf("presign archive %s: %w", download.ID, err)
	}
	return s.mail.SendDownloadReady(ctx, download.OwnerEmail, url)
}

// ProcessExpired removes expired downloads and their stored archives. Runs on
// a cron.
func (s *DownloadService) ProcessExpired(ctx context.Context) error {
	expired, err := s.downloads.ListExpired(time.Now())
	if err != nil {
		return err
	}
	for i := range expired {
		download := &expired[i]
		if err := s.store.Remove(ctx, download.ArchiveStorageKey()); err != nil {
			s.log.Warn().Str("download", download.ID).Err(err).Msg("archive removal failed")
		}
		if err := s.downloads.Delete(download.ID); err != nil {
			return err
		}
	}
	return nil
}
