package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DownloadStatus string

const (
	DownloadPending DownloadStatus = "PENDING"
	DownloadReady   DownloadStatus = "READY"
	DownloadFailed  DownloadStatus = "FAILED"
)

// Download is a user request for a zip archive of asset files. The archive
// is built asynchronously and removed again once ExpiresAt passes.
type Download struct {
	ID          string         `gorm:"primaryKey;size:36"`
	OwnerID     string         `gorm:"size:36;index"`
	OwnerEmail  string         `gorm:"size:255"`
	FileIDs     []string       `gorm:"serializer:json"`
	Status      DownloadStatus `gorm:"size:32;index"`
	ArchiveSize int64
	ExpiresAt   time.Time `gorm:"index"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (d *Download) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

func (d *Download) ArchiveStorageKey() string {
	return "downloads/" + d.ID + ".zip"
}
