package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AssetFolderStatus string

const (
	FolderUpToDate        AssetFolderStatus = "UP_TO_DATE"
	FolderPendingDeletion AssetFolderStatus = "PENDING_DELETION"
)

type AssetFileStatus string

const (
	FileCreating        AssetFileStatus = "CREATING"
	FileUpToDate        AssetFileStatus = "UP_TO_DATE"
	FileOutdated        AssetFileStatus = "OUTDATED"
	FilePendingDeletion AssetFileStatus = "PENDING_DELETION"
)

// AssetFolder mirrors one folder of the external source. Path is the
// materialized ancestor chain ("id1.id2.id3."), root folders have a nil
// parent and Path equal to their own id followed by a dot.
type AssetFolder struct {
	ID          string            `gorm:"primaryKey;size:36"`
	ExternalID  string            `gorm:"size:191;uniqueIndex"`
	Name        string            `gorm:"size:255"`
	ParentID    *string           `gorm:"size:36;index"`
	Path        string            `gorm:"size:1024;index"`
	Status      AssetFolderStatus `gorm:"size:32;index"`
	LicenseID   *string           `gorm:"size:36"`
	AssetTypeID *string           `gorm:"size:36"`
	CreatedAt   time.Time         `gorm:"autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime"`

	Parent      *AssetFolder  `gorm:"foreignKey:ParentID"`
	Children    []AssetFolder `gorm:"foreignKey:ParentID"`
	Files       []AssetFile   `gorm:"foreignKey:FolderID"`
	Collections []Collection  `gorm:"foreignKey:AssetFolderID"`
}

func (f *AssetFolder) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// AssetFile is a leaf under an AssetFolder. ExternalChecksum is the source's
// content hash; a mismatch on upsert moves the file to OUTDATED until the
// content refresh job re-fetches the bytes.
type AssetFile struct {
	ID               string          `gorm:"primaryKey;size:36"`
	ExternalID       string          `gorm:"size:191;uniqueIndex"`
	ExternalChecksum string          `gorm:"size:191"`
	Name             string          `gorm:"size:255"`
	FolderID         *string         `gorm:"size:36;index"`
	Status           AssetFileStatus `gorm:"size:32;index"`
	Size             int64
	MimeType         string `gorm:"size:128"`
	Width            *int
	Height           *int
	HasThumbnail     bool
	LicenseID        *string   `gorm:"size:36"`
	AssetTypeID      *string   `gorm:"size:36"`
	ProductID        *string   `gorm:"size:36;index"`
	ProductView      *string   `gorm:"size:64"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`

	Folder  *AssetFolder `gorm:"foreignKey:FolderID"`
	Product *Product     `gorm:"foreignKey:ProductID"`
}

func (f *AssetFile) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

func (f *AssetFile) OriginalStorageKey() string {
	return "assets/" + f.ID + "/original"
}

func (f *AssetFile) ThumbnailStorageKey() string {
	return "assets/" + f.ID + "/thumbnail"
}

// License restricts where and until when an asset may be used. Folders carry
// a license and new children inherit it.
type License struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Name      string    `gorm:"size:191;uniqueIndex"`
	UsageFrom *time.Time
	UsageTo   *time.Time
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (l *License) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// AssetType classifies assets (logo, packshot, video...).
type AssetType struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Name      string    `gorm:"size:191;uniqueIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (t *AssetType) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
