package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Collection is a user-facing tree node. When AssetFolderID is set the
// collection is synchronized: its name and file membership are derived from
// the mirrored folder and must not be edited manually. Siblings are unique
// by (parent_id, name).
type Collection struct {
	ID            string  `gorm:"primaryKey;size:36"`
	Name          string  `gorm:"size:255;uniqueIndex:uniq_collection_sibling"`
	Description   string  `gorm:"size:1024"`
	ParentID      *string `gorm:"size:36;index;uniqueIndex:uniq_collection_sibling"`
	Path          string  `gorm:"size:1024;index"`
	AssetFolderID *string `gorm:"size:36;index"`
	Public        bool
	Draft         bool
	OwnerID       string `gorm:"size:36;index"`
	HasThumbnail  bool
	NumberOfFiles int
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`

	Parent      *Collection      `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE"`
	Children    []Collection     `gorm:"foreignKey:ParentID"`
	AssetFolder *AssetFolder     `gorm:"foreignKey:AssetFolderID"`
	Files       []CollectionFile `gorm:"foreignKey:CollectionID"`
}

func (c *Collection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (c *Collection) ThumbnailStorageKey() string {
	return "collections/" + c.ID + "/thumbnail"
}

// Synchronized reports whether the collection mirrors an asset folder.
func (c *Collection) Synchronized() bool {
	return c.AssetFolderID != nil
}

// CollectionFile links a file into a collection, independent of the file's
// folder location. The (collection_id, asset_file_id) pair is unique.
type CollectionFile struct {
	ID           string    `gorm:"primaryKey;size:36"`
	CollectionID string    `gorm:"size:36;index;uniqueIndex:uniq_collection_file"`
	AssetFileID  string    `gorm:"size:36;index;uniqueIndex:uniq_collection_file"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`

	Collection *Collection `gorm:"foreignKey:CollectionID;constraint:OnDelete:CASCADE"`
	AssetFile  *AssetFile  `gorm:"foreignKey:AssetFileID"`
}

func (f *CollectionFile) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}
