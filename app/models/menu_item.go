package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MenuItemType string

const (
	MenuItemCollection MenuItemType = "COLLECTION"
	MenuItemLink       MenuItemType = "LINK"
)

// MenuItem is a node of the site navigation tree. Items created by the
// collection synchronizer carry Sync=true; only those accept synchronized
// children automatically.
type MenuItem struct {
	ID           string       `gorm:"primaryKey;size:36"`
	Type         MenuItemType `gorm:"size:32"`
	Title        string       `gorm:"size:255"`
	ParentID     *string      `gorm:"size:36;index"`
	Position     int
	CollectionID *string   `gorm:"size:36;index"`
	Sync         bool
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`

	Parent   *MenuItem  `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE"`
	Children []MenuItem `gorm:"foreignKey:ParentID"`
}

func (m *MenuItem) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
