package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is a PIM entry matched against asset file names by the product
// assignment job.
type Product struct {
	ID         string    `gorm:"primaryKey;size:36"`
	ProductKey string    `gorm:"size:191;uniqueIndex"`
	Name       string    `gorm:"size:255"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
