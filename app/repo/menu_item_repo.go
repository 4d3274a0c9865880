package repo

import (
	"brandvault/app/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MenuItemRepository struct {
	db *gorm.DB
}

func NewMenuItemRepository(db *gorm.DB) *MenuItemRepository {
	return &MenuItemRepository{db: db}
}

func (r *MenuItemRepository) DeleteForCollection(collectionID string) error {
	return r.db.Delete(&models.MenuItem{}, "collection_id = ?", collectionID).Error
}

// CountRootEntries counts root-level menu entries pointing at the collection.
// Root placement is deduplicated per collection across the whole tree.
func (r *MenuItemRepository) CountRootEntries(collectionID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.MenuItem{}).
		Where("collection_id = ? AND parent_id IS NULL", collectionID).
		Count(&count).Error
	return count, err
}

// ForCollection lists the menu items referencing the given collection, with
// their children loaded.
func (r *MenuItemRepository) ForCollection(collectionID string) ([]models.MenuItem, error) {
	var items []models.MenuItem
	err := r.db.
		Preload("Children").
		Where("collection_id = ?", collectionID).
		Find(&items).Error
	return items, err
}

func (r *MenuItemRepository) CreateBatch(items []models.MenuItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.Omit(clause.Associations).Create(&items).Error
}

func (r *MenuItemRepository) RootCount() (int64, error) {
	var count int64
	err := r.db.Model(&models.MenuItem{}).Where("parent_id IS NULL").Count(&count).Error
	return count, err
}
