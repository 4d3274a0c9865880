package repo

import (
	"errors"
	"fmt"

	"brandvault/app/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AssetFolderRepository struct {
	db *gorm.DB
}

func NewAssetFolderRepository(db *gorm.DB) *AssetFolderRepository {
	return &AssetFolderRepository{db: db}
}

func (r *AssetFolderRepository) FindByExternalID(externalID string) (*models.AssetFolder, error) {
	var folder models.AssetFolder
	err := r.db.
		Preload("Collections").
		Preload("Parent").
		Preload("Parent.Collections").
		Where("external_id = ?", externalID).
		First(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

func (r *AssetFolderRepository) FindByID(id string) (*models.AssetFolder, error) {
	var folder models.AssetFolder
	err := r.db.
		Preload("Children").
		Preload("Files").
		Where("id = ?", id).
		First(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

// Save persists the folder row only; loaded associations are never written
// back, the synchronizer owns them separately.
func (r *AssetFolderRepository) Save(folder *models.AssetFolder) error {
	return r.db.Omit(clause.Associations).Save(folder).Error
}

func (r *AssetFolderRepository) Create(folder *models.AssetFolder) error {
	return r.db.Omit(clause.Associations).Create(folder).Error
}

func (r *AssetFolderRepository) Delete(folder *models.AssetFolder) error {
	return r.db.Delete(&models.AssetFolder{}, "id = ?", folder.ID).Error
}

// RebasePaths rewrites the materialized path of every descendant after a
// move, replacing the old ancestor prefix with the new one.
func (r *AssetFolderRepository) RebasePaths(oldPrefix, newPrefix string) error {
	if oldPrefix == newPrefix {
		return nil
	}
	return r.db.Model(&models.AssetFolder{}).
		Where("path LIKE ?", likePrefix(oldPrefix)).
		Update("path", gorm.Expr("REPLACE(path, ?, ?)", oldPrefix, newPrefix)).Error
}

// ChildrenOf returns the immediate child folders of the given folder id.
func (r *AssetFolderRepository) ChildrenOf(id string) ([]models.AssetFolder, error) {
	var children []models.AssetFolder
	if err := r.db.Where("parent_id = ?", id).Find(&children).Error; err != nil {
		return nil, err
	}
	return children, nil
}

// MarkPendingDeletionExcept soft-marks every folder whose id is not in the
// touched set; the sweeper finalizes the removal later.
func (r *AssetFolderRepository) MarkPendingDeletionExcept(touchedIDs []string) error {
	q := r.db.Model(&models.AssetFolder{}).Where("status <> ?", models.FolderPendingDeletion)
	if len(touchedIDs) > 0 {
		q = q.Where("id NOT IN ?", touchedIDs)
	}
	if err := q.Update("status", models.FolderPendingDeletion).Error; err != nil {
		return fmt.Errorf("mark folders pending deletion: %w", err)
	}
	return nil
}

func (r *AssetFolderRepository) ListPendingDeletion() ([]models.AssetFolder, error) {
	var folders []models.AssetFolder
	err := r.db.Where("status = ?", models.FolderPendingDeletion).Find(&folders).Error
	return folders, err
}

func likePrefix(prefix string) string {
	return prefix + "%"
}
