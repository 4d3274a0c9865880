package repo

import (
	"errors"
	"fmt"

	"brandvault/app/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AssetFileRepository struct {
	db *gorm.DB
}

func NewAssetFileRepository(db *gorm.DB) *AssetFileRepository {
	return &AssetFileRepository{db: db}
}

func (r *AssetFileRepository) FindByExternalID(externalID string) (*models.AssetFile, error) {
	var file models.AssetFile
	err := r.db.
		Preload("Folder").
		Where("external_id = ?", externalID).
		First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *AssetFileRepository) FindByID(id string) (*models.AssetFile, error) {
	var file models.AssetFile
	err := r.db.Where("id = ?", id).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *AssetFileRepository) FindByIDs(ids []string) ([]models.AssetFile, error) {
	var files []models.AssetFile
	if len(ids) == 0 {
		return files, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&files).Error
	return files, err
}

func (r *AssetFileRepository) Save(file *models.AssetFile) error {
	return r.db.Omit(clause.Associations).Save(file).Error
}

func (r *AssetFileRepository) Create(file *models.AssetFile) error {
	return r.db.Omit(clause.Associations).Create(file).Error
}

func (r *AssetFileRepository) Delete(file *models.AssetFile) error {
	return r.db.Delete(&models.AssetFile{}, "id = ?", file.ID).Error
}

// InFolder lists the files currently placed in the given folder.
func (r *AssetFileRepository) InFolder(folderID string) ([]models.AssetFile, error) {
	var files []models.AssetFile
	err := r.db.Where("folder_id = ?", folderID).Find(&files).Error
	return files, err
}

func (r *AssetFileRepository) MarkPendingDeletionExcept(touchedIDs []string) error {
	q := r.db.Model(&models.AssetFile{}).Where("status <> ?", models.FilePendingDeletion)
	if len(touchedIDs) > 0 {
		q = q.Where("id NOT IN ?", touchedIDs)
	}
	if err := q.Update("status", models.FilePendingDeletion).Error; err != nil {
		return fmt.Errorf("mark files pending deletion: %w", err)
	}
	return nil
}

func (r *AssetFileRepository) ListPendingDeletion() ([]models.AssetFile, error) {
	var files []models.AssetFile
	err := r.db.Where("status = ?", models.FilePendingDeletion).Find(&files).Error
	return files, err
}

// ListAll streams every file in batches to the callback, used by the product
// assignment job.
func (r *AssetFileRepository) ListAll(fn func([]models.AssetFile) error) error {
	var batch []models.AssetFile
	return r.db.FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}
