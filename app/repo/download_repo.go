package repo

import (
	"errors"
	"time"

	"brandvault/app/models"

	"gorm.io/gorm"
)

type DownloadRepository struct {
	db *gorm.DB
}

func NewDownloadRepository(db *gorm.DB) *DownloadRepository {
	return &DownloadRepository{db: db}
}

func (r *DownloadRepository) FindByID(id string) (*models.Download, error) {
	var download models.Download
	err := r.db.Where("id = ?", id).First(&download).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &download, nil
}

func (r *DownloadRepository) Save(download *models.Download) error {
	return r.db.Save(download).Error
}

func (r *DownloadRepository) Create(download *models.Download) error {
	return r.db.Create(download).Error
}

func (r *DownloadRepository) Delete(id string) error {
	return r.db.Delete(&models.Download{}, "id = ?", id).Error
}

func (r *DownloadRepository) ListExpired(now time.Time) ([]models.Download, error) {
	var downloads []models.Download
	err := r.db.Where("expires_at <= ?", now).Find(&downloads).Error
	return downloads, err
}
