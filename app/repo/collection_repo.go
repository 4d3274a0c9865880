package repo

import (
	"errors"
	"time"

	"brandvault/app/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CollectionRepository struct {
	db *gorm.DB
}

func NewCollectionRepository(db *gorm.DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

func (r *CollectionRepository) FindByID(id string) (*models.Collection, error) {
	var collection models.Collection
	err := r.db.
		Preload("AssetFolder").
		Preload("AssetFolder.Children").
		Where("id = ?", id).
		First(&collection).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

func (r *CollectionRepository) ByAssetFolderID(folderID string) ([]models.Collection, error) {
	var collections []models.Collection
	err := r.db.Where("asset_folder_id = ?", folderID).Find(&collections).Error
	return collections, err
}

func (r *CollectionRepository) ChildrenOf(id string) ([]models.Collection, error) {
	var children []models.Collection
	err := r.db.Where("parent_id = ?", id).Find(&children).Error
	return children, err
}

func (r *CollectionRepository) Save(collection *models.Collection) error {
	return r.db.Omit(clause.Associations).Save(collection).Error
}

// CreateIgnoreDuplicate inserts the collection and reports whether a row was
// actually created. A sibling with the same (parent, name) already being
// present is not an error: duplication into a target that has a same-named
// child merges silently.
func (r *CollectionRepository) CreateIgnoreDuplicate(collection *models.Collection) (bool, error) {
	err := r.db.Omit(clause.Associations).Create(collection).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *CollectionRepository) Delete(id string) error {
	return r.db.Delete(&models.Collection{}, "id = ?", id).Error
}

// DeleteByAssetFolderID removes every collection mirroring the given folder,
// relying on foreign-key cascade for children and memberships.
func (r *CollectionRepository) DeleteByAssetFolderID(folderID string) error {
	return r.db.Delete(&models.Collection{}, "asset_folder_id = ?", folderID).Error
}

// ReplaceMembershipFromFolder makes the collection's membership exactly the
// file set of its mirrored folder: one bulk insert-or-touch, one delete of
// everything not in the folder. No per-file loop, so concurrent syncs of the
// same collection converge instead of ping-ponging.
func (r *CollectionRepository) ReplaceMembershipFromFolder(collectionID, folderID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var fileIDs []string
		if err := tx.Model(&models.AssetFile{}).
			Where("folder_id = ?", folderID).
			Pluck("id", &fileIDs).Error; err != nil {
			return err
		}

		if len(fileIDs) > 0 {
			rows := make([]models.CollectionFile, 0, len(fileIDs))
			for _, fileID := range fileIDs {
				rows = append(rows, models.CollectionFile{
					ID:           uuid.NewString(),
					CollectionID: collectionID,
					AssetFileID:  fileID,
				})
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "collection_id"}, {Name: "asset_file_id"}},
				DoUpdates: clause.Assignments(map[string]any{"updated_at": time.Now()}),
			}).Create(&rows).Error; err != nil {
				return err
			}
		}

		del := tx.Where("collection_id = ?", collectionID)
		if len(fileIDs) > 0 {
			del = del.Where("asset_file_id NOT IN ?", fileIDs)
		}
		if err := del.Delete(&models.CollectionFile{}).Error; err != nil {
			return err
		}

		return refreshFileCount(tx, collectionID)
	})
}

// AttachFileToFolderCollections inserts a membership row for the file into
// every collection mirroring the folder, ignoring rows that already exist.
func (r *CollectionRepository) AttachFileToFolderCollections(fileID, folderID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var collectionIDs []string
		if err := tx.Model(&models.Collection{}).
			Where("asset_folder_id = ?", folderID).
			Pluck("id", &collectionIDs).Error; err != nil {
			return err
		}
		if len(collectionIDs) == 0 {
			return nil
		}
		rows := make([]models.CollectionFile, 0, len(collectionIDs))
		for _, collectionID := range collectionIDs {
			rows = append(rows, models.CollectionFile{
				ID:           uuid.NewString(),
				CollectionID: collectionID,
				AssetFileID:  fileID,
			})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return err
		}
		return refreshFileCount(tx, collectionIDs...)
	})
}

// DetachFileEverywhere removes the file from all collections, returning the
// ids of the collections it was removed from.
func (r *CollectionRepository) DetachFileEverywhere(fileID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var collectionIDs []string
		if err := tx.Model(&models.CollectionFile{}).
			Where("asset_file_id = ?", fileID).
			Pluck("collection_id", &collectionIDs).Error; err != nil {
			return err
		}
		if len(collectionIDs) == 0 {
			return nil
		}
		if err := tx.Where("asset_file_id = ?", fileID).
			Delete(&models.CollectionFile{}).Error; err != nil {
			return err
		}
		return refreshFileCount(tx, collectionIDs...)
	})
}

// AddFile links a single file into a collection, reporting whether a new row
// was created. Used by duplication, where an existing link means "already
// present" rather than failure.
func (r *CollectionRepository) AddFile(collectionID, fileID string) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.CollectionFile{
		ID:           uuid.NewString(),
		CollectionID: collectionID,
		AssetFileID:  fileID,
	})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		if err := refreshFileCount(r.db, collectionID); err != nil {
			return true, err
		}
	}
	return res.RowsAffected > 0, nil
}

func (r *CollectionRepository) MembershipFileIDs(collectionID string) ([]string, error) {
	var fileIDs []string
	err := r.db.Model(&models.CollectionFile{}).
		Where("collection_id = ?", collectionID).
		Order("asset_file_id").
		Pluck("asset_file_id", &fileIDs).Error
	return fileIDs, err
}

func (r *CollectionRepository) Memberships(collectionID string) ([]models.CollectionFile, error) {
	var rows []models.CollectionFile
	err := r.db.Where("collection_id = ?", collectionID).Find(&rows).Error
	return rows, err
}

// SyncChildrenFromFolder reconciles the collection's children against the
// mirrored folder's child folders: one child collection per child folder,
// matched by (parent, name), stale synchronized children removed. Returns the
// ids of every child collection created or updated so the caller can fan out
// follow-up synchronization jobs.
func (r *CollectionRepository) SyncChildrenFromFolder(parent *models.Collection, folders []models.AssetFolder) ([]string, error) {
	touched := make([]string, 0, len(folders))
	folderIDs := make([]string, 0, len(folders))

	for i := range folders {
		folder := &folders[i]
		folderIDs = append(folderIDs, folder.ID)
		id, err := r.upsertChild(parent, folder)
		if err != nil {
			return nil, err
		}
		touched = append(touched, id)
	}

	del := r.db.Where("parent_id = ? AND asset_folder_id IS NOT NULL", parent.ID)
	if len(folderIDs) > 0 {
		del = del.Where("asset_folder_id NOT IN ?", folderIDs)
	}
	if err := del.Delete(&models.Collection{}).Error; err != nil {
		return nil, err
	}
	return touched, nil
}

func (r *CollectionRepository) upsertChild(parent *models.Collection, folder *models.AssetFolder) (string, error) {
	var existing models.Collection
	err := r.db.Where("parent_id = ? AND name = ?", parent.ID, folder.Name).First(&existing).Error
	if err == nil {
		return existing.ID, r.db.Model(&existing).Updates(map[string]any{
			"asset_folder_id": folder.ID,
			"updated_at":      time.Now(),
		}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	child := models.Collection{
		ID:            uuid.NewString(),
		Name:          folder.Name,
		ParentID:      &parent.ID,
		AssetFolderID: &folder.ID,
		Public:        parent.Public,
		Draft:         parent.Draft,
		OwnerID:       parent.OwnerID,
	}
	child.Path = parent.Path + child.ID + "."
	createErr := r.db.Omit(clause.Associations).Create(&child).Error
	if errors.Is(createErr, gorm.ErrDuplicatedKey) {
		// lost a race against a sibling sync; reuse the winner's row
		if err := r.db.Where("parent_id = ? AND name = ?", parent.ID, folder.Name).First(&existing).Error; err != nil {
			return "", err
		}
		return existing.ID, r.db.Model(&existing).Update("updated_at", time.Now()).Error
	}
	if createErr != nil {
		return "", createErr
	}
	return child.ID, nil
}

func refreshFileCount(tx *gorm.DB, collectionIDs ...string) error {
	if len(collectionIDs) == 0 {
		return nil
	}
	return tx.Model(&models.Collection{}).
		Where("id IN ?", collectionIDs).
		Update("number_of_files", gorm.Expr(
			"(SELECT COUNT(*) FROM collection_files WHERE collection_files.collection_id = collections.id)",
		)).Error
}
