package services

import (
	"context"
	"fmt"

	"brandvault/app/models"
	"brandvault/app/repo"
	"brandvault/queue"
	"brandvault/storage"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// CollectionService keeps synchronized collections consistent with their
// mirrored asset folders and implements the manual collection operations
// (remove, duplicate) the surrounding API layer calls into.
type CollectionService struct {
	db          *gorm.DB
	collections *repo.CollectionRepository
	folders     *repo.AssetFolderRepository
	menuItems   *repo.MenuItemRepository
	jobs        *queue.Engine
	store       storage.ObjectStore
	log         zerolog.Logger
}

type CollectionServiceParams struct {
	DB          *gorm.DB
	Collections *repo.CollectionRepository
	Folders     *repo.AssetFolderRepository
	MenuItems   *repo.MenuItemRepository
	Jobs        *queue.Engine
	Store       storage.ObjectStore
	Log         zerolog.Logger
}

func NewCollectionService(p CollectionServiceParams) *CollectionService {
	return &CollectionService{
		db:          p.DB,
		collections: p.Collections,
		folders:     p.Folders,
		menuItems:   p.MenuItems,
		jobs:        p.Jobs,
		store:       p.Store,
		log:         p.Log.With().Str("component", "collections").Logger(),
	}
}

// Synchronize reconciles one synchronized collection against its mirrored
// folder: name, menu placement, file membership, child collections. Child
// collections that were created or updated get their own follow-up job, so a
// subtree converges through a cascading fan-out rather than one big
// transaction.
func (s *CollectionService) Synchronize(ctx context.Context, collectionID string) error {
	collection, err := s.collections.FindByID(collectionID)
	if err != nil {
		return err
	}
	if collection == nil {
		s.log.Debug().Str("collection", collectionID).Msg("sync for vanished collection skipped")
		return nil
	}
	if collection.AssetFolder == nil {
		s.log.Debug().Str("collection", collectionID).Msg("sync for non-synchronized collection skipped")
		return nil
	}
	folder := collection.AssetFolder

	if collection.Name != folder.Name {
		collection.Name = folder.Name
		if err := s.collections.Save(collection); err != nil {
			return fmt.Errorf("rename collection %s: %w", collection.ID, err)
		}
	}

	if err := s.syncMenuItems(collection); err != nil {
		return fmt.Errorf("sync menu items of %s: %w", collection.ID, err)
	}

	if err := s.collections.ReplaceMembershipFromFolder(collection.ID, folder.ID); err != nil {
		return fmt.Errorf("sync membership of %s: %w", collection.ID, err)
	}

	touched, err := s.collections.SyncChildrenFromFolder(collection, folder.Children)
	if err != nil {
		return fmt.Errorf("sync children of %s: %w", collection.ID, err)
	}

	if len(touched) > 0 {
		reqs := make([]queue.JobRequest, 0, len(touched))
		for _, childID := range touched {
			reqs = append(reqs, queue.JobRequest{
				Queue:        QueueCollectionSync,
				Payload:      CollectionSyncPayload{CollectionID: childID},
				SingletonKey: collectionSyncKey(childID),
			})
		}
		if err := s.jobs.BulkPush(ctx, reqs); err != nil {
			return fmt.Errorf("enqueue child syncs of %s: %w", collection.ID, err)
		}
	}
	return nil
}

// syncMenuItems reconciles the collection's navigation entries. Non-public
// collections lose their entries. A public collection gets one entry under
// every sync-enabled menu item of its parent collection that does not link
// it yet; a public root collection additionally gets a single root-level
// entry, deduplicated globally per collection.
func (s *CollectionService) syncMenuItems(collection *models.Collection) error {
	if !collection.Public {
		return s.menuItems.DeleteForCollection(collection.ID)
	}

	if collection.ParentID == nil {
		count, err := s.menuItems.CountRootEntries(collection.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
	}

	var parentItems []models.MenuItem
	if collection.ParentID != nil {
		var err error
		parentItems, err = s.menuItems.ForCollection(*collection.ParentID)
		if err != nil {
			return err
		}
	}

	newEntry := func(parentID *string, position int) models.MenuItem {
		return models.MenuItem{
			Type:         models.MenuItemCollection,
			Title:        collection.Name,
			ParentID:     parentID,
			Position:     position,
			CollectionID: &collection.ID,
			Sync:         true,
		}
	}

	var toCreate []models.MenuItem
	for i := range parentItems {
		item := &parentItems[i]
		if !item.Sync {
			continue
		}
		linked := false
		for j := range item.Children {
			child := &item.Children[j]
			if child.CollectionID != nil && *child.CollectionID == collection.ID {
				linked = true
				break
			}
		}
		if !linked {
			toCreate = append(toCreate, newEntry(&item.ID, len(item.Children)))
		}
	}
	if collection.ParentID == nil {
		toCreate = append(toCreate, newEntry(nil, len(parentItems)))
	}
	return s.menuItems.CreateBatch(toCreate)
}

// Remove deletes the collection outright; foreign-key cascades take its
// children and membership rows with it. Thumbnail cleanup is best effort.
func (s *CollectionService) Remove(ctx context.Context, collectionID string) error {
	collection, err := s.collections.FindByID(collectionID)
	if err != nil {
		return err
	}
	if collection == nil {
		return nil
	}
	if err := s.menuItems.DeleteForCollection(collection.ID); err != nil {
		return err
	}
	if err := s.collections.Delete(collection.ID); err != nil {
		return fmt.Errorf("delete collection %s: %w", collection.ID, err)
	}
	if collection.HasThumbnail {
		if err := s.store.Remove(ctx, collection.ThumbnailStorageKey()); err != nil {
			s.log.Warn().Str("collection", collection.ID).Err(err).Msg("thumbnail removal failed")
		}
	}
	return nil
}

// Duplicate copies the source collection under the destination: name and
// description come from the source, visibility and ownership from the
// destination. Memberships are copied ignore-on-conflict and children are
// copied recursively inside one transaction. A (parent, name) collision on
// the top-level copy means a same-named child already exists; the whole
// duplication merges silently into it.
func (s *CollectionService) Duplicate(sourceID, destinationID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		collections := repo.NewCollectionRepository(tx)
		source, err := collections.FindByID(sourceID)
		if err != nil {
			return err
		}
		destination, err := collections.FindByID(destinationID)
		if err != nil {
			return err
		}
		if source == nil || destination == nil {
			s.log.Debug().Str("source", sourceID).Str("destination", destinationID).
				Msg("duplication with vanished endpoint skipped")
			return nil
		}
		return s.duplicateInto(collections, source, destination)
	})
}

func (s *CollectionService) duplicateInto(collections *repo.CollectionRepository, source, destination *models.Collection) error {
	duplicate := &models.Collection{
		Name:        source.Name,
		Description: source.Description,
		ParentID:    &destination.ID,
		Public:      destination.Public,
		Draft:       destination.Draft,
		OwnerID:     destination.OwnerID,
	}
	created, err := collections.CreateIgnoreDuplicate(duplicate)
	if err != nil {
		return err
	}
	if !created {
		// same-named sibling already there, merge by skipping this subtree
		return nil
	}
	duplicate.Path = destination.Path + duplicate.ID + "."
	if err := collections.Save(duplicate); err != nil {
		return err
	}

	fileIDs, err := collections.MembershipFileIDs(source.ID)
	if err != nil {
		return err
	}
	for _, fileID := range fileIDs {
		if _, err := collections.AddFile(duplicate.ID, fileID); err != nil {
			return err
		}
	}

	children, err := collections.ChildrenOf(source.ID)
	if err != nil {
		return err
	}
	for i := range children {
		if err := s.duplicateInto(collections, &children[i], duplicate); err != nil {
			return err
		}
	}
	return nil
}
