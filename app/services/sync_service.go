package services

import (
	"context"
	"time"

	"brandvault/source"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const syncLeaderKey = "brandvault:sync:leader"

// SyncService is the periodic driver: it pulls the provider's change feed
// through the upsert engine on a fixed interval. A pass is never re-entered;
// the next one is scheduled only after the previous one settles. With
// multiple processes a redis lease elects which one runs the pass.
type SyncService struct {
	assets   *AssetService
	source   source.Source
	redis    *redis.Client
	interval time.Duration
	log      zerolog.Logger
}

type SyncServiceParams struct {
	Assets   *AssetService
	Source   source.Source
	Redis    *redis.Client
	Interval time.Duration
	Log      zerolog.Logger
}

func NewSyncService(p SyncServiceParams) *SyncService {
	interval := p.Interval
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &SyncService{
		assets:   p.Assets,
		source:   p.Source,
		redis:    p.Redis,
		interval: interval,
		log:      p.Log.With().Str("component", "sync").Logger(),
	}
}

// Run drives passes until ctx is cancelled. Sources that can signal changes
// between polls (a local directory watch) wake the loop early.
func (s *SyncService) Run(ctx context.Context) error {
	var wake <-chan struct{}
	if waker, ok := s.source.(source.Waker); ok {
		ch, err := waker.Watch(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("source watch unavailable, polling only")
		} else {
			wake = ch
		}
	}

	if err := s.source.Initialize(ctx); err != nil {
		s.log.Error().Err(err).Msg("source initialization failed")
	}

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error().Err(err).Msg("sync pass failed")
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-wake:
			timer.Stop()
		}
	}
}

// RunOnce executes a single pass. Per-entry errors are logged and skipped so
// one broken item cannot starve the rest of the feed; a feed-level failure
// aborts the pass and the next scheduled run retries wholesale.
func (s *SyncService) RunOnce(ctx context.Context) error {
	release, acquired, err := s.acquireLease(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		s.log.Debug().Msg("sync lease held elsewhere, skipping pass")
		return nil
	}
	defer release()

	// decided before the pass: only a full snapshot justifies treating
	// untouched rows as removed
	fullListing := !s.source.Incremental()

	var touchedFolders, touchedFiles []string
	var entries, failures int

	start := time.Now()
	err = s.source.FetchChanges(ctx, func(entry source.ChangeEntry) error {
		entries++
		switch entry.Kind {
		case source.KindFolder:
			folder, err := s.assets.UpsertFolder(ctx, UpsertFolderInput{
				ExternalID:       entry.ExternalID,
				ParentExternalID: entry.ParentExternalID,
				Name:             entry.Name,
			})
			if err != nil {
				failures++
				s.log.Error().Str("external_id", entry.ExternalID).Err(err).Msg("folder upsert failed")
				return nil
			}
			touchedFolders = append(touchedFolders, folder.ID)
		case source.KindFile:
			file, err := s.assets.UpsertFile(ctx, UpsertFileInput{
				ExternalID:       entry.ExternalID,
				ExternalChecksum: entry.Checksum,
				FolderExternalID: entry.ParentExternalID,
				Name:             entry.Name,
				Size:             entry.Size,
				MimeType:         entry.MimeType,
			})
			if err != nil {
				failures++
				s.log.Error().Str("external_id", entry.ExternalID).Err(err).Msg("file upsert failed")
				return nil
			}
			touchedFiles = append(touchedFiles, file.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if fullListing {
		if err := s.assets.FinishListingPass(touchedFolders, touchedFiles); err != nil {
			return err
		}
	}

	s.log.Info().
		Int("entries", entries).
		Int("failures", failures).
		Bool("full_listing", fullListing).
		Dur("elapsed", time.Since(start)).
		Msg("sync pass finished")
	return nil
}

func (s *SyncService) acquireLease(ctx context.Context) (func(), bool, error) {
	if s.redis == nil {
		return func() {}, true, nil
	}
	ok, err := s.redis.SetNX(ctx, syncLeaderKey, "1", s.interval).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if err := s.redis.Del(context.Background(), syncLeaderKey).Err(); err != nil {
			s.log.Warn().Err(err).Msg("sync lease release failed")
		}
	}, true, nil
}
