// Package worker binds the background queues to their processors. Queue
// names, concurrency limits, and cron schedules live here in one place.
package worker

import (
	"context"
	"encoding/json"

	"brandvault/app/services"
	"brandvault/queue"
)

type Services struct {
	Assets      *services.AssetService
	Collections *services.CollectionService
	Downloads   *services.DownloadService
}

// Register wires every queue. Content refresh and collection sync are
// I/O-bound and run wide; archive building is disk-heavy and runs alone.
// Deletion sweeping runs every minute, product matching every five.
func Register(engine *queue.Engine, svc Services) error {
	registrations := []struct {
		queue     string
		processor queue.Processor
		opts      queue.Options
	}{
		{
			queue:     services.QueueUpdateContent,
			processor: filePayload(svc.Assets.UpdateFileContent),
			opts:      queue.Options{Concurrency: 10},
		},
		{
			queue: services.QueueCollectionSync,
			processor: func(ctx context.Context, payload []byte) error {
				var p services.CollectionSyncPayload
				if err := json.Unmarshal(payload, &p); err != nil {
					return err
				}
				return svc.Collections.Synchronize(ctx, p.CollectionID)
			},
			opts: queue.Options{Concurrency: 10},
		},
		{
			queue: services.QueueProcessDeletion,
			processor: func(ctx context.Context, _ []byte) error {
				return svc.Assets.ProcessDeletion(ctx)
			},
			opts: queue.Options{Cron: "* * * * *"},
		},
		{
			queue: services.QueueAssignProducts,
			processor: func(ctx context.Context, _ []byte) error {
				return svc.Assets.AssignProducts(ctx)
			},
			opts: queue.Options{Cron: "*/5 * * * *"},
		},
		{
			queue:     services.QueueCreateArchive,
			processor: downloadPayload(svc.Downloads.CreateArchive),
			opts:      queue.Options{Concurrency: 1},
		},
		{
			queue: services.QueueProcessExpired,
			processor: func(ctx context.Context, _ []byte) error {
				return svc.Downloads.ProcessExpired(ctx)
			},
			opts: queue.Options{Cron: "* * * * *"},
		},
		{
			queue:     services.QueueDownloadReady,
			processor: downloadPayload(svc.Downloads.NotifyReady),
			opts:      queue.Options{Concurrency: 2},
		},
	}

	for _, reg := range registrations {
		if err := engine.Register(reg.queue, reg.processor, reg.opts); err != nil {
			return err
		}
	}
	return nil
}

func filePayload(fn func(context.Context, string) error) queue.Processor {
	return func(ctx context.Context, payload []byte) error {
		var p services.FileContentPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return fn(ctx, p.AssetFileID)
	}
}

func downloadPayload(fn func(context.Context, string) error) queue.Processor {
	return func(ctx context.Context, payload []byte) error {
		var p services.DownloadPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return fn(ctx, p.DownloadID)
	}
}
