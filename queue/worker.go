package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

const maxRetryDelay = time.Hour

// Start launches the worker pools and the cron scheduler. Each queue gets a
// poller feeding a channel and Concurrency workers draining it (claiming is
// a guarded state update, so replicas polling the same table are safe).
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrStarted
	}
	e.started = true
	defs := make([]*queueDef, 0, len(e.queues))
	for _, def := range e.queues {
		defs = append(defs, def)
	}
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.cron = cron.New()
	for _, def := range defs {
		if def.opts.Cron == "" {
			continue
		}
		def := def
		if _, err := e.cron.AddFunc(def.opts.Cron, func() {
			err := e.Push(runCtx, def.name, nil, WithSingletonKey("cron:"+def.name))
			if err != nil {
				e.log.Error().Str("queue", def.name).Err(err).Msg("cron enqueue failed")
			}
		}); err != nil {
			cancel()
			return fmt.Errorf("cron spec for %s: %w", def.name, err)
		}
	}
	e.cron.Start()

	for _, def := range defs {
		def := def
		jobs := make(chan Job)

		for i := 0; i < def.opts.Concurrency; i++ {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				for {
					select {
					case <-runCtx.Done():
						return
					case job, ok := <-jobs:
						if !ok {
							return
						}
						e.runJob(runCtx, def, job)
					}
				}
			}()
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer close(jobs)
			ticker := time.NewTicker(def.opts.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					batch, err := e.fetchRunnable(def.name, 2*def.opts.Concurrency)
					if err != nil {
						e.log.Error().Str("queue", def.name).Err(err).Msg("poll failed")
						continue
					}
					for _, job := range batch {
						select {
						case jobs <- job:
						case <-runCtx.Done():
							return
						}
					}
				}
			}
		}()
	}
	return nil
}

func (e *Engine) Stop() {
	if e.cron != nil {
		e.cron.Stop()
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// ProcessAvailable claims and executes every currently runnable job inline,
// returning the number processed. Used for one-shot runs and to drain queues
// deterministically in tests.
func (e *Engine) ProcessAvailable(ctx context.Context) (int, error) {
	e.mu.Lock()
	defs := make([]*queueDef, 0, len(e.queues))
	for _, def := range e.queues {
		defs = append(defs, def)
	}
	e.mu.Unlock()

	processed := 0
	for {
		ran := 0
		for _, def := range defs {
			batch, err := e.fetchRunnable(def.name, 50)
			if err != nil {
				return processed, err
			}
			for _, job := range batch {
				if e.runJob(ctx, def, job) {
					ran++
				}
			}
		}
		if ran == 0 {
			return processed, nil
		}
		processed += ran
	}
}

func (e *Engine) fetchRunnable(queueName string, limit int) ([]Job, error) {
	var batch []Job
	err := e.db.
		Where("queue = ? AND state IN ? AND start_after <= ?",
			queueName, []JobState{JobCreated, JobRetry}, time.Now()).
		Order("created_at").
		Limit(limit).
		Find(&batch).Error
	return batch, err
}

// claim transitions the job to active, guarded on its current state so two
// pollers never run the same row.
func (e *Engine) claim(jobID string) (bool, error) {
	now := time.Now()
	res := e.db.Model(&Job{}).
		Where("id = ? AND state IN ?", jobID, []JobState{JobCreated, JobRetry}).
		Updates(map[string]any{"state": JobActive, "started_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (e *Engine) runJob(ctx context.Context, def *queueDef, job Job) bool {
	claimed, err := e.claim(job.ID)
	if err != nil {
		e.log.Error().Str("queue", def.name).Str("job", job.ID).Err(err).Msg("claim failed")
		return false
	}
	if !claimed {
		return false
	}

	procErr := e.invoke(ctx, def, job)
	if procErr == nil {
		e.complete(job.ID)
		return true
	}

	e.log.Error().
		Str("queue", def.name).
		Str("job", job.ID).
		Int("attempts", job.RetryCount+1).
		Err(procErr).
		Msg("job failed")

	if job.RetryCount < job.RetryLimit {
		e.scheduleRetry(job, procErr)
	} else {
		e.fail(job.ID, procErr)
	}
	return true
}

func (e *Engine) invoke(ctx context.Context, def *queueDef, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return def.processor(ctx, []byte(job.Payload))
}

func (e *Engine) complete(jobID string) {
	now := time.Now()
	err := e.db.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"state":        JobCompleted,
		"completed_at": now,
		"singleton_on": nil,
	}).Error
	if err != nil {
		e.log.Error().Str("job", jobID).Err(err).Msg("complete update failed")
	}
}

func (e *Engine) scheduleRetry(job Job, cause error) {
	delay := time.Duration(job.RetryDelaySec) * time.Second
	if job.RetryBackoff {
		delay = delay << job.RetryCount
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
	err := e.db.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]any{
		"state":       JobRetry,
		"retry_count": job.RetryCount + 1,
		"start_after": time.Now().Add(delay),
		"last_error":  truncateError(cause),
	}).Error
	if err != nil {
		e.log.Error().Str("job", job.ID).Err(err).Msg("retry update failed")
	}
}

func (e *Engine) fail(jobID string, cause error) {
	err := e.db.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"state":        JobFailed,
		"last_error":   truncateError(cause),
		"singleton_on": nil,
	}).Error
	if err != nil {
		e.log.Error().Str("job", jobID).Err(err).Msg("fail update failed")
	}
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > 2000 {
		msg = msg[:2000]
	}
	return msg
}
