// Package queue is a durable, at-least-once job queue backed by the main
// relational store. Each named queue has its own processor, bounded worker
// pool and poll interval; submissions may carry a singleton key that
// coalesces duplicates while an identical job is still pending or active.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type JobState string

const (
	JobCreated   JobState = "created"
	JobRetry     JobState = "retry"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is the queue engine's own persistence row. SingletonOn holds the
// dedup key while the job is pending or active and is cleared on settlement,
// so the unique (queue, singleton_on) index absorbs duplicate submissions at
// the database level rather than with application locks.
type Job struct {
	ID            string   `gorm:"primaryKey;size:36"`
	Queue         string   `gorm:"size:128;index:idx_jobs_runnable;uniqueIndex:uniq_job_singleton"`
	Payload       string   `gorm:"type:text"`
	SingletonOn   *string  `gorm:"size:191;uniqueIndex:uniq_job_singleton"`
	State         JobState `gorm:"size:16;index:idx_jobs_runnable"`
	RetryCount    int
	RetryLimit    int
	RetryDelaySec int
	RetryBackoff  bool
	StartAfter    time.Time `gorm:"index"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LastError     string    `gorm:"size:2048"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// Processor handles one job payload. Returning an error re-schedules the job
// per the queue's retry policy; after the retry limit the job is left in the
// failed state for operator inspection. Processors must be idempotent:
// delivery is at-least-once.
type Processor func(ctx context.Context, payload []byte) error

type Options struct {
	Concurrency  int           // parallel workers, default 1
	PollInterval time.Duration // default 2s
	Cron         string        // optional cron spec for self-scheduling runs
	RetryLimit   int           // default 2
	RetryDelay   time.Duration // base delay, default 15s
	RetryBackoff bool          // exponential backoff on retries
}

type queueDef struct {
	name      string
	processor Processor
	opts      Options
}

type Engine struct {
	db  *gorm.DB
	log zerolog.Logger

	mu      sync.Mutex
	queues  map[string]*queueDef
	started bool

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	ErrUnknownQueue = errors.New("queue not registered")
	ErrStarted      = errors.New("queue engine already started")
)

func NewEngine(db *gorm.DB, log zerolog.Logger) *Engine {
	return &Engine{
		db:     db,
		log:    log.With().Str("component", "queue").Logger(),
		queues: map[string]*queueDef{},
	}
}

// Migrate creates the engine's own schema.
func (e *Engine) Migrate() error {
	return e.db.AutoMigrate(&Job{})
}

func (e *Engine) Register(name string, processor Processor, opts Options) error {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = 2
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 15 * time.Second
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrStarted
	}
	if _, ok := e.queues[name]; ok {
		return fmt.Errorf("queue %q registered twice", name)
	}
	e.queues[name] = &queueDef{name: name, processor: processor, opts: opts}
	return nil
}

// RegisteredOptions reports the effective options of a registered queue.
func (e *Engine) RegisteredOptions(name string) (Options, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.queues[name]
	if !ok {
		return Options{}, false
	}
	return def.opts, true
}

type pushConfig struct {
	singletonKey string
}

type PushOption func(*pushConfig)

// WithSingletonKey coalesces this submission with any pending or active job
// on the same queue carrying the same key.
func WithSingletonKey(key string) PushOption {
	return func(c *pushConfig) { c.singletonKey = key }
}

// Push enqueues one job for the named queue.
func (e *Engine) Push(ctx context.Context, queueName string, payload any, opts ...PushOption) error {
	var cfg pushConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	req := JobRequest{Queue: queueName, Payload: payload, SingletonKey: cfg.singletonKey}
	return e.BulkPush(ctx, []JobRequest{req})
}

type JobRequest struct {
	Queue        string
	Payload      any
	SingletonKey string
}

// BulkPush enqueues a batch; each entry still respects its own singleton key.
func (e *Engine) BulkPush(ctx context.Context, reqs []JobRequest) error {
	for _, req := range reqs {
		def, err := e.definition(req.Queue)
		if err != nil {
			return err
		}
		job, err := newJob(def, req)
		if err != nil {
			return err
		}
		res := e.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "queue"}, {Name: "singleton_on"}},
			DoNothing: true,
		}).Create(job)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				continue
			}
			return fmt.Errorf("enqueue %s: %w", req.Queue, res.Error)
		}
	}
	return nil
}

func newJob(def *queueDef, req JobRequest) (*Job, error) {
	payload := "null"
	if req.Payload != nil {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for %s: %w", req.Queue, err)
		}
		payload = string(raw)
	}
	job := &Job{
		ID:            uuid.NewString(),
		Queue:         req.Queue,
		Payload:       payload,
		State:         JobCreated,
		RetryLimit:    def.opts.RetryLimit,
		RetryDelaySec: int(def.opts.RetryDelay / time.Second),
		RetryBackoff:  def.opts.RetryBackoff,
		StartAfter:    time.Now(),
	}
	if req.SingletonKey != "" {
		key := req.SingletonKey
		job.SingletonOn = &key
	}
	return job, nil
}

func (e *Engine) definition(name string) (*queueDef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	return def, nil
}

// CountByState is used by operators and tests to inspect queue depth.
func (e *Engine) CountByState(queueName string, states ...JobState) (int64, error) {
	var count int64
	err := e.db.Model(&Job{}).
		Where("queue = ? AND state IN ?", queueName, states).
		Count(&count).Error
	return count, err
}
