package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	engine := NewEngine(db, zerolog.Nop())
	if err := engine.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return engine
}

func TestPushUnknownQueue(t *testing.T) {
	engine := newTestEngine(t)
	err := engine.Push(context.Background(), "nope", nil)
	if !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("got %v, want ErrUnknownQueue", err)
	}
}

func TestPayloadDelivery(t *testing.T) {
	engine := newTestEngine(t)
	type payload struct {
		ID string `json:"id"`
	}
	var got string
	err := engine.Register("work", func(ctx context.Context, raw []byte) error {
		var p payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		got = p.ID
		return nil
	}, Options{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := engine.Push(context.Background(), "work", payload{ID: "abc"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	n, err := engine.ProcessAvailable(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed %d jobs, want 1", n)
	}
	if got != "abc" {
		t.Fatalf("payload id = %q, want abc", got)
	}
}

func TestSingletonDedup(t *testing.T) {
	engine := newTestEngine(t)
	var runs atomic.Int32
	err := engine.Register("work", func(ctx context.Context, _ []byte) error {
		runs.Add(1)
		return nil
	}, Options{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := engine.Push(ctx, "work", nil, WithSingletonKey("once")); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if _, err := engine.ProcessAvailable(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("ran %d times, want 1", runs.Load())
	}

	// key is released on completion, a later push runs again
	if err := engine.Push(ctx, "work", nil, WithSingletonKey("once")); err != nil {
		t.Fatalf("push after completion: %v", err)
	}
	if _, err := engine.ProcessAvailable(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if runs.Load() != 2 {
		t.Fatalf("ran %d times, want 2", runs.Load())
	}
}

func TestBulkPushDedupAcrossBatch(t *testing.T) {
	engine := newTestEngine(t)
	var runs atomic.Int32
	err := engine.Register("work", func(ctx context.Context, _ []byte) error {
		runs.Add(1)
		return nil
	}, Options{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	reqs := []JobRequest{
		{Queue: "work", SingletonKey: "a"},
		{Queue: "work", SingletonKey: "a"},
		{Queue: "work", SingletonKey: "b"},
	}
	if err := engine.BulkPush(context.Background(), reqs); err != nil {
		t.Fatalf("bulk push: %v", err)
	}
	if _, err := engine.ProcessAvailable(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if runs.Load() != 2 {
		t.Fatalf("ran %d times, want 2", runs.Load())
	}
}

func TestRetryThenFailTerminal(t *testing.T) {
	engine := newTestEngine(t)
	var attempts atomic.Int32
	err := engine.Register("flaky", func(ctx context.Context, _ []byte) error {
		attempts.Add(1)
		return errors.New("boom")
	}, Options{RetryLimit: 1, RetryDelay: time.Nanosecond})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()

	if err := engine.Push(ctx, "flaky", nil, WithSingletonKey("k")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := engine.ProcessAvailable(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	if attempts.Load() != 2 {
		t.Fatalf("attempts = %d, want 2 (original + one retry)", attempts.Load())
	}
	failed, err := engine.CountByState("flaky", JobFailed)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if failed != 1 {
		t.Fatalf("failed jobs = %d, want 1", failed)
	}

	// terminal failure releases the singleton key
	if err := engine.Push(ctx, "flaky", nil, WithSingletonKey("k")); err != nil {
		t.Fatalf("push after failure: %v", err)
	}
	created, err := engine.CountByState("flaky", JobCreated)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if created != 1 {
		t.Fatalf("created jobs after failure = %d, want 1", created)
	}
}

func TestRetryBackoffDelays(t *testing.T) {
	engine := newTestEngine(t)
	err := engine.Register("slow", func(ctx context.Context, _ []byte) error {
		return errors.New("boom")
	}, Options{RetryLimit: 3, RetryDelay: time.Minute, RetryBackoff: true})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	if err := engine.Push(ctx, "slow", nil); err != nil {
		t.Fatalf("push: %v", err)
	}
	before := time.Now()
	if _, err := engine.ProcessAvailable(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	var job Job
	if err := engine.db.First(&job, "queue = ?", "slow").Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.State != JobRetry {
		t.Fatalf("state = %s, want retry", job.State)
	}
	if job.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", job.RetryCount)
	}
	if job.StartAfter.Before(before.Add(50 * time.Second)) {
		t.Fatalf("start_after %v not pushed out by the base delay", job.StartAfter)
	}
	if job.LastError == "" {
		t.Fatal("last error not recorded")
	}
}

func TestProcessorPanicIsContained(t *testing.T) {
	engine := newTestEngine(t)
	err := engine.Register("panicky", func(ctx context.Context, _ []byte) error {
		panic("nope")
	}, Options{RetryLimit: 1, RetryDelay: time.Nanosecond})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	if err := engine.Push(ctx, "panicky", nil); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := engine.ProcessAvailable(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	failed, err := engine.CountByState("panicky", JobFailed)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if failed != 1 {
		t.Fatalf("failed jobs = %d, want 1", failed)
	}
}
