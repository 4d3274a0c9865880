package worker

import (
	"testing"

	"brandvault/app/services"
	"brandvault/queue"
	"brandvault/testutil"

	"github.com/rs/zerolog"
)

func TestRegisterSchedules(t *testing.T) {
	engine := queue.NewEngine(testutil.NewDB(t), zerolog.Nop())
	if err := Register(engine, Services{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	crons := map[string]string{
		services.QueueProcessDeletion: "* * * * *",
		services.QueueAssignProducts:  "*/5 * * * *",
		services.QueueProcessExpired:  "* * * * *",
	}
	for name, want := range crons {
		opts, ok := engine.RegisteredOptions(name)
		if !ok {
			t.Fatalf("queue %s not registered", name)
		}
		if opts.Cron != want {
			t.Errorf("%s cron = %q, want %q", name, opts.Cron, want)
		}
	}

	if opts, _ := engine.RegisteredOptions(services.QueueUpdateContent); opts.Concurrency != 10 {
		t.Errorf("content refresh concurrency = %d, want 10", opts.Concurrency)
	}
	if opts, _ := engine.RegisteredOptions(services.QueueCreateArchive); opts.Concurrency != 1 {
		t.Errorf("archive build concurrency = %d, want 1", opts.Concurrency)
	}
}
