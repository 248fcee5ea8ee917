package worker

import (
	"context"

	"github.com/JiHungLin/skalds/pkg/types"
)

// Worker is a task worker implementation. The runtime drives it through the
// deterministic lifecycle runBefore -> runMain -> runAfter with release
// guaranteed on every exit path.
type Worker interface {
	// Init receives the task document before the lifecycle starts. Workers
	// decode their class-specific attachments here.
	Init(task *types.Task) error

	// RunMain is the task's business logic. Returning nil completes the
	// task; returning an error fails it.
	RunMain(ctx context.Context) error
}

// BeforeHook runs after the runtime's own setup and before RunMain
type BeforeHook interface {
	RunBefore(ctx context.Context) error
}

// AfterHook runs after RunMain returns without error
type AfterHook interface {
	RunAfter(ctx context.Context) error
}

// ReleaseHook runs exactly once on every exit path, after the runtime has
// closed its bus connections and, on SIGINT/SIGTERM, pushed CANCELLED; the
// KV client is still open and is closed after the hook returns
type ReleaseHook interface {
	Release()
}

// UpdateHook receives attachment updates pushed while the worker runs
type UpdateHook interface {
	HandleUpdate(event types.UpdateTaskWorkerEvent)
}

// Base is a convenience embedding for workers. It stores the task document
// and satisfies Init; embedders implement RunMain and whichever hooks they
// need.
type Base struct {
	Task *types.Task
}

// Init stores the task for later access
func (b *Base) Init(task *types.Task) error {
	b.Task = task
	return nil
}
