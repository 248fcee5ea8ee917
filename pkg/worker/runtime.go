package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/JiHungLin/skalds/pkg/bus"
	"github.com/JiHungLin/skalds/pkg/config"
	"github.com/JiHungLin/skalds/pkg/kv"
	"github.com/JiHungLin/skalds/pkg/log"
	"github.com/JiHungLin/skalds/pkg/survive"
	"github.com/JiHungLin/skalds/pkg/types"
)

// Runtime drives one worker through its lifecycle inside a task subprocess.
//
// The lifecycle is runBefore -> RunMain -> runAfter, with the error handler
// wrapping all three and release running exactly once on every exit path:
// normal return, error, SIGINT or SIGTERM.
type Runtime struct {
	cfg    *config.Config
	task   *types.Task
	worker Worker
	logger zerolog.Logger

	kv        *kv.Client
	producer  bus.Producer
	consumer  *bus.Consumer
	heartbeat *survive.Handler

	ctx    context.Context
	cancel context.CancelFunc

	isDone      atomic.Bool
	releaseOnce sync.Once
}

// NewRuntime creates a runtime for one task
func NewRuntime(cfg *config.Config, task *types.Task, w Worker) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		cfg:    cfg,
		task:   task,
		worker: w,
		logger: log.WithTaskID(task.ID),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Producer exposes the bus producer for worker business logic
func (r *Runtime) Producer() bus.Producer {
	return r.producer
}

// KV exposes the KV client for worker business logic
func (r *Runtime) KV() *kv.Client {
	return r.kv
}

// Run executes the worker lifecycle. It always converts an error into the
// FAILED sentinel before returning so the controller can converge.
func (r *Runtime) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		r.releaseAndExit(sig)
	}()

	defer r.release(nil)

	if err := r.runBefore(); err != nil {
		r.errorHandler(err)
		return err
	}

	if hook, ok := r.worker.(BeforeHook); ok {
		if err := hook.RunBefore(r.ctx); err != nil {
			r.errorHandler(err)
			return err
		}
	}

	if err := r.worker.RunMain(r.ctx); err != nil {
		r.errorHandler(err)
		return err
	}

	if hook, ok := r.worker.(AfterHook); ok {
		if err := hook.RunAfter(r.ctx); err != nil {
			r.errorHandler(err)
			return err
		}
	}

	r.runAfter()
	return nil
}

// runBefore opens the runtime's connections: KV for heartbeats, the bus for
// update events, and clears any stale exception state
func (r *Runtime) runBefore() error {
	kvClient, err := kv.Connect(kv.Config{
		Addr:     r.cfg.RedisAddr,
		Password: r.cfg.RedisPassword,
		DB:       r.cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("worker kv connect failed: %w", err)
	}
	r.kv = kvClient

	r.producer = bus.NewProducer(bus.Config{Addr: r.cfg.KafkaAddr})

	// Each worker gets its own consumer group so every instance observes
	// every update event
	r.consumer = bus.NewConsumer(bus.Config{
		Addr:    r.cfg.KafkaAddr,
		GroupID: updateGroupID(r.task.ID),
	}, []string{bus.TopicTaskWorkerUpdate})
	if err := r.consumer.Start(); err != nil {
		return err
	}
	go r.updateLoop()

	r.heartbeat = survive.NewHandler(kvClient, kv.TaskHeartbeatKey(r.task.ID), survive.RoleTaskWorker, survive.DefaultPeriod)
	if err := r.heartbeat.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(r.ctx, 10*time.Second)
	defer cancel()
	if err := r.kv.Set(ctx, kv.TaskExceptionKey(r.task.ID), ""); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to clear exception key")
	}

	return nil
}

// runAfter stops the heartbeat and publishes completion
func (r *Runtime) runAfter() {
	r.heartbeat.Stop()
	if !r.isDone.Swap(true) {
		r.heartbeat.PushSuccess()
	}
	r.logger.Info().Msg("Task worker done")
}

// errorHandler records the failure in KV and publishes the FAILED sentinel
func (r *Runtime) errorHandler(err error) {
	r.logger.Error().Err(err).Msg("Task worker failed")
	r.isDone.Store(true)

	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	if r.kv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if setErr := r.kv.Set(ctx, kv.TaskExceptionKey(r.task.ID), err.Error()); setErr != nil {
			r.logger.Warn().Err(setErr).Msg("Failed to record exception")
		}
	}
	if r.heartbeat != nil {
		r.heartbeat.PushFailed()
	}
}

// updateLoop delivers attachment updates addressed to this task
func (r *Runtime) updateLoop() {
	for msg := range r.consumer.Messages() {
		event, err := decodeUpdate(msg.Value)
		if err != nil {
			r.logger.Error().Err(err).Msg("Unparseable worker update")
			continue
		}
		if event.ID != r.task.ID {
			continue
		}
		if hook, ok := r.worker.(UpdateHook); ok {
			hook.HandleUpdate(event)
		} else {
			r.logger.Debug().Msg("Worker has no update hook, dropping event")
		}
	}
}

// release frees every runtime resource. Safe to call with no open
// connections and guaranteed to run at most once.
func (r *Runtime) release(sig os.Signal) {
	r.releaseOnce.Do(func() {
		r.cancel()

		if r.consumer != nil {
			r.consumer.Stop()
		}
		if r.producer != nil {
			if err := r.producer.Close(); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to close bus producer")
			}
		}

		if sig == syscall.SIGINT || sig == syscall.SIGTERM {
			if r.heartbeat != nil {
				r.heartbeat.Stop()
				r.heartbeat.PushCancelled()
			}
		}

		if hook, ok := r.worker.(ReleaseHook); ok {
			hook.Release()
		}

		if r.kv != nil {
			if err := r.kv.Close(); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to close kv client")
			}
		}

		r.logger.Info().Msg("Task worker released")
	})
}

// releaseAndExit is the signal path: mark done, release once, exit
func (r *Runtime) releaseAndExit(sig os.Signal) {
	r.isDone.Store(true)
	r.release(sig)
	os.Exit(0)
}

func updateGroupID(taskID string) string {
	return fmt.Sprintf("%s-%s", taskID, uuid.NewString()[:5])
}
