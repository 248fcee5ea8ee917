package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/JiHungLin/skalds/pkg/bus"
	"github.com/JiHungLin/skalds/pkg/kv"
	"github.com/JiHungLin/skalds/pkg/log"
	"github.com/JiHungLin/skalds/pkg/metrics"
	"github.com/JiHungLin/skalds/pkg/storage"
	"github.com/JiHungLin/skalds/pkg/types"
)

// DefaultTaskMonitorInterval is how often monitored tasks are reconciled
const DefaultTaskMonitorInterval = 3 * time.Second

// TaskMonitor drives the task lifecycle. It samples task heartbeats from KV
// into sliding windows, classifies each monitored task and converges the DB
// status, cancelling dead or orphaned tasks over the bus.
type TaskMonitor struct {
	kv       *kv.Client
	db       storage.Store
	producer bus.Producer
	store    *TaskStore
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewTaskMonitor creates a task monitor
func NewTaskMonitor(kvClient *kv.Client, db storage.Store, producer bus.Producer, store *TaskStore, interval time.Duration) *TaskMonitor {
	if interval <= 0 {
		interval = DefaultTaskMonitorInterval
	}
	return &TaskMonitor{
		kv:       kvClient,
		db:       db,
		producer: producer,
		store:    store,
		interval: interval,
		logger:   log.WithComponent("task-monitor"),
	}
}

// Start begins the monitor loop. Starting twice is a programming error.
func (m *TaskMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("task monitor already started")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})

	go m.run(m.stopCh, m.done)
	m.logger.Info().Dur("interval", m.interval).Msg("Task monitor started")
	return nil
}

// Stop halts the monitor loop with a bounded wait
func (m *TaskMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)

	select {
	case <-m.done:
	case <-time.After(10 * time.Second):
		m.logger.Warn().Msg("Task monitor did not stop in time")
	}
}

func (m *TaskMonitor) run(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.tick(); err != nil {
				// Log error but continue
				m.logger.Error().Err(err).Msg("Task monitor cycle failed")
			}
		case <-stopCh:
			m.logger.Info().Msg("Task monitor stopped")
			return
		}
	}
}

// tick performs one monitoring cycle
func (m *TaskMonitor) tick() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	monitored, err := m.db.ListTasksByStatus(ctx, types.TaskStatusAssigning, types.TaskStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to list monitored tasks: %w", err)
	}

	inDB := make(map[string]bool, len(monitored))
	for _, t := range monitored {
		inDB[t.ID] = true
		m.store.Add(t.ID)
	}

	m.sampleHeartbeats(ctx)
	m.reconcile(ctx, inDB)

	metrics.TasksMonitored.Set(float64(m.store.Len()))
	return nil
}

// sampleHeartbeats appends one heartbeat sample per monitored task and picks
// up error/exception strings. Missing or unparseable heartbeats count as 0.
func (m *TaskMonitor) sampleHeartbeats(ctx context.Context) {
	for _, r := range m.store.All() {
		hb, _, err := m.kv.GetInt64(ctx, kv.TaskHeartbeatKey(r.TaskID))
		if err != nil {
			m.logger.Warn().Err(err).Str("task_id", r.TaskID).Msg("Failed to read task heartbeat")
			hb = 0
		}
		m.store.AppendHeartbeat(r.TaskID, hb)

		if msg, err := m.kv.Get(ctx, kv.TaskHasErrorKey(r.TaskID)); err == nil && msg != "" {
			m.store.SetError(r.TaskID, msg)
		}
		if msg, err := m.kv.Get(ctx, kv.TaskExceptionKey(r.TaskID)); err == nil && msg != "" {
			m.store.SetException(r.TaskID, msg)
		}
	}
}

// reconcile classifies every monitored task and converges the DB status
func (m *TaskMonitor) reconcile(ctx context.Context, inDB map[string]bool) {
	for _, r := range m.store.All() {
		switch {
		case r.HasSentinel(types.HeartbeatSuccess):
			m.finalize(ctx, r, types.TaskStatusFinished, false)

		case r.HasSentinel(types.HeartbeatCancelled):
			m.finalize(ctx, r, types.TaskStatusCancelled, false)

		case r.HasSentinel(types.HeartbeatFailed) || (!r.Assigning() && !r.Alive()):
			m.logger.Warn().
				Str("task_id", r.TaskID).
				Str("exception", r.ExceptionMessage).
				Msg("Task failed, cancelling")
			m.finalize(ctx, r, types.TaskStatusFailed, true)

		case !inDB[r.TaskID]:
			// The task left {Assigning, Running} outside of our control;
			// stop whatever is still running on the node.
			m.logger.Info().Str("task_id", r.TaskID).Msg("Orphaned task, cancelling")
			m.publishCancel(ctx, r.TaskID)
			m.store.Delete(r.TaskID)

		case r.Assigning():
			m.updateStatus(ctx, r.TaskID, types.TaskStatusAssigning)

		default:
			m.updateStatus(ctx, r.TaskID, types.TaskStatusRunning)
		}
	}
}

func (m *TaskMonitor) finalize(ctx context.Context, r *TaskRecord, status types.TaskLifecycleStatus, cancel bool) {
	m.updateStatus(ctx, r.TaskID, status)
	if cancel {
		m.publishCancel(ctx, r.TaskID)
	}
	m.store.Delete(r.TaskID)
	metrics.TaskTransitions.WithLabelValues(string(status)).Inc()
}

func (m *TaskMonitor) updateStatus(ctx context.Context, taskID string, status types.TaskLifecycleStatus) {
	if err := m.db.UpdateTaskStatus(ctx, taskID, status); err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Str("status", string(status)).Msg("Failed to update task status")
	}
}

func (m *TaskMonitor) publishCancel(ctx context.Context, taskID string) {
	payload, err := json.Marshal(types.NewCancelEvent(taskID))
	if err != nil {
		m.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to encode cancel event")
		return
	}
	if err := m.producer.Publish(ctx, bus.TopicTaskCancel, taskID, payload); err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to publish cancel event")
		return
	}
	metrics.CancelsPublished.Inc()
}
