package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/JiHungLin/skalds/pkg/bus"
	"github.com/JiHungLin/skalds/pkg/log"
	"github.com/JiHungLin/skalds/pkg/metrics"
	"github.com/JiHungLin/skalds/pkg/storage"
	"github.com/JiHungLin/skalds/pkg/types"
)

// DefaultDispatcherInterval is how often unassigned tasks are dispatched
const DefaultDispatcherInterval = 5 * time.Second

// Dispatcher assigns Created Passive tasks to the least-loaded online node.
// It observes the node store but never mutates it; the monitors converge the
// views after each assignment lands.
type Dispatcher struct {
	db       storage.Store
	producer bus.Producer
	nodes    *NodeStore
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewDispatcher creates a dispatcher
func NewDispatcher(db storage.Store, producer bus.Producer, nodes *NodeStore, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = DefaultDispatcherInterval
	}
	return &Dispatcher{
		db:       db,
		producer: producer,
		nodes:    nodes,
		interval: interval,
		logger:   log.WithComponent("dispatcher"),
	}
}

// Start begins the dispatch loop. Starting twice is a programming error.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("dispatcher already started")
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})

	go d.run(d.stopCh, d.done)
	d.logger.Info().Dur("interval", d.interval).Msg("Dispatcher started")
	return nil
}

// Stop halts the dispatch loop with a bounded wait
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	d.running = false
	close(d.stopCh)

	select {
	case <-d.done:
	case <-time.After(10 * time.Second):
		d.logger.Warn().Msg("Dispatcher did not stop in time")
	}
}

func (d *Dispatcher) run(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.tick(); err != nil {
				// Log error but continue
				d.logger.Error().Err(err).Msg("Dispatch cycle failed")
			}
		case <-stopCh:
			d.logger.Info().Msg("Dispatcher stopped")
			return
		}
	}
}

// tick performs one dispatch cycle
func (d *Dispatcher) tick() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tasks, err := d.db.ListUnassignedTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unassigned tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	// Snapshot eligible nodes for the whole tick. A node going offline
	// mid-tick may briefly over-assign; the task monitor re-fails those
	// tasks on its next pass.
	targets := d.nodes.AssignmentTargets(types.NowMs(), DefaultLivenessTimeoutMs)
	if len(targets) == 0 {
		d.logger.Warn().Int("pending", len(tasks)).Msg("No nodes available")
		return nil
	}

	load := make(map[string]int, len(targets))
	for _, n := range targets {
		load[n.ID] = n.TaskCount()
	}

	for _, task := range tasks {
		target := leastLoaded(targets, load)

		// Conditional on the status we read: another agent may have moved
		// the task since the snapshot
		err := d.db.UpdateTaskExecutor(ctx, task.ID, target, types.TaskStatusCreated, types.TaskStatusAssigning)
		if errors.Is(err, storage.ErrStatusConflict) {
			d.logger.Debug().Str("task_id", task.ID).Msg("Task already advanced, skipping assignment")
			continue
		}
		if err != nil {
			d.logger.Error().Err(err).Str("task_id", task.ID).Str("node_id", target).Msg("Failed to persist assignment")
			continue
		}

		task.Executor = target
		task.LifecycleStatus = types.TaskStatusAssigning
		payload, err := json.Marshal(task)
		if err != nil {
			d.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to encode task")
			continue
		}
		if err := d.producer.Publish(ctx, bus.TopicTaskAssign, target, payload); err != nil {
			d.logger.Warn().Err(err).Str("task_id", task.ID).Str("node_id", target).Msg("Failed to publish assignment")
			continue
		}

		load[target]++
		metrics.AssignmentsPublished.Inc()

		d.logger.Info().
			Str("task_id", task.ID).
			Str("class_name", task.ClassName).
			Str("node_id", target).
			Int("priority", task.Priority).
			Msg("Task assigned")
	}

	return nil
}

// leastLoaded picks the node with minimum load, breaking ties by
// lexicographic id. Targets are already sorted by id.
func leastLoaded(targets []*NodeData, load map[string]int) string {
	best := targets[0].ID
	for _, n := range targets[1:] {
		if load[n.ID] < load[best] {
			best = n.ID
		}
	}
	return best
}
