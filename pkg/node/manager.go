package node

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/JiHungLin/skalds/pkg/bus"
	"github.com/JiHungLin/skalds/pkg/config"
	"github.com/JiHungLin/skalds/pkg/kv"
	"github.com/JiHungLin/skalds/pkg/log"
	"github.com/JiHungLin/skalds/pkg/metrics"
	"github.com/JiHungLin/skalds/pkg/storage"
	"github.com/JiHungLin/skalds/pkg/types"
)

// WorkerClasses is the registry view the manager needs to validate
// assignments
type WorkerClasses interface {
	Has(className string) bool
}

// TaskWorkerManager consumes the control topics, supervises task worker
// subprocesses and syncs the node's task membership to the KV store.
type TaskWorkerManager struct {
	nodeID      string
	resourceKey string
	syncPeriod  time.Duration
	killTimeout time.Duration

	kv       *kv.Client
	db       storage.Store
	producer bus.Producer
	consumer *bus.Consumer
	classes  WorkerClasses
	store    *WorkerStore
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewTaskWorkerManager creates a task worker manager
func NewTaskWorkerManager(cfg *config.Config, kvClient *kv.Client, db storage.Store, producer bus.Producer, consumer *bus.Consumer, classes WorkerClasses) *TaskWorkerManager {
	return &TaskWorkerManager{
		nodeID:      cfg.NodeID,
		resourceKey: cfg.ResourceKey,
		syncPeriod:  cfg.KVSyncPeriod,
		killTimeout: cfg.GracefulKillTimeout,
		kv:          kvClient,
		db:          db,
		producer:    producer,
		consumer:    consumer,
		classes:     classes,
		store:       NewWorkerStore(),
		logger:      log.WithComponent("task-worker-manager"),
	}
}

// Store exposes the subprocess store
func (m *TaskWorkerManager) Store() *WorkerStore {
	return m.store
}

// Start launches the bus consume loop and the KV sync loop. Starting twice
// is a programming error.
func (m *TaskWorkerManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("task worker manager already started")
	}
	m.running = true
	m.stopCh = make(chan struct{})

	if err := m.consumer.Start(); err != nil {
		return err
	}

	m.wg.Add(2)
	go m.consumeLoop()
	go m.syncLoop()

	m.logger.Info().Str("node_id", m.nodeID).Msg("Task worker manager started")
	return nil
}

// Stop drains the loops, clears the KV projection and terminates every
// subprocess
func (m *TaskWorkerManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false

	m.consumer.Stop()
	close(m.stopCh)
	m.wg.Wait()

	// Publish an empty membership list so the controller sees the node
	// draining before the registry entry expires
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	empty := types.NewTaskWorkerSimpleMapList()
	if payload, err := json.Marshal(empty); err == nil {
		if err := m.kv.Set(ctx, kv.NodeAllTaskKey(m.nodeID), string(payload)); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to clear task membership")
		}
	}

	m.store.TerminateAll(m.killTimeout)
	m.logger.Info().Msg("Task worker manager stopped")
}

func (m *TaskWorkerManager) consumeLoop() {
	defer m.wg.Done()

	for msg := range m.consumer.Messages() {
		switch msg.Topic {
		case bus.TopicTaskAssign:
			m.handleAssign(msg)
		case bus.TopicTaskCancel:
			m.handleCancel(msg)
		case bus.TopicTaskUpdateAttachment:
			m.handleUpdate(msg)
		case bus.TopicTesting:
			m.logger.Info().Str("key", msg.Key).Msg("Bus loopback probe received")
		default:
			m.logger.Warn().Str("topic", msg.Topic).Msg("Unknown topic")
		}
	}
}

// handleAssign validates an assignment and spawns the worker subprocess
func (m *TaskWorkerManager) handleAssign(msg bus.Message) {
	var task types.Task
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		m.logger.Error().Err(err).Str("key", msg.Key).Msg("Unparseable assign payload")
		return
	}

	if !m.classes.Has(task.ClassName) {
		m.logger.Warn().Str("task_id", task.ID).Str("class_name", task.ClassName).Msg("Unknown worker class, rejecting")
		metrics.WorkersRejected.WithLabelValues("unknown_class").Inc()
		return
	}
	if task.Executor != m.nodeID {
		m.logger.Warn().Str("task_id", task.ID).Str("executor", task.Executor).Msg("Assignment targets another node, rejecting")
		metrics.WorkersRejected.WithLabelValues("wrong_executor").Inc()
		return
	}
	if m.store.Has(task.ID) {
		// The worker is already running; make its next heartbeat sample
		// look alive again instead of double-spawning.
		m.resetTaskState(task.ID)
		m.logger.Warn().Str("task_id", task.ID).Msg("Task already running, reset its state")
		metrics.WorkersRejected.WithLabelValues("duplicate").Inc()
		return
	}

	handle, err := spawn(&task, m.resourceKey)
	if err != nil {
		m.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to spawn worker")
		return
	}
	if err := m.store.Register(handle); err != nil {
		m.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to register worker")
		_ = stopProcess(handle, m.killTimeout)
		return
	}

	// Drop the handle once the subprocess exits on its own
	go func() {
		<-handle.Done()
		m.store.Remove(handle.TaskID)
	}()

	m.logger.Info().
		Str("task_id", task.ID).
		Str("class_name", task.ClassName).
		Int("pid", handle.PID).
		Msg("Worker spawned")
}

// resetTaskState writes a fresh random heartbeat and clears the exception
// key so a duplicate assignment does not fail a healthy worker
func (m *TaskWorkerManager) resetTaskState(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Strictly positive so the value can never collide with a sentinel
	if err := m.kv.SetInt64(ctx, kv.TaskHeartbeatKey(taskID), rand.Int63n(199)+1); err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to reset heartbeat")
	}
	if err := m.kv.Set(ctx, kv.TaskExceptionKey(taskID), ""); err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to clear exception")
	}
}

// handleCancel signals the matching subprocess and waits for it to exit
func (m *TaskWorkerManager) handleCancel(msg bus.Message) {
	var event types.CancelEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		m.logger.Error().Err(err).Str("key", msg.Key).Msg("Unparseable cancel payload")
		return
	}
	taskID := event.TaskID
	if taskID == "" {
		taskID = msg.Key
	}

	if !m.store.Has(taskID) {
		m.logger.Warn().Str("task_id", taskID).Msg("Cancel for unknown task")
		return
	}
	if err := m.store.Terminate(taskID, m.killTimeout); err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to terminate worker")
		return
	}
	m.logger.Info().Str("task_id", taskID).Msg("Worker cancelled")
}

// handleUpdate republishes the new attachment blob on the intra-task topic
// so the subprocess's own consumer delivers it to the worker's update hook
func (m *TaskWorkerManager) handleUpdate(msg bus.Message) {
	var event types.UpdateAttachmentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		m.logger.Error().Err(err).Str("key", msg.Key).Msg("Unparseable update payload")
		return
	}

	if !m.store.Has(event.TaskID) {
		m.logger.Warn().Str("task_id", event.TaskID).Msg("Update for unknown task")
		return
	}

	payload, err := json.Marshal(types.UpdateTaskWorkerEvent{
		ID:          event.TaskID,
		Attachments: event.Attachments,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("task_id", event.TaskID).Msg("Failed to encode worker update")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.producer.Publish(ctx, bus.TopicTaskWorkerUpdate, event.TaskID, payload); err != nil {
		m.logger.Warn().Err(err).Str("task_id", event.TaskID).Msg("Failed to republish worker update")
		return
	}
	m.logger.Info().Str("task_id", event.TaskID).Msg("Worker update forwarded")
}

// syncLoop periodically publishes the membership projection to the KV store
func (m *TaskWorkerManager) syncLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.syncPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.syncToKV()
		case <-m.stopCh:
			return
		}
	}
}

// syncToKV derives the membership list from the live subprocess handles
func (m *TaskWorkerManager) syncToKV() {
	list := types.NewTaskWorkerSimpleMapList()
	for _, h := range m.store.All() {
		list.Push(h.TaskID, h.ClassName)
	}

	payload, err := json.Marshal(list)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to encode task membership")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.kv.Set(ctx, kv.NodeAllTaskKey(m.nodeID), string(payload)); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to sync task membership")
	}
}

// LoadLocalTasks adopts or inserts the locally-declared Active tasks and
// spawns their workers. Existing DB records win over the local declaration
// for attachments.
func (m *TaskWorkerManager) LoadLocalTasks(ctx context.Context, file *config.TaskWorkersFile) error {
	for id, decl := range file.TaskWorkers {
		if !m.classes.Has(decl.ClassName) {
			m.logger.Warn().Str("task_id", id).Str("class_name", decl.ClassName).Msg("Unknown worker class in local declaration, skipping")
			continue
		}

		task, err := m.adoptOrInsert(ctx, id, decl)
		if err != nil {
			m.logger.Error().Err(err).Str("task_id", id).Msg("Failed to load local task")
			continue
		}

		handle, err := spawn(task, m.resourceKey)
		if err != nil {
			m.logger.Error().Err(err).Str("task_id", id).Msg("Failed to spawn local worker")
			continue
		}
		if err := m.store.Register(handle); err != nil {
			m.logger.Error().Err(err).Str("task_id", id).Msg("Failed to register local worker")
			_ = stopProcess(handle, m.killTimeout)
			continue
		}
		go func(h *ProcessHandle) {
			<-h.Done()
			m.store.Remove(h.TaskID)
		}(handle)

		m.logger.Info().
			Str("task_id", id).
			Str("class_name", decl.ClassName).
			Int("pid", handle.PID).
			Msg("Local worker spawned")
	}
	return nil
}

func (m *TaskWorkerManager) adoptOrInsert(ctx context.Context, id string, decl config.TaskWorkerDecl) (*types.Task, error) {
	remote, err := m.db.GetTask(ctx, id)
	if err == nil {
		// Adopt the stored attachments and re-point the executor here,
		// conditional on the status we just read
		if err := m.db.UpdateTaskExecutor(ctx, id, m.nodeID, remote.LifecycleStatus, remote.LifecycleStatus); err != nil {
			return nil, err
		}
		remote.Executor = m.nodeID
		return remote, nil
	}
	if err != storage.ErrTaskNotFound {
		return nil, err
	}

	now := types.NowMs()
	task := &types.Task{
		ID:              id,
		ClassName:       decl.ClassName,
		Source:          "local",
		Name:            id,
		Description:     "Active task worker from local config",
		Executor:        m.nodeID,
		Mode:            types.TaskModeActive,
		CreateDateTime:  now,
		UpdateDateTime:  now,
		LifecycleStatus: types.TaskStatusRunning,
		Attachments:     decl.Attachments,
	}
	if err := m.db.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}
