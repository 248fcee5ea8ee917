package node

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/JiHungLin/skalds/pkg/log"
	"github.com/JiHungLin/skalds/pkg/metrics"
)

// ProcessHandle tracks one running task worker subprocess
type ProcessHandle struct {
	TaskID     string
	ClassName  string
	ResourceID string
	PID        int
	LaunchedAt time.Time

	cmd    *exec.Cmd
	waitCh chan struct{}
}

// Done returns a channel closed when the subprocess exits
func (h *ProcessHandle) Done() <-chan struct{} {
	return h.waitCh
}

// WorkerStore is the authoritative in-process map of this node's running
// task subprocesses. It is the only mutator of local process lifetimes and
// is crossed by the bus consumer and the KV sync loop, so every mutation is
// serialised behind the lock.
type WorkerStore struct {
	mu         sync.RWMutex
	byTask     map[string]*ProcessHandle
	byResource map[string]string
}

// NewWorkerStore creates an empty worker store
func NewWorkerStore() *WorkerStore {
	return &WorkerStore{
		byTask:     make(map[string]*ProcessHandle),
		byResource: make(map[string]string),
	}
}

// Register records a spawned subprocess under its task id and, when the task
// carries one, its resource id
func (s *WorkerStore) Register(h *ProcessHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byTask[h.TaskID]; ok {
		return fmt.Errorf("task %s already registered", h.TaskID)
	}
	s.byTask[h.TaskID] = h
	if h.ResourceID != "" {
		s.byResource[h.ResourceID] = h.TaskID
	}
	metrics.WorkersRunning.Set(float64(len(s.byTask)))
	return nil
}

// Get returns the handle for a task id
func (s *WorkerStore) Get(taskID string) (*ProcessHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.byTask[taskID]
	return h, ok
}

// Has reports whether a task id is registered
func (s *WorkerStore) Has(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byTask[taskID]
	return ok
}

// ByResource returns the handle registered under a resource id
func (s *WorkerStore) ByResource(resourceID string) (*ProcessHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	taskID, ok := s.byResource[resourceID]
	if !ok {
		return nil, false
	}
	h, ok := s.byTask[taskID]
	return h, ok
}

// TaskIDs returns the ids of all registered subprocesses
func (s *WorkerStore) TaskIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byTask))
	for id := range s.byTask {
		ids = append(ids, id)
	}
	return ids
}

// All returns every registered handle
func (s *WorkerStore) All() []*ProcessHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ProcessHandle, 0, len(s.byTask))
	for _, h := range s.byTask {
		out = append(out, h)
	}
	return out
}

// Len returns the number of registered subprocesses
func (s *WorkerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTask)
}

// Remove drops a handle without touching the subprocess
func (s *WorkerStore) Remove(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(taskID)
}

func (s *WorkerStore) remove(taskID string) {
	h, ok := s.byTask[taskID]
	if !ok {
		return
	}
	delete(s.byTask, taskID)
	if h.ResourceID != "" && s.byResource[h.ResourceID] == taskID {
		delete(s.byResource, h.ResourceID)
	}
	metrics.WorkersRunning.Set(float64(len(s.byTask)))
}

// Terminate sends the graceful-stop signal to a subprocess, waits up to
// gracefulTimeout for it to exit, hard-kills it otherwise, and drops the
// handle
func (s *WorkerStore) Terminate(taskID string, gracefulTimeout time.Duration) error {
	s.mu.Lock()
	h, ok := s.byTask[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s not registered", taskID)
	}
	s.remove(taskID)
	s.mu.Unlock()

	return stopProcess(h, gracefulTimeout)
}

// TerminateAll stops every registered subprocess
func (s *WorkerStore) TerminateAll(gracefulTimeout time.Duration) {
	logger := log.WithComponent("worker-store")
	for _, id := range s.TaskIDs() {
		if err := s.Terminate(id, gracefulTimeout); err != nil {
			logger.Warn().Err(err).Str("task_id", id).Msg("Failed to terminate worker")
		}
	}
}

func stopProcess(h *ProcessHandle, gracefulTimeout time.Duration) error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process already gone
		return nil
	}

	select {
	case <-h.waitCh:
		return nil
	case <-time.After(gracefulTimeout):
	}

	if err := h.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill task %s (pid %d): %w", h.TaskID, h.PID, err)
	}
	<-h.waitCh
	return nil
}
