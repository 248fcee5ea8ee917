package controller

import (
	"sync"
)

// HeartbeatWindowSize is the number of samples kept per monitored task
const HeartbeatWindowSize = 5

// TaskRecord tracks the sliding heartbeat window of one monitored task
type TaskRecord struct {
	TaskID           string
	Window           []int64
	ErrorMessage     string
	ExceptionMessage string
}

// Append adds a heartbeat sample, evicting the oldest when the window is full
func (r *TaskRecord) Append(heartbeat int64) {
	r.Window = append(r.Window, heartbeat)
	if len(r.Window) > HeartbeatWindowSize {
		r.Window = r.Window[1:]
	}
}

// Assigning reports whether the window has not yet filled
func (r *TaskRecord) Assigning() bool {
	return len(r.Window) < HeartbeatWindowSize
}

// Alive reports whether the samples are still changing. A worker publishing
// a constant value is classified not-alive, so workers must write monotonic
// timestamps to count.
func (r *TaskRecord) Alive() bool {
	distinct := make(map[int64]bool, len(r.Window))
	for _, v := range r.Window {
		distinct[v] = true
	}
	return len(distinct) > 2
}

// HasSentinel reports whether the window contains the given terminal value
func (r *TaskRecord) HasSentinel(sentinel int64) bool {
	for _, v := range r.Window {
		if v == sentinel {
			return true
		}
	}
	return false
}

func (r *TaskRecord) clone() *TaskRecord {
	c := *r
	c.Window = append([]int64(nil), r.Window...)
	return &c
}

// TaskStore is the controller's in-memory view of monitored tasks. It is
// owned by the controller and written only by the task monitor.
type TaskStore struct {
	mu      sync.RWMutex
	records map[string]*TaskRecord
}

// NewTaskStore creates an empty task store
func NewTaskStore() *TaskStore {
	return &TaskStore{records: make(map[string]*TaskRecord)}
}

// Add starts monitoring a task. Existing records are left untouched.
func (s *TaskStore) Add(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[taskID]; !ok {
		s.records[taskID] = &TaskRecord{TaskID: taskID}
	}
}

// AppendHeartbeat adds a sample to the task's window
func (s *TaskStore) AppendHeartbeat(taskID string, heartbeat int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[taskID]; ok {
		r.Append(heartbeat)
	}
}

// SetError records the last has-error string read from KV
func (s *TaskStore) SetError(taskID, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[taskID]; ok {
		r.ErrorMessage = msg
	}
}

// SetException records the last exception string read from KV
func (s *TaskStore) SetException(taskID, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[taskID]; ok {
		r.ExceptionMessage = msg
	}
}

// Get returns a copy of the task's record
func (s *TaskStore) Get(taskID string) (*TaskRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[taskID]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// All returns a copy of every record
func (s *TaskStore) All() []*TaskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*TaskRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.clone())
	}
	return out
}

// Delete stops monitoring a task
func (s *TaskStore) Delete(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, taskID)
}

// Len returns the number of monitored tasks
func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
