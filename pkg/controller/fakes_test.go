package controller

import (
	"context"
	"sort"
	"sync"

	"github.com/JiHungLin/skalds/pkg/storage"
	"github.com/JiHungLin/skalds/pkg/types"
)

// fakeStore is an in-memory storage.Store for monitor and dispatcher tests
type fakeStore struct {
	mu        sync.Mutex
	tasks     map[string]*types.Task
	afterList func() // runs once after the next ListUnassignedTasks snapshot
}

func newFakeStore(tasks ...*types.Task) *fakeStore {
	s := &fakeStore{tasks: make(map[string]*types.Task)}
	for _, t := range tasks {
		c := *t
		s.tasks[t.ID] = &c
	}
	return s
}

func (s *fakeStore) CreateTask(_ context.Context, task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return storage.ErrTaskExists
	}
	c := *task
	s.tasks[task.ID] = &c
	return nil
}

func (s *fakeStore) GetTask(_ context.Context, id string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, storage.ErrTaskNotFound
	}
	c := *t
	return &c, nil
}

func (s *fakeStore) ListTasksByStatus(_ context.Context, statuses ...types.TaskLifecycleStatus) ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Task
	for _, t := range s.tasks {
		for _, st := range statuses {
			if t.LifecycleStatus == st {
				c := *t
				out = append(out, &c)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) ListUnassignedTasks(_ context.Context) ([]*types.Task, error) {
	s.mu.Lock()
	var out []*types.Task
	for _, t := range s.tasks {
		if t.Executor == "" && t.LifecycleStatus == types.TaskStatusCreated && t.Mode == types.TaskModePassive {
			c := *t
			out = append(out, &c)
		}
	}
	hook := s.afterList
	s.afterList = nil
	s.mu.Unlock()

	// Lets tests race another agent against the returned snapshot
	if hook != nil {
		hook()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].CreateDateTime != out[j].CreateDateTime {
			return out[i].CreateDateTime < out[j].CreateDateTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *fakeStore) UpdateTaskStatus(_ context.Context, id string, status types.TaskLifecycleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok && t.LifecycleStatus != status {
		t.LifecycleStatus = status
	}
	return nil
}

func (s *fakeStore) UpdateTaskExecutor(_ context.Context, id, executor string, from, to types.TaskLifecycleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return storage.ErrTaskNotFound
	}
	if t.LifecycleStatus != from {
		return storage.ErrStatusConflict
	}
	t.Executor = executor
	t.LifecycleStatus = to
	return nil
}

func (s *fakeStore) UpdateTaskAttachments(_ context.Context, id string, attachments map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return storage.ErrTaskNotFound
	}
	t.Attachments = attachments
	return nil
}

func (s *fakeStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *fakeStore) EnsureIndexes(context.Context) error { return nil }
func (s *fakeStore) Close() error                        { return nil }

func (s *fakeStore) status(id string) types.TaskLifecycleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.LifecycleStatus
	}
	return ""
}

func (s *fakeStore) executor(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.Executor
	}
	return ""
}

// fakeProducer records published bus messages
type fakeProducer struct {
	mu       sync.Mutex
	messages []publishedMessage
}

type publishedMessage struct {
	Topic string
	Key   string
	Value []byte
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{Topic: topic, Key: key, Value: value})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) published(topic string) []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
