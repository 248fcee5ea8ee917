package storage

import (
	"context"
	"errors"

	"github.com/JiHungLin/skalds/pkg/types"
)

var (
	// ErrTaskNotFound is returned when no task document matches the id
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists is returned when inserting a duplicate task id
	ErrTaskExists = errors.New("task already exists")

	// ErrStatusConflict is returned when a conditional write finds the task
	// in a different lifecycle status than the caller observed
	ErrStatusConflict = errors.New("task status changed")
)

// Store defines the interface for durable task state.
// This is implemented by MongoDB-backed storage.
type Store interface {
	CreateTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	ListTasksByStatus(ctx context.Context, statuses ...types.TaskLifecycleStatus) ([]*types.Task, error)
	ListUnassignedTasks(ctx context.Context) ([]*types.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status types.TaskLifecycleStatus) error
	UpdateTaskExecutor(ctx context.Context, id, executor string, from, to types.TaskLifecycleStatus) error
	UpdateTaskAttachments(ctx context.Context, id string, attachments map[string]any) error
	DeleteTask(ctx context.Context, id string) error
	EnsureIndexes(ctx context.Context) error

	// Utility
	Close() error
}
