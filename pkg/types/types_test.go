package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{
			name: "valid created task without executor",
			task: Task{ID: "t1", ClassName: "W", Source: "api", LifecycleStatus: TaskStatusCreated},
		},
		{
			name: "valid running task with executor",
			task: Task{ID: "t1", ClassName: "W", Source: "api", Executor: "n1", LifecycleStatus: TaskStatusRunning},
		},
		{
			name:    "missing id",
			task:    Task{ClassName: "W", LifecycleStatus: TaskStatusCreated},
			wantErr: true,
		},
		{
			name:    "missing class name",
			task:    Task{ID: "t1", LifecycleStatus: TaskStatusCreated},
			wantErr: true,
		},
		{
			name:    "running without executor",
			task:    Task{ID: "t1", ClassName: "W", LifecycleStatus: TaskStatusRunning},
			wantErr: true,
		},
		{
			name:    "assigning without executor",
			task:    Task{ID: "t1", ClassName: "W", LifecycleStatus: TaskStatusAssigning},
			wantErr: true,
		},
		{
			name: "finished without executor",
			task: Task{ID: "t1", ClassName: "W", LifecycleStatus: TaskStatusFinished},
		},
		{
			name:    "priority above range",
			task:    Task{ID: "t1", ClassName: "W", LifecycleStatus: TaskStatusCreated, Priority: 11},
			wantErr: true,
		},
		{
			name:    "priority below range",
			task:    Task{ID: "t1", ClassName: "W", LifecycleStatus: TaskStatusCreated, Priority: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLifecycleStatusTerminal(t *testing.T) {
	assert.True(t, TaskStatusFinished.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.True(t, TaskStatusCancelled.Terminal())
	assert.False(t, TaskStatusCreated.Terminal())
	assert.False(t, TaskStatusAssigning.Terminal())
	assert.False(t, TaskStatusRunning.Terminal())
	assert.False(t, TaskStatusPaused.Terminal())
}

func TestHeartbeatSentinels(t *testing.T) {
	assert.True(t, IsHeartbeatSentinel(HeartbeatSuccess))
	assert.True(t, IsHeartbeatSentinel(HeartbeatFailed))
	assert.True(t, IsHeartbeatSentinel(HeartbeatCancelled))
	assert.False(t, IsHeartbeatSentinel(0))
	assert.False(t, IsHeartbeatSentinel(NowMs()))
	assert.False(t, IsHeartbeatSentinel(-4))
}
