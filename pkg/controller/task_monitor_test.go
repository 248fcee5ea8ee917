package controller

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiHungLin/skalds/pkg/bus"
	"github.com/JiHungLin/skalds/pkg/kv"
	"github.com/JiHungLin/skalds/pkg/types"
)

func newMonitorKV(t *testing.T) (*kv.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return kv.NewFromClient(rdb), mr
}

func runningTask(id string) *types.Task {
	return &types.Task{
		ID:              id,
		ClassName:       "W",
		Source:          "api",
		Executor:        "n1",
		Mode:            types.TaskModePassive,
		LifecycleStatus: types.TaskStatusRunning,
	}
}

func fillWindow(s *TaskStore, id string, samples ...int64) {
	s.Add(id)
	for _, v := range samples {
		s.AppendHeartbeat(id, v)
	}
}

func TestReconcileSuccessSentinel(t *testing.T) {
	kvClient, _ := newMonitorKV(t)
	db := newFakeStore(runningTask("t1"))
	producer := &fakeProducer{}
	store := NewTaskStore()

	m := NewTaskMonitor(kvClient, db, producer, store, 0)
	fillWindow(store, "t1", 100, 101, types.HeartbeatSuccess)

	m.reconcile(context.Background(), map[string]bool{"t1": true})

	assert.Equal(t, types.TaskStatusFinished, db.status("t1"))
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, producer.published(bus.TopicTaskCancel))
}

func TestReconcileCancelledSentinel(t *testing.T) {
	kvClient, _ := newMonitorKV(t)
	db := newFakeStore(runningTask("t1"))
	producer := &fakeProducer{}
	store := NewTaskStore()

	m := NewTaskMonitor(kvClient, db, producer, store, 0)
	fillWindow(store, "t1", 100, types.HeartbeatCancelled)

	m.reconcile(context.Background(), map[string]bool{"t1": true})

	assert.Equal(t, types.TaskStatusCancelled, db.status("t1"))
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, producer.published(bus.TopicTaskCancel))
}

func TestReconcileFailedSentinel(t *testing.T) {
	kvClient, _ := newMonitorKV(t)
	db := newFakeStore(runningTask("t2"))
	producer := &fakeProducer{}
	store := NewTaskStore()

	m := NewTaskMonitor(kvClient, db, producer, store, 0)
	fillWindow(store, "t2", 100, types.HeartbeatFailed)

	m.reconcile(context.Background(), map[string]bool{"t2": true})

	assert.Equal(t, types.TaskStatusFailed, db.status("t2"))
	assert.Equal(t, 0, store.Len())

	cancels := producer.published(bus.TopicTaskCancel)
	require.Len(t, cancels, 1)
	assert.Equal(t, "t2", cancels[0].Key)

	var event types.CancelEvent
	require.NoError(t, json.Unmarshal(cancels[0].Value, &event))
	assert.Equal(t, "t2", event.TaskID)
	assert.Equal(t, "cancel", event.Action)
	assert.NotZero(t, event.Ts)
}

func TestReconcileStalledHeartbeat(t *testing.T) {
	kvClient, _ := newMonitorKV(t)
	db := newFakeStore(runningTask("t1"))
	producer := &fakeProducer{}
	store := NewTaskStore()

	m := NewTaskMonitor(kvClient, db, producer, store, 0)
	// Full window, values not changing: the worker is dead
	fillWindow(store, "t1", 100, 100, 100, 100, 100)

	m.reconcile(context.Background(), map[string]bool{"t1": true})

	assert.Equal(t, types.TaskStatusFailed, db.status("t1"))
	assert.Len(t, producer.published(bus.TopicTaskCancel), 1)
}

func TestReconcileOrphan(t *testing.T) {
	kvClient, _ := newMonitorKV(t)
	db := newFakeStore()
	producer := &fakeProducer{}
	store := NewTaskStore()

	m := NewTaskMonitor(kvClient, db, producer, store, 0)
	fillWindow(store, "gone", 100, 101, 102)

	// The task left {Assigning, Running} in the DB
	m.reconcile(context.Background(), map[string]bool{})

	assert.Equal(t, 0, store.Len())
	cancels := producer.published(bus.TopicTaskCancel)
	require.Len(t, cancels, 1)
	assert.Equal(t, "gone", cancels[0].Key)
}

func TestReconcileProgress(t *testing.T) {
	tests := []struct {
		name    string
		samples []int64
		want    types.TaskLifecycleStatus
	}{
		{"window not yet full", []int64{100, 101}, types.TaskStatusAssigning},
		{"full window with changing values", []int64{100, 101, 102, 103, 104}, types.TaskStatusRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kvClient, _ := newMonitorKV(t)
			db := newFakeStore(runningTask("t1"))
			producer := &fakeProducer{}
			store := NewTaskStore()

			m := NewTaskMonitor(kvClient, db, producer, store, 0)
			fillWindow(store, "t1", tt.samples...)

			m.reconcile(context.Background(), map[string]bool{"t1": true})

			assert.Equal(t, tt.want, db.status("t1"))
			assert.Equal(t, 1, store.Len())
		})
	}
}

func TestTickSamplesHeartbeats(t *testing.T) {
	kvClient, mr := newMonitorKV(t)
	db := newFakeStore(runningTask("t1"))
	producer := &fakeProducer{}
	store := NewTaskStore()

	m := NewTaskMonitor(kvClient, db, producer, store, 0)

	mr.Set(kv.TaskHeartbeatKey("t1"), "123")
	require.NoError(t, m.tick())

	r, ok := store.Get("t1")
	require.True(t, ok)
	assert.Equal(t, []int64{123}, r.Window)

	// A missing heartbeat samples as zero
	mr.Del(kv.TaskHeartbeatKey("t1"))
	require.NoError(t, m.tick())

	r, _ = store.Get("t1")
	assert.Equal(t, []int64{123, 0}, r.Window)
}

func TestTickPicksUpExceptionMessages(t *testing.T) {
	kvClient, mr := newMonitorKV(t)
	db := newFakeStore(runningTask("t1"))
	producer := &fakeProducer{}
	store := NewTaskStore()

	m := NewTaskMonitor(kvClient, db, producer, store, 0)

	mr.Set(kv.TaskHeartbeatKey("t1"), "100")
	mr.Set(kv.TaskHasErrorKey("t1"), "degraded")
	mr.Set(kv.TaskExceptionKey("t1"), "boom")
	require.NoError(t, m.tick())

	r, ok := store.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "degraded", r.ErrorMessage)
	assert.Equal(t, "boom", r.ExceptionMessage)
}

func TestTaskMonitorDoubleStart(t *testing.T) {
	kvClient, _ := newMonitorKV(t)

	m := NewTaskMonitor(kvClient, newFakeStore(), &fakeProducer{}, NewTaskStore(), 0)
	require.NoError(t, m.Start())
	defer m.Stop()

	assert.Error(t, m.Start())
}
