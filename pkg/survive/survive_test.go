package survive

import (
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiHungLin/skalds/pkg/kv"
	"github.com/JiHungLin/skalds/pkg/types"
)

func newTestKV(t *testing.T) (*kv.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return kv.NewFromClient(rdb), mr
}

func TestHandlerWritesHeartbeats(t *testing.T) {
	kvClient, mr := newTestKV(t)

	h := NewHandler(kvClient, "task:t1:heartbeat", RoleTaskWorker, 20*time.Millisecond)
	require.NoError(t, h.Start())
	defer h.Stop()

	// The first write happens immediately
	assert.Eventually(t, func() bool {
		v, err := mr.Get("task:t1:heartbeat")
		if err != nil {
			return false
		}
		n, err := strconv.ParseInt(v, 10, 64)
		return err == nil && n > 0
	}, time.Second, 10*time.Millisecond)
}

func TestHandlerStopIsIdempotent(t *testing.T) {
	kvClient, mr := newTestKV(t)

	h := NewHandler(kvClient, "task:t1:heartbeat", RoleTaskWorker, 10*time.Millisecond)
	require.NoError(t, h.Start())

	h.Stop()
	h.Stop() // second stop is a no-op

	// No further writes after Stop returns
	mr.Del("task:t1:heartbeat")
	time.Sleep(50 * time.Millisecond)
	assert.False(t, mr.Exists("task:t1:heartbeat"))
}

func TestHandlerDoubleStart(t *testing.T) {
	kvClient, _ := newTestKV(t)

	h := NewHandler(kvClient, "task:t1:heartbeat", RoleTaskWorker, time.Second)
	require.NoError(t, h.Start())
	defer h.Stop()

	assert.Error(t, h.Start())
}

func TestHandlerTerminalSentinels(t *testing.T) {
	tests := []struct {
		name string
		push func(h *Handler)
		want int64
	}{
		{"success", func(h *Handler) { h.PushSuccess() }, types.HeartbeatSuccess},
		{"failed", func(h *Handler) { h.PushFailed() }, types.HeartbeatFailed},
		{"cancelled", func(h *Handler) { h.PushCancelled() }, types.HeartbeatCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kvClient, mr := newTestKV(t)
			h := NewHandler(kvClient, "task:t1:heartbeat", RoleTaskWorker, time.Second)
			require.NoError(t, h.Start())
			h.Stop()

			tt.push(h)

			v, err := mr.Get("task:t1:heartbeat")
			require.NoError(t, err)
			assert.Equal(t, strconv.FormatInt(tt.want, 10), v)
		})
	}
}

func TestActivityRegistersNode(t *testing.T) {
	kvClient, mr := newTestKV(t)

	a := NewActivity(kvClient, "n1", types.NodeModeNode, 20*time.Millisecond)
	require.NoError(t, a.Start())

	assert.Eventually(t, func() bool {
		ts := mr.HGet(kv.NodesHash, "n1")
		mode := mr.HGet(kv.NodesModeHash, "n1")
		return ts != "" && mode == "node"
	}, time.Second, 10*time.Millisecond)

	// Stop deregisters so peers observe the departure
	a.Stop()
	assert.Equal(t, "", mr.HGet(kv.NodesHash, "n1"))
	assert.Equal(t, "", mr.HGet(kv.NodesModeHash, "n1"))
}

func TestActivityEdgeMode(t *testing.T) {
	kvClient, mr := newTestKV(t)

	a := NewActivity(kvClient, "e1", types.NodeModeEdge, 20*time.Millisecond)
	require.NoError(t, a.Start())
	defer a.Stop()

	assert.Eventually(t, func() bool {
		return mr.HGet(kv.NodesModeHash, "e1") == "edge"
	}, time.Second, 10*time.Millisecond)
}

func TestActivityDoubleStart(t *testing.T) {
	kvClient, _ := newTestKV(t)

	a := NewActivity(kvClient, "n1", types.NodeModeNode, time.Second)
	require.NoError(t, a.Start())
	defer a.Stop()

	assert.Error(t, a.Start())
}
