package kv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewFromClient(rdb), mr
}

func TestSetGet(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v"))

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	// Missing key yields empty string, no error
	v, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestGetInt64(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetInt64(ctx, "hb", 1700000000000))
	v, ok, err := c.GetInt64(ctx, "hb")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000000), v)

	// Missing key is an absent sample
	v, ok, err = c.GetInt64(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), v)

	// Unparseable value is an absent sample, not an error
	mr.Set("garbage", "not-a-number")
	v, ok, err = c.GetInt64(ctx, "garbage")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), v)

	// Sentinels parse as negative values
	require.NoError(t, c.SetInt64(ctx, "done", -1))
	v, ok, err = c.GetInt64(ctx, "done")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(-1), v)
}

func TestHashOps(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.HSet(ctx, NodesHash, "n1", "100"))
	require.NoError(t, c.HSet(ctx, NodesHash, "n2", "200"))

	v, err := c.HGet(ctx, NodesHash, "n1")
	require.NoError(t, err)
	assert.Equal(t, "100", v)

	all, err := c.HGetAll(ctx, NodesHash)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"n1": "100", "n2": "200"}, all)

	require.NoError(t, c.HDel(ctx, NodesHash, "n1"))
	all, err = c.HGetAll(ctx, NodesHash)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"n2": "200"}, all)

	// Missing field yields empty string
	v, err = c.HGet(ctx, NodesHash, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestDeleteByPrefix(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	// Keys owned by n1 and an unrelated neighbour
	require.NoError(t, c.Set(ctx, NodeHeartbeatKey("n1"), "1"))
	require.NoError(t, c.Set(ctx, NodeAllTaskKey("n1"), "{}"))
	require.NoError(t, c.Set(ctx, NodeHeartbeatKey("n10"), "2"))
	require.NoError(t, c.Set(ctx, TaskHeartbeatKey("t1"), "3"))

	require.NoError(t, c.DeleteByPrefix(ctx, NodePrefix("n1")))

	assert.False(t, mr.Exists(NodeHeartbeatKey("n1")))
	assert.False(t, mr.Exists(NodeAllTaskKey("n1")))
	assert.True(t, mr.Exists(NodeHeartbeatKey("n10")))
	assert.True(t, mr.Exists(TaskHeartbeatKey("t1")))
}

func TestKeyNames(t *testing.T) {
	assert.Equal(t, "node:n1:heartbeat", NodeHeartbeatKey("n1"))
	assert.Equal(t, "node:n1:all-task", NodeAllTaskKey("n1"))
	assert.Equal(t, "node:n1:", NodePrefix("n1"))
	assert.Equal(t, "task:t1:heartbeat", TaskHeartbeatKey("t1"))
	assert.Equal(t, "task:t1:has-error", TaskHasErrorKey("t1"))
	assert.Equal(t, "task:t1:exception", TaskExceptionKey("t1"))
}
