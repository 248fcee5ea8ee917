package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiHungLin/skalds/pkg/types"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.NotEmpty(t, cfg.NodeID)
	assert.Equal(t, types.NodeModeNode, cfg.Mode)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "localhost:9092", cfg.KafkaAddr)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, "skalds", cfg.DBName)
	assert.Equal(t, 6, cfg.TopicPartitions)
	assert.Equal(t, 3, cfg.ReplicationFactor)
	assert.Equal(t, 3*time.Second, cfg.KVSyncPeriod)
	assert.Equal(t, 5*time.Second, cfg.GracefulKillTimeout)
	assert.Equal(t, "resourceId", cfg.ResourceKey)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SKALD_ID", "skald-test")
	t.Setenv("SKALD_MODE", "edge")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("MONITOR_TASK_INTERVAL", "7")
	t.Setenv("KAFKA_TOPIC_PARTITIONS", "12")

	cfg := FromEnv()

	assert.Equal(t, "skald-test", cfg.NodeID)
	assert.Equal(t, types.NodeModeEdge, cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, 7*time.Second, cfg.TaskMonitorInterval)
	assert.Equal(t, 12, cfg.TopicPartitions)
}

func TestValidate(t *testing.T) {
	cfg := FromEnv()
	cfg.Mode = "hybrid"
	assert.Error(t, cfg.Validate())

	cfg = FromEnv()
	cfg.NodeID = ""
	assert.Error(t, cfg.Validate())

	cfg = FromEnv()
	cfg.TopicPartitions = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadTaskWorkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workers.yaml")
	content := `
TaskWorkers:
  stream-1:
    className: VideoStream
    attachments:
      resourceId: cam-1
      rtspUrl: rtsp://example.com/stream
  probe-1:
    className: Probe
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	file, err := LoadTaskWorkers(path)
	require.NoError(t, err)
	require.Len(t, file.TaskWorkers, 2)

	stream := file.TaskWorkers["stream-1"]
	assert.Equal(t, "VideoStream", stream.ClassName)
	assert.Equal(t, "cam-1", stream.Attachments["resourceId"])
	assert.Equal(t, "rtsp://example.com/stream", stream.Attachments["rtspUrl"])

	probe := file.TaskWorkers["probe-1"]
	assert.Equal(t, "Probe", probe.ClassName)
	assert.Nil(t, probe.Attachments)
}

func TestLoadTaskWorkersEmptyPath(t *testing.T) {
	file, err := LoadTaskWorkers("")
	require.NoError(t, err)
	assert.Empty(t, file.TaskWorkers)
}

func TestLoadTaskWorkersMissingClassName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workers.yaml")
	content := `
TaskWorkers:
  broken:
    attachments:
      resourceId: cam-1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadTaskWorkers(path)
	assert.Error(t, err)
}

func TestLoadTaskWorkersMissingFile(t *testing.T) {
	_, err := LoadTaskWorkers("/nonexistent/workers.yaml")
	assert.Error(t, err)
}
