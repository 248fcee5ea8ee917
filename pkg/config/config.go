package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JiHungLin/skalds/pkg/types"
)

// Config holds the runtime configuration for a skald node or controller.
// Every field has an environment variable with a sensible default, so a bare
// process comes up against local collaborators.
type Config struct {
	// Node identity
	NodeID string
	Mode   types.NodeMode

	// KV (Redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KVSyncPeriod  time.Duration

	// BUS (Kafka)
	KafkaAddr         string
	TopicPartitions   int
	ReplicationFactor int

	// DB (MongoDB)
	MongoURI string
	DBName   string

	// Controller loop intervals
	NodeMonitorInterval time.Duration
	TaskMonitorInterval time.Duration
	DispatcherInterval  time.Duration

	// Worker supervision
	GracefulKillTimeout time.Duration
	ResourceKey         string

	// Local Active task declarations
	YAMLFile string

	// Observability
	MetricsAddr string
}

// FromEnv builds a Config from environment variables with defaults
func FromEnv() *Config {
	return &Config{
		NodeID: getEnv("SKALD_ID", fmt.Sprintf("skald-%s", uuid.NewString()[:5])),
		Mode:   types.NodeMode(getEnv("SKALD_MODE", string(types.NodeModeNode))),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		KVSyncPeriod:  getEnvSeconds("REDIS_SYNC_PERIOD", 3),

		KafkaAddr:         getEnv("KAFKA_ADDR", "localhost:9092"),
		TopicPartitions:   getEnvInt("KAFKA_TOPIC_PARTITIONS", 6),
		ReplicationFactor: getEnvInt("KAFKA_REPLICATION_FACTOR", 3),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:   getEnv("DB_NAME", "skalds"),

		NodeMonitorInterval: getEnvSeconds("MONITOR_SKALD_INTERVAL", 5),
		TaskMonitorInterval: getEnvSeconds("MONITOR_TASK_INTERVAL", 3),
		DispatcherInterval:  getEnvSeconds("DISPATCHER_INTERVAL", 5),

		GracefulKillTimeout: getEnvSeconds("GRACEFUL_KILL_TIMEOUT", 5),
		ResourceKey:         getEnv("RESOURCE_KEY", "resourceId"),

		YAMLFile: getEnv("YAML_FILE", ""),

		MetricsAddr: getEnv("METRICS_ADDR", ""),
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	switch c.Mode {
	case types.NodeModeNode, types.NodeModeEdge:
	default:
		return fmt.Errorf("invalid skald mode %q", c.Mode)
	}
	if c.TopicPartitions <= 0 {
		return fmt.Errorf("topic partitions must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}
