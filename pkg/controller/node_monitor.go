package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/JiHungLin/skalds/pkg/kv"
	"github.com/JiHungLin/skalds/pkg/log"
	"github.com/JiHungLin/skalds/pkg/metrics"
	"github.com/JiHungLin/skalds/pkg/types"
)

// DefaultNodeMonitorInterval is how often the node registry is reconciled
const DefaultNodeMonitorInterval = 5 * time.Second

// NodeMonitor reconciles the KV node registry into the controller's node
// store and evicts nodes that stopped refreshing their registry entry.
type NodeMonitor struct {
	kv                *kv.Client
	store             *NodeStore
	interval          time.Duration
	livenessTimeoutMs int64
	logger            zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewNodeMonitor creates a node monitor
func NewNodeMonitor(kvClient *kv.Client, store *NodeStore, interval time.Duration) *NodeMonitor {
	if interval <= 0 {
		interval = DefaultNodeMonitorInterval
	}
	return &NodeMonitor{
		kv:                kvClient,
		store:             store,
		interval:          interval,
		livenessTimeoutMs: DefaultLivenessTimeoutMs,
		logger:            log.WithComponent("node-monitor"),
	}
}

// Start begins the monitor loop. Starting twice is a programming error.
func (m *NodeMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("node monitor already started")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})

	go m.run(m.stopCh, m.done)
	m.logger.Info().Dur("interval", m.interval).Msg("Node monitor started")
	return nil
}

// Stop halts the monitor loop with a bounded wait
func (m *NodeMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)

	select {
	case <-m.done:
	case <-time.After(10 * time.Second):
		m.logger.Warn().Msg("Node monitor did not stop in time")
	}
}

func (m *NodeMonitor) run(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.tick(); err != nil {
				// Log error but continue
				m.logger.Error().Err(err).Msg("Node monitor cycle failed")
			}
		case <-stopCh:
			m.logger.Info().Msg("Node monitor stopped")
			return
		}
	}
}

// tick performs one reconciliation cycle against the KV registry
func (m *NodeMonitor) tick() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snapshot, err := m.kv.HGetAll(ctx, kv.NodesHash)
	if err != nil {
		return fmt.Errorf("failed to read node registry: %w", err)
	}
	modes, err := m.kv.HGetAll(ctx, kv.NodesModeHash)
	if err != nil {
		return fmt.Errorf("failed to read node modes: %w", err)
	}

	// Upsert every registered node. The latest observed timestamp wins when
	// a node flaps within one tick.
	parsed := make(map[string]int64, len(snapshot))
	for id, raw := range snapshot {
		if id == "" {
			continue
		}
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			m.logger.Error().Str("node_id", id).Str("value", raw).Msg("Unparseable registry timestamp, dropping entry")
			continue
		}
		parsed[id] = ts
		m.store.Upsert(id, ts)
	}

	// Remove nodes that disappeared from the registry
	for _, id := range m.store.IDs() {
		if _, ok := parsed[id]; !ok {
			m.purgeNode(ctx, id, false)
		}
	}

	// Evict nodes that stopped refreshing
	now := types.NowMs()
	for id, ts := range parsed {
		if now-ts > m.livenessTimeoutMs {
			m.logger.Warn().
				Str("node_id", id).
				Int64("stale_ms", now-ts).
				Msg("Node timed out, evicting")
			m.purgeNode(ctx, id, true)
			delete(parsed, id)
		}
	}

	// Refresh heartbeat, mode and task list for survivors
	for id := range parsed {
		if mode, ok := modes[id]; ok {
			m.store.SetMode(id, types.NodeMode(mode))
		}

		hb, _, err := m.kv.GetInt64(ctx, kv.NodeHeartbeatKey(id))
		if err != nil {
			m.logger.Warn().Err(err).Str("node_id", id).Msg("Failed to read node heartbeat")
		} else {
			m.store.SetHeartbeat(id, hb)
		}

		raw, err := m.kv.Get(ctx, kv.NodeAllTaskKey(id))
		if err != nil {
			m.logger.Warn().Err(err).Str("node_id", id).Msg("Failed to read node task list")
			continue
		}
		if raw == "" {
			m.store.SetTasks(id, nil)
			continue
		}
		var list types.TaskWorkerSimpleMapList
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			m.logger.Error().Err(err).Str("node_id", id).Msg("Unparseable node task list")
			continue
		}
		m.store.SetTasks(id, list.Tasks)
	}

	metrics.NodesTracked.Set(float64(m.store.Len()))
	return nil
}

// purgeNode removes the node's KV keyspace before touching the registry so
// an interrupted tick never leaves orphaned node:{id}:* keys behind
func (m *NodeMonitor) purgeNode(ctx context.Context, id string, deregister bool) {
	if err := m.kv.DeleteByPrefix(ctx, kv.NodePrefix(id)); err != nil {
		m.logger.Warn().Err(err).Str("node_id", id).Msg("Failed to purge node keys")
	}
	if deregister {
		if err := m.kv.HDel(ctx, kv.NodesHash, id); err != nil {
			m.logger.Warn().Err(err).Str("node_id", id).Msg("Failed to deregister node")
		}
		if err := m.kv.HDel(ctx, kv.NodesModeHash, id); err != nil {
			m.logger.Warn().Err(err).Str("node_id", id).Msg("Failed to deregister node mode")
		}
	}
	m.store.Delete(id)
	metrics.NodesEvicted.Inc()
}
