package survive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/JiHungLin/skalds/pkg/kv"
	"github.com/JiHungLin/skalds/pkg/log"
	"github.com/JiHungLin/skalds/pkg/types"
)

// Role tags the owner of a heartbeat key
type Role string

const (
	RoleNode       Role = "node"
	RoleTaskWorker Role = "taskworker"
)

// DefaultPeriod is the heartbeat write interval
const DefaultPeriod = 1 * time.Second

// Handler periodically writes a monotonic millisecond timestamp to a KV key
// so monitors can observe liveness, and publishes terminal sentinels when the
// owner finishes, fails or is cancelled.
type Handler struct {
	kv     *kv.Client
	key    string
	role   Role
	period time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewHandler creates a heartbeat handler for the given key
func NewHandler(kvClient *kv.Client, key string, role Role, period time.Duration) *Handler {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Handler{
		kv:     kvClient,
		key:    key,
		role:   role,
		period: period,
		logger: log.WithComponent("survive").With().Str("role", string(role)).Str("key", key).Logger(),
	}
}

// Start begins the periodic heartbeat writer
func (h *Handler) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return fmt.Errorf("survive handler already started for %s", h.key)
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.done = make(chan struct{})

	go h.run(h.stopCh, h.done)
	return nil
}

func (h *Handler) run(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.period)
	defer ticker.Stop()

	h.write(types.NowMs())
	for {
		select {
		case <-ticker.C:
			h.write(types.NowMs())
		case <-stopCh:
			return
		}
	}
}

func (h *Handler) write(value int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.kv.SetInt64(ctx, h.key, value); err != nil {
		h.logger.Warn().Err(err).Msg("Heartbeat write failed")
	}
}

// Stop halts the writer. It is idempotent and guarantees no further
// heartbeat writes after it returns.
func (h *Handler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
	<-h.done
}

// PushSuccess writes the SUCCESS sentinel. Call after Stop.
func (h *Handler) PushSuccess() {
	h.write(types.HeartbeatSuccess)
}

// PushFailed writes the FAILED sentinel. Call after Stop.
func (h *Handler) PushFailed() {
	h.write(types.HeartbeatFailed)
}

// PushCancelled writes the CANCELLED sentinel. Call after Stop.
func (h *Handler) PushCancelled() {
	h.write(types.HeartbeatCancelled)
}
