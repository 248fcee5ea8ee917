package survive

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/JiHungLin/skalds/pkg/kv"
	"github.com/JiHungLin/skalds/pkg/log"
	"github.com/JiHungLin/skalds/pkg/types"
)

// DefaultActivityPeriod is the node registry refresh interval
const DefaultActivityPeriod = 3 * time.Second

// Activity keeps a node registered in the KV node registry. Every period it
// refreshes nodes:hash[id] with the current timestamp and nodes:mode:hash[id]
// with the node's mode, which is what the controller's node monitor polls.
type Activity struct {
	kv     *kv.Client
	nodeID string
	mode   types.NodeMode
	period time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewActivity creates a registry refresher for the given node
func NewActivity(kvClient *kv.Client, nodeID string, mode types.NodeMode, period time.Duration) *Activity {
	if period <= 0 {
		period = DefaultActivityPeriod
	}
	return &Activity{
		kv:     kvClient,
		nodeID: nodeID,
		mode:   mode,
		period: period,
		logger: log.WithComponent("survive").With().Str("node_id", nodeID).Logger(),
	}
}

// Start begins the periodic registry refresh
func (a *Activity) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("activity updater already started for node %s", a.nodeID)
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})

	go a.run(a.stopCh, a.done)
	return nil
}

func (a *Activity) run(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.period)
	defer ticker.Stop()

	a.refresh()
	for {
		select {
		case <-ticker.C:
			a.refresh()
		case <-stopCh:
			return
		}
	}
}

func (a *Activity) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.kv.HSet(ctx, kv.NodesHash, a.nodeID, strconv.FormatInt(types.NowMs(), 10)); err != nil {
		a.logger.Warn().Err(err).Msg("Node registry refresh failed")
		return
	}
	if err := a.kv.HSet(ctx, kv.NodesModeHash, a.nodeID, string(a.mode)); err != nil {
		a.logger.Warn().Err(err).Msg("Node mode refresh failed")
	}
}

// Stop halts the refresher and deregisters the node from the registry so
// peers observe the departure immediately
func (a *Activity) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.running = false
	close(a.stopCh)
	<-a.done

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.kv.HDel(ctx, kv.NodesHash, a.nodeID); err != nil {
		a.logger.Warn().Err(err).Msg("Node deregistration failed")
	}
	if err := a.kv.HDel(ctx, kv.NodesModeHash, a.nodeID); err != nil {
		a.logger.Warn().Err(err).Msg("Node mode deregistration failed")
	}
}
