package controller

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/JiHungLin/skalds/pkg/bus"
	"github.com/JiHungLin/skalds/pkg/kv"
	"github.com/JiHungLin/skalds/pkg/log"
	"github.com/JiHungLin/skalds/pkg/storage"
)

// Mode selects which controller components run
type Mode string

const (
	// ModeController runs only the stores (API-facing deployments)
	ModeController Mode = "controller"

	// ModeMonitor runs the node and task monitors
	ModeMonitor Mode = "monitor"

	// ModeDispatcher runs monitors plus the dispatcher (the full system)
	ModeDispatcher Mode = "dispatcher"
)

// Config holds controller construction parameters
type Config struct {
	Mode                Mode
	NodeMonitorInterval time.Duration
	TaskMonitorInterval time.Duration
	DispatcherInterval  time.Duration
}

// Controller owns the control-plane singletons: the node and task stores,
// both monitors and the dispatcher. At most one controller instance may be
// active per cluster; there is no leader election.
type Controller struct {
	cfg    Config
	logger zerolog.Logger

	Nodes *NodeStore
	Tasks *TaskStore

	nodeMonitor *NodeMonitor
	taskMonitor *TaskMonitor
	dispatcher  *Dispatcher

	started bool
}

// New wires a controller from its collaborators
func New(cfg Config, kvClient *kv.Client, db storage.Store, producer bus.Producer) *Controller {
	nodes := NewNodeStore()
	tasks := NewTaskStore()

	c := &Controller{
		cfg:    cfg,
		logger: log.WithComponent("controller"),
		Nodes:  nodes,
		Tasks:  tasks,
	}

	if cfg.Mode == ModeMonitor || cfg.Mode == ModeDispatcher {
		c.nodeMonitor = NewNodeMonitor(kvClient, nodes, cfg.NodeMonitorInterval)
		c.taskMonitor = NewTaskMonitor(kvClient, db, producer, tasks, cfg.TaskMonitorInterval)
	}
	if cfg.Mode == ModeDispatcher {
		c.dispatcher = NewDispatcher(db, producer, nodes, cfg.DispatcherInterval)
	}

	return c
}

// Start launches all components for the configured mode
func (c *Controller) Start() error {
	if c.started {
		return fmt.Errorf("controller already started")
	}
	c.started = true

	if c.nodeMonitor != nil {
		if err := c.nodeMonitor.Start(); err != nil {
			return err
		}
	}
	if c.taskMonitor != nil {
		if err := c.taskMonitor.Start(); err != nil {
			return err
		}
	}
	if c.dispatcher != nil {
		if err := c.dispatcher.Start(); err != nil {
			return err
		}
	}

	c.logger.Info().Str("mode", string(c.cfg.Mode)).Msg("Controller started")
	return nil
}

// Stop halts all components, dispatcher first so no new assignments are
// published while the monitors drain
func (c *Controller) Stop() {
	if !c.started {
		return
	}
	c.started = false

	if c.dispatcher != nil {
		c.dispatcher.Stop()
	}
	if c.taskMonitor != nil {
		c.taskMonitor.Stop()
	}
	if c.nodeMonitor != nil {
		c.nodeMonitor.Stop()
	}

	c.logger.Info().Msg("Controller stopped")
}
