package node

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/JiHungLin/skalds/pkg/bus"
	"github.com/JiHungLin/skalds/pkg/config"
	"github.com/JiHungLin/skalds/pkg/kv"
	"github.com/JiHungLin/skalds/pkg/log"
	"github.com/JiHungLin/skalds/pkg/storage"
	"github.com/JiHungLin/skalds/pkg/survive"
	"github.com/JiHungLin/skalds/pkg/types"
)

// Skald is one worker host. It keeps itself registered in the KV registry,
// heartbeats its own liveness, and supervises task worker subprocesses
// through its TaskWorkerManager.
type Skald struct {
	cfg    *config.Config
	logger zerolog.Logger

	kv       *kv.Client
	db       storage.Store
	producer bus.Producer

	activity  *survive.Activity
	heartbeat *survive.Handler
	manager   *TaskWorkerManager

	started bool
}

// New wires a skald node from its collaborators
func New(cfg *config.Config, kvClient *kv.Client, db storage.Store, producer bus.Producer, classes WorkerClasses) *Skald {
	topics := bus.NodeTopics
	if cfg.Mode == types.NodeModeEdge {
		topics = bus.EdgeTopics
	}

	consumer := bus.NewConsumer(bus.Config{
		Addr:    cfg.KafkaAddr,
		GroupID: cfg.NodeID,
	}, topics)

	return &Skald{
		cfg:       cfg,
		logger:    log.WithNodeID(cfg.NodeID),
		kv:        kvClient,
		db:        db,
		producer:  producer,
		activity:  survive.NewActivity(kvClient, cfg.NodeID, cfg.Mode, survive.DefaultActivityPeriod),
		heartbeat: survive.NewHandler(kvClient, kv.NodeHeartbeatKey(cfg.NodeID), survive.RoleNode, survive.DefaultPeriod),
		manager:   NewTaskWorkerManager(cfg, kvClient, db, producer, consumer, classes),
	}
}

// Manager exposes the task worker manager
func (s *Skald) Manager() *TaskWorkerManager {
	return s.manager
}

// Start brings the node up: manager and consumers first, then the heartbeat
// writers so the controller only sees the node once it can accept work
func (s *Skald) Start(ctx context.Context) error {
	if s.started {
		return fmt.Errorf("skald already started")
	}
	s.started = true

	if err := s.manager.Start(); err != nil {
		return fmt.Errorf("failed to start task worker manager: %w", err)
	}

	if s.cfg.YAMLFile != "" {
		file, err := config.LoadTaskWorkers(s.cfg.YAMLFile)
		if err != nil {
			return err
		}
		if err := s.manager.LoadLocalTasks(ctx, file); err != nil {
			return err
		}
	}

	if err := s.activity.Start(); err != nil {
		return err
	}
	if err := s.heartbeat.Start(); err != nil {
		return err
	}

	s.logger.Info().Str("mode", string(s.cfg.Mode)).Msg("Skald started")
	return nil
}

// Stop tears the node down: heartbeat writers first so peers observe the
// departure, then consumers and subprocesses
func (s *Skald) Stop() {
	if !s.started {
		return
	}
	s.started = false

	s.heartbeat.Stop()
	s.activity.Stop()
	s.manager.Stop()

	s.logger.Info().Msg("Skald stopped")
}
