package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JiHungLin/skalds/pkg/bus"
	"github.com/JiHungLin/skalds/pkg/config"
	"github.com/JiHungLin/skalds/pkg/controller"
	"github.com/JiHungLin/skalds/pkg/kv"
	"github.com/JiHungLin/skalds/pkg/log"
	"github.com/JiHungLin/skalds/pkg/metrics"
	"github.com/JiHungLin/skalds/pkg/node"
	"github.com/JiHungLin/skalds/pkg/storage"
	"github.com/JiHungLin/skalds/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// registry holds the worker classes available to this binary. Deployments
// embedding skalds as a library register their classes on their own registry
// and wire the same command tree.
var registry = worker.NewRegistry()

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "skalds",
	Short: "Skalds - distributed task-execution fabric",
	Long: `Skalds runs long-lived task subprocesses across a fleet of worker
nodes. A controller assigns tasks over the message bus, nodes supervise one
OS subprocess per task, and all coordination flows through the KV store, the
bus and the task database.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Skalds version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	// Initialize logging before command execution
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(controllerCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(workerExecCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the Skalds controller",
	Long: `Run the controller. Monitor mode runs the node monitor and the task
monitor; dispatcher mode (the default) adds the assignment loop; controller
mode runs the stores only. At most one controller may be active per cluster.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")

		cfg := config.FromEnv()
		if err := cfg.Validate(); err != nil {
			return err
		}

		kvClient, err := kv.Connect(kv.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer kvClient.Close()

		db, err := storage.ConnectMongo(cfg.MongoURI, cfg.DBName)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.EnsureIndexes(cmd.Context()); err != nil {
			return err
		}

		busCfg := bus.Config{
			Addr:              cfg.KafkaAddr,
			Partitions:        cfg.TopicPartitions,
			ReplicationFactor: cfg.ReplicationFactor,
		}
		if err := bus.EnsureTopics(busCfg); err != nil {
			log.Logger.Warn().Err(err).Msg("Failed to ensure bus topics, continuing")
		}
		producer := bus.NewProducer(busCfg)
		defer producer.Close()

		ctrl := controller.New(controller.Config{
			Mode:                controller.Mode(mode),
			NodeMonitorInterval: cfg.NodeMonitorInterval,
			TaskMonitorInterval: cfg.TaskMonitorInterval,
			DispatcherInterval:  cfg.DispatcherInterval,
		}, kvClient, db, producer)

		if err := ctrl.Start(); err != nil {
			return err
		}
		defer ctrl.Stop()

		serveMetrics(cfg.MetricsAddr)
		waitForShutdown()
		return nil
	},
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a skald worker node",
	Long: `Run a skald: register in the node registry, heartbeat liveness and
supervise task worker subprocesses. Edge mode only runs locally-declared
Active tasks and never accepts controller-dispatched work.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		if err := cfg.Validate(); err != nil {
			return err
		}

		kvClient, err := kv.Connect(kv.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer kvClient.Close()

		db, err := storage.ConnectMongo(cfg.MongoURI, cfg.DBName)
		if err != nil {
			return err
		}
		defer db.Close()

		producer := bus.NewProducer(bus.Config{Addr: cfg.KafkaAddr})
		defer producer.Close()

		skald := node.New(cfg, kvClient, db, producer, registry)
		if err := skald.Start(cmd.Context()); err != nil {
			return err
		}
		defer skald.Stop()

		serveMetrics(cfg.MetricsAddr)
		waitForShutdown()
		return nil
	},
}

var workerExecCmd = &cobra.Command{
	Use:    worker.ExecArg,
	Short:  "Run a task worker subprocess (spawned by a skald node)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return worker.RunFromEnv(config.FromEnv(), registry)
	},
}

func init() {
	controllerCmd.Flags().String("mode", string(controller.ModeDispatcher), "Controller mode (controller, monitor, dispatcher)")
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Logger.Warn().Err(err).Msg("Metrics server stopped")
		}
	}()
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
}
