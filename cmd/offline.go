package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"healthnet/pkg/bus"
	"healthnet/pkg/config"
	"healthnet/pkg/logger"
	"healthnet/pkg/offline"

	"github.com/spf13/cobra"
)

var submissionSource string

var offlineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Run the offline sync agent",
	Long:  "Runs the offline agent: serves the cached application shell, queues metric submissions while the backend is unreachable and flushes them when connectivity returns.",
	Run: func(_ *cobra.Command, _ []string) {
		runOffline(func(ctx context.Context, rt *offlineRuntime) error {
			// A failed install leaves the previous generation serving.
			if err := rt.agent.Install(ctx); err != nil {
				rt.log.Warn("Initial cache install failed", "error", err)
			}

			errCh := make(chan error, 2)
			go func() { errCh <- rt.watcher.Run(ctx) }()
			go func() {
				errCh <- rt.server.ListenAndServe(ctx, rt.cfg.Offline.Host, rt.cfg.Offline.Port)
			}()

			rt.log.Info("Offline agent started",
				"backend", rt.cfg.Backend.URL,
				"generation", rt.cfg.Offline.CacheGeneration,
				"queue", rt.cfg.Offline.Queue.Driver,
				"schedule", rt.cfg.Offline.SyncSchedule,
			)

			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				return err
			}
		})
	},
}

var offlineInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Fetch and activate the application shell cache",
	Run: func(_ *cobra.Command, _ []string) {
		runOffline(func(ctx context.Context, rt *offlineRuntime) error {
			if err := rt.agent.Install(ctx); err != nil {
				return err
			}
			fmt.Printf("installed cache generation %s\n", rt.cfg.Offline.CacheGeneration)
			return nil
		})
	},
}

var offlineFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Submit queued metrics to the backend now",
	Run: func(_ *cobra.Command, _ []string) {
		runOffline(func(ctx context.Context, rt *offlineRuntime) error {
			before, err := rt.agent.QueueLen(ctx)
			if err != nil {
				return err
			}
			if err := rt.agent.HandleSync(ctx, offline.SyncMetricsTag); err != nil {
				return err
			}
			fmt.Printf("flushed %d queued submissions\n", before)
			return nil
		})
	},
}

var offlineEnqueueCmd = &cobra.Command{
	Use:   "enqueue <json>",
	Short: "Queue a metrics submission for the next sync",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		runOffline(func(ctx context.Context, rt *offlineRuntime) error {
			entry, err := rt.agent.Enqueue(ctx, submissionSource, json.RawMessage(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("queued %s\n", entry.ID)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(offlineCmd)
	offlineCmd.AddCommand(offlineInstallCmd, offlineFlushCmd, offlineEnqueueCmd)
	offlineEnqueueCmd.Flags().StringVar(&submissionSource, "source", "cli", "source recorded with the submission")
}

// offlineRuntime is the wired agent stack shared by the offline commands.
type offlineRuntime struct {
	cfg     *config.Config
	log     *slog.Logger
	bus     *bus.Bus
	store   *offline.Store
	queue   offline.Queue
	agent   *offline.Agent
	watcher *offline.Watcher
	server  *offline.Server
}

func newOfflineRuntime(cfg *config.Config, log *slog.Logger) (*offlineRuntime, error) {
	dataDir, err := offline.ResolveDataDir(cfg.Offline.DataDir)
	if err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}

	store, err := offline.OpenStore(offline.FileDSN(offline.DatabasePath(dataDir)))
	if err != nil {
		return nil, err
	}

	queue, err := offline.NewQueue(cfg.Offline.Queue, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	network, err := offline.NewHTTPNetwork(cfg.Backend.URL, nil)
	if err != nil {
		queue.Close()
		store.Close()
		return nil, err
	}

	eventBus := bus.New()
	agent, err := offline.NewAgent(offline.AgentOptions{
		Generation: cfg.Offline.CacheGeneration,
		Manifest:   cfg.Offline.Manifest,
		SyncPath:   cfg.Offline.SyncPath,
		Cache:      offline.NewCache(store),
		Queue:      queue,
		Network:    network,
		Bus:        eventBus,
		Logger:     log,
	})
	if err != nil {
		queue.Close()
		store.Close()
		return nil, err
	}

	watcher, err := offline.NewWatcher(offline.WatcherOptions{
		Agent:      agent,
		Network:    network,
		Schedule:   cfg.Offline.SyncSchedule,
		HealthPath: cfg.Offline.HealthPath,
		Bus:        eventBus,
		Logger:     log,
	})
	if err != nil {
		queue.Close()
		store.Close()
		return nil, err
	}

	return &offlineRuntime{
		cfg:     cfg,
		log:     log,
		bus:     eventBus,
		store:   store,
		queue:   queue,
		agent:   agent,
		watcher: watcher,
		server:  offline.NewServer(agent, watcher, log),
	}, nil
}

func (rt *offlineRuntime) Close() {
	rt.bus.Close()
	if err := rt.queue.Close(); err != nil {
		rt.log.Warn("Close queue", "error", err)
	}
	if err := rt.store.Close(); err != nil {
		rt.log.Warn("Close store", "error", err)
	}
}

// runOffline loads configuration, wires the agent, runs its event loop and
// hands control to fn until fn returns or the process is interrupted.
func runOffline(fn func(ctx context.Context, rt *offlineRuntime) error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		return
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		return
	}
	slog.SetDefault(appLogger)
	log := slog.Default().With("component", "cmd.offline")

	rt, err := newOfflineRuntime(cfg, log)
	if err != nil {
		log.Error("Failed to initialize offline agent", "error", err)
		return
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go bus.Observe(ctx, rt.bus, log)

	agentCtx, cancelAgent := context.WithCancel(ctx)
	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		_ = rt.agent.Run(agentCtx)
	}()
	defer func() {
		cancelAgent()
		<-agentDone
	}()

	if err := fn(ctx, rt); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error("Offline agent failed", "error", err, "category", offline.CategoryFromError(err))
		fmt.Printf("offline agent failed: %v\n", err)
	}
}
