package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codetrail/collector/internal/adapters"
	"github.com/codetrail/collector/internal/backfill"
	"github.com/codetrail/collector/internal/config"
	"github.com/codetrail/collector/internal/hierarchy"
	"github.com/codetrail/collector/internal/logger"
	"github.com/codetrail/collector/internal/repository"
	"github.com/codetrail/collector/internal/repository/sqlite"
	"github.com/codetrail/collector/internal/server"
	"github.com/codetrail/collector/internal/watcher"
)

var version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "collector",
	Short: "AI coding-assistant activity collector",
	Long: `Collects activity events from AI coding-assistant logs, normalizes
them into one canonical event schema, and stores them durably for
later upload.

Supports GitHub Copilot chat sessions, Claude logs, and Cursor logs.`,
	Version: version,
}

func init() {
	backfillCmd.Flags().Int("batch-size", 0, "events per buffer flush (default from config)")
	backfillCmd.Flags().Bool("dry-run", false, "parse without writing to the buffer")
	backfillCmd.Flags().String("from", "", "ignore events before this date (YYYY-MM-DD)")
	backfillCmd.Flags().String("to", "", "ignore events after this date (YYYY-MM-DD)")

	rootCmd.AddCommand(startCmd, backfillCmd, resumeCmd, cancelCmd, statusCmd)
}

// bootstrap wires the shared components every command needs.
func bootstrap(ctx context.Context) (*config.Config, *zap.Logger, *sqlite.Client, repository.EventBuffer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.NewAt(cfg.ServiceEnvironment, cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	client, err := sqlite.NewClient(ctx, cfg.BufferDBPath, log)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	buffer, err := sqlite.NewBuffer(ctx, client, cfg.BufferMaxSize, log)
	if err != nil {
		client.Close()
		return nil, nil, nil, nil, err
	}

	return cfg, log, client, buffer, nil
}

// backfillRunner assembles the runner and its storage for the backfill
// family of commands. The caller owns closing the returned client.
func backfillRunner(ctx context.Context) (*config.Config, *zap.Logger, *backfill.Runner, *sqlite.Client, error) {
	cfg, log, client, buffer, err := bootstrap(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	states, err := sqlite.NewStateStore(ctx, client)
	if err != nil {
		client.Close()
		return nil, nil, nil, nil, err
	}

	cache := hierarchy.NewCache(nil, time.Duration(cfg.HierarchyTTLSec)*time.Second, log)
	registry := adapters.Default(cfg.LegacyProjectID, cache, log)

	return cfg, log, backfill.NewRunner(registry, buffer, states, log), client, nil
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the live collection pipeline",
	Long: `Start the live pipeline: watch discovered agent log locations,
parse changes into canonical events, accept external events over
HTTP and WebSocket, and buffer everything durably.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cfg, log, client, buffer, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		log.Info("Starting collector",
			zap.String("version", version),
			zap.String("environment", cfg.ServiceEnvironment))

		cache := hierarchy.NewCache(nil, time.Duration(cfg.HierarchyTTLSec)*time.Second, log)
		registry := adapters.Default(cfg.LegacyProjectID, cache, log)
		log.Info("Registered agent adapters", zap.Strings("agents", registry.List()))

		w, err := watcher.New(watcher.Config{
			Registry:       registry,
			EventQueueSize: cfg.EventQueueSize,
			DebounceMs:     cfg.WatcherDebounceMs,
			Logger:         log,
		})
		if err != nil {
			return err
		}

		for _, name := range registry.List() {
			adapter, err := registry.Get(name)
			if err != nil {
				continue
			}
			for _, path := range watcher.DiscoverPaths(name) {
				if err := w.Watch(path, adapter); err != nil {
					log.Warn("Failed to watch path",
						zap.String("agent", name),
						zap.String("path", path),
						zap.Error(err))
				}
			}
		}

		w.Start()
		defer w.Stop()

		// Drain the watcher queue into the buffer. Errors are logged
		// but never halt the watcher.
		go func() {
			for event := range w.Events() {
				if err := buffer.Store(ctx, event); err != nil {
					log.Error("Failed to buffer event",
						zap.String("event_id", event.ID),
						zap.Error(err))
				}
			}
		}()

		h := server.NewHandler(buffer, log)
		addr := ":" + cfg.ServerPort
		go func() {
			log.Info("Ingestion server starting", zap.String("address", addr))
			if err := http.ListenAndServe(addr, h); err != nil {
				log.Error("Ingestion server error", zap.Error(err))
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down collector")
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill AGENT PATH",
	Short: "Ingest historical log files for an agent",
	Long: `Run a resumable backfill of historical log files. Progress is
checkpointed per file; re-running after a failure resumes from the
last checkpoint, and completed files are skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		cfg, log, runner, client, err := backfillRunner(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		batchSize, _ := cmd.Flags().GetInt("batch-size")
		if batchSize <= 0 {
			batchSize = cfg.BackfillBatchSize
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		fromDate, err := parseDateFlag(cmd, "from")
		if err != nil {
			return err
		}
		toDate, err := parseDateFlag(cmd, "to")
		if err != nil {
			return err
		}

		result, err := runner.Backfill(ctx, backfill.Config{
			AgentName: args[0],
			LogPath:   watcher.ExpandPath(args[1]),
			BatchSize: batchSize,
			DryRun:    dryRun,
			FromDate:  fromDate,
			ToDate:    toDate,
			Progress: func(p backfill.Progress) {
				log.Info("Backfill progress",
					zap.String("file", p.FilePath),
					zap.Int64("bytes", p.BytesProcessed),
					zap.Int64("total_bytes", p.TotalBytes),
					zap.Int("events", p.EventsProcessed))
			},
		})
		if err != nil {
			return err
		}

		fmt.Printf("Processed %d events (%d skipped, %d unparseable lines) in %s\n",
			result.ProcessedEvents, result.SkippedEvents, result.ErrorLines, result.Duration.Round(time.Millisecond))
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume AGENT",
	Short: "Re-enter a paused or interrupted backfill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		_, _, runner, client, err := backfillRunner(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		result, err := runner.Resume(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Resumed: processed %d events (%d skipped) in %s\n",
			result.ProcessedEvents, result.SkippedEvents, result.Duration.Round(time.Millisecond))
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel AGENT",
	Short: "Pause the agent's in-progress backfills at their last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		_, _, runner, client, err := backfillRunner(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		paused, err := runner.Cancel(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Paused %d backfill(s) for agent %s\n", paused, args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status AGENT",
	Short: "Show backfill progress for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		_, log, client, buffer, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		states, err := sqlite.NewStateStore(ctx, client)
		if err != nil {
			return err
		}

		list, err := states.ListByAgent(ctx, args[0])
		if err != nil {
			return err
		}

		if len(list) == 0 {
			fmt.Printf("No backfill records for agent %s\n", args[0])
		}
		for _, state := range list {
			line := fmt.Sprintf("%-12s %8d events  offset %d  %s",
				state.Status, state.TotalEventsProcessed, state.LastByteOffset, state.LogFilePath)
			if state.ErrorMessage != "" {
				line += "  error: " + state.ErrorMessage
			}
			fmt.Println(line)
		}

		count, err := buffer.Count(ctx)
		if err != nil {
			log.Warn("Failed to count buffered events", zap.Error(err))
			return nil
		}
		fmt.Printf("Buffered events: %d\n", count)
		return nil
	},
}

func parseDateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	value, _ := cmd.Flags().GetString(name)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s date %q: %w", name, value, err)
	}
	return t, nil
}
