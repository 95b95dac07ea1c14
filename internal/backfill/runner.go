package backfill

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/codetrail/collector/internal/adapters"
	"github.com/codetrail/collector/internal/domain"
	"github.com/codetrail/collector/internal/repository"
)

// DefaultBatchSize is the flush threshold used when none is configured.
const DefaultBatchSize = 100

// Runner orchestrates resumable ingestion of historical log files:
// discover files, parse via an adapter, write to the event buffer,
// checkpoint progress.
type Runner struct {
	registry *adapters.Registry
	buffer   repository.EventBuffer
	states   repository.StateStore
	log      *zap.Logger
}

// Config specifies parameters for one backfill invocation.
type Config struct {
	AgentName string
	LogPath   string
	BatchSize int
	DryRun    bool
	FromDate  time.Time
	ToDate    time.Time
	Progress  ProgressFunc
}

// Result aggregates what a backfill invocation did.
type Result struct {
	TotalEvents     int
	ProcessedEvents int
	SkippedEvents   int
	ErrorLines      int
	BytesProcessed  int64
	Duration        time.Duration
}

// Progress is a point-in-time snapshot reported to the progress
// callback.
type Progress struct {
	AgentName       string
	FilePath        string
	BytesProcessed  int64
	TotalBytes      int64
	EventsProcessed int
}

// ProgressFunc receives throttled progress updates.
type ProgressFunc func(Progress)

// NewRunner creates a backfill runner.
func NewRunner(registry *adapters.Registry, buffer repository.EventBuffer, states repository.StateStore, log *zap.Logger) *Runner {
	return &Runner{
		registry: registry,
		buffer:   buffer,
		states:   states,
		log:      log,
	}
}

// Backfill ingests the configured path. An unknown agent name is fatal
// for the call; per-file failures inside a directory walk are logged
// and skipped.
func (r *Runner) Backfill(ctx context.Context, cfg Config) (*Result, error) {
	adapter, err := r.registry.Get(cfg.AgentName)
	if err != nil {
		return nil, fmt.Errorf("no adapter for agent %s: %w", cfg.AgentName, err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	info, err := os.Stat(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat log path: %w", err)
	}

	start := time.Now()

	var result *Result
	if info.IsDir() {
		result, err = r.backfillDirectory(ctx, cfg, adapter)
	} else {
		result, err = r.backfillFile(ctx, cfg, adapter, cfg.LogPath)
	}
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	r.log.Info("Backfill finished",
		zap.String("agent", cfg.AgentName),
		zap.String("path", cfg.LogPath),
		zap.Int("processed", result.ProcessedEvents),
		zap.Int("skipped", result.SkippedEvents),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// Resume re-enters the first paused or in-progress backfill recorded
// for the agent.
func (r *Runner) Resume(ctx context.Context, agentName string) (*Result, error) {
	states, err := r.states.ListByAgent(ctx, agentName)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}

	for _, state := range states {
		if state.Status == repository.StatusPaused || state.Status == repository.StatusInProgress {
			return r.Backfill(ctx, Config{
				AgentName: agentName,
				LogPath:   state.LogFilePath,
			})
		}
	}

	return nil, fmt.Errorf("no resumable backfill found for agent %s", agentName)
}

// Cancel marks every in-progress backfill for the agent paused, so a
// later Resume re-enters it from its last checkpoint. It returns the
// number of states paused.
func (r *Runner) Cancel(ctx context.Context, agentName string) (int, error) {
	states, err := r.states.ListByAgent(ctx, agentName)
	if err != nil {
		return 0, fmt.Errorf("failed to list states: %w", err)
	}

	paused := 0
	for _, state := range states {
		if state.Status != repository.StatusInProgress {
			continue
		}
		state.Status = repository.StatusPaused
		if err := r.states.Save(ctx, state); err != nil {
			return paused, fmt.Errorf("failed to save state: %w", err)
		}
		paused++
	}

	r.log.Info("Backfills paused",
		zap.String("agent", agentName),
		zap.Int("count", paused))

	return paused, nil
}

// Status returns all backfill states recorded for an agent.
func (r *Runner) Status(ctx context.Context, agentName string) ([]*repository.BackfillState, error) {
	return r.states.ListByAgent(ctx, agentName)
}

// backfillDirectory walks the directory recursively and processes each
// allow-listed file independently.
func (r *Runner) backfillDirectory(ctx context.Context, cfg Config, adapter adapters.Adapter) (*Result, error) {
	var files []string
	err := filepath.Walk(cfg.LogPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && isLogFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	r.log.Info("Scanning directory for backfill",
		zap.String("path", cfg.LogPath),
		zap.Int("files", len(files)))

	combined := &Result{}
	for _, file := range files {
		select {
		case <-ctx.Done():
			return combined, ctx.Err()
		default:
		}

		result, err := r.backfillFile(ctx, cfg, adapter, file)
		if err != nil {
			r.log.Warn("Failed to backfill file",
				zap.String("file", file),
				zap.Error(err))
			continue
		}

		combined.TotalEvents += result.TotalEvents
		combined.ProcessedEvents += result.ProcessedEvents
		combined.SkippedEvents += result.SkippedEvents
		combined.ErrorLines += result.ErrorLines
		combined.BytesProcessed += result.BytesProcessed
	}

	return combined, nil
}

// backfillFile processes a single file through its checkpoint state
// machine: new → in_progress → completed or failed.
func (r *Runner) backfillFile(ctx context.Context, cfg Config, adapter adapters.Adapter, path string) (*Result, error) {
	state, err := r.states.Load(ctx, cfg.AgentName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	if state.Status == repository.StatusCompleted {
		r.log.Debug("File already backfilled", zap.String("file", path))
		return &Result{SkippedEvents: state.TotalEventsProcessed}, nil
	}

	// Persist in_progress before any parsing so a crash mid-parse is
	// observably different from "never started". Dry runs leave the
	// durable state untouched.
	state.Status = repository.StatusInProgress
	state.ErrorMessage = ""
	if !cfg.DryRun {
		if err := r.states.Save(ctx, state); err != nil {
			return nil, fmt.Errorf("failed to save state: %w", err)
		}
	}

	if adapter.WholeFile() {
		return r.backfillWholeFile(ctx, cfg, adapter, path, state)
	}
	return r.backfillStreaming(ctx, cfg, adapter, path, state)
}

// backfillWholeFile parses the entire file at once and writes the
// events in batches, checkpointing counts between batches. No byte
// offset is tracked in this mode: a crash mid-file re-parses the file
// from scratch on resume.
func (r *Runner) backfillWholeFile(ctx context.Context, cfg Config, adapter adapters.Adapter, path string, state *repository.BackfillState) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, r.fail(ctx, cfg, state, err)
	}
	totalBytes := info.Size()

	events, err := adapter.ParseFile(path)
	if err != nil {
		return nil, r.fail(ctx, cfg, state, fmt.Errorf("failed to parse file: %w", err))
	}

	result := &Result{TotalEvents: len(events), BytesProcessed: totalBytes}

	filtered := events[:0:len(events)]
	for _, event := range events {
		if outsideDateRange(cfg, event.Timestamp) {
			result.SkippedEvents++
			continue
		}
		filtered = append(filtered, event)
	}

	for start := 0; start < len(filtered); start += cfg.BatchSize {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		end := start + cfg.BatchSize
		if end > len(filtered) {
			end = len(filtered)
		}
		batch := filtered[start:end]

		if !cfg.DryRun {
			inserted, err := r.buffer.StoreBatch(ctx, batch)
			result.ProcessedEvents += inserted
			if err != nil {
				return result, r.fail(ctx, cfg, state, fmt.Errorf("failed to store batch: %w", err))
			}

			state.TotalEventsProcessed = result.ProcessedEvents
			ts := batch[len(batch)-1].Timestamp
			state.LastTimestamp = &ts
			if err := r.states.Save(ctx, state); err != nil {
				return result, r.fail(ctx, cfg, state, fmt.Errorf("failed to checkpoint: %w", err))
			}
		} else {
			result.ProcessedEvents += len(batch)
		}

		r.reportProgress(cfg, path, totalBytes*int64(end)/int64(max(len(filtered), 1)), totalBytes, result.ProcessedEvents)
	}

	return result, r.complete(ctx, cfg, state, totalBytes, result.ProcessedEvents)
}

// backfillStreaming reads the file line by line from the last
// checkpointed byte offset, flushing batches to the buffer and
// checkpointing offset, count, and timestamp as one write per flush.
// Lines that yield no event still advance the offset.
func (r *Runner) backfillStreaming(ctx context.Context, cfg Config, adapter adapters.Adapter, path string, state *repository.BackfillState) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, r.fail(ctx, cfg, state, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, r.fail(ctx, cfg, state, err)
	}
	totalBytes := info.Size()

	if state.LastByteOffset > 0 {
		r.log.Info("Resuming from checkpoint",
			zap.String("file", path),
			zap.Int64("offset", state.LastByteOffset))
		if _, err := file.Seek(state.LastByteOffset, 0); err != nil {
			return nil, r.fail(ctx, cfg, state, fmt.Errorf("failed to seek: %w", err))
		}
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	result := &Result{ProcessedEvents: state.TotalEventsProcessed}
	batch := make([]*domain.Event, 0, cfg.BatchSize)
	offset := state.LastByteOffset
	var lastTimestamp *time.Time
	lastProgress := time.Now()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if !cfg.DryRun {
			inserted, err := r.buffer.StoreBatch(ctx, batch)
			result.ProcessedEvents += inserted
			if err != nil {
				return fmt.Errorf("failed to store batch: %w", err)
			}

			state.LastByteOffset = offset
			state.TotalEventsProcessed = result.ProcessedEvents
			state.LastTimestamp = lastTimestamp
			if err := r.states.Save(ctx, state); err != nil {
				return fmt.Errorf("failed to checkpoint: %w", err)
			}
		} else {
			result.ProcessedEvents += len(batch)
		}
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			// The last flushed checkpoint stands; retry resumes there.
			return result, ctx.Err()
		default:
		}

		line := scanner.Text()
		lineBytes := int64(len(line)) + 1 // newline separator

		event, err := adapter.ParseLine(line)
		if err != nil {
			result.ErrorLines++
			offset += lineBytes
			continue
		}
		if event == nil {
			offset += lineBytes
			continue
		}

		offset += lineBytes
		result.TotalEvents++

		if outsideDateRange(cfg, event.Timestamp) {
			result.SkippedEvents++
			continue
		}

		batch = append(batch, event)
		ts := event.Timestamp
		lastTimestamp = &ts

		if len(batch) >= cfg.BatchSize {
			if err := flush(); err != nil {
				return result, r.fail(ctx, cfg, state, err)
			}

			if time.Since(lastProgress) > time.Second {
				r.reportProgress(cfg, path, offset, totalBytes, result.ProcessedEvents)
				lastProgress = time.Now()
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return result, r.fail(ctx, cfg, state, fmt.Errorf("scanner error: %w", err))
	}

	if err := flush(); err != nil {
		return result, r.fail(ctx, cfg, state, err)
	}

	result.BytesProcessed = offset

	return result, r.complete(ctx, cfg, state, totalBytes, result.ProcessedEvents)
}

// fail records the error in durable state and passes it through.
func (r *Runner) fail(ctx context.Context, cfg Config, state *repository.BackfillState, cause error) error {
	state.Status = repository.StatusFailed
	state.ErrorMessage = cause.Error()
	if !cfg.DryRun {
		if err := r.states.Save(ctx, state); err != nil {
			r.log.Error("Failed to persist failure state", zap.Error(err))
		}
	}
	return cause
}

// complete marks the state completed with the final offset forced to
// the file's total byte length.
func (r *Runner) complete(ctx context.Context, cfg Config, state *repository.BackfillState, totalBytes int64, processed int) error {
	now := time.Now()
	state.Status = repository.StatusCompleted
	state.CompletedAt = &now
	state.LastByteOffset = totalBytes
	state.TotalEventsProcessed = processed
	if cfg.DryRun {
		return nil
	}
	if err := r.states.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save final state: %w", err)
	}
	return nil
}

func (r *Runner) reportProgress(cfg Config, path string, bytes, totalBytes int64, processed int) {
	if cfg.Progress == nil {
		return
	}
	cfg.Progress(Progress{
		AgentName:       cfg.AgentName,
		FilePath:        path,
		BytesProcessed:  bytes,
		TotalBytes:      totalBytes,
		EventsProcessed: processed,
	})
}

func outsideDateRange(cfg Config, ts time.Time) bool {
	if !cfg.FromDate.IsZero() && ts.Before(cfg.FromDate) {
		return true
	}
	if !cfg.ToDate.IsZero() && ts.After(cfg.ToDate) {
		return true
	}
	return false
}

// isLogFile gates the directory walk to known log extensions.
func isLogFile(path string) bool {
	switch filepath.Ext(path) {
	case ".log", ".txt", ".json", ".jsonl", ".ndjson":
		return true
	}
	return false
}
