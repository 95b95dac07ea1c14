package backfill

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codetrail/collector/internal/adapters"
	"github.com/codetrail/collector/internal/repository"
	"github.com/codetrail/collector/internal/repository/sqlite"
)

const (
	claudeLine1 = `{"timestamp":"2025-10-31T10:00:00Z","type":"llm_request","session_id":"s1","prompt":"one"}`
	claudeLine2 = `{"timestamp":"2025-10-31T10:01:00Z","type":"llm_response","session_id":"s1","response":"two"}`
	claudeLine3 = `{"timestamp":"2025-10-31T10:02:00Z","type":"tool_use","session_id":"s1","tool_name":"bash"}`
	noiseLine   = `{"level":"info","message":"agent booted"}`
)

type fixture struct {
	runner *Runner
	buffer repository.EventBuffer
	states repository.StateStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop()

	client, err := sqlite.NewClient(ctx, filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	buffer, err := sqlite.NewBuffer(ctx, client, 1000, log)
	require.NoError(t, err)

	states, err := sqlite.NewStateStore(ctx, client)
	require.NoError(t, err)

	registry := adapters.Default("default", nil, log)

	return &fixture{
		runner: NewRunner(registry, buffer, states, log),
		buffer: buffer,
		states: states,
	}
}

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude.jsonl")
	var content string
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBackfillStreamingFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeLog(t, claudeLine1, noiseLine, claudeLine2, claudeLine3)

	info, err := os.Stat(path)
	require.NoError(t, err)

	result, err := f.runner.Backfill(ctx, Config{
		AgentName: "claude",
		LogPath:   path,
		BatchSize: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalEvents)
	assert.Equal(t, 3, result.ProcessedEvents)
	assert.Equal(t, 0, result.SkippedEvents)
	assert.Equal(t, info.Size(), result.BytesProcessed)

	count, err := f.buffer.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	state, err := f.states.Load(ctx, "claude", path)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCompleted, state.Status)
	assert.Equal(t, info.Size(), state.LastByteOffset)
	assert.Equal(t, 3, state.TotalEventsProcessed)
	require.NotNil(t, state.CompletedAt)
	require.NotNil(t, state.LastTimestamp)
}

func TestBackfillCompletedFileIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeLog(t, claudeLine1, claudeLine2)

	cfg := Config{AgentName: "claude", LogPath: path, BatchSize: 10}

	_, err := f.runner.Backfill(ctx, cfg)
	require.NoError(t, err)

	result, err := f.runner.Backfill(ctx, cfg)
	require.NoError(t, err)

	assert.Equal(t, 0, result.TotalEvents)
	assert.Equal(t, 0, result.ProcessedEvents)
	assert.Equal(t, 2, result.SkippedEvents)

	count, err := f.buffer.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "re-running must not duplicate events")
}

func TestBackfillResumesFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeLog(t, claudeLine1, claudeLine2, claudeLine3)

	// Simulate an interrupted run that checkpointed after the first line.
	state, err := f.states.Load(ctx, "claude", path)
	require.NoError(t, err)
	state.Status = repository.StatusInProgress
	state.LastByteOffset = int64(len(claudeLine1)) + 1
	state.TotalEventsProcessed = 1
	require.NoError(t, f.states.Save(ctx, state))

	result, err := f.runner.Backfill(ctx, Config{
		AgentName: "claude",
		LogPath:   path,
		BatchSize: 10,
	})
	require.NoError(t, err)

	// Only the lines past the checkpoint are parsed again.
	assert.Equal(t, 2, result.TotalEvents)
	assert.Equal(t, 3, result.ProcessedEvents)

	count, err := f.buffer.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	info, err := os.Stat(path)
	require.NoError(t, err)

	final, err := f.states.Load(ctx, "claude", path)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCompleted, final.Status)
	assert.Equal(t, info.Size(), final.LastByteOffset)
	assert.Equal(t, 3, final.TotalEventsProcessed)
}

func TestBackfillUnknownAgent(t *testing.T) {
	f := newFixture(t)
	path := writeLog(t, claudeLine1)

	_, err := f.runner.Backfill(context.Background(), Config{
		AgentName: "vim",
		LogPath:   path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no adapter")
}

func TestBackfillMissingPath(t *testing.T) {
	f := newFixture(t)

	_, err := f.runner.Backfill(context.Background(), Config{
		AgentName: "claude",
		LogPath:   filepath.Join(t.TempDir(), "missing.jsonl"),
	})
	assert.Error(t, err)
}

func TestBackfillDryRunStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeLog(t, claudeLine1, claudeLine2)

	result, err := f.runner.Backfill(ctx, Config{
		AgentName: "claude",
		LogPath:   path,
		DryRun:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ProcessedEvents)

	count, err := f.buffer.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// No checkpoint is persisted either, so a real run starts fresh.
	state, err := f.states.Load(ctx, "claude", path)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusNew, state.Status)
}

func TestBackfillDateFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeLog(t, claudeLine1, claudeLine2, claudeLine3)

	result, err := f.runner.Backfill(ctx, Config{
		AgentName: "claude",
		LogPath:   path,
		FromDate:  time.Date(2025, 10, 31, 10, 1, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalEvents)
	assert.Equal(t, 2, result.ProcessedEvents)
	assert.Equal(t, 1, result.SkippedEvents)
}

func TestBackfillDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "a.jsonl"),
		[]byte(claudeLine1+"\n"+claudeLine2+"\n"),
		0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "b.log"),
		[]byte(claudeLine3+"\n"),
		0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "ignore.dat"),
		[]byte(claudeLine1+"\n"),
		0o644))

	result, err := f.runner.Backfill(ctx, Config{
		AgentName: "claude",
		LogPath:   dir,
		BatchSize: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.ProcessedEvents)

	count, err := f.buffer.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestBackfillWholeFileSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := `{
		"requesterUsername": "octocat",
		"initialLocation": "panel",
		"requests": [
			{
				"requestId": "req-1",
				"responseId": "res-1",
				"timestamp": 1730368800000,
				"modelId": "gpt-4o",
				"message": {"text": "hello"},
				"response": [{"kind": null, "value": "hi there"}]
			}
		]
	}`
	path := filepath.Join(t.TempDir(), "session-1.json")
	require.NoError(t, os.WriteFile(path, []byte(session), 0o644))

	info, err := os.Stat(path)
	require.NoError(t, err)

	result, err := f.runner.Backfill(ctx, Config{
		AgentName: "github-copilot",
		LogPath:   path,
		BatchSize: 10,
	})
	require.NoError(t, err)

	// One turn yields the request and the response.
	assert.Equal(t, 2, result.TotalEvents)
	assert.Equal(t, 2, result.ProcessedEvents)

	state, err := f.states.Load(ctx, "github-copilot", path)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCompleted, state.Status)
	assert.Equal(t, info.Size(), state.LastByteOffset)
}

func TestBackfillWholeFileParseFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	_, err := f.runner.Backfill(ctx, Config{
		AgentName: "github-copilot",
		LogPath:   path,
	})
	require.Error(t, err)

	state, err := f.states.Load(ctx, "github-copilot", path)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, state.Status)
	assert.NotEmpty(t, state.ErrorMessage)
}

func TestRunnerCancelPausesInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeLog(t, claudeLine1, claudeLine2, claudeLine3)

	// An interrupted run left the pair mid-file.
	state, err := f.states.Load(ctx, "claude", path)
	require.NoError(t, err)
	state.Status = repository.StatusInProgress
	state.LastByteOffset = int64(len(claudeLine1)) + 1
	state.TotalEventsProcessed = 1
	require.NoError(t, f.states.Save(ctx, state))

	paused, err := f.runner.Cancel(ctx, "claude")
	require.NoError(t, err)
	assert.Equal(t, 1, paused)

	reloaded, err := f.states.Load(ctx, "claude", path)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPaused, reloaded.Status)
	assert.Equal(t, int64(len(claudeLine1))+1, reloaded.LastByteOffset,
		"pausing must leave the checkpoint untouched")
}

func TestRunnerCancelIgnoresFinishedStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeLog(t, claudeLine1)

	_, err := f.runner.Backfill(ctx, Config{AgentName: "claude", LogPath: path})
	require.NoError(t, err)

	paused, err := f.runner.Cancel(ctx, "claude")
	require.NoError(t, err)
	assert.Equal(t, 0, paused)

	state, err := f.states.Load(ctx, "claude", path)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCompleted, state.Status)
}

func TestRunnerResumePausedBackfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeLog(t, claudeLine1, claudeLine2, claudeLine3)

	state, err := f.states.Load(ctx, "claude", path)
	require.NoError(t, err)
	state.Status = repository.StatusInProgress
	state.LastByteOffset = int64(len(claudeLine1)) + 1
	state.TotalEventsProcessed = 1
	require.NoError(t, f.states.Save(ctx, state))

	_, err = f.runner.Cancel(ctx, "claude")
	require.NoError(t, err)

	result, err := f.runner.Resume(ctx, "claude")
	require.NoError(t, err)

	// Only the lines past the paused checkpoint are re-read.
	assert.Equal(t, 2, result.TotalEvents)
	assert.Equal(t, 3, result.ProcessedEvents)

	count, err := f.buffer.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	final, err := f.states.Load(ctx, "claude", path)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCompleted, final.Status)
}

func TestRunnerResumeNothingResumable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeLog(t, claudeLine1)

	_, err := f.runner.Backfill(ctx, Config{AgentName: "claude", LogPath: path})
	require.NoError(t, err)

	_, err = f.runner.Resume(ctx, "claude")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no resumable backfill")
}

func TestRunnerStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := writeLog(t, claudeLine1)

	_, err := f.runner.Backfill(ctx, Config{AgentName: "claude", LogPath: path})
	require.NoError(t, err)

	states, err := f.runner.Status(ctx, "claude")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, repository.StatusCompleted, states[0].Status)
}
