package repository

import (
	"context"
	"time"

	"github.com/codetrail/collector/internal/domain"
)

// BackfillStatus is the persisted status of one (agent, file) backfill.
type BackfillStatus string

const (
	StatusNew        BackfillStatus = "new"
	StatusInProgress BackfillStatus = "in_progress"
	StatusPaused     BackfillStatus = "paused"
	StatusCompleted  BackfillStatus = "completed"
	StatusFailed     BackfillStatus = "failed"
)

// BackfillState is the durable checkpoint of resumable progress for one
// (agent name, log file path) pair.
type BackfillState struct {
	ID                   int64
	AgentName            string
	LogFilePath          string
	LastByteOffset       int64
	LastTimestamp        *time.Time
	TotalEventsProcessed int
	Status               BackfillStatus
	StartedAt            time.Time
	CompletedAt          *time.Time
	ErrorMessage         string
}

// EventBuffer defines the interface for the bounded durable event store
// every ingestion path converges on.
type EventBuffer interface {
	// Store inserts one event, evicting the oldest stored event first if
	// the buffer is at capacity. It never fails due to capacity.
	Store(ctx context.Context, event *domain.Event) error

	// StoreBatch inserts a batch of events in order and returns how many
	// were inserted.
	StoreBatch(ctx context.Context, events []*domain.Event) (int, error)

	// Retrieve returns up to limit events in insertion order, oldest
	// first, without removing them.
	Retrieve(ctx context.Context, limit int) ([]*domain.Event, error)

	// Delete removes events by canonical id. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the current number of buffered events.
	Count(ctx context.Context) (int, error)

	// Clear removes all buffered events.
	Clear(ctx context.Context) error

	// Ping checks if the underlying store is reachable.
	Ping(ctx context.Context) error
}

// StateStore defines the interface for backfill checkpoint persistence.
type StateStore interface {
	// Load returns the state for the pair, or a fresh state with status
	// new if none is recorded yet.
	Load(ctx context.Context, agentName, logFilePath string) (*BackfillState, error)

	// Save inserts or updates the state as one atomic write.
	Save(ctx context.Context, state *BackfillState) error

	// ListByAgent returns all states for an agent, most recent first.
	ListByAgent(ctx context.Context, agentName string) ([]*BackfillState, error)

	// Delete removes a state record.
	Delete(ctx context.Context, id int64) error
}
