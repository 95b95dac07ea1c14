package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codetrail/collector/internal/domain"
)

// DefaultMaxSize is the buffer capacity used when none is configured.
const DefaultMaxSize = 10000

// Buffer implements repository.EventBuffer on SQLite. The serialized
// JSON payload is the source of truth for round-tripping an event; the
// scalar columns exist only for filtered queries.
type Buffer struct {
	client  *Client
	maxSize int
	log     *zap.Logger
}

// NewBuffer creates a buffer over the shared client and initializes its
// schema.
func NewBuffer(ctx context.Context, client *Client, maxSize int, log *zap.Logger) (*Buffer, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	b := &Buffer{
		client:  client,
		maxSize: maxSize,
		log:     log,
	}

	if err := b.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize buffer schema: %w", err)
	}

	log.Info("Event buffer initialized", zap.Int("max_size", maxSize))

	return b, nil
}

func (b *Buffer) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		agent_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		project_id INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
	`

	_, err := b.client.DB().ExecContext(ctx, schema)
	return err
}

// Store inserts one event, evicting the oldest row first when the
// buffer is at capacity. The count, eviction, and insert run in one
// transaction so concurrent producers cannot push the buffer past its
// capacity between the check and the write.
func (b *Buffer) Store(ctx context.Context, event *domain.Event) error {
	if !domain.ValidType(event.Type) {
		return fmt.Errorf("invalid event type: %s", event.Type)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	tx, err := b.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return fmt.Errorf("failed to count events: %w", err)
	}

	if count >= b.maxSize {
		if err := evictOldest(ctx, tx); err != nil {
			return fmt.Errorf("failed to evict oldest event: %w", err)
		}
	}

	query := `
		INSERT INTO events (event_id, timestamp, agent_id, session_id, project_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(
		ctx,
		query,
		event.ID,
		event.Timestamp.Unix(),
		event.AgentID,
		event.SessionID,
		event.ProjectID,
		string(payload),
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

// StoreBatch inserts events in order, skipping events with an invalid
// type, and returns the number inserted.
func (b *Buffer) StoreBatch(ctx context.Context, events []*domain.Event) (int, error) {
	inserted := 0
	for _, event := range events {
		if !domain.ValidType(event.Type) {
			b.log.Warn("Dropping event with invalid type",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type))
			continue
		}
		if err := b.Store(ctx, event); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// Retrieve returns up to limit events in insertion order without
// removing them.
func (b *Buffer) Retrieve(ctx context.Context, limit int) ([]*domain.Event, error) {
	query := `
		SELECT data FROM events
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`

	rows, err := b.client.DB().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var event domain.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			b.log.Warn("Failed to unmarshal buffered event", zap.Error(err))
			continue
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

// Delete removes events by canonical id. Unknown ids and an empty input
// are no-ops.
func (b *Buffer) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf("DELETE FROM events WHERE event_id IN (%s)", placeholders)

	if _, err := b.client.DB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}

	return nil
}

// Count returns the current number of buffered events.
func (b *Buffer) Count(ctx context.Context) (int, error) {
	var count int
	err := b.client.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// Clear removes all buffered events.
func (b *Buffer) Clear(ctx context.Context) error {
	if _, err := b.client.DB().ExecContext(ctx, "DELETE FROM events"); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}
	return nil
}

// Ping checks the underlying connection.
func (b *Buffer) Ping(ctx context.Context) error {
	return b.client.DB().PingContext(ctx)
}

// evictOldest removes exactly one row, the oldest by insertion time.
func evictOldest(ctx context.Context, tx *sql.Tx) error {
	query := `
		DELETE FROM events WHERE id = (
			SELECT id FROM events ORDER BY created_at ASC, id ASC LIMIT 1
		)
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}
