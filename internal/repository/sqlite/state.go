package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codetrail/collector/internal/repository"
)

// StateStore implements repository.StateStore on the shared SQLite
// client.
type StateStore struct {
	client *Client
}

// NewStateStore creates the state store and initializes its schema.
func NewStateStore(ctx context.Context, client *Client) (*StateStore, error) {
	s := &StateStore{client: client}

	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}

	return s, nil
}

func (s *StateStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS backfill_state (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_name TEXT NOT NULL,
		log_file_path TEXT NOT NULL,
		last_byte_offset INTEGER NOT NULL DEFAULT 0,
		last_timestamp INTEGER,
		total_events_processed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'new',
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		error_message TEXT,
		UNIQUE(agent_name, log_file_path)
	);
	CREATE INDEX IF NOT EXISTS idx_backfill_status ON backfill_state(status);
	CREATE INDEX IF NOT EXISTS idx_backfill_agent ON backfill_state(agent_name);
	`

	_, err := s.client.DB().ExecContext(ctx, schema)
	return err
}

// Load retrieves the state for an (agent, file) pair, or a fresh state
// with status new if the pair has never been seen.
func (s *StateStore) Load(ctx context.Context, agentName, logFilePath string) (*repository.BackfillState, error) {
	query := `
		SELECT id, agent_name, log_file_path, last_byte_offset, last_timestamp,
		       total_events_processed, status, started_at, completed_at, error_message
		FROM backfill_state
		WHERE agent_name = ? AND log_file_path = ?
	`

	state, err := scanState(s.client.DB().QueryRowContext(ctx, query, agentName, logFilePath))
	if err == sql.ErrNoRows {
		return &repository.BackfillState{
			AgentName:   agentName,
			LogFilePath: logFilePath,
			Status:      repository.StatusNew,
			StartedAt:   time.Now(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	return state, nil
}

// Save persists the state. A state without an id is inserted, otherwise
// its row is updated; either way the checkpoint fields land in one
// statement.
func (s *StateStore) Save(ctx context.Context, state *repository.BackfillState) error {
	if state.ID == 0 {
		return s.insert(ctx, state)
	}
	return s.update(ctx, state)
}

func (s *StateStore) insert(ctx context.Context, state *repository.BackfillState) error {
	query := `
		INSERT INTO backfill_state (
			agent_name, log_file_path, last_byte_offset, last_timestamp,
			total_events_processed, status, started_at, completed_at, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.client.DB().ExecContext(
		ctx,
		query,
		state.AgentName,
		state.LogFilePath,
		state.LastByteOffset,
		nullableUnix(state.LastTimestamp),
		state.TotalEventsProcessed,
		state.Status,
		state.StartedAt.Unix(),
		nullableUnix(state.CompletedAt),
		state.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert state: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert id: %w", err)
	}

	state.ID = id
	return nil
}

func (s *StateStore) update(ctx context.Context, state *repository.BackfillState) error {
	query := `
		UPDATE backfill_state
		SET last_byte_offset = ?,
		    last_timestamp = ?,
		    total_events_processed = ?,
		    status = ?,
		    completed_at = ?,
		    error_message = ?
		WHERE id = ?
	`

	_, err := s.client.DB().ExecContext(
		ctx,
		query,
		state.LastByteOffset,
		nullableUnix(state.LastTimestamp),
		state.TotalEventsProcessed,
		state.Status,
		nullableUnix(state.CompletedAt),
		state.ErrorMessage,
		state.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}

	return nil
}

// ListByAgent returns all states for an agent, most recently started
// first.
func (s *StateStore) ListByAgent(ctx context.Context, agentName string) ([]*repository.BackfillState, error) {
	query := `
		SELECT id, agent_name, log_file_path, last_byte_offset, last_timestamp,
		       total_events_processed, status, started_at, completed_at, error_message
		FROM backfill_state
		WHERE agent_name = ?
		ORDER BY started_at DESC, id DESC
	`

	rows, err := s.client.DB().QueryContext(ctx, query, agentName)
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	var states []*repository.BackfillState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		states = append(states, state)
	}

	return states, rows.Err()
}

// Delete removes a state record.
func (s *StateStore) Delete(ctx context.Context, id int64) error {
	_, err := s.client.DB().ExecContext(ctx, "DELETE FROM backfill_state WHERE id = ?", id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanState(row rowScanner) (*repository.BackfillState, error) {
	var state repository.BackfillState
	var lastTimestamp, startedAt, completedAt sql.NullInt64
	var errorMessage sql.NullString

	err := row.Scan(
		&state.ID,
		&state.AgentName,
		&state.LogFilePath,
		&state.LastByteOffset,
		&lastTimestamp,
		&state.TotalEventsProcessed,
		&state.Status,
		&startedAt,
		&completedAt,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	if lastTimestamp.Valid {
		t := time.Unix(lastTimestamp.Int64, 0)
		state.LastTimestamp = &t
	}
	if startedAt.Valid {
		state.StartedAt = time.Unix(startedAt.Int64, 0)
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		state.CompletedAt = &t
	}
	if errorMessage.Valid {
		state.ErrorMessage = errorMessage.String
	}

	return &state, nil
}

func nullableUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
