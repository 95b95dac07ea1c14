package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Client wraps the SQLite connection shared by the buffer and the
// backfill state store.
type Client struct {
	db   *sql.DB
	path string
	log  *zap.Logger
}

// NewClient opens (or creates) the collector database at the given path.
func NewClient(ctx context.Context, path string, log *zap.Logger) (*Client, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The driver serializes concurrent writers; a single connection
	// avoids SQLITE_BUSY under write pressure from multiple producers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("SQLite database opened", zap.String("path", path))

	return &Client{db: db, path: path, log: log}, nil
}

// DB returns the underlying database handle.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the database connection.
func (c *Client) Close() error {
	c.log.Info("Closing SQLite database", zap.String("path", c.path))
	if err := c.db.Close(); err != nil {
		c.log.Error("Error closing database", zap.Error(err))
		return err
	}
	return nil
}
