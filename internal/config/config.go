package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServiceEnvironment string `envconfig:"COLLECTOR_ENVIRONMENT" default:"development"`
	LogLevel           string `envconfig:"COLLECTOR_LOG_LEVEL" default:"info"`
	ServerPort         string `envconfig:"COLLECTOR_SERVER_PORT" default:"8080"`
	BufferDBPath       string `envconfig:"COLLECTOR_BUFFER_DB_PATH" default:"collector.db"`
	BufferMaxSize      int    `envconfig:"COLLECTOR_BUFFER_MAX_SIZE" default:"10000"`
	BackfillBatchSize  int    `envconfig:"COLLECTOR_BACKFILL_BATCH_SIZE" default:"100"`
	WatcherDebounceMs  int    `envconfig:"COLLECTOR_WATCHER_DEBOUNCE_MS" default:"100"`
	EventQueueSize     int    `envconfig:"COLLECTOR_EVENT_QUEUE_SIZE" default:"1000"`
	HierarchyTTLSec    int    `envconfig:"COLLECTOR_HIERARCHY_TTL_SEC" default:"300"`
	LegacyProjectID    string `envconfig:"COLLECTOR_PROJECT_ID" default:"default"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BufferMaxSize <= 0 {
		return fmt.Errorf("invalid buffer max size: %d", c.BufferMaxSize)
	}
	if c.BackfillBatchSize <= 0 {
		return fmt.Errorf("invalid backfill batch size: %d", c.BackfillBatchSize)
	}
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("invalid event queue size: %d", c.EventQueueSize)
	}
	return nil
}
