package hierarchy

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkspaceContext is the resolved hierarchy for one editor workspace.
type WorkspaceContext struct {
	ProjectID   int
	MachineID   int
	WorkspaceID int
	ProjectName string
	MachineName string
}

// Resolver resolves a workspace storage id to its hierarchy context.
// The production resolver lives behind the upload path and is out of
// scope here; tests and the live pipeline plug in their own.
type Resolver func(workspaceID string) (*WorkspaceContext, error)

// Cache memoizes workspace resolutions with a TTL so adapters can
// annotate events without hitting the resolver per line.
type Cache struct {
	resolver Resolver
	ttl      time.Duration
	log      *zap.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	ctx     *WorkspaceContext
	expires time.Time
}

// NewCache creates a hierarchy cache. A nil resolver is allowed; every
// lookup then misses, which callers treat as "no hierarchy available".
func NewCache(resolver Resolver, ttl time.Duration, log *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		resolver: resolver,
		ttl:      ttl,
		log:      log,
		entries:  make(map[string]cacheEntry),
	}
}

// Resolve returns the hierarchy context for a workspace id, consulting
// the resolver on a cache miss.
func (c *Cache) Resolve(workspaceID string) (*WorkspaceContext, error) {
	c.mu.RLock()
	entry, ok := c.entries[workspaceID]
	c.mu.RUnlock()

	if ok && time.Now().Before(entry.expires) {
		return entry.ctx, nil
	}

	if c.resolver == nil {
		return nil, fmt.Errorf("no resolver configured")
	}

	ctx, err := c.resolver(workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace %s: %w", workspaceID, err)
	}

	c.mu.Lock()
	c.entries[workspaceID] = cacheEntry{ctx: ctx, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	c.log.Debug("Resolved workspace hierarchy",
		zap.String("workspace_id", workspaceID),
		zap.Int("project_id", ctx.ProjectID))

	return ctx, nil
}

// Invalidate drops a cached resolution.
func (c *Cache) Invalidate(workspaceID string) {
	c.mu.Lock()
	delete(c.entries, workspaceID)
	c.mu.Unlock()
}
