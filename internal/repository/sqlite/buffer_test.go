package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codetrail/collector/internal/domain"
)

func newBufferForTest(t *testing.T, maxSize int) *Buffer {
	t.Helper()
	ctx := context.Background()

	client, err := NewClient(ctx, filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	buffer, err := NewBuffer(ctx, client, maxSize, zap.NewNop())
	require.NoError(t, err)

	return buffer
}

func testEvent(id string) *domain.Event {
	return &domain.Event{
		ID:        id,
		Timestamp: time.Date(2025, 10, 31, 10, 0, 0, 0, time.UTC),
		Type:      domain.EventTypeLLMRequest,
		AgentID:   "claude",
		SessionID: "sess-1",
		Data:      map[string]interface{}{"prompt": "hello"},
	}
}

func TestBufferStoreAndRetrieve(t *testing.T) {
	buffer := newBufferForTest(t, 10)
	ctx := context.Background()

	event := testEvent("evt-1")
	event.Metrics = &domain.Metrics{PromptTokens: 5}
	require.NoError(t, buffer.Store(ctx, event))

	events, err := buffer.Retrieve(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, "evt-1", got.ID)
	assert.Equal(t, domain.EventTypeLLMRequest, got.Type)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "hello", got.Data["prompt"])
	require.NotNil(t, got.Metrics)
	assert.Equal(t, 5, got.Metrics.PromptTokens)
	assert.True(t, event.Timestamp.Equal(got.Timestamp))
}

func TestBufferRetrieveIsNonDestructive(t *testing.T) {
	buffer := newBufferForTest(t, 10)
	ctx := context.Background()

	require.NoError(t, buffer.Store(ctx, testEvent("evt-1")))

	for i := 0; i < 2; i++ {
		events, err := buffer.Retrieve(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	}

	count, err := buffer.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBufferRejectsInvalidType(t *testing.T) {
	buffer := newBufferForTest(t, 10)

	event := testEvent("evt-bad")
	event.Type = "nonsense"

	assert.Error(t, buffer.Store(context.Background(), event))
}

func TestBufferEvictsOldestAtCapacity(t *testing.T) {
	buffer := newBufferForTest(t, 1)
	ctx := context.Background()

	require.NoError(t, buffer.Store(ctx, testEvent("evt-a")))
	require.NoError(t, buffer.Store(ctx, testEvent("evt-b")))

	count, err := buffer.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	events, err := buffer.Retrieve(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-b", events[0].ID)
}

func TestBufferConcurrentStoresRespectCapacity(t *testing.T) {
	buffer := newBufferForTest(t, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				event := testEvent(fmt.Sprintf("evt-%d-%d", i, j))
				assert.NoError(t, buffer.Store(ctx, event))
			}
		}(i)
	}
	wg.Wait()

	count, err := buffer.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "capacity must hold across concurrent producers")
}

func TestBufferRetrieveOrder(t *testing.T) {
	buffer := newBufferForTest(t, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, buffer.Store(ctx, testEvent(fmt.Sprintf("evt-%d", i))))
	}

	events, err := buffer.Retrieve(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)

	for i, event := range events {
		assert.Equal(t, fmt.Sprintf("evt-%d", i), event.ID)
	}
}

func TestBufferStoreBatchSkipsInvalid(t *testing.T) {
	buffer := newBufferForTest(t, 100)
	ctx := context.Background()

	bad := testEvent("evt-bad")
	bad.Type = "nonsense"

	inserted, err := buffer.StoreBatch(ctx, []*domain.Event{
		testEvent("evt-1"),
		bad,
		testEvent("evt-2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	count, err := buffer.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestBufferDelete(t *testing.T) {
	buffer := newBufferForTest(t, 100)
	ctx := context.Background()

	require.NoError(t, buffer.Store(ctx, testEvent("evt-1")))
	require.NoError(t, buffer.Store(ctx, testEvent("evt-2")))

	// Unknown ids are ignored alongside known ones.
	require.NoError(t, buffer.Delete(ctx, []string{"evt-1", "evt-missing"}))
	require.NoError(t, buffer.Delete(ctx, nil))

	events, err := buffer.Retrieve(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-2", events[0].ID)
}

func TestBufferClear(t *testing.T) {
	buffer := newBufferForTest(t, 100)
	ctx := context.Background()

	require.NoError(t, buffer.Store(ctx, testEvent("evt-1")))
	require.NoError(t, buffer.Store(ctx, testEvent("evt-2")))
	require.NoError(t, buffer.Clear(ctx))

	count, err := buffer.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestBufferPing(t *testing.T) {
	buffer := newBufferForTest(t, 10)
	assert.NoError(t, buffer.Ping(context.Background()))
}
