package adapters

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codetrail/collector/internal/domain"
	"github.com/codetrail/collector/internal/hierarchy"
)

func newClaudeForTest() *ClaudeAdapter {
	return NewClaudeAdapter("default", nil, zap.NewNop())
}

func TestClaudeParseLineLLMRequest(t *testing.T) {
	adapter := newClaudeForTest()

	line := `{"timestamp":"2025-10-31T10:00:00Z","type":"llm_request","session_id":"sess_123","prompt":"Test prompt","prompt_tokens":2}`

	event, err := adapter.ParseLine(line)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, domain.EventTypeLLMRequest, event.Type)
	assert.Equal(t, "claude", event.AgentID)
	assert.Equal(t, "sess_123", event.SessionID)
	assert.Equal(t, "default", event.LegacyProjectID)
	assert.Equal(t, time.Date(2025, 10, 31, 10, 0, 0, 0, time.UTC), event.Timestamp)
	assert.NotEmpty(t, event.ID)

	assert.Equal(t, "Test prompt", event.Data["prompt"])
	assert.Equal(t, len("Test prompt"), event.Data["promptLength"])

	require.NotNil(t, event.Metrics)
	assert.Equal(t, 2, event.Metrics.PromptTokens)
}

func TestClaudeParseLineSessionIDFallback(t *testing.T) {
	adapter := newClaudeForTest()

	event, err := adapter.ParseLine(`{"type":"llm_response","conversation_id":"conv_9","response":"hi"}`)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, "conv_9", event.SessionID)
	assert.Equal(t, "conv_9", event.Data["conversationId"])
}

func TestClaudeParseLineToolUse(t *testing.T) {
	adapter := newClaudeForTest()

	line := `{"timestamp":1730368800,"type":"tool_call","session_id":"s1","tool_name":"bash","tool_input":{"command":"ls"}}`

	event, err := adapter.ParseLine(line)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, domain.EventTypeToolUse, event.Type)
	assert.Equal(t, "bash", event.Data["toolName"])
	assert.NotNil(t, event.Data["toolInput"])
	assert.Nil(t, event.Metrics)
}

func TestClaudeParseLineHeuristics(t *testing.T) {
	adapter := newClaudeForTest()

	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "prompt field implies request",
			line: `{"timestamp":"2025-10-31T10:00:00Z","prompt":"what is go"}`,
			want: domain.EventTypeLLMRequest,
		},
		{
			name: "response field implies response",
			line: `{"timestamp":"2025-10-31T10:00:00Z","response":"go is a language"}`,
			want: domain.EventTypeLLMResponse,
		},
		{
			name: "message mentioning tool",
			line: `{"timestamp":"2025-10-31T10:00:00Z","message":"Tool invocation finished"}`,
			want: domain.EventTypeToolUse,
		},
		{
			name: "file path with read action",
			line: `{"timestamp":"2025-10-31T10:00:00Z","file_path":"/tmp/a.go","action":"read"}`,
			want: domain.EventTypeFileRead,
		},
		{
			name: "file path with write action",
			line: `{"timestamp":"2025-10-31T10:00:00Z","file_path":"/tmp/a.go","action":"write"}`,
			want: domain.EventTypeFileWrite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := adapter.ParseLine(tt.line)
			require.NoError(t, err)
			require.NotNil(t, event)
			assert.Equal(t, tt.want, event.Type)
		})
	}
}

func TestClaudeParseLineSkipsUnrecognized(t *testing.T) {
	adapter := newClaudeForTest()

	for _, line := range []string{
		"",
		"   ",
		"plain text line",
		`{"level":"info","message":"server started"}`,
	} {
		event, err := adapter.ParseLine(line)
		assert.NoError(t, err)
		assert.Nil(t, event, "line %q should be skipped", line)
	}
}

func TestClaudeParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claude.jsonl")

	content := `{"timestamp":"2025-10-31T10:00:00Z","type":"llm_request","session_id":"s1","prompt":"one"}
not json at all
{"timestamp":"2025-10-31T10:00:01Z","type":"llm_response","session_id":"s1","response":"two"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	adapter := newClaudeForTest()
	events, err := adapter.ParseFile(path)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, domain.EventTypeLLMRequest, events[0].Type)
	assert.Equal(t, domain.EventTypeLLMResponse, events[1].Type)
}

func TestClaudeParseFileAppliesHierarchy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "workspaceStorage", "ws-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "claude.jsonl")

	line := `{"timestamp":"2025-10-31T10:00:00Z","type":"llm_request","session_id":"s1","prompt":"one"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line), 0o644))

	resolver := func(workspaceID string) (*hierarchy.WorkspaceContext, error) {
		return &hierarchy.WorkspaceContext{
			ProjectID:   42,
			MachineID:   3,
			WorkspaceID: 11,
			ProjectName: "demo",
			MachineName: "laptop",
		}, nil
	}
	cache := hierarchy.NewCache(resolver, time.Minute, zap.NewNop())

	adapter := NewClaudeAdapter("default", cache, zap.NewNop())
	events, err := adapter.ParseFile(path)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, 42, events[0].ProjectID)
	assert.Equal(t, 3, events[0].MachineID)
	assert.Equal(t, 11, events[0].WorkspaceID)
	assert.Equal(t, "demo", events[0].Context["projectName"])
}

func TestClaudeSupportsFormat(t *testing.T) {
	adapter := newClaudeForTest()

	assert.True(t, adapter.SupportsFormat(`{"conversation_id":"c1","message":"hi"}`))
	assert.True(t, adapter.SupportsFormat(`{"model":"claude-3","prompt":"x"}`))
	assert.True(t, adapter.SupportsFormat(`{"message":"Anthropic API call"}`))
	assert.False(t, adapter.SupportsFormat(`{"message":"unrelated"}`))
	assert.False(t, adapter.SupportsFormat("not json"))
}

func TestClaudeWholeFile(t *testing.T) {
	assert.False(t, newClaudeForTest().WholeFile())
}
