package adapters

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codetrail/collector/internal/domain"
	"github.com/codetrail/collector/internal/hierarchy"
)

// ClaudeAdapter parses Claude desktop/CLI logs (JSON lines).
type ClaudeAdapter struct {
	*BaseAdapter
	hierarchy *hierarchy.Cache
	log       *zap.Logger
}

// NewClaudeAdapter creates a Claude adapter.
func NewClaudeAdapter(legacyProjectID string, cache *hierarchy.Cache, log *zap.Logger) *ClaudeAdapter {
	return &ClaudeAdapter{
		BaseAdapter: NewBaseAdapter("claude", legacyProjectID),
		hierarchy:   cache,
		log:         log,
	}
}

// claudeLogEntry is one JSONL record. Field names vary between
// releases, so everything is optional and the timestamp is untyped.
type claudeLogEntry struct {
	Timestamp      interface{}            `json:"timestamp"`
	Level          string                 `json:"level"`
	Message        string                 `json:"message"`
	Type           string                 `json:"type,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	SessionID      string                 `json:"session_id,omitempty"`
	Model          string                 `json:"model,omitempty"`
	Prompt         string                 `json:"prompt,omitempty"`
	Response       string                 `json:"response,omitempty"`
	TokensUsed     int                    `json:"tokens_used,omitempty"`
	PromptTokens   int                    `json:"prompt_tokens,omitempty"`
	ResponseTokens int                    `json:"response_tokens,omitempty"`
	ToolName       string                 `json:"tool_name,omitempty"`
	ToolInput      interface{}            `json:"tool_input,omitempty"`
	ToolOutput     interface{}            `json:"tool_output,omitempty"`
	FilePath       string                 `json:"file_path,omitempty"`
	Action         string                 `json:"action,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// ParseLine parses a single JSONL record. Non-JSON lines and records
// with no recognizable event type are skipped, not errors.
func (a *ClaudeAdapter) ParseLine(line string) (*domain.Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	var entry claudeLogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return nil, nil
	}

	eventType := a.detectEventType(&entry)
	if eventType == "" {
		return nil, nil
	}

	event := &domain.Event{
		ID:              uuid.New().String(),
		Timestamp:       parseTimestamp(entry.Timestamp),
		Type:            eventType,
		AgentID:         a.name,
		SessionID:       a.sessionID(&entry),
		LegacyProjectID: a.legacyProjectID,
		Context:         a.extractContext(&entry),
		Data:            a.extractData(&entry, eventType),
		Metrics:         a.extractMetrics(&entry),
	}

	return event, nil
}

// ParseFile parses a JSONL log file line by line.
func (a *ClaudeAdapter) ParseFile(path string) ([]*domain.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var hierarchyCtx *hierarchy.WorkspaceContext
	if workspaceID := workspaceIDFromPath(path); workspaceID != "" && a.hierarchy != nil {
		ctx, err := a.hierarchy.Resolve(workspaceID)
		if err != nil {
			a.log.Warn("Failed to resolve workspace, continuing without hierarchy",
				zap.String("workspace_id", workspaceID),
				zap.Error(err))
		} else {
			hierarchyCtx = ctx
		}
	}

	var events []*domain.Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		event, err := a.ParseLine(scanner.Text())
		if err != nil || event == nil {
			continue
		}
		applyHierarchy(event, hierarchyCtx)
		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	return events, nil
}

// WholeFile is false: Claude logs are line-oriented.
func (a *ClaudeAdapter) WholeFile() bool {
	return false
}

func (a *ClaudeAdapter) detectEventType(entry *claudeLogEntry) string {
	switch entry.Type {
	case "llm_request", "prompt":
		return domain.EventTypeLLMRequest
	case "llm_response", "completion":
		return domain.EventTypeLLMResponse
	case "tool_use", "tool_call":
		return domain.EventTypeToolUse
	case "file_read":
		return domain.EventTypeFileRead
	case "file_write", "file_modify":
		return domain.EventTypeFileWrite
	case "command_execution", "command":
		return domain.EventTypeCommandExec
	case "session_start":
		return domain.EventTypeSessionStart
	case "session_end":
		return domain.EventTypeSessionEnd
	case "error":
		return domain.EventTypeError
	}

	msgLower := strings.ToLower(entry.Message)

	if entry.Prompt != "" || strings.Contains(msgLower, "prompt") || strings.Contains(msgLower, "request") {
		return domain.EventTypeLLMRequest
	}
	if entry.Response != "" || strings.Contains(msgLower, "response") || strings.Contains(msgLower, "completion") {
		return domain.EventTypeLLMResponse
	}
	if entry.ToolName != "" || strings.Contains(msgLower, "tool") {
		return domain.EventTypeToolUse
	}
	if entry.FilePath != "" {
		if entry.Action == "read" || strings.Contains(msgLower, "read") {
			return domain.EventTypeFileRead
		}
		if entry.Action == "write" || strings.Contains(msgLower, "write") || strings.Contains(msgLower, "modify") {
			return domain.EventTypeFileWrite
		}
	}

	return ""
}

func (a *ClaudeAdapter) sessionID(entry *claudeLogEntry) string {
	if entry.SessionID != "" {
		return entry.SessionID
	}
	return entry.ConversationID
}

func (a *ClaudeAdapter) extractContext(entry *claudeLogEntry) map[string]interface{} {
	ctx := make(map[string]interface{})

	if entry.Level != "" {
		ctx["logLevel"] = entry.Level
	}
	if entry.Model != "" {
		ctx["model"] = entry.Model
	}
	for k, v := range entry.Metadata {
		ctx[k] = v
	}

	return ctx
}

func (a *ClaudeAdapter) extractData(entry *claudeLogEntry, eventType string) map[string]interface{} {
	data := make(map[string]interface{})

	if entry.Message != "" {
		data["message"] = entry.Message
	}

	switch eventType {
	case domain.EventTypeLLMRequest:
		if entry.Prompt != "" {
			data["prompt"] = entry.Prompt
			data["promptLength"] = len(entry.Prompt)
		}
	case domain.EventTypeLLMResponse:
		if entry.Response != "" {
			data["response"] = entry.Response
			data["responseLength"] = len(entry.Response)
		}
	case domain.EventTypeToolUse:
		if entry.ToolName != "" {
			data["toolName"] = entry.ToolName
		}
		if entry.ToolInput != nil {
			data["toolInput"] = entry.ToolInput
		}
		if entry.ToolOutput != nil {
			data["toolOutput"] = entry.ToolOutput
		}
	case domain.EventTypeFileRead, domain.EventTypeFileWrite:
		if entry.FilePath != "" {
			data["filePath"] = entry.FilePath
		}
		if entry.Action != "" {
			data["action"] = entry.Action
		}
	}

	if entry.ConversationID != "" {
		data["conversationId"] = entry.ConversationID
	}

	return data
}

func (a *ClaudeAdapter) extractMetrics(entry *claudeLogEntry) *domain.Metrics {
	if entry.TokensUsed == 0 && entry.PromptTokens == 0 && entry.ResponseTokens == 0 {
		return nil
	}

	return &domain.Metrics{
		TokenCount:     entry.TokensUsed,
		PromptTokens:   entry.PromptTokens,
		ResponseTokens: entry.ResponseTokens,
	}
}

// SupportsFormat accepts JSON lines carrying Claude-specific markers.
func (a *ClaudeAdapter) SupportsFormat(sample string) bool {
	var entry claudeLogEntry
	if err := json.Unmarshal([]byte(sample), &entry); err != nil {
		return false
	}

	msgLower := strings.ToLower(entry.Message)
	return entry.ConversationID != "" ||
		entry.Model != "" ||
		strings.Contains(msgLower, "claude") ||
		strings.Contains(msgLower, "anthropic")
}
