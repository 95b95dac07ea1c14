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

// CursorAdapter parses Cursor logs. Cursor mixes structured JSON lines
// with plain-text editor log output, so a plain-text fallback keeps the
// interesting lines instead of discarding them.
type CursorAdapter struct {
	*BaseAdapter
	hierarchy *hierarchy.Cache
	log       *zap.Logger
}

// NewCursorAdapter creates a Cursor adapter.
func NewCursorAdapter(legacyProjectID string, cache *hierarchy.Cache, log *zap.Logger) *CursorAdapter {
	return &CursorAdapter{
		BaseAdapter: NewBaseAdapter("cursor", legacyProjectID),
		hierarchy:   cache,
		log:         log,
	}
}

type cursorLogEntry struct {
	Timestamp        interface{}            `json:"timestamp,omitempty"`
	Level            string                 `json:"level,omitempty"`
	Message          string                 `json:"message,omitempty"`
	Type             string                 `json:"type,omitempty"`
	SessionID        string                 `json:"session_id,omitempty"`
	ConversationID   string                 `json:"conversation_id,omitempty"`
	Model            string                 `json:"model,omitempty"`
	Prompt           string                 `json:"prompt,omitempty"`
	Response         string                 `json:"response,omitempty"`
	Tokens           int                    `json:"tokens,omitempty"`
	PromptTokens     int                    `json:"prompt_tokens,omitempty"`
	CompletionTokens int                    `json:"completion_tokens,omitempty"`
	Tool             string                 `json:"tool,omitempty"`
	ToolArgs         interface{}            `json:"tool_args,omitempty"`
	File             string                 `json:"file,omitempty"`
	Operation        string                 `json:"operation,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ParseLine parses a single log line, falling back to the plain-text
// heuristic when the line is not JSON.
func (a *CursorAdapter) ParseLine(line string) (*domain.Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	var entry cursorLogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return a.parsePlainTextLine(line)
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

// ParseFile parses a Cursor log file line by line.
func (a *CursorAdapter) ParseFile(path string) ([]*domain.Event, error) {
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

// WholeFile is false: Cursor logs are line-oriented.
func (a *CursorAdapter) WholeFile() bool {
	return false
}

// parsePlainTextLine keeps AI-related plain-text lines as minimal
// user_interaction events with the raw line preserved verbatim.
func (a *CursorAdapter) parsePlainTextLine(line string) (*domain.Event, error) {
	lower := strings.ToLower(line)
	if !strings.Contains(lower, "ai") &&
		!strings.Contains(lower, "completion") &&
		!strings.Contains(lower, "prompt") &&
		!strings.Contains(lower, "tool") {
		return nil, nil
	}

	event := &domain.Event{
		ID:              uuid.New().String(),
		Timestamp:       parseTimestamp(nil),
		Type:            domain.EventTypeUserInteraction,
		AgentID:         a.name,
		SessionID:       uuid.New().String(),
		LegacyProjectID: a.legacyProjectID,
		Data: map[string]interface{}{
			"rawLog": line,
		},
	}

	return event, nil
}

func (a *CursorAdapter) detectEventType(entry *cursorLogEntry) string {
	switch entry.Type {
	case "llm_request", "prompt", "completion_request":
		return domain.EventTypeLLMRequest
	case "llm_response", "completion", "completion_response":
		return domain.EventTypeLLMResponse
	case "tool_use", "tool_call":
		return domain.EventTypeToolUse
	case "file_read":
		return domain.EventTypeFileRead
	case "file_write", "file_modify":
		return domain.EventTypeFileWrite
	}

	msgLower := strings.ToLower(entry.Message)

	if entry.Prompt != "" || strings.Contains(msgLower, "prompt") || strings.Contains(msgLower, "request") {
		return domain.EventTypeLLMRequest
	}
	if entry.Response != "" || strings.Contains(msgLower, "response") || strings.Contains(msgLower, "completion") {
		return domain.EventTypeLLMResponse
	}
	if entry.Tool != "" || strings.Contains(msgLower, "tool") {
		return domain.EventTypeToolUse
	}
	if entry.File != "" {
		if entry.Operation == "read" || strings.Contains(msgLower, "read") {
			return domain.EventTypeFileRead
		}
		if entry.Operation == "write" || strings.Contains(msgLower, "write") {
			return domain.EventTypeFileWrite
		}
	}

	return ""
}

func (a *CursorAdapter) sessionID(entry *cursorLogEntry) string {
	if entry.SessionID != "" {
		return entry.SessionID
	}
	if entry.ConversationID != "" {
		return entry.ConversationID
	}
	return uuid.New().String()
}

func (a *CursorAdapter) extractContext(entry *cursorLogEntry) map[string]interface{} {
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

func (a *CursorAdapter) extractData(entry *cursorLogEntry, eventType string) map[string]interface{} {
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
		if entry.Tool != "" {
			data["toolName"] = entry.Tool
		}
		if entry.ToolArgs != nil {
			data["toolArgs"] = entry.ToolArgs
		}
	case domain.EventTypeFileRead, domain.EventTypeFileWrite:
		if entry.File != "" {
			data["filePath"] = entry.File
		}
		if entry.Operation != "" {
			data["operation"] = entry.Operation
		}
	}

	return data
}

func (a *CursorAdapter) extractMetrics(entry *cursorLogEntry) *domain.Metrics {
	if entry.Tokens == 0 && entry.PromptTokens == 0 && entry.CompletionTokens == 0 {
		return nil
	}

	return &domain.Metrics{
		TokenCount:     entry.Tokens,
		PromptTokens:   entry.PromptTokens,
		ResponseTokens: entry.CompletionTokens,
	}
}

// SupportsFormat accepts JSON lines with Cursor markers, or plain text
// mentioning Cursor alongside AI activity.
func (a *CursorAdapter) SupportsFormat(sample string) bool {
	var entry cursorLogEntry
	if err := json.Unmarshal([]byte(sample), &entry); err == nil {
		return entry.SessionID != "" ||
			entry.ConversationID != "" ||
			strings.Contains(strings.ToLower(entry.Message), "cursor") ||
			entry.Model != ""
	}

	lower := strings.ToLower(sample)
	return strings.Contains(lower, "cursor") &&
		(strings.Contains(lower, "ai") || strings.Contains(lower, "completion"))
}
