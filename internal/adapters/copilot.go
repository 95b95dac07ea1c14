package adapters

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codetrail/collector/internal/domain"
	"github.com/codetrail/collector/internal/hierarchy"
)

// CopilotAdapter parses GitHub Copilot chat session files. A session is
// one JSON document; every request node fans out into synthetic
// sub-events (request, file references, tool invocations, response)
// whose timestamps are offset from the request timestamp by small fixed
// deltas so ordering survives into the canonical stream.
type CopilotAdapter struct {
	*BaseAdapter
	hierarchy *hierarchy.Cache
	log       *zap.Logger
}

// NewCopilotAdapter creates a Copilot adapter.
func NewCopilotAdapter(legacyProjectID string, cache *hierarchy.Cache, log *zap.Logger) *CopilotAdapter {
	return &CopilotAdapter{
		BaseAdapter: NewBaseAdapter("github-copilot", legacyProjectID),
		hierarchy:   cache,
		log:         log,
	}
}

type copilotChatSession struct {
	Version           int              `json:"version"`
	RequesterUsername string           `json:"requesterUsername"`
	ResponderUsername string           `json:"responderUsername"`
	InitialLocation   string           `json:"initialLocation"`
	Requests          []copilotRequest `json:"requests"`
}

type copilotRequest struct {
	RequestID    string                `json:"requestId"`
	ResponseID   string                `json:"responseId"`
	Timestamp    interface{}           `json:"timestamp"`
	ModelID      string                `json:"modelId"`
	Message      copilotMessage        `json:"message"`
	Response     []copilotResponseItem `json:"response"`
	VariableData copilotVariableData   `json:"variableData"`
	IsCanceled   bool                  `json:"isCanceled"`
}

type copilotMessage struct {
	Text string `json:"text"`
}

type copilotResponseItem struct {
	Kind              *string                `json:"kind"`
	Value             json.RawMessage        `json:"value,omitempty"`
	ToolID            string                 `json:"toolId,omitempty"`
	ToolName          string                 `json:"toolName,omitempty"`
	ToolCallID        string                 `json:"toolCallId,omitempty"`
	InvocationMessage json.RawMessage        `json:"invocationMessage,omitempty"`
	PastTenseMessage  json.RawMessage        `json:"pastTenseMessage,omitempty"`
	IsComplete        bool                   `json:"isComplete,omitempty"`
	Source            *copilotToolSource     `json:"source,omitempty"`
	URI               map[string]interface{} `json:"uri,omitempty"`
	Edits             []interface{}          `json:"edits,omitempty"`
}

type copilotToolSource struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

type copilotVariableData struct {
	Variables []copilotVariable `json:"variables"`
}

type copilotVariable struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Value     map[string]interface{} `json:"value"`
	Kind      string                 `json:"kind"`
	AutoAdded bool                   `json:"automaticallyAdded"`
}

// ParseLine is unsupported: Copilot sessions are whole-file documents.
func (a *CopilotAdapter) ParseLine(line string) (*domain.Event, error) {
	return nil, fmt.Errorf("line-based parsing not supported for copilot chat sessions")
}

// WholeFile is true: the unit of meaning is the whole session document.
func (a *CopilotAdapter) WholeFile() bool {
	return true
}

// ParseFile parses one chat session file into its synthetic sub-events.
func (a *CopilotAdapter) ParseFile(path string) ([]*domain.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat session file: %w", err)
	}

	var session copilotChatSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse chat session JSON: %w", err)
	}

	sessionID := strings.TrimSuffix(filepath.Base(path), ".json")
	workspaceID := workspaceIDFromPath(path)

	var hierarchyCtx *hierarchy.WorkspaceContext
	if workspaceID != "" && a.hierarchy != nil {
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
	for i := range session.Requests {
		request := &session.Requests[i]
		if request.IsCanceled {
			continue
		}
		events = append(events, a.requestEvents(&session, request, sessionID, workspaceID, hierarchyCtx)...)
	}

	return events, nil
}

// requestEvents expands one request-response turn into its sub-events.
func (a *CopilotAdapter) requestEvents(
	session *copilotChatSession,
	request *copilotRequest,
	sessionID, workspaceID string,
	hierarchyCtx *hierarchy.WorkspaceContext,
) []*domain.Event {
	timestamp := parseTimestamp(request.Timestamp)

	var events []*domain.Event

	events = append(events, a.llmRequestEvent(session, request, sessionID, workspaceID, timestamp))

	for i := range request.VariableData.Variables {
		if event := a.fileReferenceEvent(request, &request.VariableData.Variables[i], sessionID, timestamp); event != nil {
			events = append(events, event)
		}
	}

	toolEvents, responseText := a.responseItemEvents(request, sessionID, timestamp)
	events = append(events, toolEvents...)

	events = append(events, a.llmResponseEvent(request, responseText, sessionID, timestamp))

	for _, event := range events {
		applyHierarchy(event, hierarchyCtx)
	}

	return events
}

func (a *CopilotAdapter) llmRequestEvent(
	session *copilotChatSession,
	request *copilotRequest,
	sessionID, workspaceID string,
	timestamp time.Time,
) *domain.Event {
	prompt := request.Message.Text

	return &domain.Event{
		ID:              uuid.New().String(),
		Timestamp:       timestamp,
		Type:            domain.EventTypeLLMRequest,
		AgentID:         a.name,
		AgentVersion:    "1.0.0",
		SessionID:       sessionID,
		LegacyProjectID: a.legacyProjectID,
		Context: map[string]interface{}{
			"username":       session.RequesterUsername,
			"location":       session.InitialLocation,
			"variablesCount": len(request.VariableData.Variables),
			"workspaceId":    workspaceID,
		},
		Data: map[string]interface{}{
			"requestId":    request.RequestID,
			"modelId":      request.ModelID,
			"prompt":       prompt,
			"promptLength": len(prompt),
		},
		Metrics: &domain.Metrics{
			PromptTokens: estimateTokens(prompt),
		},
	}
}

// llmResponseEvent lands one second after the request so the turn's
// sub-events keep a stable order.
func (a *CopilotAdapter) llmResponseEvent(
	request *copilotRequest,
	responseText, sessionID string,
	timestamp time.Time,
) *domain.Event {
	return &domain.Event{
		ID:              uuid.New().String(),
		Timestamp:       timestamp.Add(time.Second),
		Type:            domain.EventTypeLLMResponse,
		AgentID:         a.name,
		AgentVersion:    "1.0.0",
		SessionID:       sessionID,
		LegacyProjectID: a.legacyProjectID,
		Data: map[string]interface{}{
			"requestId":      request.RequestID,
			"responseId":     request.ResponseID,
			"response":       responseText,
			"responseLength": len(responseText),
		},
		Metrics: &domain.Metrics{
			ResponseTokens: estimateTokens(responseText),
		},
	}
}

func (a *CopilotAdapter) fileReferenceEvent(
	request *copilotRequest,
	variable *copilotVariable,
	sessionID string,
	timestamp time.Time,
) *domain.Event {
	filePath := extractFilePath(variable.Value)
	if filePath == "" {
		return nil
	}

	return &domain.Event{
		ID:              uuid.New().String(),
		Timestamp:       timestamp,
		Type:            domain.EventTypeFileRead,
		AgentID:         a.name,
		AgentVersion:    "1.0.0",
		SessionID:       sessionID,
		LegacyProjectID: a.legacyProjectID,
		Data: map[string]interface{}{
			"requestId":    request.RequestID,
			"filePath":     filePath,
			"variableId":   variable.ID,
			"variableName": variable.Name,
			"kind":         variable.Kind,
			"automatic":    variable.AutoAdded,
		},
	}
}

// responseItemEvents walks the response stream, emitting tool and file
// events with increasing offsets and concatenating the plain-text parts
// into the response body.
func (a *CopilotAdapter) responseItemEvents(
	request *copilotRequest,
	sessionID string,
	timestamp time.Time,
) ([]*domain.Event, string) {
	var events []*domain.Event
	var responseParts []string
	offset := time.Duration(0)

	for i := range request.Response {
		item := &request.Response[i]

		switch {
		case item.Kind == nil:
			if text := extractValueText(item.Value); text != "" {
				responseParts = append(responseParts, text)
			}

		case *item.Kind == "toolInvocationSerialized":
			offset += 100 * time.Millisecond
			events = append(events, a.toolInvocationEvent(request, item, sessionID, timestamp.Add(offset)))

		case *item.Kind == "codeblockUri":
			if filePath := extractFilePath(item.URI); filePath != "" {
				offset += 50 * time.Millisecond
				events = append(events, &domain.Event{
					ID:              uuid.New().String(),
					Timestamp:       timestamp.Add(offset),
					Type:            domain.EventTypeFileRead,
					AgentID:         a.name,
					AgentVersion:    "1.0.0",
					SessionID:       sessionID,
					LegacyProjectID: a.legacyProjectID,
					Data: map[string]interface{}{
						"requestId": request.RequestID,
						"filePath":  filePath,
						"source":    "codeblock",
					},
				})
			}

		case *item.Kind == "textEditGroup":
			offset += 100 * time.Millisecond
			events = append(events, &domain.Event{
				ID:              uuid.New().String(),
				Timestamp:       timestamp.Add(offset),
				Type:            domain.EventTypeFileModify,
				AgentID:         a.name,
				AgentVersion:    "1.0.0",
				SessionID:       sessionID,
				LegacyProjectID: a.legacyProjectID,
				Data: map[string]interface{}{
					"requestId": request.RequestID,
					"editCount": len(item.Edits),
				},
			})
		}
	}

	return events, strings.Join(responseParts, "")
}

func (a *CopilotAdapter) toolInvocationEvent(
	request *copilotRequest,
	item *copilotResponseItem,
	sessionID string,
	timestamp time.Time,
) *domain.Event {
	data := map[string]interface{}{
		"requestId":  request.RequestID,
		"toolId":     item.ToolID,
		"toolName":   item.ToolName,
		"toolCallId": item.ToolCallID,
		"isComplete": item.IsComplete,
	}

	if len(item.InvocationMessage) > 0 {
		data["invocationMessage"] = extractMessageText(item.InvocationMessage)
	}
	if len(item.PastTenseMessage) > 0 {
		data["result"] = extractMessageText(item.PastTenseMessage)
	}
	if item.Source != nil {
		data["source"] = item.Source.Label
	}

	return &domain.Event{
		ID:              uuid.New().String(),
		Timestamp:       timestamp,
		Type:            domain.EventTypeToolUse,
		AgentID:         a.name,
		AgentVersion:    "1.0.0",
		SessionID:       sessionID,
		LegacyProjectID: a.legacyProjectID,
		Data:            data,
	}
}

// SupportsFormat accepts JSON documents shaped like a chat session.
func (a *CopilotAdapter) SupportsFormat(sample string) bool {
	var session copilotChatSession
	if err := json.Unmarshal([]byte(sample), &session); err != nil {
		return false
	}
	return len(session.Requests) > 0 || session.RequesterUsername != ""
}

// extractMessageText handles messages that arrive as either a bare
// string or a {text: ...} object.
func extractMessageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}

	var msg copilotMessage
	if err := json.Unmarshal(raw, &msg); err == nil {
		return msg.Text
	}

	return string(raw)
}

// extractValueText handles response values that arrive as either a
// string or an array of {text: ...} parts.
func extractValueText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}

	var parts []copilotMessage
	if err := json.Unmarshal(raw, &parts); err == nil {
		var texts []string
		for _, part := range parts {
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		return strings.Join(texts, "")
	}

	return ""
}

// extractFilePath pulls a file path out of a VS Code URI object.
func extractFilePath(uri map[string]interface{}) string {
	if uri == nil {
		return ""
	}
	if path, ok := uri["path"].(string); ok {
		return path
	}
	if fsPath, ok := uri["fsPath"].(string); ok {
		return fsPath
	}
	return ""
}
