package domain

import "time"

// Event is the canonical record every adapter produces and every
// consumer stores. Fields that may be absent carry omitempty so the
// serialized form preserves only the keys that were actually present.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	AgentID   string    `json:"agentId"`

	AgentVersion string `json:"agentVersion,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`

	// Hierarchy references, resolved post-hoc by an external resolver.
	ProjectID   int `json:"projectId,omitempty"`
	MachineID   int `json:"machineId,omitempty"`
	WorkspaceID int `json:"workspaceId,omitempty"`

	// Opaque fallback used until hierarchy resolution has run.
	LegacyProjectID string `json:"legacyProjectId,omitempty"`

	Context map[string]interface{} `json:"context,omitempty"`
	Data    map[string]interface{} `json:"data"`
	Metrics *Metrics               `json:"metrics,omitempty"`
}

// Metrics holds performance figures for an event. Adapters attach it
// only when the source format supplied at least one value.
type Metrics struct {
	TokenCount     int     `json:"tokenCount,omitempty"`
	DurationMs     int64   `json:"durationMs,omitempty"`
	PromptTokens   int     `json:"promptTokens,omitempty"`
	ResponseTokens int     `json:"responseTokens,omitempty"`
	Cost           float64 `json:"cost,omitempty"`
}

// Event type enumeration. Events carrying any other type string are
// dropped before they reach a store.
const (
	EventTypeLLMRequest      = "llm_request"
	EventTypeLLMResponse     = "llm_response"
	EventTypeToolUse         = "tool_use"
	EventTypeFileRead        = "file_read"
	EventTypeFileWrite       = "file_write"
	EventTypeFileModify      = "file_modify"
	EventTypeCommandExec     = "command_execution"
	EventTypeUserInteraction = "user_interaction"
	EventTypeError           = "error_encountered"
	EventTypeSessionStart    = "session_start"
	EventTypeSessionEnd      = "session_end"
)

var validTypes = map[string]struct{}{
	EventTypeLLMRequest:      {},
	EventTypeLLMResponse:     {},
	EventTypeToolUse:         {},
	EventTypeFileRead:        {},
	EventTypeFileWrite:       {},
	EventTypeFileModify:      {},
	EventTypeCommandExec:     {},
	EventTypeUserInteraction: {},
	EventTypeError:           {},
	EventTypeSessionStart:    {},
	EventTypeSessionEnd:      {},
}

// ValidType reports whether t is a member of the event type enumeration.
func ValidType(t string) bool {
	_, ok := validTypes[t]
	return ok
}
