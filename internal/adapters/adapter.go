package adapters

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/codetrail/collector/internal/domain"
	"github.com/codetrail/collector/internal/hierarchy"
)

// Adapter is the parsing contract every vendor log format implements.
type Adapter interface {
	// Name returns the stable identifier used for registry lookup and
	// checkpoint keys.
	Name() string

	// ParseLine parses one line of a line-oriented log. It returns
	// (nil, nil) for lines that do not contain a recognizable event;
	// only structural or I/O failures are errors.
	ParseLine(line string) (*domain.Event, error)

	// ParseFile parses a whole file as one structured document and
	// returns all events it yields.
	ParseFile(path string) ([]*domain.Event, error)

	// SupportsFormat is the heuristic sniff used by format
	// auto-detection. It must return false rather than guess and must
	// not panic on malformed input.
	SupportsFormat(sample string) bool

	// WholeFile declares whether the format's unit of meaning is the
	// entire file. Whole-file adapters are backfilled via ParseFile;
	// line-oriented adapters stream through ParseLine.
	WholeFile() bool
}

// BaseAdapter carries the identity fields shared by all adapters.
type BaseAdapter struct {
	name            string
	legacyProjectID string
}

// NewBaseAdapter creates a base adapter.
func NewBaseAdapter(name, legacyProjectID string) *BaseAdapter {
	return &BaseAdapter{
		name:            name,
		legacyProjectID: legacyProjectID,
	}
}

// Name returns the adapter name.
func (b *BaseAdapter) Name() string {
	return b.name
}

// LegacyProjectID returns the configured fallback project id.
func (b *BaseAdapter) LegacyProjectID() string {
	return b.legacyProjectID
}

// parseTimestamp normalizes the timestamp encodings seen across vendor
// logs, in fixed priority order: RFC3339 variants, epoch seconds, epoch
// milliseconds, then naive date-time strings. Any failure falls back to
// now; parsing never aborts on a bad timestamp.
func parseTimestamp(ts interface{}) time.Time {
	switch v := ts.(type) {
	case string:
		formats := []string{
			time.RFC3339,
			time.RFC3339Nano,
			"2006-01-02T15:04:05.000Z",
			"2006-01-02 15:04:05",
		}
		for _, format := range formats {
			if t, err := time.Parse(format, v); err == nil {
				return t.UTC()
			}
		}
	case float64:
		// Values past the year ~33658 in seconds are epoch millis.
		if v >= 1e12 {
			return time.Unix(0, int64(v)*int64(time.Millisecond)).UTC()
		}
		return time.Unix(int64(v), 0).UTC()
	case int64:
		if v >= 1e12 {
			return time.Unix(0, v*int64(time.Millisecond)).UTC()
		}
		return time.Unix(v, 0).UTC()
	}
	return time.Now().UTC()
}

// estimateTokens approximates a token count from text length. Rough,
// but good enough for relative metrics when the log has no real counts.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// workspaceIDFromPath extracts the editor workspace id from paths of
// the form .../workspaceStorage/{workspace-id}/...
func workspaceIDFromPath(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, part := range parts {
		if part == "workspaceStorage" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// applyHierarchy copies a resolved workspace context onto an event.
func applyHierarchy(event *domain.Event, ctx *hierarchy.WorkspaceContext) {
	if ctx == nil || ctx.ProjectID <= 0 {
		return
	}
	event.ProjectID = ctx.ProjectID
	event.MachineID = ctx.MachineID
	event.WorkspaceID = ctx.WorkspaceID
	if event.Context != nil {
		event.Context["projectName"] = ctx.ProjectName
		event.Context["machineName"] = ctx.MachineName
	}
}
