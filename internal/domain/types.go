package domain

import (
	"encoding/json"
	"time"
)

// Task is the single persisted entity. Timestamps are ISO-8601 UTC strings
// with fixed-width fractional seconds so lexicographic order matches
// chronological order.
type Task struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    *string         `json:"description"`
	Completed      bool            `json:"completed"`
	Archived       bool            `json:"archived"`
	Priority       int             `json:"priority"`
	DueDate        *string         `json:"due_date"`
	CompletionDate *string         `json:"completion_date"`
	ParentID       *string         `json:"parent_id"`
	Tags           []string        `json:"tags"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

// TimestampLayout is the canonical timestamp format. The fractional part is
// zero-padded to six digits so string comparison is safe for sorting and for
// the due_before/due_after filters.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// NowUTC returns the current instant in the canonical format.
func NowUTC() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// FormatTimestamp formats a time.Time in the canonical format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an ISO-8601 timestamp, with or without fractional
// seconds.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// ETag derives the version tag for a task: the quoted updated_at string.
func ETag(updatedAt string) string {
	return `"` + updatedAt + `"`
}

// GetTags returns the task's tags, never nil.
func (t *Task) GetTags() []string {
	if t.Tags == nil {
		return []string{}
	}
	return t.Tags
}
