package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Writer handles writing events to the event log
type Writer struct {
	db *sql.DB
}

// NewWriter creates a new event writer
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// LogEvent writes an event to the event log. The payload is marshaled to
// JSON; a nil payload stores NULL.
func (w *Writer) LogEvent(tx *sql.Tx, resourceID *string, eventType string, payload interface{}) error {
	var payloadStr *string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		s := string(data)
		payloadStr = &s
	}

	query := `
		INSERT INTO event_log (resource_id, event_type, payload)
		VALUES (?, ?, ?)
	`

	executor := w.getExecutor(tx)
	if _, err := executor.Exec(query, resourceID, eventType, payloadStr); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// getExecutor returns the appropriate executor (tx or db)
func (w *Writer) getExecutor(tx *sql.Tx) interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
} {
	if tx != nil {
		return tx
	}
	return w.db
}
