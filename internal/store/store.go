// Package store provides the task persistence layer: field-level invariants,
// hierarchy validation, the filtered/sorted/paginated query path, and the
// bulk import planner. Every mutation runs inside a single transaction.
package store

import (
	"database/sql"
	"fmt"

	"github.com/lherron/taskd/internal/db"
	"github.com/lherron/taskd/internal/domain"
	"github.com/lherron/taskd/internal/events"
)

// Store is the root store that provides access to domain-specific stores.
type Store struct {
	db *db.DB

	Tasks *TaskStore
}

// New creates a new Store wrapping the given database connection.
func New(database *db.DB) *Store {
	s := &Store{db: database}
	s.Tasks = &TaskStore{store: s}
	return s
}

// DB returns the underlying database connection (for read-only queries).
func (s *Store) DB() *db.DB {
	return s.db
}

// withTx executes fn within a transaction. If fn returns nil, the transaction
// is committed; otherwise it is rolled back.
func (s *Store) withTx(fn func(tx *sql.Tx, ew *events.Writer) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ew := events.NewWriter(s.db.DB)
	if err := fn(tx, ew); err != nil {
		return err
	}

	return tx.Commit()
}

// validateParent verifies that a candidate parent exists and is not the task
// itself. Multi-hop cycles are not checked; only the direct self-reference.
func validateParent(tx *sql.Tx, parentID, selfID string) error {
	if parentID == selfID {
		return domain.NewValidationError("task cannot be its own parent")
	}
	var exists int
	err := tx.QueryRow("SELECT COUNT(*) FROM tasks WHERE id = ?", parentID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check parent task: %w", err)
	}
	if exists == 0 {
		return domain.NewValidationError("parent task not found")
	}
	return nil
}

// Preconditions carries the optional concurrency preconditions for a
// mutation. Zero values mean "not supplied".
type Preconditions struct {
	// IfUnmodifiedSince is a timestamp; the mutation fails if the stored
	// updated_at is strictly later.
	IfUnmodifiedSince string
	// IfMatch is an ETag (the quoted updated_at string); the mutation fails
	// on any mismatch.
	IfMatch string
}

// checkPreconditions evaluates the optional preconditions against the stored
// updated_at value.
func checkPreconditions(updatedAt string, pre Preconditions) error {
	if pre.IfUnmodifiedSince != "" {
		clientTime, err := domain.ParseTimestamp(pre.IfUnmodifiedSince)
		if err != nil {
			return domain.NewFieldError("if_unmodified_since", "invalid timestamp format")
		}
		stored, err := domain.ParseTimestamp(updatedAt)
		if err == nil && stored.After(clientTime) {
			return &domain.PreconditionFailedError{Message: "task has been modified since specified time"}
		}
	}

	if pre.IfMatch != "" && pre.IfMatch != domain.ETag(updatedAt) {
		return &domain.PreconditionFailedError{Message: "etag does not match current resource"}
	}

	return nil
}
