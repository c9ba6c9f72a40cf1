package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lherron/taskd/internal/domain"
	"github.com/lherron/taskd/internal/events"
)

// Conflict policies for bulk import.
const (
	OnConflictFail   = "fail"
	OnConflictSkip   = "skip"
	OnConflictUpsert = "upsert"
)

// ImportOptions configures a bulk import.
type ImportOptions struct {
	// OnConflict is one of fail, skip, upsert. Defaults to fail.
	OnConflict string
	// ValidateOnly reports the count that would be written without
	// persisting anything.
	ValidateOnly bool
}

// ImportResult contains the result of an import operation.
type ImportResult struct {
	ImportedCount int  `json:"imported_count"`
	ValidateOnly  bool `json:"-"`
}

// Import executes a bulk import: records keep their client-supplied ids and
// timestamps verbatim, parents within the batch are processed before their
// children, and the whole batch commits as one transaction.
func (ts *TaskStore) Import(records []domain.Task, opts ImportOptions) (*ImportResult, error) {
	onConflict := opts.OnConflict
	if onConflict == "" {
		onConflict = OnConflictFail
	}
	switch onConflict {
	case OnConflictFail, OnConflictSkip, OnConflictUpsert:
	default:
		return nil, domain.NewFieldError("on_conflict", "must be one of: fail, skip, upsert")
	}

	for i := range records {
		if err := validateImportRecord(&records[i]); err != nil {
			return nil, err
		}
	}

	// Duplicate ids within the batch are rejected regardless of policy.
	batchIDs := make(map[string]bool, len(records))
	for _, rec := range records {
		if batchIDs[rec.ID] {
			return nil, domain.NewValidationError("duplicate ids in import payload")
		}
		batchIDs[rec.ID] = true
	}

	existing, err := ts.existingIDs(records)
	if err != nil {
		return nil, err
	}

	if len(existing) > 0 && onConflict == OnConflictFail {
		conflicting := make([]string, 0, len(existing))
		for _, rec := range records {
			if existing[rec.ID] {
				conflicting = append(conflicting, rec.ID)
			}
		}
		return nil, &domain.ConflictError{ConflictingIDs: conflicting}
	}

	remaining := records
	if onConflict == OnConflictSkip {
		remaining = make([]domain.Task, 0, len(records))
		for _, rec := range records {
			if !existing[rec.ID] {
				remaining = append(remaining, rec)
			}
		}
	}

	// Parent references resolve against the batch plus the store.
	if err := ts.validateImportParents(remaining, batchIDs); err != nil {
		return nil, err
	}

	if opts.ValidateOnly {
		return &ImportResult{ImportedCount: len(remaining), ValidateOnly: true}, nil
	}

	ordered := orderByDependency(remaining)

	imported := 0
	err = ts.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		for i := range ordered {
			rec := &ordered[i]
			if onConflict == OnConflictUpsert && existing[rec.ID] {
				if err := replaceTask(tx, rec); err != nil {
					return err
				}
			} else {
				if err := insertTask(tx, rec); err != nil {
					return err
				}
			}
			imported++
		}

		return ew.LogEvent(tx, nil, "tasks.imported", map[string]interface{}{
			"count":       imported,
			"on_conflict": onConflict,
		})
	})
	if err != nil {
		return nil, err
	}

	return &ImportResult{ImportedCount: imported}, nil
}

// validateImportRecord checks field constraints and normalizes tags in place.
func validateImportRecord(rec *domain.Task) error {
	if rec.ID == "" {
		return domain.NewFieldError("id", "must not be empty")
	}
	if err := domain.ValidateTitle(rec.Title); err != nil {
		return err
	}
	if rec.Description != nil {
		if err := domain.ValidateDescription(*rec.Description); err != nil {
			return err
		}
	}
	if err := domain.ValidatePriority(rec.Priority); err != nil {
		return err
	}
	if rec.CreatedAt == "" {
		return domain.NewFieldError("created_at", "must not be empty")
	}
	if rec.UpdatedAt == "" {
		return domain.NewFieldError("updated_at", "must not be empty")
	}
	if rec.Tags != nil {
		normalized, err := domain.NormalizeTags(rec.Tags)
		if err != nil {
			return err
		}
		rec.Tags = normalized
	}
	return nil
}

// existingIDs partitions the batch by checking which ids are already stored.
func (ts *TaskStore) existingIDs(records []domain.Task) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(records) == 0 {
		return existing, nil
	}

	placeholders := make([]string, len(records))
	args := make([]interface{}, len(records))
	for i, rec := range records {
		placeholders[i] = "?"
		args[i] = rec.ID
	}

	query := fmt.Sprintf("SELECT id FROM tasks WHERE id IN (%s)", strings.Join(placeholders, ", "))
	rows, err := ts.store.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}

	return existing, nil
}

// validateImportParents verifies every parent reference against the batch
// plus the stored tasks. Only the direct self-reference is rejected.
func (ts *TaskStore) validateImportParents(records []domain.Task, batchIDs map[string]bool) error {
	for _, rec := range records {
		if rec.ParentID == nil {
			continue
		}
		parentID := *rec.ParentID
		if parentID == rec.ID {
			return domain.NewValidationError("task cannot be its own parent")
		}
		if batchIDs[parentID] {
			continue
		}
		var exists int
		if err := ts.store.db.QueryRow("SELECT COUNT(*) FROM tasks WHERE id = ?", parentID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check parent task: %w", err)
		}
		if exists == 0 {
			return domain.NewValidationError("parent task not found")
		}
	}
	return nil
}

// orderByDependency returns the records in a parent-before-child sequence.
// Only parents present in the batch are reordered; a record whose parent is
// outside the batch keeps its relative position.
func orderByDependency(records []domain.Task) []domain.Task {
	byID := make(map[string]*domain.Task, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}

	ordered := make([]domain.Task, 0, len(records))
	processed := make(map[string]bool, len(records))

	var add func(rec *domain.Task)
	add = func(rec *domain.Task) {
		if processed[rec.ID] {
			return
		}
		processed[rec.ID] = true
		if rec.ParentID != nil {
			if parent, ok := byID[*rec.ParentID]; ok {
				add(parent)
			}
		}
		ordered = append(ordered, *rec)
	}

	for i := range records {
		add(&records[i])
	}

	return ordered
}

// replaceTask overwrites every field of an existing row with the import
// payload's values, timestamps included.
func replaceTask(tx *sql.Tx, task *domain.Task) error {
	var metadata *string
	if task.Metadata != nil {
		s := string(task.Metadata)
		metadata = &s
	}

	_, err := tx.Exec(`
		UPDATE tasks
		SET title = ?, description = ?, completed = ?, archived = ?,
		    priority = ?, due_date = ?, completion_date = ?, parent_id = ?,
		    tags = ?, metadata = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`,
		task.Title, task.Description, task.Completed, task.Archived,
		task.Priority, task.DueDate, task.CompletionDate, task.ParentID,
		encodeTags(task.Tags), metadata, task.CreatedAt, task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to replace task: %w", err)
	}
	return nil
}
