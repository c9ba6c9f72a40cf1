package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lherron/taskd/internal/domain"
	"github.com/lherron/taskd/internal/events"
)

// TaskStore handles task persistence operations.
type TaskStore struct {
	store *Store
}

// CreateParams contains parameters for creating a new task.
type CreateParams struct {
	Title       string
	Description *string
	Completed   bool
	Archived    bool
	Priority    int
	DueDate     *string
	ParentID    *string
	Tags        []string
	Metadata    json.RawMessage
}

// Create creates a new task, assigns its id, stamps created_at/updated_at,
// and derives completion_date when the task is created already completed.
func (ts *TaskStore) Create(params CreateParams) (*domain.Task, error) {
	if err := domain.ValidateTitle(params.Title); err != nil {
		return nil, err
	}
	if params.Description != nil {
		if err := domain.ValidateDescription(*params.Description); err != nil {
			return nil, err
		}
	}
	if err := domain.ValidatePriority(params.Priority); err != nil {
		return nil, err
	}

	tags := params.Tags
	if tags != nil {
		normalized, err := domain.NormalizeTags(tags)
		if err != nil {
			return nil, err
		}
		tags = normalized
	}

	now := domain.NowUTC()
	task := &domain.Task{
		ID:          uuid.NewString(),
		Title:       params.Title,
		Description: params.Description,
		Completed:   params.Completed,
		Archived:    params.Archived,
		Priority:    params.Priority,
		DueDate:     params.DueDate,
		ParentID:    params.ParentID,
		Tags:        tags,
		Metadata:    params.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Completed {
		task.CompletionDate = &now
	}

	err := ts.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		if task.ParentID != nil {
			if err := validateParent(tx, *task.ParentID, task.ID); err != nil {
				return err
			}
		}

		if err := insertTask(tx, task); err != nil {
			return err
		}

		return ew.LogEvent(tx, &task.ID, "task.created", map[string]interface{}{
			"title": task.Title,
		})
	})
	if err != nil {
		return nil, err
	}

	task.Tags = task.GetTags()
	return task, nil
}

// Get retrieves a task by id.
func (ts *TaskStore) Get(id string) (*domain.Task, error) {
	row := ts.store.db.QueryRow(taskColumnsQuery+" WHERE id = ?", id)
	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// Update applies a partial update. Only keys present in fields change;
// a present key with a nil value clears the column. completion_date is
// recomputed only when "completed" is among the fields and its value differs
// from the stored one. updated_at is always refreshed.
func (ts *TaskStore) Update(id string, fields map[string]interface{}, pre Preconditions) (*domain.Task, error) {
	var updated *domain.Task

	err := ts.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		var oldCompleted bool
		var oldUpdatedAt string
		err := tx.QueryRow("SELECT completed, updated_at FROM tasks WHERE id = ?", id).Scan(&oldCompleted, &oldUpdatedAt)
		if err != nil {
			if err == sql.ErrNoRows {
				return &domain.NotFoundError{ID: id}
			}
			return fmt.Errorf("failed to get task: %w", err)
		}

		if err := checkPreconditions(oldUpdatedAt, pre); err != nil {
			return err
		}

		now := domain.NowUTC()
		var setClauses []string
		var args []interface{}
		changed := make([]string, 0, len(fields))

		for key, value := range fields {
			arg, err := updateArg(tx, id, key, value)
			if err != nil {
				return err
			}
			setClauses = append(setClauses, fmt.Sprintf("%s = ?", key))
			args = append(args, arg)
			changed = append(changed, key)
		}

		if value, ok := fields["completed"]; ok {
			newCompleted, _ := value.(bool)
			if newCompleted && !oldCompleted {
				setClauses = append(setClauses, "completion_date = ?")
				args = append(args, now)
			} else if !newCompleted && oldCompleted {
				setClauses = append(setClauses, "completion_date = NULL")
			}
		}

		setClauses = append(setClauses, "updated_at = ?")
		args = append(args, now, id)

		query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = ?", strings.Join(setClauses, ", "))
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}

		if err := ew.LogEvent(tx, &id, "task.updated", map[string]interface{}{
			"fields": changed,
		}); err != nil {
			return err
		}

		updated, err = getTaskTx(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// updateArg validates one partial-update field and converts it to a SQL
// argument. A nil value clears the column.
func updateArg(tx *sql.Tx, selfID, key string, value interface{}) (interface{}, error) {
	switch key {
	case "title":
		title, ok := value.(string)
		if !ok {
			return nil, domain.NewFieldError("title", "must be a string")
		}
		if err := domain.ValidateTitle(title); err != nil {
			return nil, err
		}
		return title, nil
	case "description":
		s, ok := value.(*string)
		if !ok && value != nil {
			return nil, domain.NewFieldError("description", "must be a string or null")
		}
		if s != nil {
			if err := domain.ValidateDescription(*s); err != nil {
				return nil, err
			}
			return *s, nil
		}
		return nil, nil
	case "completed", "archived":
		b, ok := value.(bool)
		if !ok {
			return nil, domain.NewFieldError(key, "must be a boolean")
		}
		return b, nil
	case "priority":
		p, ok := value.(int)
		if !ok {
			return nil, domain.NewFieldError("priority", "must be an integer")
		}
		if err := domain.ValidatePriority(p); err != nil {
			return nil, err
		}
		return p, nil
	case "due_date":
		s, ok := value.(*string)
		if !ok && value != nil {
			return nil, domain.NewFieldError("due_date", "must be a string or null")
		}
		if s != nil {
			return *s, nil
		}
		return nil, nil
	case "parent_id":
		s, ok := value.(*string)
		if !ok && value != nil {
			return nil, domain.NewFieldError("parent_id", "must be a string or null")
		}
		if s != nil {
			if err := validateParent(tx, *s, selfID); err != nil {
				return nil, err
			}
			return *s, nil
		}
		return nil, nil
	case "tags":
		tags, ok := value.([]string)
		if !ok && value != nil {
			return nil, domain.NewFieldError("tags", "must be an array of strings or null")
		}
		if tags == nil {
			return nil, nil
		}
		normalized, err := domain.NormalizeTags(tags)
		if err != nil {
			return nil, err
		}
		return encodeTags(normalized), nil
	case "metadata":
		meta, ok := value.(json.RawMessage)
		if !ok && value != nil {
			return nil, domain.NewFieldError("metadata", "must be an object or null")
		}
		if meta == nil {
			return nil, nil
		}
		return string(meta), nil
	default:
		return nil, fmt.Errorf("unknown update field: %s", key)
	}
}

// Delete removes a task. The parent_id foreign key cascades the delete to
// all transitive descendants within the same transaction.
func (ts *TaskStore) Delete(id string) error {
	return ts.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		res, err := tx.Exec("DELETE FROM tasks WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return &domain.NotFoundError{ID: id}
		}

		return ew.LogEvent(tx, &id, "task.deleted", nil)
	})
}

const taskColumnsQuery = `
	SELECT id, title, description, completed, archived, priority,
	       due_date, completion_date, parent_id, tags, metadata,
	       created_at, updated_at
	FROM tasks`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanTask scans one row of taskColumnsQuery into a domain.Task.
func scanTask(row rowScanner) (*domain.Task, error) {
	task := &domain.Task{}
	var tags, metadata *string

	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.Completed,
		&task.Archived, &task.Priority, &task.DueDate, &task.CompletionDate,
		&task.ParentID, &tags, &metadata, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Tags = decodeTags(tags)
	if metadata != nil {
		task.Metadata = json.RawMessage(*metadata)
	}

	return task, nil
}

func getTaskTx(tx *sql.Tx, id string) (*domain.Task, error) {
	task, err := scanTask(tx.QueryRow(taskColumnsQuery+" WHERE id = ?", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// insertTask writes a full task row, preserving every field as supplied.
func insertTask(tx *sql.Tx, task *domain.Task) error {
	var metadata *string
	if task.Metadata != nil {
		s := string(task.Metadata)
		metadata = &s
	}

	_, err := tx.Exec(`
		INSERT INTO tasks (
			id, title, description, completed, archived, priority,
			due_date, completion_date, parent_id, tags, metadata,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID, task.Title, task.Description, task.Completed, task.Archived,
		task.Priority, task.DueDate, task.CompletionDate, task.ParentID,
		encodeTags(task.Tags), metadata, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// encodeTags serializes tags for storage. Empty or absent tags store NULL.
func encodeTags(tags []string) *string {
	if len(tags) == 0 {
		return nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

// decodeTags parses the stored JSON tags, returning an empty slice for NULL.
func decodeTags(stored *string) []string {
	if stored == nil || *stored == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(*stored), &tags); err != nil {
		return []string{}
	}
	return tags
}
