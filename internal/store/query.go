package store

import (
	"fmt"
	"strings"

	"github.com/lherron/taskd/internal/domain"
)

const (
	// DefaultLimit is the page size when none is requested.
	DefaultLimit = 100
	// MaxLimit bounds the page size.
	MaxLimit = 1000
)

// ListOptions describes a filtered, sorted, paginated listing. All filters
// are optional and combined conjunctively. A nil ParentID means "root tasks
// only"; listing never implicitly returns all depths.
type ListOptions struct {
	Completed *bool
	Archived  *bool
	Priority  *int
	Tags      []string
	ParentID  *string
	Search    string
	DueBefore string
	DueAfter  string
	Overdue   bool

	SortBy string // created_at, updated_at, title, priority, due_date, completed
	Order  string // asc, desc
	Limit  int
	Offset int
}

// List resolves a listing to one page of tasks plus the total match count
// before pagination.
func (ts *TaskStore) List(opts ListOptions) ([]domain.Task, int, error) {
	where, args := buildFilters(opts)

	var total int
	countQuery := "SELECT COUNT(*) FROM tasks" + where
	if err := ts.store.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	orderBy, err := buildOrderBy(opts.SortBy, opts.Order)
	if err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := taskColumnsQuery + where + orderBy + " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := ts.store.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, total, nil
}

// buildFilters translates ListOptions into a WHERE clause and arguments.
func buildFilters(opts ListOptions) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if opts.Completed != nil {
		clauses = append(clauses, "completed = ?")
		args = append(args, *opts.Completed)
	}
	if opts.Archived != nil {
		clauses = append(clauses, "archived = ?")
		args = append(args, *opts.Archived)
	}
	if opts.Priority != nil {
		clauses = append(clauses, "priority = ?")
		args = append(args, *opts.Priority)
	}

	if opts.ParentID == nil {
		clauses = append(clauses, "parent_id IS NULL")
	} else {
		clauses = append(clauses, "parent_id = ?")
		args = append(args, *opts.ParentID)
	}

	// Every supplied tag must be present. Matching is against the stored
	// JSON encoding; SQLite LIKE is case-insensitive for ASCII, which gives
	// the case-insensitive tag semantics.
	for _, tag := range opts.Tags {
		clauses = append(clauses, "tags LIKE ?")
		args = append(args, `%"`+strings.ToLower(strings.TrimSpace(tag))+`"%`)
	}

	if opts.Search != "" {
		clauses = append(clauses, "(title LIKE ? OR description LIKE ?)")
		pattern := "%" + opts.Search + "%"
		args = append(args, pattern, pattern)
	}

	// Lexicographic comparison is valid because timestamps are zero-padded
	// ISO-8601 UTC strings.
	if opts.DueBefore != "" {
		clauses = append(clauses, "due_date < ?")
		args = append(args, opts.DueBefore)
	}
	if opts.DueAfter != "" {
		clauses = append(clauses, "due_date > ?")
		args = append(args, opts.DueAfter)
	}

	if opts.Overdue {
		clauses = append(clauses, "due_date < ? AND completed = 0")
		args = append(args, domain.NowUTC())
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// buildOrderBy builds the ORDER BY clause. Ties in the primary sort key are
// always broken by created_at descending; title and due_date sort nulls last
// regardless of direction.
func buildOrderBy(sortBy, order string) (string, error) {
	if sortBy == "" {
		sortBy = "created_at"
	}
	if order == "" {
		order = "desc"
	}
	if err := domain.ValidateSortBy(sortBy); err != nil {
		return "", err
	}
	if err := domain.ValidateOrder(order); err != nil {
		return "", err
	}

	direction := "ASC"
	if order == "desc" {
		direction = "DESC"
	}

	switch sortBy {
	case "title", "due_date":
		return fmt.Sprintf(" ORDER BY %s %s NULLS LAST, created_at DESC", sortBy, direction), nil
	default:
		return fmt.Sprintf(" ORDER BY %s %s, created_at DESC", sortBy, direction), nil
	}
}

// Export returns every task, root tasks first (created_at ascending) then
// non-root tasks (created_at ascending). A parent therefore precedes its
// depth-1 children; deeper chains are not topologically ordered.
func (ts *TaskStore) Export() ([]domain.Task, error) {
	rows, err := ts.store.db.Query(taskColumnsQuery + `
		ORDER BY (parent_id IS NOT NULL) ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}
