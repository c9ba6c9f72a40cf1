package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lherron/taskd/internal/domain"
	"github.com/lherron/taskd/internal/testutil"
)

func importRecord(id, title string) domain.Task {
	return domain.Task{
		ID:        id,
		Title:     title,
		CreatedAt: "2025-01-01T00:00:00.000000Z",
		UpdatedAt: "2025-01-01T00:00:00.000000Z",
	}
}

func TestTaskStore_Import(t *testing.T) {
	s := setupTestStore(t)

	result, err := s.Tasks.Import([]domain.Task{
		importRecord("a", "Task A"),
		importRecord("b", "Task B"),
	}, ImportOptions{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.ImportedCount != 2 {
		t.Errorf("expected 2 imported, got %d", result.ImportedCount)
	}

	got, err := s.Tasks.Get("a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CreatedAt != "2025-01-01T00:00:00.000000Z" {
		t.Errorf("expected client-supplied created_at preserved, got %s", got.CreatedAt)
	}
}

func TestTaskStore_ImportValidation(t *testing.T) {
	s := setupTestStore(t)

	var validationErr *domain.ValidationError
	tests := []struct {
		name string
		rec  domain.Task
	}{
		{"missing id", domain.Task{Title: "x", CreatedAt: "2025-01-01T00:00:00.000000Z", UpdatedAt: "2025-01-01T00:00:00.000000Z"}},
		{"missing title", importRecord("a", "")},
		{"missing created_at", domain.Task{ID: "a", Title: "x", UpdatedAt: "2025-01-01T00:00:00.000000Z"}},
		{"missing updated_at", domain.Task{ID: "a", Title: "x", CreatedAt: "2025-01-01T00:00:00.000000Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Tasks.Import([]domain.Task{tt.rec}, ImportOptions{}); !errors.As(err, &validationErr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestTaskStore_ImportDuplicateIDs(t *testing.T) {
	s := setupTestStore(t)

	var validationErr *domain.ValidationError
	// duplicate batch ids are rejected under every policy
	for _, policy := range []string{OnConflictFail, OnConflictSkip, OnConflictUpsert} {
		_, err := s.Tasks.Import([]domain.Task{
			importRecord("dup", "First"),
			importRecord("dup", "Second"),
		}, ImportOptions{OnConflict: policy})
		if !errors.As(err, &validationErr) {
			t.Errorf("policy %s: expected ValidationError for duplicate ids, got %v", policy, err)
		}
	}
}

func TestTaskStore_ImportConflictFail(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.Tasks.Import([]domain.Task{importRecord("taken", "Existing")}, ImportOptions{}); err != nil {
		t.Fatalf("seed import failed: %v", err)
	}

	var conflictErr *domain.ConflictError
	_, err := s.Tasks.Import([]domain.Task{
		importRecord("fresh", "New"),
		importRecord("taken", "Clash"),
	}, ImportOptions{OnConflict: OnConflictFail})
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(conflictErr.ConflictingIDs) != 1 || conflictErr.ConflictingIDs[0] != "taken" {
		t.Errorf("expected conflicting ids [taken], got %v", conflictErr.ConflictingIDs)
	}

	// nothing from the batch was written
	var notFound *domain.NotFoundError
	if _, err := s.Tasks.Get("fresh"); !errors.As(err, &notFound) {
		t.Errorf("expected fresh to be absent after failed import, got %v", err)
	}
}

func TestTaskStore_ImportConflictSkip(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.Tasks.Import([]domain.Task{importRecord("taken", "Existing")}, ImportOptions{}); err != nil {
		t.Fatalf("seed import failed: %v", err)
	}

	result, err := s.Tasks.Import([]domain.Task{
		importRecord("taken", "Should be ignored"),
		importRecord("fresh", "New"),
	}, ImportOptions{OnConflict: OnConflictSkip})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.ImportedCount != 1 {
		t.Errorf("expected 1 imported, got %d", result.ImportedCount)
	}

	got, err := s.Tasks.Get("taken")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "Existing" {
		t.Errorf("expected existing task untouched by skip, got title %q", got.Title)
	}
	if _, err := s.Tasks.Get("fresh"); err != nil {
		t.Errorf("expected fresh to be imported: %v", err)
	}
}

func TestTaskStore_ImportConflictUpsert(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.Tasks.Import([]domain.Task{importRecord("taken", "Existing")}, ImportOptions{}); err != nil {
		t.Fatalf("seed import failed: %v", err)
	}

	replacement := importRecord("taken", "Replaced")
	replacement.Priority = 7
	replacement.UpdatedAt = "2025-02-01T00:00:00.000000Z"

	result, err := s.Tasks.Import([]domain.Task{replacement}, ImportOptions{OnConflict: OnConflictUpsert})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.ImportedCount != 1 {
		t.Errorf("expected 1 imported, got %d", result.ImportedCount)
	}

	got, err := s.Tasks.Get("taken")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "Replaced" || got.Priority != 7 {
		t.Errorf("expected full replacement, got title=%q priority=%d", got.Title, got.Priority)
	}
	if got.UpdatedAt != "2025-02-01T00:00:00.000000Z" {
		t.Errorf("expected client-supplied updated_at, got %s", got.UpdatedAt)
	}
}

func TestTaskStore_ImportDependencyOrdering(t *testing.T) {
	s := setupTestStore(t)

	// the child appears before its parent in the payload
	child := importRecord("child", "Child")
	child.ParentID = strPtr("parent")

	result, err := s.Tasks.Import([]domain.Task{
		child,
		importRecord("parent", "Parent"),
	}, ImportOptions{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.ImportedCount != 2 {
		t.Errorf("expected 2 imported, got %d", result.ImportedCount)
	}

	got, err := s.Tasks.Get("child")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ParentID == nil || *got.ParentID != "parent" {
		t.Errorf("expected child linked to parent, got %v", got.ParentID)
	}
}

func TestTaskStore_ImportParentValidation(t *testing.T) {
	s := setupTestStore(t)

	var validationErr *domain.ValidationError

	orphan := importRecord("orphan", "Orphan")
	orphan.ParentID = strPtr("nowhere")
	if _, err := s.Tasks.Import([]domain.Task{orphan}, ImportOptions{}); !errors.As(err, &validationErr) {
		t.Errorf("expected ValidationError for unknown parent, got %v", err)
	}

	selfRef := importRecord("loop", "Loop")
	selfRef.ParentID = strPtr("loop")
	if _, err := s.Tasks.Import([]domain.Task{selfRef}, ImportOptions{}); !errors.As(err, &validationErr) {
		t.Errorf("expected ValidationError for self parent, got %v", err)
	}

	// a parent that already exists in the store is valid
	if _, err := s.Tasks.Import([]domain.Task{importRecord("stored-parent", "Parent")}, ImportOptions{}); err != nil {
		t.Fatalf("seed import failed: %v", err)
	}
	linked := importRecord("linked", "Linked")
	linked.ParentID = strPtr("stored-parent")
	if _, err := s.Tasks.Import([]domain.Task{linked}, ImportOptions{}); err != nil {
		t.Errorf("expected parent in store to satisfy validation: %v", err)
	}
}

func TestTaskStore_ImportValidateOnly(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.Tasks.Import([]domain.Task{importRecord("taken", "Existing")}, ImportOptions{}); err != nil {
		t.Fatalf("seed import failed: %v", err)
	}

	result, err := s.Tasks.Import([]domain.Task{
		importRecord("taken", "Would be skipped"),
		importRecord("fresh", "Would be new"),
	}, ImportOptions{OnConflict: OnConflictSkip, ValidateOnly: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.ImportedCount != 1 {
		t.Errorf("expected would-import count 1 after skip filtering, got %d", result.ImportedCount)
	}
	if !result.ValidateOnly {
		t.Error("expected ValidateOnly to be set on the result")
	}

	// nothing was written
	var notFound *domain.NotFoundError
	if _, err := s.Tasks.Get("fresh"); !errors.As(err, &notFound) {
		t.Errorf("expected no writes in validate-only mode, got %v", err)
	}
}

func TestTaskStore_ExportImportRoundTrip(t *testing.T) {
	src := setupTestStore(t)

	parent, err := src.Tasks.Create(CreateParams{
		Title:       "Parent",
		Description: strPtr("with child"),
		Priority:    3,
		Tags:        []string{"roundtrip"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := src.Tasks.Create(CreateParams{Title: "Child", ParentID: &parent.ID}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	exported, err := src.Tasks.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst := setupTestStore(t)
	result, err := dst.Tasks.Import(exported, ImportOptions{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.ImportedCount != len(exported) {
		t.Errorf("expected %d imported, got %d", len(exported), result.ImportedCount)
	}

	reExported, err := dst.Tasks.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	testutil.AssertJSONEqual(t, exported, reExported)
}

func TestOrderByDependency(t *testing.T) {
	chain := func(id string, parent *string) domain.Task {
		rec := importRecord(id, "Task "+id)
		rec.ParentID = parent
		return rec
	}

	ordered := orderByDependency([]domain.Task{
		chain("grandchild", strPtr("child")),
		chain("child", strPtr("parent")),
		chain("parent", nil),
	})

	want := []string{"parent", "child", "grandchild"}
	if fmt.Sprint(ids(ordered)) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, ids(ordered))
	}
}
