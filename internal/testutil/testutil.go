package testutil

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/lherron/taskd/internal/db"
)

// TempDB creates a temporary SQLite database with migrations applied.
func TempDB(t *testing.T) *db.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return database
}

// Diff returns a unified diff between two strings, empty when they match.
func Diff(expected, actual string) string {
	if expected == actual {
		return ""
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	})
	return diff
}

// AssertJSONEqual fails the test with a unified diff when the two values do
// not marshal to the same JSON.
func AssertJSONEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()

	expectedJSON, err := json.MarshalIndent(expected, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal expected value: %v", err)
	}
	actualJSON, err := json.MarshalIndent(actual, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal actual value: %v", err)
	}

	if diff := Diff(string(expectedJSON), string(actualJSON)); diff != "" {
		t.Fatalf("values differ:\n%s", diff)
	}
}
