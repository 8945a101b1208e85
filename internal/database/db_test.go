package database

import (
	"path/filepath"
	"testing"
)

func TestNewDB_AppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agent.db")

	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"memory_collections", "memory_documents", "usage_records"} {
		var name string
		err := db.SQL.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("Expected table %s to exist: %v", table, err)
		}
	}

	// A second open must be a no-op migration.
	db2, err := NewDB(path)
	if err != nil {
		t.Fatalf("Reopening database failed: %v", err)
	}
	db2.Close()
}
