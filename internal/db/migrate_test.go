package db

import (
	"database/sql"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrationsApply(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	m := NewMigrator(db)
	if err := m.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("Expected version %d, got %d", len(migrations), version)
	}

	for _, table := range []string{"cached_recordings", "cached_speaker_maps", "cached_tracks"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("Expected table %s to exist: %v", table, err)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	m := NewMigrator(db)
	if err := m.Up(); err != nil {
		t.Fatalf("First Up failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Second Up failed: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations failed: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("Expected %d applied migrations, got %d", len(migrations), len(applied))
	}
	for _, mig := range applied {
		if len(mig.Checksum) != 64 {
			t.Errorf("Expected sha256 checksum for V%d, got %q", mig.Version, mig.Checksum)
		}
	}
}

func TestMigrationsDetectChecksumDrift(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	m := NewMigrator(db)
	if err := m.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	// Simulate an applied script whose content no longer matches the
	// recorded checksum.
	drifted := strings.Repeat("0", 64)
	if _, err := db.Exec("UPDATE schema_migrations SET checksum = ? WHERE version = 1", drifted); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	err = m.Up()
	if err == nil {
		t.Fatal("Expected Up to reject a drifted migration checksum")
	}
	if !strings.Contains(err.Error(), "changed after being applied") {
		t.Errorf("Unexpected error: %v", err)
	}
}
