// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migrationScript is one versioned schema change compiled into the
// binary. The companion ships its schema with the code instead of
// reading .sql files from disk.
type migrationScript struct {
	version     int
	description string
	sql         string
}

var migrations = []migrationScript{
	{
		version:     1,
		description: "recording_ledger",
		sql: `
CREATE TABLE cached_recordings (
	local_id TEXT PRIMARY KEY,
	remote_job_id TEXT,
	title TEXT NOT NULL,
	duration_sec REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'DRAFT_READY',
	local_file_path TEXT,
	remote_audio_url TEXT,
	local_audio_path TEXT,
	file_hash TEXT,
	keep_offline INTEGER NOT NULL DEFAULT 0,
	transcript_text TEXT,
	summary_text TEXT,
	individual_transcripts_json TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	sync_error TEXT
);

CREATE INDEX idx_recordings_created_at ON cached_recordings(created_at DESC);
CREATE INDEX idx_recordings_remote_job_id ON cached_recordings(remote_job_id);
CREATE INDEX idx_recordings_file_hash ON cached_recordings(file_hash);

CREATE TABLE cached_speaker_maps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	local_recording_id TEXT NOT NULL
		REFERENCES cached_recordings(local_id) ON DELETE CASCADE,
	original_speaker_label TEXT NOT NULL,
	display_name TEXT NOT NULL,
	UNIQUE(local_recording_id, original_speaker_label)
);

CREATE TABLE cached_tracks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	local_recording_id TEXT NOT NULL
		REFERENCES cached_recordings(local_id) ON DELETE CASCADE,
	track_name TEXT NOT NULL,
	track_index INTEGER NOT NULL,
	UNIQUE(local_recording_id, track_index)
);
`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum)
		if err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedChecksums := make(map[int]string)
	for _, mig := range applied {
		appliedChecksums[mig.Version] = mig.Checksum
	}

	for _, script := range migrations {
		if recorded, ok := appliedChecksums[script.version]; ok {
			// An applied script must not change afterwards; a drifted
			// checksum means the schema on disk no longer matches the
			// code that claims to have produced it.
			if sum := checksum(script.sql); sum != recorded {
				return fmt.Errorf("migration V%d (%s) changed after being applied: checksum %s, recorded %s",
					script.version, script.description, sum, recorded)
			}
			continue
		}

		if err := m.applyMigration(script); err != nil {
			return fmt.Errorf("failed to apply migration V%d: %w", script.version, err)
		}
	}

	return nil
}

// checksum returns the hex SHA-256 of a migration script.
func checksum(sql string) string {
	hash := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(hash[:])
}

// applyMigration applies a single migration inside a transaction.
func (m *Migrator) applyMigration(script migrationScript) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(script.sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	// Record migration with a SHA-256 checksum of the SQL content
	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, script.version, time.Now().Unix(), script.description, checksum(script.sql)); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
