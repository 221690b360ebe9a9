// Package db tests for database migration management.
package db

import (
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"

	apperrors "github.com/kimhsiao/possync/internal/errors"
)

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestInitialize verifies schema_migrations table creation.
func TestInitialize(t *testing.T) {
	db := openRawDB(t)
	m := NewMigrator(db, fstest.MapFS{})

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_migrations'").Scan(&tableName)
	if err != nil {
		t.Errorf("schema_migrations table not found: %v", err)
	}

	// Checksums must be sha256 hex.
	_, err = db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		1, 123456, "short_checksum", "abc")
	if err == nil {
		t.Error("Insert with short checksum should violate CHECK constraint")
	}
}

// TestCurrentVersion verifies version tracking.
func TestCurrentVersion(t *testing.T) {
	db := openRawDB(t)
	m := NewMigrator(db, fstest.MapFS{})

	if _, err := m.CurrentVersion(); err == nil {
		t.Error("CurrentVersion() should fail before Initialize()")
	}
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}

	_, err = db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		3, 123456, "records", strings.Repeat("a", 64))
	if err != nil {
		t.Fatalf("Failed to insert migration: %v", err)
	}
	version, _ = m.CurrentVersion()
	if version != 3 {
		t.Errorf("CurrentVersion() = %d, want 3", version)
	}
}

// TestUp_appliesInVersionOrder verifies numeric (not lexical) ordering.
func TestUp_appliesInVersionOrder(t *testing.T) {
	db := openRawDB(t)
	fsys := fstest.MapFS{
		"V10__add_note.up.sql":   {Data: []byte(`ALTER TABLE items ADD COLUMN note TEXT;`)},
		"V2__items.up.sql":       {Data: []byte(`CREATE TABLE items (id TEXT PRIMARY KEY);`)},
		"V2__items.down.sql":     {Data: []byte(`DROP TABLE items;`)},
		"V10__add_note.down.sql": {Data: []byte(`ALTER TABLE items DROP COLUMN note;`)},
		"README.md":              {Data: []byte(`not a migration`)},
		"Vx__broken.up.sql":      {Data: []byte(`garbage`)},
	}
	m := NewMigrator(db, fsys)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("GetAppliedMigrations() = %d, want 2", len(applied))
	}
	if applied[0].Version != 2 || applied[1].Version != 10 {
		t.Errorf("applied versions = %d,%d, want 2,10", applied[0].Version, applied[1].Version)
	}
	if applied[0].Description != "items" {
		t.Errorf("Description = %q, want %q", applied[0].Description, "items")
	}
	if len(applied[0].Checksum) != 64 {
		t.Errorf("Checksum length = %d, want 64", len(applied[0].Checksum))
	}

	// Second run is a no-op.
	if err := m.Up(); err != nil {
		t.Errorf("Up() second time failed: %v", err)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	version, _ := m.CurrentVersion()
	if version != 2 {
		t.Errorf("CurrentVersion() after Down = %d, want 2", version)
	}
}

// TestUp_failedMigrationRollsBack verifies a failing file leaves no record.
func TestUp_failedMigrationRollsBack(t *testing.T) {
	db := openRawDB(t)
	m := NewMigrator(db, fstest.MapFS{
		"V1__bad.up.sql": {Data: []byte(`CREATE TABLE ok_table (id INTEGER); SELECT * FROM missing_table;`)},
	})
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Up(); err == nil {
		t.Fatal("Up() with failing migration should return error")
	}
	version, _ := m.CurrentVersion()
	if version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}
}

// TestDown_noMigrations verifies error when no migrations to rollback.
func TestDown_noMigrations(t *testing.T) {
	db := openRawDB(t)
	m := NewMigrator(db, fstest.MapFS{})
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	err := m.Down()
	if err == nil {
		t.Fatal("Down() with no migrations should return error")
	}
	if !strings.Contains(err.Error(), "no migrations to rollback") {
		t.Errorf("Error message should mention 'no migrations to rollback', got: %v", err)
	}
}

// TestUp_modifiedMigration verifies an edited applied file stops Up.
func TestUp_modifiedMigration(t *testing.T) {
	db := openRawDB(t)
	fsys := fstest.MapFS{
		"V1__items.up.sql": {Data: []byte(`CREATE TABLE items (id TEXT PRIMARY KEY);`)},
	}
	m := NewMigrator(db, fsys)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	fsys["V1__items.up.sql"] = &fstest.MapFile{Data: []byte(`CREATE TABLE items (id INTEGER PRIMARY KEY);`)}
	err := m.Up()
	if !apperrors.Is(err, apperrors.ErrMigration) {
		t.Fatalf("Up() error = %v, want %s", err, apperrors.ErrMigration)
	}
	if !strings.Contains(err.Error(), "modified") {
		t.Errorf("Up() error = %v, want a modification error", err)
	}
}

// TestDown_missingDownFile verifies Down needs a down file for the version.
func TestDown_missingDownFile(t *testing.T) {
	db := openRawDB(t)
	m := NewMigrator(db, fstest.MapFS{
		"V1__items.up.sql": {Data: []byte(`CREATE TABLE items (id TEXT PRIMARY KEY);`)},
	})
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if err := m.Down(); err == nil {
		t.Error("Down() without a down file should fail")
	}
	if version, _ := m.CurrentVersion(); version != 1 {
		t.Errorf("CurrentVersion() = %d, want 1", version)
	}
}

// TestEmbeddedMigrations verifies the shipped schema applies and rolls back.
func TestEmbeddedMigrations(t *testing.T) {
	db := openRawDB(t)
	m, err := NewEmbeddedMigrator(db)
	if err != nil {
		t.Fatalf("NewEmbeddedMigrator() failed: %v", err)
	}
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	version, _ := m.CurrentVersion()
	if version != 2 {
		t.Errorf("CurrentVersion() = %d, want 2", version)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name LIKE 'idx_records_%'").Scan(&n); err != nil {
		t.Fatalf("index lookup failed: %v", err)
	}
	if n != 7 {
		t.Errorf("records indexes = %d, want 7", n)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name = 'idx_records_sale_id'").Scan(&n); err != nil {
		t.Fatalf("index lookup failed: %v", err)
	}
	if n != 0 {
		t.Error("idx_records_sale_id should be dropped by Down()")
	}
}
