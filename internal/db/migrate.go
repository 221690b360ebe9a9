package db

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"time"

	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/logging"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration is a row of schema_migrations.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// Migrator applies V{version}__{description}.up.sql / .down.sql files
// from a file system, recording each applied version with its checksum.
type Migrator struct {
	db   *sql.DB
	fsys fs.FS
}

// NewMigrator creates a Migrator reading migrations from fsys.
func NewMigrator(db *sql.DB, fsys fs.FS) *Migrator {
	return &Migrator{db: db, fsys: fsys}
}

// NewEmbeddedMigrator creates a Migrator over the migrations compiled into the binary.
func NewEmbeddedMigrator(db *sql.DB) (*Migrator, error) {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to open embedded migrations", err)
	}
	return NewMigrator(db, sub), nil
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	_, err := m.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`)
	return err
}

// CurrentVersion returns the highest applied version, 0 when none.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns applied migrations in version order.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var (
			mig       Migration
			appliedAt int64
		)
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// =====================================================
// Migration files
// =====================================================

var migrationName = regexp.MustCompile(`^V(\d+)__(.+)\.(up|down)\.sql$`)

// script pairs the up and down files of one version.
type script struct {
	version     int
	description string
	up          string
	down        string
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// scripts lists the versions found in fsys, ascending. Files that do not
// match the naming scheme are ignored.
func (m *Migrator) scripts() ([]*script, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to read migrations directory", err)
	}

	byVersion := map[int]*script{}
	for _, entry := range entries {
		match := migrationName.FindStringSubmatch(entry.Name())
		if entry.IsDir() || match == nil {
			continue
		}
		version, err := strconv.Atoi(match[1])
		if err != nil || version == 0 {
			continue
		}
		s, ok := byVersion[version]
		if !ok {
			s = &script{version: version, description: match[2]}
			byVersion[version] = s
		}
		if match[3] == "up" {
			s.up = entry.Name()
		} else {
			s.down = entry.Name()
		}
	}

	out := make([]*script, 0, len(byVersion))
	for _, s := range byVersion {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// Up applies every pending migration in version order. It refuses to run
// when an applied migration's file changed since it was applied.
func (m *Migrator) Up() error {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to get applied migrations", err)
	}
	sums := make(map[int]string, len(applied))
	for _, mig := range applied {
		sums[mig.Version] = mig.Checksum
	}

	scripts, err := m.scripts()
	if err != nil {
		return err
	}

	for _, s := range scripts {
		if s.up == "" {
			continue
		}
		content, err := fs.ReadFile(m.fsys, s.up)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "failed to read "+s.up, err)
		}
		sum := checksum(content)

		if recorded, ok := sums[s.version]; ok {
			if recorded != sum {
				return apperrors.New(apperrors.ErrMigration,
					fmt.Sprintf("migration V%d was modified after it was applied", s.version))
			}
			continue
		}
		if err := m.apply(s, content, sum); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, fmt.Sprintf("failed to apply migration V%d", s.version), err)
		}
		logging.Info("Applied migration", map[string]interface{}{
			"version":     s.version,
			"description": s.description,
		})
	}
	return nil
}

func (m *Migrator) apply(s *script, content []byte, sum string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)`,
		s.version, time.Now().Unix(), s.description, sum,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Down rolls back the highest applied version using its down file.
func (m *Migrator) Down() error {
	current, err := m.CurrentVersion()
	if err != nil {
		return err
	}
	if current == 0 {
		return apperrors.New(apperrors.ErrMigration, "no migrations to rollback")
	}

	scripts, err := m.scripts()
	if err != nil {
		return err
	}
	var target *script
	for _, s := range scripts {
		if s.version == current {
			target = s
		}
	}
	if target == nil || target.down == "" {
		return apperrors.New(apperrors.ErrMigration, fmt.Sprintf("no rollback migration found for version %d", current))
	}

	content, err := fs.ReadFile(m.fsys, target.down)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to read "+target.down, err)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, fmt.Sprintf("failed to roll back V%d", current), err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", current); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Info("Rolled back migration", map[string]interface{}{"version": current})
	return nil
}
