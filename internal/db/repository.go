package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/models"
)

// fieldPattern restricts queryable fields to names that can be embedded
// in a JSON path literal.
var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Repository is the SQLite implementation of LocalStore. Every collection
// lives in the records table as JSON bodies keyed by (collection, id).
type Repository struct {
	db *sql.DB

	// Prepared statement cache, keyed by query string.
	stmtCache sync.Map // map[string]*sql.Stmt

	now func() time.Time
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Another goroutine may have stored the same query first.
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// =====================================================
// Reads
// =====================================================

// Get returns the record with id, or nil when it does not exist.
func (r *Repository) Get(ctx context.Context, collection, id string) (models.Record, error) {
	stmt, err := r.PrepareStmt(`SELECT body FROM records WHERE collection = ? AND id = ?`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get record", err)
	}

	var body string
	err = stmt.QueryRowContext(ctx, collection, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get record", err)
	}

	var rec models.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf("malformed record %s/%s", collection, id), err)
	}
	return rec, nil
}

// GetAll returns every record of a collection in insertion order.
// Rows whose body cannot be decoded are skipped with a warning.
func (r *Repository) GetAll(ctx context.Context, collection string) ([]models.Record, error) {
	stmt, err := r.PrepareStmt(`SELECT id, body FROM records WHERE collection = ? ORDER BY rowid`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list records", err)
	}

	rows, err := stmt.QueryContext(ctx, collection)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list records", err)
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan record", err)
		}
		var rec models.Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			logging.WarnErr("Skipping malformed record", err, map[string]interface{}{
				"collection": collection,
				"id":         id,
			})
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list records", err)
	}
	return records, nil
}

// Query returns the records of collection whose field equals value.
//
// The indexed path compares json_extract(body, '$.field') in SQL. When it
// cannot be used (field name outside [a-z0-9_], SQL error, undecodable row)
// the collection is scanned and filtered in memory instead, which yields the
// same result set.
func (r *Repository) Query(ctx context.Context, collection, field string, value interface{}) ([]models.Record, error) {
	if fieldPattern.MatchString(field) {
		records, err := r.queryIndexed(ctx, collection, field, value)
		if err == nil {
			return records, nil
		}
		logging.WarnErr("Indexed query failed, falling back to scan", err, map[string]interface{}{
			"collection": collection,
			"field":      field,
		})
	}
	return r.queryScan(ctx, collection, field, value)
}

func (r *Repository) queryIndexed(ctx context.Context, collection, field string, value interface{}) ([]models.Record, error) {
	want := models.Record{field: value}.String(field)
	query := fmt.Sprintf(
		`SELECT body FROM records WHERE collection = ? AND json_extract(body, '$.%s') IN (?, ?, ?) ORDER BY rowid`,
		field,
	)
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	args := append([]interface{}{collection}, candidates(want)...)
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec models.Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, err
		}
		// SQL narrows by type-loose equality; the final word is the
		// same string comparison the scan uses.
		if matches(rec, field, want) {
			records = append(records, rec)
		}
	}
	return records, rows.Err()
}

func (r *Repository) queryScan(ctx context.Context, collection, field string, value interface{}) ([]models.Record, error) {
	all, err := r.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}

	want := models.Record{field: value}.String(field)
	records := []models.Record{}
	for _, rec := range all {
		if matches(rec, field, want) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// matches reports whether rec has field and its string form equals want.
func matches(rec models.Record, field, want string) bool {
	if v, ok := rec[field]; !ok || v == nil {
		return false
	}
	return rec.String(field) == want
}

// candidates returns the SQL values json_extract can produce for a field
// whose string form is want: the text itself, the number it parses to and
// the 1/0 that JSON booleans extract as.
func candidates(want string) []interface{} {
	out := []interface{}{want, want, want}
	if f, err := strconv.ParseFloat(want, 64); err == nil {
		out[1] = f
	}
	switch want {
	case "true":
		out[2] = 1
	case "false":
		out[2] = 0
	}
	return out
}

// Count returns the number of records in a collection.
func (r *Repository) Count(ctx context.Context, collection string) (int, error) {
	stmt, err := r.PrepareStmt(`SELECT COUNT(*) FROM records WHERE collection = ?`)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count records", err)
	}
	var n int
	if err := stmt.QueryRowContext(ctx, collection).Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count records", err)
	}
	return n, nil
}

// =====================================================
// Writes
// =====================================================

// Add inserts a new record; it fails when the id already exists.
func (r *Repository) Add(ctx context.Context, collection string, rec models.Record) error {
	id, body, err := encodeRecord(collection, rec)
	if err != nil {
		return err
	}

	stmt, err := r.PrepareStmt(`INSERT INTO records (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to add record", err)
	}
	now := r.now().Unix()
	if _, err := stmt.ExecContext(ctx, collection, id, body, now, now); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf("failed to add record %s/%s", collection, id), err)
	}
	return nil
}

// Put inserts or replaces a record. Replacing keeps the record's
// original insertion position.
func (r *Repository) Put(ctx context.Context, collection string, rec models.Record) error {
	id, body, err := encodeRecord(collection, rec)
	if err != nil {
		return err
	}

	stmt, err := r.PrepareStmt(`
		INSERT INTO records (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to put record", err)
	}
	now := r.now().Unix()
	if _, err := stmt.ExecContext(ctx, collection, id, body, now, now); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf("failed to put record %s/%s", collection, id), err)
	}
	return nil
}

// Delete removes a record. Deleting an absent record is not an error.
func (r *Repository) Delete(ctx context.Context, collection, id string) error {
	stmt, err := r.PrepareStmt(`DELETE FROM records WHERE collection = ? AND id = ?`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete record", err)
	}
	if _, err := stmt.ExecContext(ctx, collection, id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf("failed to delete record %s/%s", collection, id), err)
	}
	return nil
}

func encodeRecord(collection string, rec models.Record) (string, string, error) {
	if collection == "" {
		return "", "", apperrors.New(apperrors.ErrInvalid, "collection is required")
	}
	id := rec.ID()
	if id == "" {
		return "", "", apperrors.New(apperrors.ErrInvalid, "record id is required")
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrInvalid, "failed to encode record", err)
	}
	return id, string(body), nil
}
