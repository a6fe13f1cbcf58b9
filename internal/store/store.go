// Package store provides the durable, schema-versioned local store backing
// the sync engine: cached entity collections, the mutation queue, and the
// actor context all live in one SQLite database on device.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/models"
)

// Store is a durable local database organized into named collections with
// secondary indexes. All operations touch on-device storage only; none
// touch the network.
type Store struct {
	db     *sql.DB
	schema Schema
	byName map[string]CollectionDef
}

// Open opens (or creates) the store at dataDir and applies any pending
// additive schema migration. Opening with a schema version lower than the
// stored one fails rather than destroying newer data.
func Open(dataDir string, schema Schema) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, "fieldsync.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to open database", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to enable foreign keys", err)
	}

	s := &Store{
		db:     db,
		schema: schema,
		byName: make(map[string]CollectionDef, len(schema.Collections)),
	}
	for _, c := range schema.Collections {
		s.byName[c.Name] = c
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for components that keep singleton rows
// outside the collection layout (the actor context store).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Collections lists the registered collection names.
func (s *Store) Collections() []string {
	names := make([]string, 0, len(s.schema.Collections))
	for _, c := range s.schema.Collections {
		names = append(names, c.Name)
	}
	return names
}

// Put inserts or overwrites a record by primary key (upsert semantics) and
// returns the stored record. Secondary index entries are rebuilt in the
// same transaction, so a reader never observes a half-indexed record.
func (s *Store) Put(ctx context.Context, collection string, rec *models.CachedRecord) (*models.CachedRecord, error) {
	def, ok := s.byName[collection]
	if !ok {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown collection %q", collection))
	}
	if rec.ID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "record id is required")
	}
	if rec.SyncStatus == "" {
		rec.SyncStatus = models.SyncStatusSynced
	}
	rec.CachedAt = time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapSQLiteErr("begin put", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (collection, id, payload, sync_status, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			payload = excluded.payload,
			sync_status = excluded.sync_status,
			cached_at = excluded.cached_at
	`, collection, rec.ID, string(rec.Payload), string(rec.SyncStatus), rec.CachedAt)
	if err != nil {
		return nil, mapSQLiteErr("put record", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_index WHERE collection = ? AND record_id = ?`,
		collection, rec.ID); err != nil {
		return nil, mapSQLiteErr("clear index entries", err)
	}

	for _, idx := range def.Indexes {
		value, ok := extractIndexValue(rec.Payload, idx.Field)
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO record_index (collection, index_name, value, record_id)
			VALUES (?, ?, ?, ?)
		`, collection, idx.Name, value, rec.ID); err != nil {
			return nil, mapSQLiteErr("write index entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSQLiteErr("commit put", err)
	}
	return rec, nil
}

// Get returns the record or a NOT_FOUND error.
func (s *Store) Get(ctx context.Context, collection, id string) (*models.CachedRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, payload, sync_status, cached_at
		FROM records WHERE collection = ? AND id = ?
	`, collection, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("%s/%s not found", collection, id))
	}
	if err != nil {
		return nil, mapSQLiteErr("get record", err)
	}
	return rec, nil
}

// GetAll returns every record in the collection. An empty collection
// yields an empty slice, not an error.
func (s *Store) GetAll(ctx context.Context, collection string) ([]*models.CachedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, sync_status, cached_at
		FROM records WHERE collection = ?
		ORDER BY cached_at, id
	`, collection)
	if err != nil {
		return nil, mapSQLiteErr("get all", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// GetByIndex returns all records whose indexed field equals value.
func (s *Store) GetByIndex(ctx context.Context, collection, indexName, value string) ([]*models.CachedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.payload, r.sync_status, r.cached_at
		FROM record_index i
		JOIN records r ON r.collection = i.collection AND r.id = i.record_id
		WHERE i.collection = ? AND i.index_name = ? AND i.value = ?
		ORDER BY r.cached_at, r.id
	`, collection, indexName, value)
	if err != nil {
		return nil, mapSQLiteErr("get by index", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// GetBySyncStatus returns all records in the collection with the given
// sync status. Every collection carries this index implicitly.
func (s *Store) GetBySyncStatus(ctx context.Context, collection string, status models.SyncStatus) ([]*models.CachedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, sync_status, cached_at
		FROM records WHERE collection = ? AND sync_status = ?
		ORDER BY cached_at, id
	`, collection, string(status))
	if err != nil {
		return nil, mapSQLiteErr("get by sync status", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Delete removes a record and its index entries. Deleting a missing
// record is a no-op.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr("begin delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return mapSQLiteErr("delete record", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_index WHERE collection = ? AND record_id = ?`, collection, id); err != nil {
		return mapSQLiteErr("delete index entries", err)
	}
	return tx.Commit()
}

// Clear removes every record in the collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr("begin clear", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return mapSQLiteErr("clear records", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_index WHERE collection = ?`, collection); err != nil {
		return mapSQLiteErr("clear index entries", err)
	}
	return tx.Commit()
}

// ClearAll wipes every collection. Used on logout.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr("begin clear all", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return mapSQLiteErr("clear all records", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM record_index`); err != nil {
		return mapSQLiteErr("clear all index entries", err)
	}
	return tx.Commit()
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, mapSQLiteErr("count", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.CachedRecord, error) {
	var rec models.CachedRecord
	var payload, status string
	if err := row.Scan(&rec.ID, &payload, &status, &rec.CachedAt); err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)
	rec.SyncStatus = models.SyncStatus(status)
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*models.CachedRecord, error) {
	recs := []*models.CachedRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, mapSQLiteErr("scan record", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr("iterate records", err)
	}
	return recs, nil
}

// extractIndexValue pulls a top-level payload field as its index value.
// Missing or null fields are simply not indexed.
func extractIndexValue(payload json.RawMessage, field string) (string, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", false
	}
	v, ok := m[field]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		if val == "" {
			return "", false
		}
		return val, true
	case float64:
		return fmt.Sprintf("%v", val), true
	case bool:
		return fmt.Sprintf("%t", val), true
	default:
		return "", false
	}
}

// mapSQLiteErr converts driver errors into the store error taxonomy.
// Quota and corruption are distinguished because callers must surface
// them instead of degrading to the queued path.
func mapSQLiteErr(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "disk is full") || strings.Contains(msg, "database or disk is full"):
		return apperrors.Wrap(apperrors.ErrStorageQuota, op, err)
	case strings.Contains(msg, "malformed") || strings.Contains(msg, "corrupt"):
		return apperrors.Wrap(apperrors.ErrCorruption, op, err)
	default:
		return apperrors.Wrap(apperrors.ErrStorage, op, err)
	}
}
