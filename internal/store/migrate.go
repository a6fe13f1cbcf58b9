package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
)

// migrate brings the on-device layout up to the schema version. The
// migration is additive only and runs in a single transaction per open:
// new collections are registered, and indexes added to pre-existing
// collections are backfilled from the stored records. Existing data is
// never dropped.
func (s *Store) migrate() error {
	if err := s.createBaseTables(); err != nil {
		return err
	}

	stored, err := s.storedVersion()
	if err != nil {
		return err
	}

	if stored > s.schema.Version {
		return apperrors.New(apperrors.ErrMigration,
			fmt.Sprintf("stored schema version %d is newer than supported version %d", stored, s.schema.Version))
	}
	if stored == s.schema.Version {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "begin migration", err)
	}
	defer tx.Rollback()

	for _, c := range s.schema.Collections {
		if c.AddedIn > stored {
			if _, err := tx.Exec(`
				INSERT INTO collections (name, added_in) VALUES (?, ?)
				ON CONFLICT (name) DO NOTHING
			`, c.Name, c.AddedIn); err != nil {
				return apperrors.Wrap(apperrors.ErrMigration, "register collection "+c.Name, err)
			}
			continue
		}
		// Collection predates this migration; backfill any new indexes
		// from the records already on device.
		for _, idx := range c.Indexes {
			if idx.AddedIn <= stored {
				continue
			}
			if err := backfillIndex(tx, c.Name, idx); err != nil {
				return err
			}
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO schema_info (id, version) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET version = excluded.version
	`, s.schema.Version); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "record schema version", err)
	}

	return tx.Commit()
}

func (s *Store) createBaseTables() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS schema_info (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL CHECK (version > 0)
	);
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		added_in INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		payload TEXT NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'synced',
		cached_at INTEGER NOT NULL,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_records_sync_status
		ON records (collection, sync_status);
	CREATE TABLE IF NOT EXISTS record_index (
		collection TEXT NOT NULL,
		index_name TEXT NOT NULL,
		value TEXT NOT NULL,
		record_id TEXT NOT NULL,
		PRIMARY KEY (collection, index_name, record_id)
	);
	CREATE INDEX IF NOT EXISTS idx_record_index_lookup
		ON record_index (collection, index_name, value);
	CREATE TABLE IF NOT EXISTS actor_context (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		role TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := s.db.Exec(ddl); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "create base tables", err)
	}
	return nil
}

func (s *Store) storedVersion() (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_info`).Scan(&v)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrMigration, "read schema version", err)
	}
	return v, nil
}

// backfillIndex scans the collection's records and writes index entries
// for an index introduced after the records were stored.
func backfillIndex(tx *sql.Tx, collection string, idx IndexDef) error {
	rows, err := tx.Query(`SELECT id, payload FROM records WHERE collection = ?`, collection)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "scan records for backfill", err)
	}
	defer rows.Close()

	type entry struct{ id, value string }
	var entries []entry
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "scan record", err)
		}
		if value, ok := extractIndexValue(json.RawMessage(payload), idx.Field); ok {
			entries = append(entries, entry{id, value})
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "iterate records", err)
	}

	for _, e := range entries {
		if _, err := tx.Exec(`
			INSERT INTO record_index (collection, index_name, value, record_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (collection, index_name, record_id) DO UPDATE SET value = excluded.value
		`, collection, idx.Name, e.value, e.id); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "backfill index "+idx.Name, err)
		}
	}
	return nil
}
