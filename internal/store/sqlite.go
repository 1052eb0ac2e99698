package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"notesync-go/internal/notesync"
	"notesync-go/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// metaRevision and metaCheckpoint are the sync_meta keys owned by this store.
const (
	metaRevision   = "revision"
	metaCheckpoint = "checkpoint"
)

// SQLite implements the entity and mapping stores on a local SQLite file.
// Whole-collection saves and mapping batches each run in a single
// transaction, so a crash never leaves partial state behind.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (and migrates) a SQLite store at path.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store schema: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the store depends on. Exported for tools and tests.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys default to OFF in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Load returns the whole entity collection.
func (s *SQLite) Load(ctx context.Context) ([]notesync.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, title, description, location, start_time, end_time,
		       completed, archived, remote_ref, updated_at
		FROM entities ORDER BY local_id`)
	if err != nil {
		return nil, fmt.Errorf("loading entities: %w", err)
	}
	defer rows.Close()

	var out []notesync.Entity
	for rows.Next() {
		var (
			ent        notesync.Entity
			start, end sql.NullString
			updated    string
		)
		if err := rows.Scan(&ent.LocalID, &ent.Title, &ent.Description, &ent.Location,
			&start, &end, &ent.Completed, &ent.Archived, &ent.RemoteRef, &updated); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		if ent.StartTime, err = parseNullTime(start); err != nil {
			return nil, fmt.Errorf("entity %s start time: %w", ent.LocalID, err)
		}
		if ent.EndTime, err = parseNullTime(end); err != nil {
			return nil, fmt.Errorf("entity %s end time: %w", ent.LocalID, err)
		}
		if ent.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("entity %s updated time: %w", ent.LocalID, err)
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

// Save replaces the whole entity collection and records its revision, all in
// one transaction.
func (s *SQLite) Save(ctx context.Context, entities []notesync.Entity, revision time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return fmt.Errorf("clearing entities: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (local_id, title, description, location, start_time,
		                      end_time, completed, archived, remote_ref, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing entity insert: %w", err)
	}
	defer stmt.Close()

	for i := range entities {
		ent := &entities[i]
		if _, err := stmt.ExecContext(ctx, ent.LocalID, ent.Title, ent.Description,
			ent.Location, formatNullTime(ent.StartTime), formatNullTime(ent.EndTime),
			ent.Completed, ent.Archived, ent.RemoteRef, formatTime(ent.UpdatedAt)); err != nil {
			return fmt.Errorf("inserting entity %s: %w", ent.LocalID, err)
		}
	}

	if err := setMeta(ctx, tx, metaRevision, formatTime(revision)); err != nil {
		return err
	}

	return tx.Commit()
}

// Revision returns the collection's aggregate timestamp. A store that has
// never been saved reports the zero time.
func (s *SQLite) Revision(ctx context.Context) (time.Time, error) {
	v, err := s.getMeta(ctx, metaRevision)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return parseTime(v)
}

// Get returns the mapping for a local entity, or nil when none exists.
func (s *SQLite) Get(ctx context.Context, localID string) (*notesync.Mapping, error) {
	return s.getMapping(ctx, `WHERE local_id = ?`, localID)
}

// GetByRemoteID returns the mapping for a remote item, or nil when none exists.
func (s *SQLite) GetByRemoteID(ctx context.Context, remoteID string) (*notesync.Mapping, error) {
	return s.getMapping(ctx, `WHERE remote_id = ?`, remoteID)
}

func (s *SQLite) getMapping(ctx context.Context, where string, arg any) (*notesync.Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT local_id, remote_id, remote_collection_id, fingerprint, synced_at
		FROM mappings `+where, arg)

	var (
		m      notesync.Mapping
		synced string
	)
	err := row.Scan(&m.LocalID, &m.RemoteID, &m.RemoteCollectionID, &m.Fingerprint, &synced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding mapping: %w", err)
	}
	if m.SyncedAt, err = parseTime(synced); err != nil {
		return nil, fmt.Errorf("mapping %s synced time: %w", m.LocalID, err)
	}
	return &m, nil
}

// All returns every mapping, ordered by local id.
func (s *SQLite) All(ctx context.Context) ([]notesync.Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, remote_id, remote_collection_id, fingerprint, synced_at
		FROM mappings ORDER BY local_id`)
	if err != nil {
		return nil, fmt.Errorf("listing mappings: %w", err)
	}
	defer rows.Close()

	var out []notesync.Mapping
	for rows.Next() {
		var (
			m      notesync.Mapping
			synced string
		)
		if err := rows.Scan(&m.LocalID, &m.RemoteID, &m.RemoteCollectionID, &m.Fingerprint, &synced); err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		if m.SyncedAt, err = parseTime(synced); err != nil {
			return nil, fmt.Errorf("mapping %s synced time: %w", m.LocalID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Apply commits a mapping batch and the checkpoint advancement in one
// transaction. A mapping is never visible with a new fingerprint but an old
// remote id, or vice versa. Removals run before upserts: a batch may move a
// remote id from a removed mapping to an upserted one, and the unique index
// on remote_id would reject the upsert while the old row still exists.
func (s *SQLite) Apply(ctx context.Context, batch *notesync.MappingBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning mapping transaction: %w", err)
	}
	defer tx.Rollback()

	for _, localID := range batch.RemovedLocalIDs() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mappings WHERE local_id = ?`, localID); err != nil {
			return fmt.Errorf("removing mapping for %s: %w", localID, err)
		}
	}
	for _, remoteID := range batch.RemovedRemoteIDs() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mappings WHERE remote_id = ?`, remoteID); err != nil {
			return fmt.Errorf("removing mapping for remote %s: %w", remoteID, err)
		}
	}
	for _, m := range batch.Upserts() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mappings (local_id, remote_id, remote_collection_id, fingerprint, synced_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(local_id) DO UPDATE SET
				remote_id = excluded.remote_id,
				remote_collection_id = excluded.remote_collection_id,
				fingerprint = excluded.fingerprint,
				synced_at = excluded.synced_at`,
			m.LocalID, m.RemoteID, m.RemoteCollectionID, m.Fingerprint, formatTime(m.SyncedAt)); err != nil {
			return fmt.Errorf("upserting mapping %s: %w", m.LocalID, err)
		}
	}
	if cp := batch.CheckpointAdvance(); cp != nil {
		if err := setMeta(ctx, tx, metaCheckpoint, cp.Token); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Checkpoint returns the stored sync checkpoint, zero if none has been recorded.
func (s *SQLite) Checkpoint(ctx context.Context) (notesync.Checkpoint, error) {
	v, err := s.getMeta(ctx, metaCheckpoint)
	if err != nil {
		return notesync.Checkpoint{}, err
	}
	return notesync.Checkpoint{Token: v}, nil
}

func (s *SQLite) getMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading sync_meta %q: %w", key, err)
	}
	return v, nil
}

func setMeta(ctx context.Context, tx *sql.Tx, key, value string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
		return fmt.Errorf("writing sync_meta %q: %w", key, err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Compile-time checks that SQLite implements the store interfaces.
var (
	_ notesync.EntityStore  = (*SQLite)(nil)
	_ notesync.MappingStore = (*SQLite)(nil)
	_ Store                 = (*SQLite)(nil)
)
