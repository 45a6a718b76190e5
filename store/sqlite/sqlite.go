/*
Package sqlite provides a SQLite-backed implementation of docstore.Store.

PURPOSE:
  A single-table document store: every document is one row holding a JSON
  body, addressed by (collection, id). SQLite's own transactions provide
  the multi-document ACID guarantee the custody engine relies on.

SCHEMA:
  documents(collection, id, body, version, updated_at)
  PRIMARY KEY (collection, id)

TRANSACTIONS:
  RunTransaction runs fn inside BEGIN IMMEDIATE, so writers are serialized
  by the database. Busy/locked errors are retried up to a bound, then
  surfaced as docstore.ErrConflict.

SENTINELS:
  ServerTimestamp/ArrayUnion/ArrayRemove are resolved in Go against the
  current row inside the same SQL transaction as the write, so Set is an
  atomic array append (the store advertises AtomicArrays).

JSON SHAPE:
  time.Time values marshal to RFC3339 strings and numbers unmarshal to
  float64; consumers decode documents tolerantly (see custody/codec.go).

WAL MODE:
  Opened with WAL for concurrent readers and a busy timeout so short write
  contention waits instead of failing.

SEE ALSO:
  - docstore/docstore.go: The contract
  - docstore/memory:      The in-memory twin used in tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/toolroom/docstore"
)

// maxTxAttempts bounds busy/locked retries in RunTransaction.
const maxTxAttempts = 5

// Store implements docstore.Store on SQLite.
type Store struct {
	db    *sql.DB
	Clock docstore.Clock
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps BEGIN IMMEDIATE semantics straightforward.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, Clock: docstore.RealClock{}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		body       TEXT NOT NULL,
		version    INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection
		ON documents(collection);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AtomicArrays: array sentinels resolve inside the same SQL transaction as
// the write.
func (s *Store) AtomicArrays() bool { return true }

// =============================================================================
// READS
// =============================================================================

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		ref.Collection, ref.ID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeBody(body)
}

func (s *Store) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM documents WHERE collection = ? ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		doc, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// =============================================================================
// WRITES
// =============================================================================

func (s *Store) Set(ctx context.Context, ref docstore.Ref, doc docstore.Document, merge bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.upsert(ctx, tx, ref, doc, merge); err != nil {
		return err
	}
	return tx.Commit()
}

// upsert resolves sentinels against the current row and writes the result.
func (s *Store) upsert(ctx context.Context, tx *sql.Tx, ref docstore.Ref, doc docstore.Document, merge bool) error {
	var base docstore.Document
	if merge {
		var body string
		err := tx.QueryRowContext(ctx,
			`SELECT body FROM documents WHERE collection = ? AND id = ?`,
			ref.Collection, ref.ID,
		).Scan(&body)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// create-if-absent
		case err != nil:
			return err
		default:
			base, err = decodeBody(body)
			if err != nil {
				return err
			}
		}
	}

	now := s.Clock.Now()
	resolved := docstore.Resolve(base, doc, now)
	body, err := json.Marshal(resolved)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			body = excluded.body,
			version = documents.version + 1,
			updated_at = excluded.updated_at`,
		ref.Collection, ref.ID, string(body), now.Format(time.RFC3339Nano),
	)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) RunTransaction(ctx context.Context, fn func(docstore.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", docstore.ErrConflict, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(docstore.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	view := &sqlTx{ctx: ctx, store: s, tx: tx}
	if err := fn(view); err != nil {
		return err
	}
	if view.err != nil {
		return view.err
	}
	return tx.Commit()
}

// sqlTx implements docstore.Tx over one SQL transaction. Writes apply
// immediately inside the transaction; the first write error is remembered
// and aborts the commit.
type sqlTx struct {
	ctx   context.Context
	store *Store
	tx    *sql.Tx
	err   error
}

func (t *sqlTx) Get(ref docstore.Ref) (docstore.Document, error) {
	var body string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		ref.Collection, ref.ID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeBody(body)
}

func (t *sqlTx) Set(ref docstore.Ref, doc docstore.Document, merge bool) {
	if t.err != nil {
		return
	}
	t.err = t.store.upsert(t.ctx, t.tx, ref, doc, merge)
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeBody(body string) (docstore.Document, error) {
	var doc docstore.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("corrupt document body: %w", err)
	}
	return doc, nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
