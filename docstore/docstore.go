/*
Package docstore defines the abstract transactional document store the
custody engine is written against.

PURPOSE:
  The engine never talks to a concrete database. It is specified against a
  small document-store contract: keyed documents, merge writes, multi-document
  ACID transactions with bounded conflict retries, server-assigned timestamps,
  and array union/remove semantics on a document field.

KEY CONCEPTS IN THIS FILE:
  - Ref:      A document address (collection + id)
  - Document: A schemaless field map (the unit of storage)
  - Store:    Non-transactional reads/writes + RunTransaction
  - Tx:       Read/write handle scoped to documents touched in a transaction
  - Sentinels: ServerTimestamp, ArrayUnion, ArrayRemove - placeholder values
    resolved by the store at commit time

TRANSACTION CONTRACT:
  RunTransaction executes fn against a transactional view. If the store
  detects a conflict it retries fn transparently up to an implementation
  bound; when retries exhaust it returns ErrConflict. fn must be safe to
  re-execute.

IMPLEMENTATIONS:
  - docstore/memory: In-memory, optimistic versioned commits (tests/dev)
  - store/sqlite:    SQLite-backed document table (production)

SEE ALSO:
  - custody/engine.go: The main consumer of this contract
*/
package docstore

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// REFS AND DOCUMENTS
// =============================================================================

// Ref addresses a single document. Collection is a slash-separated path so
// sub-collections ("items/T-1/history") need no special support.
type Ref struct {
	Collection string
	ID         string
}

func NewRef(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) String() string { return r.Collection + "/" + r.ID }

// Document is a schemaless field map. Values are strings, bools, numbers,
// time.Time, []any, nested Documents (map[string]any), or sentinels.
type Document = map[string]any

// =============================================================================
// SENTINEL VALUES - resolved by the store at commit
// =============================================================================

type serverTimestamp struct{}

// ServerTimestamp is a placeholder resolved to the store's clock at commit.
// Usable in both transactional and non-transactional writes.
var ServerTimestamp = serverTimestamp{}

type arrayUnion struct{ Values []any }

// ArrayUnion appends values to an array field, skipping values already
// present. Stores that implement AtomicArrays resolve this without a
// read-modify-write race.
func ArrayUnion(values ...any) any { return arrayUnion{Values: values} }

type arrayRemove struct{ Values []any }

// ArrayRemove removes all occurrences of the given values from an array field.
func ArrayRemove(values ...any) any { return arrayRemove{Values: values} }

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool { _, ok := v.(serverTimestamp); return ok }

// AsArrayUnion unpacks an ArrayUnion sentinel.
func AsArrayUnion(v any) ([]any, bool) {
	u, ok := v.(arrayUnion)
	if !ok {
		return nil, false
	}
	return u.Values, true
}

// AsArrayRemove unpacks an ArrayRemove sentinel.
func AsArrayRemove(v any) ([]any, bool) {
	rm, ok := v.(arrayRemove)
	if !ok {
		return nil, false
	}
	return rm.Values, true
}

// =============================================================================
// STORE - the contract
// =============================================================================

var (
	// ErrNotFound is returned by Get when the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned by RunTransaction when conflict retries exhaust.
	ErrConflict = errors.New("transaction conflict: retries exhausted")
)

// Store is the abstract document database.
type Store interface {
	// Get returns a copy of the document at ref, or ErrNotFound.
	Get(ctx context.Context, ref Ref) (Document, error)

	// Set writes doc at ref. With merge=true the given fields are applied on
	// top of the existing document (create-if-absent); with merge=false the
	// document is replaced. Non-transactional.
	Set(ctx context.Context, ref Ref, doc Document, merge bool) error

	// List returns copies of all documents in a collection, in unspecified
	// order.
	List(ctx context.Context, collection string) ([]Document, error)

	// RunTransaction executes fn with a transactional view. Retries
	// transparently on conflict up to an implementation bound; returns
	// ErrConflict when exhausted. Any other error from fn aborts and is
	// returned unchanged.
	RunTransaction(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transactional read/write handle passed to RunTransaction's fn.
// Writes are buffered until commit.
type Tx interface {
	Get(ref Ref) (Document, error)
	Set(ref Ref, doc Document, merge bool)
}

// =============================================================================
// OPTIONAL CAPABILITIES
// =============================================================================

// AtomicArrays is implemented by stores whose Set resolves ArrayUnion /
// ArrayRemove atomically against the stored document. Callers without this
// capability must serialize their own read-modify-write.
type AtomicArrays interface {
	AtomicArrays() bool
}

// SupportsAtomicArrays reports whether s resolves array sentinels atomically.
func SupportsAtomicArrays(s Store) bool {
	a, ok := s.(AtomicArrays)
	return ok && a.AtomicArrays()
}

// Event describes a document change delivered to a watcher.
type Event struct {
	Ref Ref
	Doc Document
}

// Watcher is implemented by stores that can push change notifications.
// Watch delivers every committed write under collection (prefix match on the
// collection path) until the returned cancel func is called.
type Watcher interface {
	Watch(collection string, fn func(Event)) (cancel func())
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock abstracts time retrieval so partition keys and server timestamps are
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
