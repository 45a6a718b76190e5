// Package memory provides an in-memory docstore.Store (for testing/dev).
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/warp/toolroom/docstore"
)

// maxTxAttempts bounds optimistic-conflict retries in RunTransaction.
const maxTxAttempts = 5

// Store is an in-memory document store with optimistic transactions.
type Store struct {
	mu       sync.Mutex
	docs     map[docstore.Ref]docstore.Document
	versions map[docstore.Ref]int64

	watchMu   sync.Mutex
	watchers  map[int]watcher
	nextWatch int

	Clock docstore.Clock
}

type watcher struct {
	collection string
	fn         func(docstore.Event)
}

func New() *Store {
	return &Store{
		docs:     make(map[docstore.Ref]docstore.Document),
		versions: make(map[docstore.Ref]int64),
		watchers: make(map[int]watcher),
		Clock:    docstore.RealClock{},
	}
}

// AtomicArrays: Set resolves ArrayUnion/ArrayRemove under the store lock.
func (s *Store) AtomicArrays() bool { return true }

// =============================================================================
// NON-TRANSACTIONAL READS / WRITES
// =============================================================================

func (s *Store) Get(_ context.Context, ref docstore.Ref) (docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[ref]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return docstore.DeepCopy(doc), nil
}

func (s *Store) Set(_ context.Context, ref docstore.Ref, doc docstore.Document, merge bool) error {
	s.mu.Lock()
	committed := s.applyLocked(ref, doc, merge)
	s.mu.Unlock()

	s.notify(ref, committed)
	return nil
}

func (s *Store) List(_ context.Context, collection string) ([]docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []docstore.Document
	for ref, doc := range s.docs {
		if ref.Collection == collection {
			result = append(result, docstore.DeepCopy(doc))
		}
	}
	return result, nil
}

// applyLocked merges/replaces and resolves sentinels. Returns the committed
// document (already a private copy).
func (s *Store) applyLocked(ref docstore.Ref, doc docstore.Document, merge bool) docstore.Document {
	var base docstore.Document
	if merge {
		base = s.docs[ref]
	}
	resolved := docstore.Resolve(base, doc, s.Clock.Now())
	s.docs[ref] = resolved
	s.versions[ref]++
	return docstore.DeepCopy(resolved)
}

// =============================================================================
// TRANSACTIONS - optimistic versioned commits
// =============================================================================

func (s *Store) RunTransaction(ctx context.Context, fn func(docstore.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := &memTx{store: s, reads: make(map[docstore.Ref]int64)}
		if err := fn(tx); err != nil {
			return err
		}

		committed, ok := s.tryCommit(tx)
		if !ok {
			continue
		}
		for _, ev := range committed {
			s.notify(ev.Ref, ev.Doc)
		}
		return nil
	}
	return docstore.ErrConflict
}

func (s *Store) tryCommit(tx *memTx) ([]docstore.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Every document read inside fn must be unchanged since the read.
	for ref, version := range tx.reads {
		if s.versions[ref] != version {
			return nil, false
		}
	}

	var committed []docstore.Event
	for _, w := range tx.writes {
		doc := s.applyLocked(w.ref, w.doc, w.merge)
		committed = append(committed, docstore.Event{Ref: w.ref, Doc: doc})
	}
	return committed, true
}

type memTx struct {
	store  *Store
	reads  map[docstore.Ref]int64
	writes []bufferedWrite
}

type bufferedWrite struct {
	ref   docstore.Ref
	doc   docstore.Document
	merge bool
}

func (tx *memTx) Get(ref docstore.Ref) (docstore.Document, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	tx.reads[ref] = tx.store.versions[ref]
	doc, ok := tx.store.docs[ref]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return docstore.DeepCopy(doc), nil
}

func (tx *memTx) Set(ref docstore.Ref, doc docstore.Document, merge bool) {
	tx.writes = append(tx.writes, bufferedWrite{ref: ref, doc: docstore.DeepCopy(doc), merge: merge})
}

// =============================================================================
// WATCH
// =============================================================================

func (s *Store) Watch(collection string, fn func(docstore.Event)) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = watcher{collection: collection, fn: fn}
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) notify(ref docstore.Ref, doc docstore.Document) {
	s.watchMu.Lock()
	var targets []func(docstore.Event)
	for _, w := range s.watchers {
		if ref.Collection == w.collection || strings.HasPrefix(ref.Collection, w.collection+"/") {
			targets = append(targets, w.fn)
		}
	}
	s.watchMu.Unlock()

	for _, fn := range targets {
		fn(docstore.Event{Ref: ref, Doc: docstore.DeepCopy(doc)})
	}
}
