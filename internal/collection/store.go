package collection

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pebblestore "github.com/rzbill/ebb/internal/storage/pebble"
	"github.com/rzbill/ebb/pkg/id"
)

var (
	ErrNamespaceNotFound  = errors.New("collection: namespace not found")
	ErrNamespaceInUse     = errors.New("collection: namespace in use")
	ErrCollectionNotFound = errors.New("collection: collection not found")
	ErrCollectionExists   = errors.New("collection: collection already exists")
	ErrCollectionInUse    = errors.New("collection: collection in use")
	ErrDocumentNotFound   = errors.New("collection: document not found")
	ErrCorruptRecord      = errors.New("collection: corrupt document record")
)

// NamespaceMeta holds namespace metadata.
type NamespaceMeta struct {
	Name        string `json:"name"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// Meta holds collection metadata. The numeric ID prefixes every document key
// of the collection and is what embedded references carry on disk.
type Meta struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Namespace   string `json:"namespace"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// Guard pins a namespace or collection against drop for as long as it is
// held. Release is idempotent.
type Guard struct {
	once    sync.Once
	release func()
}

// Release unpins the guarded resource.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(g.release)
}

// Store provides namespace/collection/document operations plus the pin
// bookkeeping that backs drop guards.
type Store struct {
	db     *pebblestore.DB
	keygen *id.Generator

	mu       sync.Mutex
	nsPins   map[string]int
	collPins map[string]int
}

// NewStore wraps db with the document layer.
func NewStore(db *pebblestore.DB) *Store {
	return &Store{
		db:       db,
		keygen:   id.NewGenerator(),
		nsPins:   map[string]int{},
		collPins: map[string]int{},
	}
}

// DB exposes the underlying store for snapshot access (internal use only).
func (s *Store) DB() *pebblestore.DB { return s.db }

// EnsureNamespace creates a namespace record if absent. Idempotent.
func (s *Store) EnsureNamespace(name string) (NamespaceMeta, error) {
	key := KeyNamespaceMeta(name)
	if b, err := s.db.Get(key); err == nil && len(b) > 0 {
		var m NamespaceMeta
		if err := json.Unmarshal(b, &m); err == nil {
			return m, nil
		}
		// corrupted meta record gets rewritten below
	}
	m := NamespaceMeta{Name: name, CreatedAtMs: time.Now().UnixMilli()}
	b, err := json.Marshal(m)
	if err != nil {
		return NamespaceMeta{}, err
	}
	if err := s.db.Set(key, b); err != nil {
		return NamespaceMeta{}, err
	}
	return m, nil
}

// GetNamespace loads namespace metadata.
func (s *Store) GetNamespace(name string) (NamespaceMeta, error) {
	b, err := s.db.Get(KeyNamespaceMeta(name))
	if err != nil {
		return NamespaceMeta{}, ErrNamespaceNotFound
	}
	var m NamespaceMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return NamespaceMeta{}, fmt.Errorf("collection: decode namespace %s: %w", name, err)
	}
	return m, nil
}

// CreateCollection registers a collection under ns with a fresh numeric id.
func (s *Store) CreateCollection(ctx context.Context, ns, name string) (Meta, error) {
	if _, err := s.GetNamespace(ns); err != nil {
		return Meta{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// existence check must run under the same lock as the id counter so
	// two concurrent creates of the same name cannot both pass it
	if _, err := s.db.Get(KeyCollectionMeta(ns, name)); err == nil {
		return Meta{}, ErrCollectionExists
	}

	// bump the per-namespace collection id counter
	var next uint64 = 1
	if cur, err := s.db.Get(KeyCollectionSeq(ns)); err == nil && len(cur) >= 8 {
		next = binary.BigEndian.Uint64(cur[:8]) + 1
	}

	m := Meta{ID: next, Name: name, Namespace: ns, CreatedAtMs: time.Now().UnixMilli()}
	mb, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}

	b := s.db.NewBatch()
	defer b.Close()
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], next)
	if err := b.Set(KeyCollectionSeq(ns), seq[:], nil); err != nil {
		return Meta{}, err
	}
	if err := b.Set(KeyCollectionMeta(ns, name), mb, nil); err != nil {
		return Meta{}, err
	}
	if err := b.Set(KeyCollectionIndex(ns, next), []byte(name), nil); err != nil {
		return Meta{}, err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// GetCollection loads collection metadata.
func (s *Store) GetCollection(ns, name string) (Meta, error) {
	b, err := s.db.Get(KeyCollectionMeta(ns, name))
	if err != nil {
		return Meta{}, ErrCollectionNotFound
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, fmt.Errorf("collection: decode meta %s/%s: %w", ns, name, err)
	}
	return m, nil
}

// DropCollection removes the collection's metadata, reverse index entry, and
// document range. Fails with ErrCollectionInUse while a guard pins it.
func (s *Store) DropCollection(ctx context.Context, ns, name string) error {
	m, err := s.GetCollection(ns, name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.collPins[pinKey(ns, name)] > 0 {
		s.mu.Unlock()
		return ErrCollectionInUse
	}
	s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(KeyCollectionMeta(ns, name), nil); err != nil {
		return err
	}
	if err := b.Delete(KeyCollectionIndex(ns, m.ID), nil); err != nil {
		return err
	}
	lower, upper := DocumentBounds(ns, m.ID)
	if err := b.DeleteRange(lower, upper, nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// Insert writes a document revision. An empty key gets a generated sortable
// key. Returns the effective key and the new revision.
func (s *Store) Insert(ctx context.Context, ns, coll, key string, body []byte) (string, uint64, error) {
	m, err := s.GetCollection(ns, coll)
	if err != nil {
		return "", 0, err
	}
	if key == "" {
		key = s.keygen.Next().String()
	}

	storageKey := KeyDocument(ns, m.ID, key)

	// the revision bump is a read-modify-write, so concurrent inserts to
	// the same key must be serialized or both would claim the same rev
	s.mu.Lock()
	defer s.mu.Unlock()

	var rev uint64 = 1
	if prev, err := s.db.Get(storageKey); err == nil {
		if doc, ok := DecodeDocument(prev); ok {
			rev = doc.Rev + 1
		}
	}
	val := EncodeDocument(rev, time.Now().UnixMilli(), body)
	if err := s.db.Set(storageKey, val); err != nil {
		return "", 0, err
	}
	return key, rev, nil
}

// Get loads a single document.
func (s *Store) Get(ns, coll, key string) (Document, error) {
	m, err := s.GetCollection(ns, coll)
	if err != nil {
		return Document{}, err
	}
	val, err := s.db.Get(KeyDocument(ns, m.ID, key))
	if err != nil {
		return Document{}, ErrDocumentNotFound
	}
	doc, ok := DecodeDocument(val)
	if !ok {
		return Document{}, ErrCorruptRecord
	}
	return doc, nil
}

// AcquireNamespace pins ns against drop. Fails for unknown namespaces.
func (s *Store) AcquireNamespace(ns string) (*Guard, error) {
	if _, err := s.GetNamespace(ns); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.nsPins[ns]++
	s.mu.Unlock()
	return &Guard{release: func() {
		s.mu.Lock()
		s.nsPins[ns]--
		if s.nsPins[ns] <= 0 {
			delete(s.nsPins, ns)
		}
		s.mu.Unlock()
	}}, nil
}

// Acquire pins a collection against drop and returns its metadata.
func (s *Store) Acquire(ns, name string) (*Guard, Meta, error) {
	m, err := s.GetCollection(ns, name)
	if err != nil {
		return nil, Meta{}, err
	}
	pk := pinKey(ns, name)
	s.mu.Lock()
	s.collPins[pk]++
	s.mu.Unlock()
	return &Guard{release: func() {
		s.mu.Lock()
		s.collPins[pk]--
		if s.collPins[pk] <= 0 {
			delete(s.collPins, pk)
		}
		s.mu.Unlock()
	}}, m, nil
}

func pinKey(ns, name string) string { return ns + "/" + name }
