package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/rzbill/ebb/internal/collection"
	cfgpkg "github.com/rzbill/ebb/internal/config"
	"github.com/rzbill/ebb/internal/dump"
	pebblestore "github.com/rzbill/ebb/internal/storage/pebble"
	logpkg "github.com/rzbill/ebb/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
}

// Runtime wires storage, config, and facades for a single-node instance.
type Runtime struct {
	db     *pebblestore.DB
	store  *collection.Store
	dumps  *dump.Manager
	config cfgpkg.Config
	logger logpkg.Logger
}

// Open initializes the underlying storage, ensures the default namespace,
// and starts the dump-context sweeper.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync, FsyncInterval: opts.FsyncInterval})
	if err != nil {
		return nil, err
	}
	store := collection.NewStore(db)
	if _, err := store.EnsureNamespace(opts.Config.DefaultNamespaceName); err != nil {
		_ = db.Close()
		return nil, err
	}
	dumps := dump.NewManager(store, logger, dump.ManagerOptions{
		MaxContexts:   opts.Config.Dump.MaxContexts,
		SweepInterval: time.Duration(opts.Config.Dump.SweepIntervalMs) * time.Millisecond,
	})
	dumps.StartSweeper(time.Duration(opts.Config.Dump.SweepIntervalMs) * time.Millisecond)
	rt := &Runtime{
		db:     db,
		store:  store,
		dumps:  dumps,
		config: opts.Config,
		logger: logger.WithComponent("runtime"),
	}
	return rt, nil
}

// Close destroys all live dump contexts and then closes storage. Dump
// contexts hold a storage snapshot, so they must go first.
func (r *Runtime) Close() error {
	if r.dumps != nil {
		r.dumps.Shutdown()
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// EnsureNamespace creates a namespace record if absent.
func (r *Runtime) EnsureNamespace(name string) (collection.NamespaceMeta, error) {
	return r.store.EnsureNamespace(name)
}

// CreateCollection creates a collection in the given namespace.
func (r *Runtime) CreateCollection(ctx context.Context, ns, name string) (collection.Meta, error) {
	return r.store.CreateCollection(ctx, ns, name)
}

// DropCollection removes a collection and its documents. Fails while a
// dump context pins the collection.
func (r *Runtime) DropCollection(ctx context.Context, ns, name string) error {
	return r.store.DropCollection(ctx, ns, name)
}

// Insert stores a document. An empty key asks the store to generate one.
func (r *Runtime) Insert(ctx context.Context, ns, coll, key string, body []byte) (string, uint64, error) {
	return r.store.Insert(ctx, ns, coll, key, body)
}

// GetDocument fetches a single document.
func (r *Runtime) GetDocument(ns, coll, key string) (collection.Document, error) {
	return r.store.Get(ns, coll, key)
}

// CreateDump registers a new dump context, filling unset options from the
// configured defaults.
func (r *Runtime) CreateDump(opts dump.Options, user, namespace string) (*dump.Context, error) {
	d := r.config.Dump
	if opts.BatchSize == 0 {
		opts.BatchSize = d.BatchSize
	}
	if opts.PrefetchCount == 0 {
		opts.PrefetchCount = d.PrefetchCount
	}
	if opts.Parallelism == 0 {
		opts.Parallelism = d.Parallelism
	}
	if opts.TTL == 0 {
		opts.TTL = d.TTLSeconds
	}
	return r.dumps.CreateContext(opts, user, namespace)
}

// FindDump looks up a dump context by id with an access check.
func (r *Runtime) FindDump(id, namespace, user string) (*dump.Context, error) {
	return r.dumps.Find(id, namespace, user)
}

// RemoveDump destroys a dump context by id with an access check.
func (r *Runtime) RemoveDump(id, namespace, user string) error {
	return r.dumps.Remove(id, namespace, user)
}

// DumpStats summarizes the dump registry.
func (r *Runtime) DumpStats() dump.Stats {
	return r.dumps.Stats()
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Store exposes the collection store.
func (r *Runtime) Store() *collection.Store { return r.store }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
