package dump

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/ebb/internal/collection"
	logpkg "github.com/rzbill/ebb/pkg/log"
)

var (
	// ErrContextNotFound is returned when no context has the given id.
	ErrContextNotFound = errors.New("dump: context not found")
	// ErrForbidden is returned when a context exists but belongs to a
	// different namespace/user pair.
	ErrForbidden = errors.New("dump: access denied")
	// ErrTooManyContexts is returned when the context limit is reached.
	ErrTooManyContexts = errors.New("dump: too many dump contexts")
)

// ManagerOptions tunes the dump registry.
type ManagerOptions struct {
	// MaxContexts caps concurrently registered contexts (0 = unlimited).
	MaxContexts int
	// SweepInterval is the expiry sweeper tick. Zero disables the sweeper
	// until StartSweeper is called explicitly.
	SweepInterval time.Duration
}

// Manager is the registry of live dump contexts. It owns creation, lookup
// with access checks, removal, and TTL-based reclamation of contexts whose
// callers went away.
type Manager struct {
	store  *collection.Store
	logger logpkg.Logger
	opts   ManagerOptions

	mu        sync.Mutex
	contexts  map[string]*Context
	sweepStop chan struct{}
}

// NewManager creates the registry.
func NewManager(store *collection.Store, logger logpkg.Logger, opts ManagerOptions) *Manager {
	return &Manager{
		store:    store,
		logger:   logger.WithComponent("dumps"),
		opts:     opts,
		contexts: map[string]*Context{},
	}
}

// CreateContext builds and registers a new dump context for user/namespace.
// Unknown shards fail synchronously and nothing is registered.
func (m *Manager) CreateContext(opts Options, user, namespace string) (*Context, error) {
	m.mu.Lock()
	if m.opts.MaxContexts > 0 && len(m.contexts) >= m.opts.MaxContexts {
		m.mu.Unlock()
		return nil, ErrTooManyContexts
	}
	m.mu.Unlock()

	ctx, err := NewContext(m.store, m.logger, uuid.NewString(), opts, user, namespace)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	// re-check the limit: contexts may have been created concurrently while
	// this one was being built
	if m.opts.MaxContexts > 0 && len(m.contexts) >= m.opts.MaxContexts {
		m.mu.Unlock()
		ctx.Close()
		return nil, ErrTooManyContexts
	}
	m.contexts[ctx.ID()] = ctx
	m.mu.Unlock()

	m.logger.Info("dump context created",
		logpkg.Str("id", ctx.ID()),
		logpkg.Str("namespace", namespace),
		logpkg.Str("user", user),
		logpkg.Uint64("parallelism", ctx.Options().Parallelism),
		logpkg.Int("shards", len(opts.Shards)),
	)
	return ctx, nil
}

// Find returns the context with the given id after an access check, and
// extends its lifetime: every successful lookup counts as activity for the
// idle-timeout.
func (m *Manager) Find(id, namespace, user string) (*Context, error) {
	m.mu.Lock()
	ctx, ok := m.contexts[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrContextNotFound
	}
	if !ctx.CanAccess(namespace, user) {
		return nil, ErrForbidden
	}
	ctx.ExtendLifetime()
	return ctx, nil
}

// Remove destroys the context with the given id after an access check.
func (m *Manager) Remove(id, namespace, user string) error {
	m.mu.Lock()
	ctx, ok := m.contexts[id]
	if ok && ctx.CanAccess(namespace, user) {
		delete(m.contexts, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrContextNotFound
	}
	if !ctx.CanAccess(namespace, user) {
		return ErrForbidden
	}
	ctx.Close()
	m.logger.Info("dump context removed", logpkg.Str("id", id))
	return nil
}

// RemoveForNamespace destroys every context attached to a namespace,
// regardless of owner. Used when the namespace itself goes away.
func (m *Manager) RemoveForNamespace(namespace string) int {
	var victims []*Context
	m.mu.Lock()
	for id, ctx := range m.contexts {
		if ctx.Namespace() == namespace {
			delete(m.contexts, id)
			victims = append(victims, ctx)
		}
	}
	m.mu.Unlock()

	for _, ctx := range victims {
		ctx.Close()
	}
	return len(victims)
}

// GarbageCollect removes expired contexts, or all of them when force is
// set. Returns the number of contexts destroyed.
func (m *Manager) GarbageCollect(force bool) int {
	now := time.Now()
	var victims []*Context
	m.mu.Lock()
	for id, ctx := range m.contexts {
		if force || ctx.ExpiresAt().Before(now) {
			delete(m.contexts, id)
			victims = append(victims, ctx)
		}
	}
	m.mu.Unlock()

	for _, ctx := range victims {
		ctx.Close()
	}
	if len(victims) > 0 {
		m.logger.Info("dump contexts reclaimed", logpkg.Int("count", len(victims)), logpkg.Bool("force", force))
	}
	return len(victims)
}

// Stats summarizes the registry for health endpoints.
type Stats struct {
	ActiveContexts  int   `json:"activeContexts"`
	RetainedBatches int   `json:"retainedBatches"`
	BlockCounts     int64 `json:"blockCounts"`
}

// Stats returns a point-in-time summary of all registered contexts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{ActiveContexts: len(m.contexts)}
	for _, ctx := range m.contexts {
		s.RetainedBatches += ctx.RetainedBatches()
		s.BlockCounts += ctx.BlockCounts()
	}
	return s
}

// StartSweeper runs a background loop reclaiming expired contexts.
func (m *Manager) StartSweeper(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepStop != nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	stop := make(chan struct{})
	m.sweepStop = stop
	go func() {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			select {
			case <-stop:
				return
			case <-time.After(interval + time.Duration(rng.Int63n(int64(interval/10+1)))):
				m.GarbageCollect(false)
			}
		}
	}()
}

// StopSweeper stops the background sweeper.
func (m *Manager) StopSweeper() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepStop != nil {
		close(m.sweepStop)
		m.sweepStop = nil
	}
}

// Shutdown stops the sweeper and destroys every registered context.
func (m *Manager) Shutdown() {
	m.StopSweeper()
	m.GarbageCollect(true)
}
