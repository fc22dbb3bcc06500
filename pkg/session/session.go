// Package session bridges a single-threaded caller with a blocking,
// non-thread-safe repository backend.
//
// The session owns one lock serializing every backend call, an identity
// cache guaranteeing at most one live wrapper per backend object, a
// two-phase load protocol that publishes fields onto wrappers exactly
// once, and a dispatcher that runs operations either inline on the
// caller's goroutine or deferred on a worker pool with completions
// funnelled back through a single-consumer channel.
package session

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/odvcencio/tether/pkg/backend"
	"github.com/odvcencio/tether/pkg/object"
)

// Session is the caller-facing entry point for one open repository.
type Session struct {
	backend  backend.Backend
	lock     RepoLock
	cache    *entityCache
	dispatch *dispatcher
	log      *slog.Logger
	closed   atomic.Bool
}

// Option configures a Session at construction time.
type Option func(*sessionConfig)

type sessionConfig struct {
	cfg Config
	log *slog.Logger
}

// WithLogger installs a structured logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(sc *sessionConfig) { sc.log = l }
}

// WithWorkers sets the deferred-operation worker count.
func WithWorkers(n int) Option {
	return func(sc *sessionConfig) { sc.cfg.Workers = n }
}

// WithQueueDepth sets the dispatcher's task and completion queue depth.
func WithQueueDepth(n int) Option {
	return func(sc *sessionConfig) { sc.cfg.QueueDepth = n }
}

// WithConfig replaces the whole configuration, e.g. one read from a TOML
// file via LoadConfig.
func WithConfig(cfg Config) Option {
	return func(sc *sessionConfig) { sc.cfg = cfg.withDefaults() }
}

// Open opens the repository at dir and builds a session over it.
func Open(dir string, opts ...Option) (*Session, error) {
	b, err := backend.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return New(b, opts...), nil
}

// New builds a session over an already-opened backend. The session takes
// sole ownership of the backend: no other code may call it from now on.
func New(b backend.Backend, opts ...Option) *Session {
	sc := sessionConfig{cfg: DefaultConfig(), log: slog.Default()}
	for _, opt := range opts {
		opt(&sc)
	}
	sc.cfg = sc.cfg.withDefaults()

	s := &Session{
		backend: b,
		log:     sc.log,
	}
	s.cache = newEntityCache(sc.log)
	s.dispatch = newDispatcher(sc.cfg.Workers, sc.cfg.QueueDepth, sc.log)
	return s
}

// Completions is the single-consumer channel the frontend drains on its
// own turn. Every delivered Pending must be resolved with Wait, which is
// non-blocking once the completion has been delivered.
func (s *Session) Completions() <-chan *Pending {
	return s.dispatch.completions
}

// CachedEntities reports the number of live wrappers in the identity
// cache.
func (s *Session) CachedEntities() int {
	return s.cache.size()
}

// Close tears the session down: it stops accepting work, waits for every
// in-flight task to run to completion, and resolves unconsumed results.
// A task still pinned to an entity after that is a defect severe enough
// to crash on, since it would dangle into a closed repository.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !s.dispatch.shutdown() {
		panic("session: closed with a task still holding an entity")
	}
	return nil
}

// Get resolves an identity to its wrapper inline, blocking the caller for
// the duration of any backend work.
func (s *Session) Get(kind object.ObjectType, id string) (*Entity, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	hash, err := object.ParseHash(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	e, created := s.cache.lookupOrCreate(kind, hash, func() *Entity {
		return s.newLoadingEntity(kind, hash)
	})
	if created {
		s.load(e)
	}
	e.waitLoaded()
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	return e, nil
}

// GetAsync resolves an identity on a worker, returning a Pending whose
// completion is delivered through Completions. Concurrent GetAsync calls
// for one identity share a single wrapper and a single load.
func (s *Session) GetAsync(kind object.ObjectType, id string) (*Pending, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	hash, err := object.ParseHash(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	e, created := s.cache.lookupOrCreate(kind, hash, func() *Entity {
		return s.newLoadingEntity(kind, hash)
	})
	p := newPending(e, func() (*Entity, error) {
		if created {
			s.load(e)
		}
		e.waitLoaded()
		if e.loadErr != nil {
			return nil, e.loadErr
		}
		return e, nil
	})
	s.dispatch.submit(p)
	return p, nil
}

// NewCommit allocates a fresh, uncommitted commit wrapper. It has no
// identity and is not cached until Save publishes it.
func (s *Session) NewCommit() *Entity {
	s.lock.Acquire()
	h := s.backend.NewCommit()
	s.lock.Release()

	e := &Entity{
		sess:   s,
		kind:   object.TypeCommit,
		handle: h,
		loaded: make(chan struct{}),
	}
	e.state.Store(int32(StateNew))
	close(e.loaded)
	return e
}

// newLoadingEntity allocates a wrapper in Loading state. It is inserted
// into the cache before any load runs.
func (s *Session) newLoadingEntity(kind object.ObjectType, id object.Hash) *Entity {
	e := &Entity{
		sess:     s,
		kind:     kind,
		identity: id,
		loaded:   make(chan struct{}),
	}
	e.state.Store(int32(StateLoading))
	return e
}

// load performs the deferred phase of construction: one locked section
// that resolves the handle and copies every field out, then a publish
// that flips the state and wakes all waiters. On failure the wrapper is
// discarded from the cache and every waiter observes the error; no
// partial wrapper survives.
func (s *Session) load(e *Entity) {
	s.lock.Acquire()
	h, err := s.backend.Lookup(e.kind, e.identity)
	var f *backend.Fields
	if err == nil {
		f, err = s.backend.ReadFields(h)
	}
	s.lock.Release()

	if err != nil {
		s.cache.discard(e, e.identity)
		e.loadErr = err
		e.state.Store(int32(StateUnloaded))
		close(e.loaded)
		s.log.Debug("session: load failed", "kind", e.kind, "id", e.identity, "err", err)
		return
	}

	e.handle = h
	e.fields = *f
	e.state.Store(int32(StateLoaded))
	close(e.loaded)
}

// adopt finishes construction of a wrapper for which the backend handle
// is already resolved (e.g. a parent handle), reading fields in its own
// locked section.
func (s *Session) adopt(e *Entity, h *backend.Handle) {
	s.lock.Acquire()
	f, err := s.backend.ReadFields(h)
	s.lock.Release()

	if err != nil {
		s.cache.discard(e, e.identity)
		e.loadErr = err
		e.state.Store(int32(StateUnloaded))
		close(e.loaded)
		return
	}

	e.handle = h
	e.fields = *f
	e.state.Store(int32(StateLoaded))
	close(e.loaded)
}

// getByHandle returns the wrapper for an already-resolved backend handle,
// constructing and adopting it on a cache miss.
func (s *Session) getByHandle(kind object.ObjectType, h *backend.Handle) (*Entity, error) {
	e, created := s.cache.lookupOrCreate(kind, h.Hash(), func() *Entity {
		return s.newLoadingEntity(kind, h.Hash())
	})
	if created {
		s.adopt(e, h)
	}
	e.waitLoaded()
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	return e, nil
}
