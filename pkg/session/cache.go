package session

import (
	"fmt"
	"log/slog"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/odvcencio/tether/pkg/object"
)

type cacheKey struct {
	kind object.ObjectType
	id   object.Hash
}

// entityCache maps (kind, identity) to the single live wrapper for that
// backend object. Insertion happens before the wrapper is loaded, so two
// concurrent lookups for one identity can never both decide to create.
type entityCache struct {
	entries *xsync.MapOf[cacheKey, *Entity]
	log     *slog.Logger
}

func newEntityCache(log *slog.Logger) *entityCache {
	return &entityCache{
		entries: xsync.NewMapOf[cacheKey, *Entity](),
		log:     log,
	}
}

// lookupOrCreate returns the cached wrapper for (kind, id), or atomically
// inserts the wrapper produced by alloc. created reports whether this
// call performed the insertion, in which case the caller owns the load
// phase; otherwise the wrapper may still be loading and the caller awaits
// it through normal channels.
func (c *entityCache) lookupOrCreate(kind object.ObjectType, id object.Hash, alloc func() *Entity) (e *Entity, created bool) {
	e, loaded := c.entries.LoadOrCompute(cacheKey{kind: kind, id: id}, alloc)
	return e, !loaded
}

// publish inserts an entity under its first identity once it has been
// persisted. A collision with a distinct live wrapper would alias two
// wrappers to one identity, so it fails loudly instead of overwriting.
func (c *entityCache) publish(e *Entity, id object.Hash) error {
	existing, loaded := c.entries.LoadOrStore(cacheKey{kind: e.kind, id: id}, e)
	if loaded && existing != e {
		c.log.Error("entity cache: publish collided with live wrapper",
			"kind", e.kind, "id", id)
		return fmt.Errorf("publish %s %s: %w", e.kind, id, ErrConsistency)
	}
	return nil
}

// discard removes a wrapper whose load failed, but only while the entry
// still maps to that wrapper; a successor created after the failure must
// not be evicted.
func (c *entityCache) discard(e *Entity, id object.Hash) {
	c.entries.Compute(cacheKey{kind: e.kind, id: id}, func(old *Entity, loaded bool) (*Entity, bool) {
		if loaded && old == e {
			return nil, true
		}
		return old, !loaded
	})
}

// size returns the number of live cached wrappers.
func (c *entityCache) size() int {
	return c.entries.Size()
}
