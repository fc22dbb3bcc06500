package session

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/odvcencio/tether/pkg/object"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCacheLookupOrCreateInsertsBeforeLoad(t *testing.T) {
	c := newEntityCache(quietLogger())
	id := object.Hash(rootID)

	var allocs int
	alloc := func() *Entity {
		allocs++
		return &Entity{kind: object.TypeCommit, identity: id, loaded: make(chan struct{})}
	}

	e1, created := c.lookupOrCreate(object.TypeCommit, id, alloc)
	if !created {
		t.Fatal("first lookup did not create")
	}
	e2, created := c.lookupOrCreate(object.TypeCommit, id, alloc)
	if created {
		t.Error("second lookup created again")
	}
	if e1 != e2 {
		t.Error("lookups returned distinct wrappers")
	}
	if allocs != 1 {
		t.Errorf("allocs = %d, want 1", allocs)
	}

	// Same identity under a different kind is a different key.
	_, created = c.lookupOrCreate(object.TypeTree, id, func() *Entity {
		return &Entity{kind: object.TypeTree, identity: id, loaded: make(chan struct{})}
	})
	if !created {
		t.Error("tree kind shared the commit's cache slot")
	}
}

func TestCachePublishCollision(t *testing.T) {
	c := newEntityCache(quietLogger())
	id := object.Hash(rootID)

	first := &Entity{kind: object.TypeCommit}
	if err := c.publish(first, id); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	// Re-publishing the same wrapper is harmless.
	if err := c.publish(first, id); err != nil {
		t.Errorf("idempotent publish: %v", err)
	}

	second := &Entity{kind: object.TypeCommit}
	if err := c.publish(second, id); !errors.Is(err, ErrConsistency) {
		t.Errorf("colliding publish: err = %v, want ErrConsistency", err)
	}

	// The original wrapper survived.
	got, created := c.lookupOrCreate(object.TypeCommit, id, func() *Entity { return nil })
	if created || got != first {
		t.Error("collision overwrote the live wrapper")
	}
}

func TestCacheDiscardOnlyRemovesSameWrapper(t *testing.T) {
	c := newEntityCache(quietLogger())
	id := object.Hash(rootID)

	failed := &Entity{kind: object.TypeCommit, identity: id}
	successor := &Entity{kind: object.TypeCommit, identity: id}

	if err := c.publish(successor, id); err != nil {
		t.Fatalf("publish: %v", err)
	}
	c.discard(failed, id)

	got, created := c.lookupOrCreate(object.TypeCommit, id, func() *Entity { return nil })
	if created || got != successor {
		t.Error("discard evicted a wrapper it did not own")
	}

	c.discard(successor, id)
	if n := c.size(); n != 0 {
		t.Errorf("size = %d, want 0 after discard", n)
	}
}
