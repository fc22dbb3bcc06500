package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/odvcencio/tether/pkg/backend"
	"github.com/odvcencio/tether/pkg/object"
)

const (
	rootID   = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"
	parentID = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	treeID   = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type stubCommit struct {
	message   string
	author    object.Signature
	committer object.Signature
	parents   []object.Hash
	tree      object.Hash
}

// stubBackend implements backend.Backend in memory. It records call
// counts, can stall lookups behind a gate, and detects overlapping
// calls, which the repository lock must make impossible.
type stubBackend struct {
	commits map[object.Hash]*stubCommit
	trees   map[object.Hash]int
	state   map[*backend.Handle]*stubCommit

	lookups atomic.Int32
	writes  atomic.Int32

	lookupGate chan struct{} // when non-nil, Lookup blocks until closed
	writeHash  object.Hash   // when set, Write returns this hash
	writeErr   error

	inCall    atomic.Int32
	overlap   atomic.Bool
	callDelay time.Duration
}

func newStubBackend() *stubBackend {
	sb := &stubBackend{
		commits: make(map[object.Hash]*stubCommit),
		trees:   make(map[object.Hash]int),
		state:   make(map[*backend.Handle]*stubCommit),
	}
	sb.commits[parentID] = &stubCommit{
		message:   "parent",
		author:    object.Signature{Name: "t", Email: "t@x", When: 1},
		committer: object.Signature{Name: "t", Email: "t@x", When: 1},
	}
	sb.commits[rootID] = &stubCommit{
		message:   "initial",
		author:    object.Signature{Name: "t", Email: "t@x", When: 2},
		committer: object.Signature{Name: "t", Email: "t@x", When: 2},
		parents:   []object.Hash{parentID},
		tree:      treeID,
	}
	sb.trees[treeID] = 3
	return sb
}

func (sb *stubBackend) enter() {
	if !sb.inCall.CompareAndSwap(0, 1) {
		sb.overlap.Store(true)
	}
	if sb.callDelay > 0 {
		time.Sleep(sb.callDelay)
	}
}

func (sb *stubBackend) exit() { sb.inCall.Store(0) }

func (sb *stubBackend) Lookup(kind object.ObjectType, id object.Hash) (*backend.Handle, error) {
	sb.enter()
	defer sb.exit()
	sb.lookups.Add(1)
	if sb.lookupGate != nil {
		<-sb.lookupGate
	}

	switch kind {
	case object.TypeCommit:
		c, ok := sb.commits[id]
		if !ok {
			return nil, fmt.Errorf("lookup %s: %w", id, backend.ErrNotFound)
		}
		h := backend.NewHandle(kind, id)
		sb.state[h] = c
		return h, nil
	case object.TypeTree:
		if _, ok := sb.trees[id]; !ok {
			return nil, fmt.Errorf("lookup %s: %w", id, backend.ErrNotFound)
		}
		return backend.NewHandle(kind, id), nil
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}
}

func (sb *stubBackend) ReadFields(h *backend.Handle) (*backend.Fields, error) {
	sb.enter()
	defer sb.exit()

	if h.Kind() == object.TypeTree {
		n, ok := sb.trees[h.Hash()]
		if !ok {
			return nil, fmt.Errorf("read fields %s: %w", h.Hash(), backend.ErrNotFound)
		}
		return &backend.Fields{EntryCount: n}, nil
	}
	c, ok := sb.state[h]
	if !ok {
		return nil, fmt.Errorf("read fields: unknown handle")
	}
	return &backend.Fields{
		Message:     c.message,
		Author:      c.author,
		Committer:   c.committer,
		ParentCount: len(c.parents),
		TreeHash:    c.tree,
	}, nil
}

func (sb *stubBackend) ResolveParent(h *backend.Handle, index int) (*backend.Handle, error) {
	sb.enter()
	c, ok := sb.state[h]
	if !ok || index < 0 || index >= len(c.parents) {
		sb.exit()
		return nil, fmt.Errorf("resolve parent %d: %w", index, backend.ErrNotFound)
	}
	id := c.parents[index]
	sb.exit()
	return sb.Lookup(object.TypeCommit, id)
}

func (sb *stubBackend) NewCommit() *backend.Handle {
	sb.enter()
	defer sb.exit()
	h := backend.NewHandle(object.TypeCommit, "")
	sb.state[h] = &stubCommit{}
	return h
}

func (sb *stubBackend) SetMessage(h *backend.Handle, message string) error {
	sb.enter()
	defer sb.exit()
	sb.state[h].message = message
	return nil
}

func (sb *stubBackend) SetAuthor(h *backend.Handle, sig object.Signature) error {
	sb.enter()
	defer sb.exit()
	sb.state[h].author = sig
	return nil
}

func (sb *stubBackend) SetCommitter(h *backend.Handle, sig object.Signature) error {
	sb.enter()
	defer sb.exit()
	sb.state[h].committer = sig
	return nil
}

func (sb *stubBackend) SetTree(h *backend.Handle, tree *backend.Handle) error {
	sb.enter()
	defer sb.exit()
	sb.state[h].tree = tree.Hash()
	return nil
}

func (sb *stubBackend) AddParent(h *backend.Handle, parent *backend.Handle) error {
	sb.enter()
	defer sb.exit()
	sb.state[h].parents = append(sb.state[h].parents, parent.Hash())
	return nil
}

func (sb *stubBackend) Write(h *backend.Handle) (object.Hash, error) {
	sb.enter()
	defer sb.exit()
	sb.writes.Add(1)
	if sb.writeErr != nil {
		return "", sb.writeErr
	}
	id := sb.writeHash
	if id == "" {
		id = object.HashBytes([]byte(sb.state[h].message))
	}
	sb.commits[id] = sb.state[h]
	h.SetHash(id)
	return id, nil
}

// helper: newTestSession builds a session over a stub backend with a
// quiet logger.
func newTestSession(t *testing.T, sb *stubBackend) *Session {
	t.Helper()
	s := New(sb,
		WithWorkers(4),
		WithQueueDepth(16),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetLoadsExistingCommit(t *testing.T) {
	s := newTestSession(t, newStubBackend())

	c, err := s.Get(object.TypeCommit, rootID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := c.Message(); got != "initial" {
		t.Errorf("Message = %q, want %q", got, "initial")
	}
	if got := c.ParentCount(); got != 1 {
		t.Errorf("ParentCount = %d, want 1", got)
	}
	if got := c.Identity(); got != object.Hash(rootID) {
		t.Errorf("Identity = %q, want %q", got, rootID)
	}
	if got := c.State(); got != StateLoaded {
		t.Errorf("State = %v, want %v", got, StateLoaded)
	}
}

func TestGetReturnsCachedWrapper(t *testing.T) {
	sb := newStubBackend()
	s := newTestSession(t, sb)

	c1, err := s.Get(object.TypeCommit, rootID)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	c2, err := s.Get(object.TypeCommit, rootID)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if c1 != c2 {
		t.Error("repeated Get returned distinct wrappers")
	}
	if n := sb.lookups.Load(); n != 1 {
		t.Errorf("backend lookups = %d, want 1", n)
	}
}

func TestGetInvalidId(t *testing.T) {
	s := newTestSession(t, newStubBackend())

	for _, id := range []string{"", "xyz", "4B825DC642CB6EB9A060E54BF8D69288FBEE4904"} {
		if _, err := s.Get(object.TypeCommit, id); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Get(%q): err = %v, want ErrInvalidArgument", id, err)
		}
	}
}

func TestGetNotFoundDiscardsWrapper(t *testing.T) {
	sb := newStubBackend()
	s := newTestSession(t, sb)

	missing := "cccccccccccccccccccccccccccccccccccccccc"
	if _, err := s.Get(object.TypeCommit, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
	}
	if n := s.CachedEntities(); n != 0 {
		t.Errorf("cache size after failed load = %d, want 0", n)
	}

	// Once the object exists, a fresh wrapper loads fine.
	sb.commits[object.Hash(missing)] = &stubCommit{message: "late arrival"}
	c, err := s.Get(object.TypeCommit, missing)
	if err != nil {
		t.Fatalf("Get after create: %v", err)
	}
	if c.Message() != "late arrival" {
		t.Errorf("Message = %q, want %q", c.Message(), "late arrival")
	}
}

func TestConcurrentGetAsyncSharesOneWrapper(t *testing.T) {
	sb := newStubBackend()
	sb.lookupGate = make(chan struct{})
	s := newTestSession(t, sb)

	const callers = 8
	pendings := make([]*Pending, callers)
	var launch sync.WaitGroup
	launch.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer launch.Done()
			p, err := s.GetAsync(object.TypeCommit, rootID)
			if err != nil {
				t.Errorf("GetAsync: %v", err)
				return
			}
			pendings[i] = p
		}(i)
	}
	launch.Wait()

	// All requests are in flight; release the single load.
	close(sb.lookupGate)

	var first *Entity
	for i, p := range pendings {
		e, err := p.Wait()
		if err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
		if first == nil {
			first = e
		} else if e != first {
			t.Fatalf("caller %d got a distinct wrapper", i)
		}
	}
	if n := sb.lookups.Load(); n != 1 {
		t.Errorf("backend lookups = %d, want 1", n)
	}
	if n := s.CachedEntities(); n != 1 {
		t.Errorf("cache size = %d, want 1", n)
	}
}

func TestLoadFailureWakesAllWaiters(t *testing.T) {
	sb := newStubBackend()
	sb.lookupGate = make(chan struct{})
	s := newTestSession(t, sb)

	missing := "dddddddddddddddddddddddddddddddddddddddd"
	p1, err := s.GetAsync(object.TypeCommit, missing)
	if err != nil {
		t.Fatalf("GetAsync: %v", err)
	}
	p2, err := s.GetAsync(object.TypeCommit, missing)
	if err != nil {
		t.Fatalf("GetAsync: %v", err)
	}
	close(sb.lookupGate)

	if _, err := p1.Wait(); !errors.Is(err, ErrNotFound) {
		t.Errorf("first waiter: err = %v, want ErrNotFound", err)
	}
	if _, err := p2.Wait(); !errors.Is(err, ErrNotFound) {
		t.Errorf("second waiter: err = %v, want ErrNotFound", err)
	}
	if n := s.CachedEntities(); n != 0 {
		t.Errorf("cache size = %d, want 0", n)
	}
}

func TestCompletionDeliveredOnChannel(t *testing.T) {
	s := newTestSession(t, newStubBackend())

	if _, err := s.GetAsync(object.TypeCommit, rootID); err != nil {
		t.Fatalf("GetAsync: %v", err)
	}

	select {
	case p := <-s.Completions():
		e, err := p.Wait()
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if e.Message() != "initial" {
			t.Errorf("Message = %q, want %q", e.Message(), "initial")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no completion delivered")
	}
}

func TestNewCommitAddParentTwice(t *testing.T) {
	s := newTestSession(t, newStubBackend())

	existing, err := s.Get(object.TypeCommit, parentID)
	if err != nil {
		t.Fatalf("Get existing: %v", err)
	}

	c := s.NewCommit()
	if got := c.State(); got != StateNew {
		t.Fatalf("State = %v, want %v", got, StateNew)
	}
	if err := c.AddParent(ByEntity(existing)); err != nil {
		t.Fatalf("first AddParent: %v", err)
	}
	if err := c.AddParent(ByEntity(existing)); err != nil {
		t.Fatalf("second AddParent: %v", err)
	}
	if got := c.ParentCount(); got != 2 {
		t.Errorf("ParentCount = %d, want 2", got)
	}
	if got := c.Identity(); got != "" {
		t.Errorf("Identity = %q, want empty before save", got)
	}
}

func TestAddParentById(t *testing.T) {
	s := newTestSession(t, newStubBackend())

	c := s.NewCommit()
	if err := c.AddParent(ById(parentID)); err != nil {
		t.Fatalf("AddParent: %v", err)
	}
	if got := c.ParentCount(); got != 1 {
		t.Errorf("ParentCount = %d, want 1", got)
	}

	if err := c.AddParent(ById("nonsense")); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("AddParent bad id: err = %v, want ErrInvalidArgument", err)
	}
	if err := c.AddParent(ByEntity(s.NewCommit())); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("AddParent unpersisted entity: err = %v, want ErrInvalidArgument", err)
	}
	if err := c.AddParent(Ref{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("AddParent empty ref: err = %v, want ErrInvalidArgument", err)
	}
}

func TestSaveValidation(t *testing.T) {
	sb := newStubBackend()
	s := newTestSession(t, sb)

	sig := object.Signature{Name: "t", Email: "t@x", When: 9}

	// No message set.
	c := s.NewCommit()
	c.SetAuthor(sig)
	c.SetCommitter(sig)
	if _, err := c.Save(); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("Save without message: err = %v, want ErrValidationFailed", err)
	}
	if got := c.Identity(); got != "" {
		t.Errorf("Identity = %q, want empty after failed save", got)
	}

	// No author.
	c2 := s.NewCommit()
	c2.SetMessage("m")
	c2.SetCommitter(sig)
	if _, err := c2.Save(); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("Save without author: err = %v, want ErrValidationFailed", err)
	}

	if n := sb.writes.Load(); n != 0 {
		t.Errorf("backend writes = %d, want 0 (fail fast)", n)
	}
}

func TestSaveSuccess(t *testing.T) {
	sb := newStubBackend()
	s := newTestSession(t, sb)

	sig := object.Signature{Name: "t", Email: "t@x", When: 9}
	c := s.NewCommit()
	c.SetMessage("a brand new commit")
	c.SetAuthor(sig)
	c.SetCommitter(sig)
	if err := c.AddParent(ById(parentID)); err != nil {
		t.Fatalf("AddParent: %v", err)
	}

	id, err := c.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(id) != object.HashLen {
		t.Errorf("identity length = %d, want %d", len(id), object.HashLen)
	}
	if got := c.Identity(); got != id {
		t.Errorf("Identity = %q, want %q", got, id)
	}
	if n := sb.writes.Load(); n != 1 {
		t.Errorf("backend writes = %d, want exactly 1", n)
	}

	// The wrapper is published: a lookup by the new identity returns it.
	again, err := s.Get(object.TypeCommit, string(id))
	if err != nil {
		t.Fatalf("Get saved commit: %v", err)
	}
	if again != c {
		t.Error("Get after save returned a distinct wrapper")
	}
}

func TestSaveBackendFailure(t *testing.T) {
	sb := newStubBackend()
	sb.writeErr = errors.New("disk on fire")
	s := newTestSession(t, sb)

	sig := object.Signature{Name: "t", Email: "t@x", When: 9}
	c := s.NewCommit()
	c.SetMessage("m")
	c.SetAuthor(sig)
	c.SetCommitter(sig)

	if _, err := c.Save(); err == nil {
		t.Fatal("Save succeeded, want backend error")
	}
	if got := c.Identity(); got != "" {
		t.Errorf("Identity = %q, want empty after backend failure", got)
	}
}

func TestSaveAlreadyPersisted(t *testing.T) {
	s := newTestSession(t, newStubBackend())

	c, err := s.Get(object.TypeCommit, rootID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Save(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Save persisted entity: err = %v, want ErrInvalidArgument", err)
	}
}

func TestSavePublishCollision(t *testing.T) {
	sb := newStubBackend()
	s := newTestSession(t, sb)

	// A live wrapper already owns rootID.
	if _, err := s.Get(object.TypeCommit, rootID); err != nil {
		t.Fatalf("Get: %v", err)
	}

	// Force the backend to assign the same identity to a new commit.
	sb.writeHash = rootID
	sig := object.Signature{Name: "t", Email: "t@x", When: 9}
	c := s.NewCommit()
	c.SetMessage("collider")
	c.SetAuthor(sig)
	c.SetCommitter(sig)

	if _, err := c.Save(); !errors.Is(err, ErrConsistency) {
		t.Errorf("Save: err = %v, want ErrConsistency", err)
	}
}

func TestGetParentSyncAndAsync(t *testing.T) {
	s := newTestSession(t, newStubBackend())

	c, err := s.Get(object.TypeCommit, rootID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	parent, err := c.GetParent(0)
	if err != nil {
		t.Fatalf("GetParent: %v", err)
	}
	if got := parent.Identity(); got != object.Hash(parentID) {
		t.Errorf("parent identity = %q, want %q", got, parentID)
	}

	p, err := c.GetParentAsync(0)
	if err != nil {
		t.Fatalf("GetParentAsync: %v", err)
	}
	async, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if async != parent {
		t.Error("async parent is a distinct wrapper from sync parent")
	}

	if _, err := c.GetParent(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetParent(1): err = %v, want ErrNotFound", err)
	}
	if _, err := c.GetParentAsync(7); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetParentAsync(7): err = %v, want ErrNotFound", err)
	}
}

func TestTreeAndSetTree(t *testing.T) {
	sb := newStubBackend()
	s := newTestSession(t, sb)

	c, err := s.Get(object.TypeCommit, rootID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	tree, err := c.Tree()
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if tree.Kind() != object.TypeTree {
		t.Errorf("tree kind = %q, want %q", tree.Kind(), object.TypeTree)
	}
	if got := tree.EntryCount(); got != 3 {
		t.Errorf("EntryCount = %d, want 3", got)
	}

	// A fresh commit has no tree.
	blank := s.NewCommit()
	none, err := blank.Tree()
	if err != nil {
		t.Fatalf("Tree on new commit: %v", err)
	}
	if none != nil {
		t.Error("Tree on new commit returned a wrapper, want nil")
	}

	other := "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	sb.trees[object.Hash(other)] = 1
	if err := blank.SetTree(ById(other)); err != nil {
		t.Fatalf("SetTree: %v", err)
	}
	if got := blank.TreeHash(); got != object.Hash(other) {
		t.Errorf("TreeHash = %q, want %q", got, other)
	}

	// A commit ref is the wrong kind for SetTree.
	if err := blank.SetTree(ByEntity(c)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetTree with commit ref: err = %v, want ErrInvalidArgument", err)
	}
}

func TestLockDisciplineNoOverlappingBackendCalls(t *testing.T) {
	sb := newStubBackend()
	sb.callDelay = 200 * time.Microsecond
	for i := 0; i < 16; i++ {
		id := object.Hash(fmt.Sprintf("%040x", i+1))
		sb.commits[id] = &stubCommit{message: fmt.Sprintf("c%d", i), parents: []object.Hash{parentID}}
	}
	s := newTestSession(t, sb)

	entities := make([]*Entity, 0, 16)
	for i := 0; i < 16; i++ {
		if _, err := s.GetAsync(object.TypeCommit, fmt.Sprintf("%040x", i+1)); err != nil {
			t.Fatalf("GetAsync: %v", err)
		}
	}
	for i := 0; i < 16; i++ {
		e, err := (<-s.Completions()).Wait()
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		entities = append(entities, e)
	}

	// Fan out further backend work across the worker pool.
	for _, e := range entities {
		if _, err := e.GetParentAsync(0); err != nil {
			t.Fatalf("GetParentAsync: %v", err)
		}
	}
	for i := 0; i < 16; i++ {
		if _, err := (<-s.Completions()).Wait(); err != nil {
			t.Fatalf("parent Wait: %v", err)
		}
	}

	if sb.overlap.Load() {
		t.Error("two backend calls overlapped in time")
	}
}

func TestCloseDrainsOutstandingTasks(t *testing.T) {
	sb := newStubBackend()
	sb.callDelay = 100 * time.Microsecond
	s := New(sb, WithWorkers(2), WithQueueDepth(8),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	var pendings []*Pending
	for i := 0; i < 4; i++ {
		p, err := s.GetAsync(object.TypeCommit, rootID)
		if err != nil {
			t.Fatalf("GetAsync: %v", err)
		}
		pendings = append(pendings, p)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, p := range pendings {
		select {
		case <-p.Done():
		default:
			t.Errorf("task %d not completed by Close", i)
		}
	}

	if _, err := s.Get(object.TypeCommit, rootID); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after close: err = %v, want ErrClosed", err)
	}
	if _, err := s.GetAsync(object.TypeCommit, rootID); !errors.Is(err, ErrClosed) {
		t.Errorf("GetAsync after close: err = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCloseWithCompletionQueueFull(t *testing.T) {
	sb := newStubBackend()
	s := New(sb, WithWorkers(1), WithQueueDepth(1),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	// More undrained tasks than the queue holds: the worker ends up
	// blocked sending a completion nobody consumes.
	for i := 0; i < 3; i++ {
		if _, err := s.GetAsync(object.TypeCommit, rootID); err != nil {
			t.Fatalf("GetAsync: %v", err)
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return with undrained completions")
	}
}

func TestPendingPinsOwnerUntilResolved(t *testing.T) {
	sb := newStubBackend()
	s := newTestSession(t, sb)

	c, err := s.Get(object.TypeCommit, rootID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	p, err := c.GetParentAsync(0)
	if err != nil {
		t.Fatalf("GetParentAsync: %v", err)
	}
	<-p.Done()
	if got := c.Pins(); got != 1 {
		t.Errorf("pins before resolve = %d, want 1", got)
	}
	if _, err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := c.Pins(); got != 0 {
		t.Errorf("pins after resolve = %d, want 0", got)
	}
	<-s.Completions() // drain the delivered completion record
}
