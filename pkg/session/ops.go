package session

import (
	"fmt"

	"github.com/odvcencio/tether/pkg/backend"
	"github.com/odvcencio/tether/pkg/object"
)

// AddParent appends a parent commit to the wrapper:
//
//  1. Resolve the ref (identity string or wrapper) to a backend handle
//  2. Append it through the backend under the repository lock
//  3. Increment the wrapper's visible parent count by exactly one
//
// The counter is locally authoritative: it is never re-read from the
// backend until a fresh load.
func (e *Entity) AddParent(ref Ref) error {
	if e.kind != object.TypeCommit {
		return fmt.Errorf("%w: add parent on a %s", ErrInvalidArgument, e.kind)
	}
	e.waitLoaded()
	if e.loadErr != nil {
		return e.loadErr
	}

	s := e.sess
	ph, err := s.resolveRef(object.TypeCommit, ref)
	if err != nil {
		return fmt.Errorf("add parent: %w", err)
	}

	s.lock.Acquire()
	err = s.backend.AddParent(e.handle, ph)
	s.lock.Release()
	if err != nil {
		return fmt.Errorf("add parent: %w", err)
	}

	e.fields.ParentCount++
	return nil
}

// GetParent resolves the index-th parent inline, blocking the caller.
// The parent comes back through the identity cache, so repeated lookups
// share one wrapper.
func (e *Entity) GetParent(index int) (*Entity, error) {
	ph, err := e.resolveParentHandle(index)
	if err != nil {
		return nil, err
	}
	return e.sess.getByHandle(object.TypeCommit, ph)
}

// GetParentAsync resolves the index-th parent on a worker. Locally
// decidable failures (wrong kind, out-of-range index) surface
// synchronously; backend failures travel through the Pending.
func (e *Entity) GetParentAsync(index int) (*Pending, error) {
	s := e.sess
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := e.checkParentIndex(index); err != nil {
		return nil, err
	}

	p := newPending(e, func() (*Entity, error) {
		ph, err := e.resolveParentHandle(index)
		if err != nil {
			return nil, err
		}
		return s.getByHandle(object.TypeCommit, ph)
	})
	s.dispatch.submit(p)
	return p, nil
}

// checkParentIndex covers the failures decidable without the backend.
func (e *Entity) checkParentIndex(index int) error {
	if e.kind != object.TypeCommit {
		return fmt.Errorf("%w: get parent on a %s", ErrInvalidArgument, e.kind)
	}
	e.waitLoaded()
	if e.loadErr != nil {
		return e.loadErr
	}
	if index < 0 || index >= e.fields.ParentCount {
		return fmt.Errorf("get parent %d: index out of bounds: %w", index, ErrNotFound)
	}
	return nil
}

func (e *Entity) resolveParentHandle(index int) (*backend.Handle, error) {
	if err := e.checkParentIndex(index); err != nil {
		return nil, err
	}

	s := e.sess
	s.lock.Acquire()
	ph, err := s.backend.ResolveParent(e.handle, index)
	s.lock.Release()
	if err != nil {
		return nil, fmt.Errorf("get parent %d: %w", index, err)
	}
	return ph, nil
}

// Tree returns the wrapper for the commit's tree, or (nil, nil) when no
// tree has been set yet.
func (e *Entity) Tree() (*Entity, error) {
	if e.kind != object.TypeCommit {
		return nil, fmt.Errorf("%w: tree of a %s", ErrInvalidArgument, e.kind)
	}
	e.waitLoaded()
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	if e.fields.TreeHash == "" {
		return nil, nil
	}
	return e.sess.Get(object.TypeTree, string(e.fields.TreeHash))
}

// SetTree points the commit at a tree, given by identity or wrapper, and
// records the tree hash on the wrapper's fields.
func (e *Entity) SetTree(ref Ref) error {
	if e.kind != object.TypeCommit {
		return fmt.Errorf("%w: set tree on a %s", ErrInvalidArgument, e.kind)
	}
	e.waitLoaded()
	if e.loadErr != nil {
		return e.loadErr
	}

	s := e.sess
	th, err := s.resolveRef(object.TypeTree, ref)
	if err != nil {
		return fmt.Errorf("set tree: %w", err)
	}

	s.lock.Acquire()
	err = s.backend.SetTree(e.handle, th)
	s.lock.Release()
	if err != nil {
		return fmt.Errorf("set tree: %w", err)
	}

	e.fields.TreeHash = th.Hash()
	return nil
}

// Save persists a new commit:
//
//  1. Validate required fields before any backend call: non-empty
//     message, author and committer present
//  2. Push the wrapper's fields into the backend handle and write it,
//     all in one locked section
//  3. Assign the returned identity and publish the wrapper into the
//     identity cache
//
// On validation or write failure the wrapper stays unpersisted and its
// identity is untouched.
func (e *Entity) Save() (object.Hash, error) {
	if e.kind != object.TypeCommit {
		return "", fmt.Errorf("%w: save a %s", ErrInvalidArgument, e.kind)
	}
	e.waitLoaded()
	if e.loadErr != nil {
		return "", e.loadErr
	}
	if e.identity != "" {
		return "", fmt.Errorf("%w: entity %s is already persisted", ErrInvalidArgument, e.identity)
	}

	if e.fields.Message == "" {
		return "", fmt.Errorf("save: message must not be empty: %w", ErrValidationFailed)
	}
	if e.fields.Author.IsZero() {
		return "", fmt.Errorf("save: author is required: %w", ErrValidationFailed)
	}
	if e.fields.Committer.IsZero() {
		return "", fmt.Errorf("save: committer is required: %w", ErrValidationFailed)
	}

	s := e.sess
	s.lock.Acquire()
	err := s.backend.SetMessage(e.handle, e.fields.Message)
	if err == nil {
		err = s.backend.SetAuthor(e.handle, e.fields.Author)
	}
	if err == nil {
		err = s.backend.SetCommitter(e.handle, e.fields.Committer)
	}
	var id object.Hash
	if err == nil {
		id, err = s.backend.Write(e.handle)
	}
	s.lock.Release()
	if err != nil {
		return "", fmt.Errorf("save: %w", err)
	}

	e.identity = id
	e.state.Store(int32(StateLoaded))
	if err := s.cache.publish(e, id); err != nil {
		return id, err
	}
	return id, nil
}
