package session

import (
	"sync/atomic"

	"github.com/odvcencio/tether/pkg/backend"
	"github.com/odvcencio/tether/pkg/object"
)

// LoadState tracks where an entity is in its two-phase construction.
type LoadState int32

const (
	// StateUnloaded is the zero state before construction begins; it is
	// also the terminal state of a wrapper whose load failed.
	StateUnloaded LoadState = iota

	// StateLoading means the wrapper is cached but its fields have not
	// been published yet. Callers must not read fields in this state; the
	// API only hands entities out after the load phase ends.
	StateLoading

	// StateLoaded means fields have been published exactly once and are
	// stable until the caller mutates them.
	StateLoaded

	// StateNew marks an entity created by NewCommit: no identity, fields
	// caller-supplied, validated only at Save time.
	StateNew
)

func (s LoadState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateNew:
		return "new"
	default:
		return "unknown"
	}
}

// Entity is the in-process wrapper for one backend object. At most one
// live Entity exists per (kind, identity) pair; the session's cache
// enforces that.
//
// An Entity is not itself concurrency-aware. Its fields are written once
// by the load phase before the loaded channel is closed, and mutated only
// on the frontend goroutine afterwards; the closed channel is the
// happens-before edge that makes the published fields visible everywhere.
type Entity struct {
	sess *Session
	kind object.ObjectType

	state  atomic.Int32
	loaded chan struct{} // closed when the load phase ends, success or not
	loadErr error        // set before loaded is closed

	// pins counts in-flight dispatcher tasks that hold this entity, so it
	// cannot be torn down mid-flight.
	pins atomic.Int32

	identity object.Hash // "" until persisted
	handle   *backend.Handle
	fields   backend.Fields
}

// Kind returns the entity's object kind.
func (e *Entity) Kind() object.ObjectType { return e.kind }

// State returns the entity's current load state.
func (e *Entity) State() LoadState { return LoadState(e.state.Load()) }

// Loaded returns a channel closed when the entity's load phase has ended.
func (e *Entity) Loaded() <-chan struct{} { return e.loaded }

// waitLoaded blocks until the load phase ends. For New entities the
// channel is closed at birth.
func (e *Entity) waitLoaded() { <-e.loaded }

// Identity returns the entity's identity, or "" before first persistence.
func (e *Entity) Identity() object.Hash {
	e.waitLoaded()
	return e.identity
}

// Message returns the commit message.
func (e *Entity) Message() string {
	e.waitLoaded()
	return e.fields.Message
}

// Author returns the commit author.
func (e *Entity) Author() object.Signature {
	e.waitLoaded()
	return e.fields.Author
}

// Committer returns the commit committer.
func (e *Entity) Committer() object.Signature {
	e.waitLoaded()
	return e.fields.Committer
}

// ParentCount returns the entity's parent count. The counter is locally
// authoritative: AddParent increments it and no code path re-reads it
// from the backend behind the caller's back.
func (e *Entity) ParentCount() int {
	e.waitLoaded()
	return e.fields.ParentCount
}

// TreeHash returns the identity of the commit's tree, or "" when none is
// set yet.
func (e *Entity) TreeHash() object.Hash {
	e.waitLoaded()
	return e.fields.TreeHash
}

// EntryCount returns the number of entries of a tree entity.
func (e *Entity) EntryCount() int {
	e.waitLoaded()
	return e.fields.EntryCount
}

// SetMessage sets the commit message on the wrapper. The value reaches
// the backend at Save time.
func (e *Entity) SetMessage(message string) {
	e.waitLoaded()
	e.fields.Message = message
}

// SetAuthor sets the commit author on the wrapper.
func (e *Entity) SetAuthor(sig object.Signature) {
	e.waitLoaded()
	e.fields.Author = sig
}

// SetCommitter sets the commit committer on the wrapper.
func (e *Entity) SetCommitter(sig object.Signature) {
	e.waitLoaded()
	e.fields.Committer = sig
}

func (e *Entity) pin()   { e.pins.Add(1) }
func (e *Entity) unpin() { e.pins.Add(-1) }

// Pins reports the number of dispatcher tasks currently holding the
// entity.
func (e *Entity) Pins() int { return int(e.pins.Load()) }
