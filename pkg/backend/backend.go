// Package backend provides access to repository object storage through a
// blocking, stateful handle that is not safe for concurrent use.
//
// The default implementation works against a local object.Store, but the
// interface allows alternative implementations (e.g. an out-of-process
// store) without changing callers. Every method may block, and no method
// is reentrant on a single backend value: callers serialize all access
// behind one lock per repository.
package backend

import (
	"errors"

	"github.com/odvcencio/tether/pkg/object"
)

// ErrNotFound reports a lookup of an id or parent index that does not
// exist in the repository.
var ErrNotFound = errors.New("backend: object not found")

// CommitSigner signs canonical commit payload bytes and returns an encoded
// signature string to be persisted in CommitObj.Signature.
type CommitSigner func(payload []byte) (string, error)

// Fields is the flat, copied-out view of one object's data. A Fields value
// shares no memory with the backend, so it can be handed across goroutines
// after the backend call returns.
type Fields struct {
	// Commit fields.
	Message     string
	Author      object.Signature
	Committer   object.Signature
	ParentCount int
	TreeHash    object.Hash

	// Tree fields.
	EntryCount int
}

// Backend is the repository collaborator consumed by the session core.
//
// All calls block and must be made while holding the owning session's
// repository lock.
type Backend interface {
	// Lookup resolves an identity to a live handle, or ErrNotFound.
	Lookup(kind object.ObjectType, id object.Hash) (*Handle, error)

	// ReadFields copies all of a handle's data out in one call.
	ReadFields(h *Handle) (*Fields, error)

	// ResolveParent returns a handle for the index-th parent of a commit,
	// or ErrNotFound when the index is out of range.
	ResolveParent(h *Handle, index int) (*Handle, error)

	// NewCommit allocates an empty, unpersisted commit handle.
	NewCommit() *Handle

	// In-memory mutation; nothing is persisted until Write.
	SetMessage(h *Handle, message string) error
	SetAuthor(h *Handle, sig object.Signature) error
	SetCommitter(h *Handle, sig object.Signature) error
	SetTree(h *Handle, tree *Handle) error
	AddParent(h *Handle, parent *Handle) error

	// Write persists the handle's object and returns its assigned identity.
	Write(h *Handle) (object.Hash, error)
}

// Handle is an opaque, exclusively-owned reference to one backend object.
// A handle with an empty hash refers to an object that has not been
// persisted yet.
type Handle struct {
	kind   object.ObjectType
	hash   object.Hash
	commit *object.CommitObj
	tree   *object.TreeObj
}

// NewHandle mints a bare handle for a Backend implementation that keeps
// its object state elsewhere, keyed by kind and hash. StoreBackend does
// not need it; test doubles and out-of-process backends do.
func NewHandle(kind object.ObjectType, hash object.Hash) *Handle {
	return &Handle{kind: kind, hash: hash}
}

// SetHash records the identity assigned to a handle at Write time. It is
// intended for Backend implementations built on NewHandle.
func (h *Handle) SetHash(hash object.Hash) { h.hash = hash }

// Kind returns the object kind the handle refers to.
func (h *Handle) Kind() object.ObjectType { return h.kind }

// Hash returns the handle's identity, or "" before first persistence.
func (h *Handle) Hash() object.Hash { return h.hash }
