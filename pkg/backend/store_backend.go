package backend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/tether/pkg/object"
)

// StoreBackend implements Backend over a local content-addressed
// object.Store. It keeps parsed objects inside handles and mutates them
// in memory until Write; it performs no locking of its own.
type StoreBackend struct {
	store  *object.Store
	signer CommitSigner
}

// Init creates the on-disk layout for a new repository at dir and returns
// a backend over it.
func Init(dir string) (*StoreBackend, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	return &StoreBackend{store: object.NewStore(dir)}, nil
}

// Open returns a backend over an existing repository directory.
func Open(dir string) (*StoreBackend, error) {
	info, err := os.Stat(filepath.Join(dir, "objects"))
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open repository %s: objects is not a directory", dir)
	}
	return &StoreBackend{store: object.NewStore(dir)}, nil
}

// NewStoreBackend wraps an already-opened store.
func NewStoreBackend(store *object.Store) *StoreBackend {
	return &StoreBackend{store: store}
}

// SetSigner installs a signer applied to commits at Write time.
func (b *StoreBackend) SetSigner(s CommitSigner) { b.signer = s }

// Store exposes the underlying object store.
func (b *StoreBackend) Store() *object.Store { return b.store }

// Lookup resolves an identity to a handle holding the parsed object.
func (b *StoreBackend) Lookup(kind object.ObjectType, id object.Hash) (*Handle, error) {
	switch kind {
	case object.TypeCommit:
		c, err := b.store.ReadCommit(id)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("lookup %s %s: %w", kind, id, ErrNotFound)
			}
			return nil, fmt.Errorf("lookup %s %s: %w", kind, id, err)
		}
		return &Handle{kind: kind, hash: id, commit: c}, nil
	case object.TypeTree:
		tr, err := b.store.ReadTree(id)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("lookup %s %s: %w", kind, id, ErrNotFound)
			}
			return nil, fmt.Errorf("lookup %s %s: %w", kind, id, err)
		}
		return &Handle{kind: kind, hash: id, tree: tr}, nil
	default:
		return nil, fmt.Errorf("lookup: unsupported kind %q", kind)
	}
}

// ReadFields copies the handle's data into a detached Fields value.
func (b *StoreBackend) ReadFields(h *Handle) (*Fields, error) {
	switch h.kind {
	case object.TypeCommit:
		if h.commit == nil {
			return nil, fmt.Errorf("read fields: handle %s has no commit data", h.hash)
		}
		return &Fields{
			Message:     h.commit.Message,
			Author:      h.commit.Author,
			Committer:   h.commit.Committer,
			ParentCount: len(h.commit.Parents),
			TreeHash:    h.commit.TreeHash,
		}, nil
	case object.TypeTree:
		if h.tree == nil {
			return nil, fmt.Errorf("read fields: handle %s has no tree data", h.hash)
		}
		return &Fields{EntryCount: len(h.tree.Entries)}, nil
	default:
		return nil, fmt.Errorf("read fields: unsupported kind %q", h.kind)
	}
}

// ResolveParent loads the index-th parent of a commit handle.
func (b *StoreBackend) ResolveParent(h *Handle, index int) (*Handle, error) {
	if h.kind != object.TypeCommit || h.commit == nil {
		return nil, fmt.Errorf("resolve parent: handle is not a commit")
	}
	if index < 0 || index >= len(h.commit.Parents) {
		return nil, fmt.Errorf("resolve parent %d of %s: %w", index, h.hash, ErrNotFound)
	}
	return b.Lookup(object.TypeCommit, h.commit.Parents[index])
}

// NewCommit allocates an empty, unpersisted commit handle.
func (b *StoreBackend) NewCommit() *Handle {
	return &Handle{kind: object.TypeCommit, commit: &object.CommitObj{}}
}

func (b *StoreBackend) SetMessage(h *Handle, message string) error {
	if h.kind != object.TypeCommit || h.commit == nil {
		return fmt.Errorf("set message: handle is not a commit")
	}
	h.commit.Message = message
	return nil
}

func (b *StoreBackend) SetAuthor(h *Handle, sig object.Signature) error {
	if h.kind != object.TypeCommit || h.commit == nil {
		return fmt.Errorf("set author: handle is not a commit")
	}
	h.commit.Author = sig
	return nil
}

func (b *StoreBackend) SetCommitter(h *Handle, sig object.Signature) error {
	if h.kind != object.TypeCommit || h.commit == nil {
		return fmt.Errorf("set committer: handle is not a commit")
	}
	h.commit.Committer = sig
	return nil
}

// SetTree points a commit handle at a tree handle.
func (b *StoreBackend) SetTree(h *Handle, tree *Handle) error {
	if h.kind != object.TypeCommit || h.commit == nil {
		return fmt.Errorf("set tree: handle is not a commit")
	}
	if tree == nil || tree.kind != object.TypeTree {
		return fmt.Errorf("set tree: argument is not a tree handle")
	}
	if tree.hash == "" {
		return fmt.Errorf("set tree: tree has not been persisted")
	}
	h.commit.TreeHash = tree.hash
	return nil
}

// AddParent appends parent to a commit handle's parent list in memory.
func (b *StoreBackend) AddParent(h *Handle, parent *Handle) error {
	if h.kind != object.TypeCommit || h.commit == nil {
		return fmt.Errorf("add parent: handle is not a commit")
	}
	if parent == nil || parent.kind != object.TypeCommit {
		return fmt.Errorf("add parent: argument is not a commit handle")
	}
	if parent.hash == "" {
		return fmt.Errorf("add parent: parent has not been persisted")
	}
	h.commit.Parents = append(h.commit.Parents, parent.hash)
	return nil
}

// Write persists the handle's object, signing commits when a signer is
// installed, and records the assigned identity on the handle.
func (b *StoreBackend) Write(h *Handle) (object.Hash, error) {
	switch h.kind {
	case object.TypeCommit:
		if h.commit == nil {
			return "", fmt.Errorf("write: handle has no commit data")
		}
		if b.signer != nil && h.commit.Signature == "" {
			sig, err := b.signer(object.CommitSigningPayload(h.commit))
			if err != nil {
				return "", fmt.Errorf("write: sign commit: %w", err)
			}
			h.commit.Signature = sig
		}
		hash, err := b.store.WriteCommit(h.commit)
		if err != nil {
			return "", fmt.Errorf("write commit: %w", err)
		}
		h.hash = hash
		return hash, nil
	case object.TypeTree:
		if h.tree == nil {
			return "", fmt.Errorf("write: handle has no tree data")
		}
		hash, err := b.store.WriteTree(h.tree)
		if err != nil {
			return "", fmt.Errorf("write tree: %w", err)
		}
		h.hash = hash
		return hash, nil
	default:
		return "", fmt.Errorf("write: unsupported kind %q", h.kind)
	}
}
