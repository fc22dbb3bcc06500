package session

import (
	"fmt"

	"github.com/odvcencio/tether/pkg/backend"
	"github.com/odvcencio/tether/pkg/object"
)

// Ref names a backend object either by identity string or by an existing
// wrapper. It replaces per-call-site type switching: operations accept a
// Ref and resolve it once at the API boundary.
type Ref struct {
	id     string
	entity *Entity
}

// ById refs an object by its 40-character hex identity.
func ById(id string) Ref { return Ref{id: id} }

// ByEntity refs an object through an existing wrapper.
func ByEntity(e *Entity) Ref { return Ref{entity: e} }

// resolveRef turns a Ref into a backend handle of the wanted kind,
// acquiring the repository lock for any lookup it needs.
func (s *Session) resolveRef(kind object.ObjectType, ref Ref) (*backend.Handle, error) {
	switch {
	case ref.entity != nil:
		e := ref.entity
		if e.kind != kind {
			return nil, fmt.Errorf("%w: ref is a %s, want %s", ErrInvalidArgument, e.kind, kind)
		}
		e.waitLoaded()
		if e.loadErr != nil {
			return nil, e.loadErr
		}
		if e.handle == nil || e.identity == "" {
			return nil, fmt.Errorf("%w: ref entity has not been persisted", ErrInvalidArgument)
		}
		return e.handle, nil

	case ref.id != "":
		hash, err := object.ParseHash(ref.id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		s.lock.Acquire()
		h, err := s.backend.Lookup(kind, hash)
		s.lock.Release()
		if err != nil {
			return nil, err
		}
		return h, nil

	default:
		return nil, fmt.Errorf("%w: empty ref", ErrInvalidArgument)
	}
}
