package store

import (
	"fmt"

	"github.com/roach88/oidcstore/internal/model"
)

// ModelStore reads and writes the records of a single kind.
//
// A ModelStore holds no state of its own beyond its spec and is cheap to
// create; Store.Model may be called per request. The kind's table must have
// been provisioned.
type ModelStore struct {
	s    *Store
	spec model.Spec
}

// Model binds a ModelStore to spec.
func (s *Store) Model(spec model.Spec) *ModelStore {
	return &ModelStore{s: s, spec: spec}
}

// Spec returns the kind this store is bound to.
func (m *ModelStore) Spec() model.Spec {
	return m.spec
}

// table returns the quoted table name. Names come from the closed kind table,
// never from callers.
func (m *ModelStore) table() string {
	return fmt.Sprintf("%q", m.spec.Name)
}

// live is the predicate hiding expired rows. Its single argument is now in
// unix milliseconds.
const live = "(expires_at IS NULL OR expires_at > ?)"
