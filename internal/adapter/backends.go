package adapter

import (
	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/store"
	"github.com/roach88/oidcstore/internal/store/redisstore"
)

var (
	_ ModelStore = (*store.ModelStore)(nil)
	_ ModelStore = (*redisstore.ModelStore)(nil)
)

// SQLite serves adapters from a provisioned SQLite store.
func SQLite(s *store.Store) Backend {
	return BackendFunc(func(spec model.Spec) ModelStore {
		return s.Model(spec)
	})
}

// Redis serves adapters from a Redis store.
func Redis(s *redisstore.Store) Backend {
	return BackendFunc(func(spec model.Spec) ModelStore {
		return s.Model(spec)
	})
}
