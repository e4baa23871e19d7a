// Package adapter is the surface the protocol engine talks to.
//
// The engine asks a Factory for an Adapter by its own logical model name
// ("AccessToken", "Session", ...). The Adapter exposes the seven storage
// operations the engine expects and forwards them to a ModelStore bound to
// that kind. Adapters hold no schema state; provisioning happens once at
// startup through the backend.
package adapter

import (
	"context"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/payload"
)

// ModelStore is what an Adapter needs from a storage backend for one kind.
// Implemented by *store.ModelStore and *redisstore.ModelStore.
type ModelStore interface {
	Upsert(ctx context.Context, id string, p payload.Payload, expiresIn time.Duration) error
	Find(ctx context.Context, id string) (payload.Payload, error)
	FindBySecondary(ctx context.Context, sec model.Secondary, value string) (payload.Payload, error)
	Destroy(ctx context.Context, id string) error
	Consume(ctx context.Context, id string) error
	RevokeByGrantID(ctx context.Context, grantID string) (int64, error)
}

// Backend binds a ModelStore to a kind.
type Backend interface {
	Model(spec model.Spec) ModelStore
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(spec model.Spec) ModelStore

// Model implements Backend.
func (f BackendFunc) Model(spec model.Spec) ModelStore {
	return f(spec)
}

// Contract is the operation set the protocol engine calls.
type Contract interface {
	Upsert(ctx context.Context, id string, p payload.Payload, expiresIn int) error
	Find(ctx context.Context, id string) (payload.Payload, error)
	FindByUserCode(ctx context.Context, userCode string) (payload.Payload, error)
	FindByUID(ctx context.Context, uid string) (payload.Payload, error)
	Destroy(ctx context.Context, id string) error
	Consume(ctx context.Context, id string) error
	RevokeByGrantID(ctx context.Context, grantID string) error
}

var _ Contract = (*Adapter)(nil)

// Factory creates Adapters over one backend.
type Factory struct {
	backend Backend
	logger  *slog.Logger
}

// NewFactory returns a Factory. A nil logger discards output.
func NewFactory(backend Backend, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Factory{backend: backend, logger: logger}
}

// For returns the Adapter for the engine's model name. The name is
// normalized first, so "AccessToken" and "access_token" are the same kind.
// Unknown names fail with model.ErrUnknownKind.
func (f *Factory) For(name string) (*Adapter, error) {
	spec, err := model.Lookup(name)
	if err != nil {
		return nil, err
	}
	return f.ForSpec(spec), nil
}

// ForSpec returns the Adapter for an already-resolved kind.
func (f *Factory) ForSpec(spec model.Spec) *Adapter {
	return &Adapter{
		spec:   spec,
		store:  f.backend.Model(spec),
		logger: f.logger.With("kind", spec.Name),
	}
}

// Adapter serves one record kind.
type Adapter struct {
	spec   model.Spec
	store  ModelStore
	logger *slog.Logger
}

// Spec returns the kind this adapter serves.
func (a *Adapter) Spec() model.Spec {
	return a.spec
}

// maxExpiresIn is the longest lifetime, in seconds, a time.Duration can hold.
// Larger values are clamped to it.
const maxExpiresIn int64 = math.MaxInt64 / int64(time.Second)

// Upsert stores payload under id, replacing any previous record. expiresIn is
// in seconds; zero or negative means the record never expires.
func (a *Adapter) Upsert(ctx context.Context, id string, p payload.Payload, expiresIn int) error {
	var ttl time.Duration
	switch {
	case int64(expiresIn) > maxExpiresIn:
		ttl = time.Duration(maxExpiresIn) * time.Second
	case expiresIn > 0:
		ttl = time.Duration(expiresIn) * time.Second
	}
	if err := a.store.Upsert(ctx, id, p, ttl); err != nil {
		a.logger.Warn("upsert failed", "id", id, "error", err)
		return err
	}
	return nil
}

// Find returns the payload stored under id, or nil if there is none.
func (a *Adapter) Find(ctx context.Context, id string) (payload.Payload, error) {
	return a.store.Find(ctx, id)
}

// FindByUserCode looks a device code up by its user code. Always nil for
// kinds other than device_code.
func (a *Adapter) FindByUserCode(ctx context.Context, userCode string) (payload.Payload, error) {
	return a.store.FindBySecondary(ctx, model.SecondaryUserCode, userCode)
}

// FindByUID looks a session up by uid. Always nil for kinds other than
// session.
func (a *Adapter) FindByUID(ctx context.Context, uid string) (payload.Payload, error) {
	return a.store.FindBySecondary(ctx, model.SecondaryUID, uid)
}

// Destroy removes the record. Missing records are not an error.
func (a *Adapter) Destroy(ctx context.Context, id string) error {
	return a.store.Destroy(ctx, id)
}

// Consume marks the record consumed at the current time.
func (a *Adapter) Consume(ctx context.Context, id string) error {
	return a.store.Consume(ctx, id)
}

// RevokeByGrantID removes every record of this kind issued under grantID.
func (a *Adapter) RevokeByGrantID(ctx context.Context, grantID string) error {
	n, err := a.store.RevokeByGrantID(ctx, grantID)
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Debug("revoked", "grant_id", grantID, "deleted", n)
	}
	return nil
}
