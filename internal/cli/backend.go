package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/oidcstore/internal/adapter"
	"github.com/roach88/oidcstore/internal/config"
	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/store"
	"github.com/roach88/oidcstore/internal/store/redisstore"
)

// errNotProvisioned is returned by Ready for a SQLite file that has never
// been provisioned.
var errNotProvisioned = errors.New("database is not provisioned (run oidcstore provision)")

// Backend is the operator view of a store: the maintenance calls plus an
// adapter factory for record operations.
type Backend interface {
	Name() string
	Factory() *adapter.Factory
	Provision(ctx context.Context, specs ...model.Spec) error
	Ready(ctx context.Context) error
	RevokeGrant(ctx context.Context, grantID string) (map[model.Kind]int64, error)
	Reap(ctx context.Context) (map[model.Kind]int64, error)
	Stats(ctx context.Context) ([]store.KindStats, error)
	Close() error
}

type sqliteBackend struct {
	*store.Store
	factory *adapter.Factory
}

func (b *sqliteBackend) Name() string              { return config.BackendSQLite }
func (b *sqliteBackend) Factory() *adapter.Factory { return b.factory }

func (b *sqliteBackend) Ready(ctx context.Context) error {
	v, err := b.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if v == 0 {
		return errNotProvisioned
	}
	return nil
}

type redisBackend struct {
	*redisstore.Store
	factory *adapter.Factory
}

func (b *redisBackend) Name() string              { return config.BackendRedis }
func (b *redisBackend) Factory() *adapter.Factory { return b.factory }

// Provision ignores specs: Redis has no per-kind schema.
func (b *redisBackend) Provision(ctx context.Context, _ ...model.Spec) error {
	return b.Store.Provision(ctx)
}

func (b *redisBackend) Ready(context.Context) error { return nil }

// openBackend connects to the store opts.Config selects. The config must
// already be validated.
func openBackend(ctx context.Context, opts *RootOptions) (Backend, error) {
	cfg := opts.Config
	logger := opts.Logger()

	switch cfg.Backend {
	case config.BackendRedis:
		s, err := redisstore.New(ctx, redisstore.Options{
			URL:         cfg.RedisURL,
			Prefix:      cfg.RedisPrefix,
			PoolSize:    cfg.RedisPoolSize,
			PoolTimeout: cfg.RedisPoolTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return &redisBackend{Store: s, factory: adapter.NewFactory(adapter.Redis(s), logger)}, nil
	default:
		s, err := store.Open(cfg.DBPath, store.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &sqliteBackend{Store: s, factory: adapter.NewFactory(adapter.SQLite(s), logger)}, nil
	}
}

// connect validates the configuration and opens the backend, reporting
// failures through f.
func connect(ctx context.Context, opts *RootOptions, f *OutputFormatter) (Backend, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	b, err := openBackend(ctx, opts)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeBackend, "failed to open backend", err)
	}
	f.VerboseLog("Using %s backend", b.Name())
	return b, nil
}

// withBackend connects, checks the store is provisioned, runs fn and closes
// the backend.
func withBackend(ctx context.Context, opts *RootOptions, f *OutputFormatter, fn func(Backend) error) error {
	b, err := connect(ctx, opts, f)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Ready(ctx); err != nil {
		if errors.Is(err, errNotProvisioned) {
			return f.Fail(ExitCommandError, ErrCodeNotProvisioned, err.Error(), nil)
		}
		return f.Fail(ExitCommandError, ErrCodeBackend, "failed to check backend", err)
	}
	return fn(b)
}

// adapterFor resolves a model name, reporting unknown kinds through f.
func adapterFor(b Backend, f *OutputFormatter, name string) (*adapter.Adapter, error) {
	a, err := b.Factory().For(name)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeUnknownKind, fmt.Sprintf("unknown model %q", name), err)
	}
	return a, nil
}

// kindCounts renders per-kind counts keyed by kind name.
func kindCounts(counts map[model.Kind]int64) map[string]int64 {
	out := make(map[string]int64, len(counts))
	for k, n := range counts {
		out[k.String()] = n
	}
	return out
}
