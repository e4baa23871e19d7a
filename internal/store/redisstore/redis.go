// Package redisstore keeps token-lifecycle records in Redis.
//
// Key layout, all under a configurable prefix (default "oidc:"):
//
//	{prefix}rec:{kind}:{id}            hash {payload, consumed, sec, grant}
//	{prefix}idx:{kind}:userCode:{v}    string -> id   (device_code)
//	{prefix}idx:{kind}:uid:{v}         string -> id   (session)
//	{prefix}grant:{grantId}            list of record keys, shared by all kinds
//
// Every key carries the record's TTL, so Redis expires records natively and
// there is nothing to reap. Single-record writes run as Lua scripts and are
// atomic; grant revocation walks the grant list and is not.
package redisstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/store"
)

// DefaultPrefix namespaces every key when Options.Prefix is empty.
const DefaultPrefix = "oidc:"

// Options configures a Redis-backed store.
type Options struct {
	URL         string
	Prefix      string
	MaxRetries  int
	PoolSize    int
	PoolTimeout time.Duration

	// Now stamps payload.consumed. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Store is the Redis counterpart of store.Store.
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// New connects to opts.URL and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("redis URL must be provided")
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	if opts.PoolTimeout == 0 {
		opts.PoolTimeout = 30 * time.Second
	}

	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opt.MaxRetries = opts.MaxRetries
	opt.PoolSize = opts.PoolSize
	opt.PoolTimeout = opts.PoolTimeout
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second

	s := NewWithClient(redis.NewClient(opt), opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		s.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opt.Addr, err)
	}
	return s, nil
}

// NewWithClient wraps an existing client. URL and pool fields of opts are
// ignored.
func NewWithClient(client *redis.Client, opts Options) *Store {
	s := &Store{
		client: client,
		prefix: opts.Prefix,
		now:    opts.Now,
		logger: opts.Logger,
	}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Provision checks that Redis is reachable and preloads the Lua scripts.
// Redis needs no schema; the check exists so startup fails the same way it
// does for SQLite.
func (s *Store) Provision(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("provision redis: %w", err)
	}
	for _, script := range []*redis.Script{upsertScript, consumeScript, destroyScript} {
		if err := script.Load(ctx, s.client).Err(); err != nil {
			return fmt.Errorf("provision redis: load script: %w", err)
		}
	}
	s.logger.Debug("provisioned", "backend", "redis", "prefix", s.prefix)
	return nil
}

// Model binds a ModelStore to spec.
func (s *Store) Model(spec model.Spec) *ModelStore {
	return &ModelStore{s: s, spec: spec}
}

// RevokeGrant removes grantID's records from every grantable kind.
func (s *Store) RevokeGrant(ctx context.Context, grantID string) (map[model.Kind]int64, error) {
	deleted := make(map[model.Kind]int64)
	for _, spec := range model.GrantableSpecs() {
		n, err := s.Model(spec).RevokeByGrantID(ctx, grantID)
		if err != nil {
			return deleted, err
		}
		if n > 0 {
			deleted[spec.Kind] = n
		}
	}
	return deleted, nil
}

// Reap is a no-op: Redis expires keys itself.
func (s *Store) Reap(context.Context) (map[model.Kind]int64, error) {
	return map[model.Kind]int64{}, nil
}

// Stats counts record keys per kind with SCAN. Expired is always zero since
// Redis never returns expired keys.
func (s *Store) Stats(ctx context.Context) ([]store.KindStats, error) {
	specs := model.Specs()
	stats := make([]store.KindStats, 0, len(specs))
	for _, spec := range specs {
		var n int64
		iter := s.client.Scan(ctx, 0, s.Model(spec).recordKey("*"), 100).Iterator()
		for iter.Next(ctx) {
			n++
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("stats %s: %w", spec.Name, err)
		}
		stats = append(stats, store.KindStats{Kind: spec.Kind, Name: spec.Name, Provisioned: true, Records: n})
	}
	return stats, nil
}

func (s *Store) grantKey(grantID string) string {
	return s.prefix + "grant:" + grantID
}
