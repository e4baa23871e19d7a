package adapter

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/payload"
	"github.com/roach88/oidcstore/internal/store"
	"github.com/roach88/oidcstore/internal/store/redisstore"
	"github.com/roach88/oidcstore/internal/testutil"
)

// testBackend is a provisioned backend plus a way to move time for it.
type testBackend struct {
	factory *Factory
	advance func(d time.Duration)
	clock   *testutil.Clock
}

func newSQLiteBackend(t *testing.T) testBackend {
	t.Helper()
	clock := testutil.NewClock(testutil.Epoch)
	s, err := store.Open(filepath.Join(t.TempDir(), "adapter.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Provision(context.Background()))

	return testBackend{
		factory: NewFactory(SQLite(s), nil),
		advance: func(d time.Duration) { clock.Advance(d) },
		clock:   clock,
	}
}

func newRedisBackend(t *testing.T) testBackend {
	t.Helper()
	clock := testutil.NewClock(testutil.Epoch)
	mr := miniredis.RunT(t)
	s := redisstore.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), redisstore.Options{Now: clock.Now})
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Provision(context.Background()))

	return testBackend{
		factory: NewFactory(Redis(s), nil),
		advance: func(d time.Duration) {
			clock.Advance(d)
			mr.FastForward(d)
		},
		clock: clock,
	}
}

var backends = map[string]func(t *testing.T) testBackend{
	"sqlite": newSQLiteBackend,
	"redis":  newRedisBackend,
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b testBackend)) {
	for name, newBackend := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, newBackend(t))
		})
	}
}

func mustFor(t *testing.T, f *Factory, name string) *Adapter {
	t.Helper()
	a, err := f.For(name)
	require.NoError(t, err)
	return a
}

func TestFactory_For(t *testing.T) {
	f := NewFactory(BackendFunc(func(model.Spec) ModelStore { return nil }), nil)

	for _, name := range []string{"AccessToken", "access_token", "access-token"} {
		a, err := f.For(name)
		require.NoError(t, err, name)
		assert.Equal(t, model.AccessToken, a.Spec().Kind)
	}

	_, err := f.For("ReplayDetection")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnknownKind))
}

func TestFactory_EveryEngineModel(t *testing.T) {
	f := NewFactory(BackendFunc(func(model.Spec) ModelStore { return nil }), nil)

	names := []string{
		"AccessToken", "AuthorizationCode", "RefreshToken", "DeviceCode",
		"ClientCredentials", "Session", "Interaction", "Client",
		"InitialAccessToken", "RegistrationAccessToken", "PushedAuthorizationRequest",
	}
	seen := map[model.Kind]bool{}
	for _, name := range names {
		a, err := f.For(name)
		require.NoError(t, err, name)
		seen[a.Spec().Kind] = true
	}
	assert.Len(t, seen, len(model.Specs()))
}

// Scenario: three refresh tokens across two grants, revoke one grant.
func TestContract_RevokeRefreshTokensByGrant(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		rt := mustFor(t, b.factory, "RefreshToken")

		require.NoError(t, rt.Upsert(ctx, "r1", payload.Payload{"grantId": "g1"}, 3600))
		require.NoError(t, rt.Upsert(ctx, "r2", payload.Payload{"grantId": "g1"}, 3600))
		require.NoError(t, rt.Upsert(ctx, "r3", payload.Payload{"grantId": "g2"}, 3600))

		require.NoError(t, rt.RevokeByGrantID(ctx, "g1"))

		for id, want := range map[string]bool{"r1": false, "r2": false, "r3": true} {
			got, err := rt.Find(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, got != nil, id)
		}
	})
}

// Scenario: device flow lookup by user code.
func TestContract_DeviceCodeByUserCode(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		dc := mustFor(t, b.factory, "DeviceCode")

		in := payload.Payload{"userCode": "ABCD-EFGH", "clientId": "tv", "grantId": "g1"}
		require.NoError(t, dc.Upsert(ctx, "d1", in, 600))

		got, err := dc.FindByUserCode(ctx, "ABCD-EFGH")
		require.NoError(t, err)
		assert.True(t, payload.Equal(in, got), "got %v", got)

		got, err = dc.FindByUserCode(ctx, "ZZZZ-ZZZZ")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestContract_FindByUID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		sess := mustFor(t, b.factory, "Session")

		require.NoError(t, sess.Upsert(ctx, "s1", payload.Payload{"uid": "u-1", "accountId": "alice"}, 0))

		got, err := sess.FindByUID(ctx, "u-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "alice", got.String("accountId"))

		got, err = sess.FindByUserCode(ctx, "u-1")
		require.NoError(t, err)
		assert.Nil(t, got, "sessions have no user code")
	})
}

// Ids are opaque: one that looks like a lookup key is still just an id.
func TestContract_ColonBearingIDs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		dc := mustFor(t, b.factory, "DeviceCode")

		require.NoError(t, dc.Upsert(ctx, "userCode:X", payload.Payload{"userCode": "Y"}, 600))
		require.NoError(t, dc.Upsert(ctx, "dc2", payload.Payload{"userCode": "X"}, 600))

		got, err := dc.Find(ctx, "userCode:X")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Y", got.String("userCode"))

		got, err = dc.FindByUserCode(ctx, "X")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "X", got.String("userCode"))

		got, err = dc.FindByUserCode(ctx, "Y")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Y", got.String("userCode"))
	})
}

func TestContract_SecondaryOnOtherKinds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		at := mustFor(t, b.factory, "AccessToken")

		require.NoError(t, at.Upsert(ctx, "a1", payload.Payload{"userCode": "X", "uid": "Y"}, 0))

		got, err := at.FindByUserCode(ctx, "X")
		require.NoError(t, err)
		assert.Nil(t, got)
		got, err = at.FindByUID(ctx, "Y")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestContract_ExpiresInSeconds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		code := mustFor(t, b.factory, "AuthorizationCode")

		require.NoError(t, code.Upsert(ctx, "c1", payload.Payload{}, 60))

		b.advance(59 * time.Second)
		got, err := code.Find(ctx, "c1")
		require.NoError(t, err)
		assert.NotNil(t, got)

		b.advance(time.Second)
		got, err = code.Find(ctx, "c1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestContract_NoExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		client := mustFor(t, b.factory, "Client")

		require.NoError(t, client.Upsert(ctx, "c1", payload.Payload{"client_id": "c1"}, 0))
		require.NoError(t, client.Upsert(ctx, "c2", payload.Payload{"client_id": "c2"}, -5))

		b.advance(365 * 24 * time.Hour)
		for _, id := range []string{"c1", "c2"} {
			got, err := client.Find(ctx, id)
			require.NoError(t, err)
			assert.NotNil(t, got, id)
		}
	})
}

func TestContract_UpsertReplaces(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		in := mustFor(t, b.factory, "Interaction")

		require.NoError(t, in.Upsert(ctx, "i1", payload.Payload{"a": 1, "b": 2}, 0))
		require.NoError(t, in.Upsert(ctx, "i1", payload.Payload{"c": 3}, 0))

		got, err := in.Find(ctx, "i1")
		require.NoError(t, err)
		assert.True(t, payload.Equal(payload.Payload{"c": 3}, got), "got %v", got)
	})
}

func TestContract_DestroyThenFind(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		par := mustFor(t, b.factory, "PushedAuthorizationRequest")

		require.NoError(t, par.Upsert(ctx, "p1", payload.Payload{"request": "jwt"}, 60))
		require.NoError(t, par.Destroy(ctx, "p1"))

		got, err := par.Find(ctx, "p1")
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, par.Destroy(ctx, "p1"), "destroying twice is fine")
	})
}

func TestContract_Consume(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		code := mustFor(t, b.factory, "AuthorizationCode")

		require.NoError(t, code.Upsert(ctx, "c1", payload.Payload{"grantId": "g"}, 600))
		b.advance(5 * time.Second)
		require.NoError(t, code.Consume(ctx, "c1"))

		got, err := code.Find(ctx, "c1")
		require.NoError(t, err)
		consumed, ok := got.Consumed()
		require.True(t, ok)
		assert.Equal(t, b.clock.Unix(), consumed)

		// a second consume later moves it forward, never back
		b.advance(5 * time.Second)
		require.NoError(t, code.Consume(ctx, "c1"))
		got, err = code.Find(ctx, "c1")
		require.NoError(t, err)
		again, _ := got.Consumed()
		assert.Greater(t, again, consumed)

		require.NoError(t, code.Consume(ctx, "missing"))
		got, err = code.Find(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestContract_RevokeNonGrantable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		sess := mustFor(t, b.factory, "Session")

		require.NoError(t, sess.Upsert(ctx, "s1", payload.Payload{"grantId": "g1"}, 0))
		require.NoError(t, sess.RevokeByGrantID(ctx, "g1"))

		got, err := sess.Find(ctx, "s1")
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func TestContract_UserCodeConflict(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b testBackend) {
		ctx := context.Background()
		dc := mustFor(t, b.factory, "DeviceCode")

		require.NoError(t, dc.Upsert(ctx, "d1", payload.Payload{"userCode": "SAME"}, 600))
		err := dc.Upsert(ctx, "d2", payload.Payload{"userCode": "SAME"}, 600)
		assert.ErrorIs(t, err, store.ErrConflict)
	})
}

// recordingStore captures the arguments the Adapter forwards.
type recordingStore struct {
	ttl     time.Duration
	sec     model.Secondary
	revoked int64
	err     error
}

func (r *recordingStore) Upsert(_ context.Context, _ string, _ payload.Payload, ttl time.Duration) error {
	r.ttl = ttl
	return r.err
}

func (r *recordingStore) Find(context.Context, string) (payload.Payload, error) {
	return nil, r.err
}

func (r *recordingStore) FindBySecondary(_ context.Context, sec model.Secondary, _ string) (payload.Payload, error) {
	r.sec = sec
	return nil, r.err
}

func (r *recordingStore) Destroy(context.Context, string) error { return r.err }

func (r *recordingStore) Consume(context.Context, string) error { return r.err }

func (r *recordingStore) RevokeByGrantID(context.Context, string) (int64, error) {
	return r.revoked, r.err
}

func TestAdapter_ForwardsToStore(t *testing.T) {
	rec := &recordingStore{}
	f := NewFactory(BackendFunc(func(model.Spec) ModelStore { return rec }), nil)
	a := f.ForSpec(model.DeviceCode.Spec())
	ctx := context.Background()

	require.NoError(t, a.Upsert(ctx, "d1", nil, 90))
	assert.Equal(t, 90*time.Second, rec.ttl)

	require.NoError(t, a.Upsert(ctx, "d1", nil, -1))
	assert.Zero(t, rec.ttl)

	require.NoError(t, a.Upsert(ctx, "d1", nil, math.MaxInt))
	assert.Equal(t, time.Duration(maxExpiresIn)*time.Second, rec.ttl, "huge lifetimes clamp instead of wrapping")
	assert.Positive(t, rec.ttl)

	_, _ = a.FindByUserCode(ctx, "x")
	assert.Equal(t, model.SecondaryUserCode, rec.sec)
	_, _ = a.FindByUID(ctx, "x")
	assert.Equal(t, model.SecondaryUID, rec.sec)
}

func TestAdapter_PropagatesErrors(t *testing.T) {
	boom := errors.New("storage unavailable")
	rec := &recordingStore{err: boom}
	a := NewFactory(BackendFunc(func(model.Spec) ModelStore { return rec }), nil).ForSpec(model.AccessToken.Spec())
	ctx := context.Background()

	assert.ErrorIs(t, a.Upsert(ctx, "a", nil, 0), boom)
	_, err := a.Find(ctx, "a")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, a.Destroy(ctx, "a"), boom)
	assert.ErrorIs(t, a.Consume(ctx, "a"), boom)
	assert.ErrorIs(t, a.RevokeByGrantID(ctx, "g"), boom)
}
