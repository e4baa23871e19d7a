package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/payload"
	"github.com/roach88/oidcstore/internal/store"
	"github.com/roach88/oidcstore/internal/testutil"
)

func createTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *testutil.Clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	clock := testutil.NewClock(testutil.Epoch)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewWithClient(client, Options{Now: clock.Now})
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Provision(context.Background()))
	return s, mr, clock
}

func TestNew_ParsesURLAndPings(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := New(context.Background(), Options{URL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, DefaultPrefix, s.prefix)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)

	_, err = New(context.Background(), Options{URL: "not a url"})
	assert.ErrorContains(t, err, "invalid Redis URL")

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = New(context.Background(), Options{URL: "redis://" + addr, MaxRetries: -1})
	assert.ErrorContains(t, err, "failed to connect")
}

func TestKeyLayout(t *testing.T) {
	s, mr, _ := createTestStore(t)
	ctx := context.Background()

	m := s.Model(model.DeviceCode.Spec())
	require.NoError(t, m.Upsert(ctx, "d1", payload.Payload{"userCode": "ABCD", "grantId": "g1"}, time.Minute))

	assert.True(t, mr.Exists("oidc:rec:device_code:d1"))
	assert.Equal(t, `{"grantId":"g1","userCode":"ABCD"}`, mr.HGet("oidc:rec:device_code:d1", "payload"))

	id, err := mr.Get("oidc:idx:device_code:userCode:ABCD")
	require.NoError(t, err)
	assert.Equal(t, "d1", id)

	list, err := mr.List("oidc:grant:g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"oidc:rec:device_code:d1"}, list)

	assert.Equal(t, time.Minute, mr.TTL("oidc:rec:device_code:d1"))
	assert.Equal(t, time.Minute, mr.TTL("oidc:idx:device_code:userCode:ABCD"))
	assert.Equal(t, time.Minute, mr.TTL("oidc:grant:g1"))
}

func TestKeyLayout_IDsCannotShadowPointers(t *testing.T) {
	s, mr, _ := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.DeviceCode.Spec())

	require.NoError(t, m.Upsert(ctx, "userCode:X", payload.Payload{"userCode": "Y"}, time.Minute))
	require.NoError(t, m.Upsert(ctx, "dc2", payload.Payload{"userCode": "X"}, time.Minute))

	assert.True(t, mr.Exists("oidc:rec:device_code:userCode:X"))
	id, err := mr.Get("oidc:idx:device_code:userCode:X")
	require.NoError(t, err)
	assert.Equal(t, "dc2", id)

	got, err := m.Find(ctx, "userCode:X")
	require.NoError(t, err)
	assert.Equal(t, "Y", got.String("userCode"))

	got, err = m.FindBySecondary(ctx, model.SecondaryUserCode, "X")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "X", got.String("userCode"))

	require.NoError(t, m.Destroy(ctx, "userCode:X"))
	got, err = m.FindBySecondary(ctx, model.SecondaryUserCode, "X")
	require.NoError(t, err)
	assert.NotNil(t, got, "destroying the colon id leaves dc2's pointer alone")
}

func TestCustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), Options{Prefix: "tenant-a:"})
	defer s.Close()

	require.NoError(t, s.Model(model.Client.Spec()).Upsert(context.Background(), "c1", payload.Payload{}, 0))
	assert.True(t, mr.Exists("tenant-a:rec:client:c1"))
}

func TestUpsertFind(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.Client.Spec())

	in := payload.Payload{"client_id": "c1", "redirect_uris": []any{"https://rp.example/cb"}}
	require.NoError(t, m.Upsert(ctx, "c1", in, 0))

	got, err := m.Find(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, payload.Equal(in, got))

	missing, err := m.Find(ctx, "c2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsert_ReplacesAndClearsTTL(t *testing.T) {
	s, mr, _ := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.Session.Spec())

	require.NoError(t, m.Upsert(ctx, "s1", payload.Payload{"uid": "u1", "extra": true}, time.Minute))
	require.NoError(t, m.Upsert(ctx, "s1", payload.Payload{"uid": "u1"}, 0))

	assert.Zero(t, mr.TTL("oidc:rec:session:s1"))
	assert.Zero(t, mr.TTL("oidc:idx:session:uid:u1"))

	mr.FastForward(time.Hour)
	got, err := m.Find(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, payload.Payload{"uid": "u1"}, got)
}

func TestUpsert_Expiry(t *testing.T) {
	s, mr, _ := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.DeviceCode.Spec())

	require.NoError(t, m.Upsert(ctx, "d1", payload.Payload{"userCode": "ABCD"}, 10*time.Second))
	mr.FastForward(10 * time.Second)

	got, err := m.Find(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = m.FindBySecondary(ctx, model.SecondaryUserCode, "ABCD")
	require.NoError(t, err)
	assert.Nil(t, got)

	// the code is free again
	require.NoError(t, m.Upsert(ctx, "d2", payload.Payload{"userCode": "ABCD"}, 10*time.Second))
}

func TestUpsert_SecondaryConflict(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.DeviceCode.Spec())

	require.NoError(t, m.Upsert(ctx, "d1", payload.Payload{"userCode": "SAME"}, 0))

	err := m.Upsert(ctx, "d2", payload.Payload{"userCode": "SAME"}, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict)

	none, err := m.Find(ctx, "d2")
	require.NoError(t, err)
	assert.Nil(t, none, "a conflicting upsert writes nothing")

	require.NoError(t, m.Upsert(ctx, "d1", payload.Payload{"userCode": "SAME", "v": 2}, 0))
}

func TestUpsert_SecondaryChangeMovesPointer(t *testing.T) {
	s, mr, _ := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.Session.Spec())

	require.NoError(t, m.Upsert(ctx, "s1", payload.Payload{"uid": "old"}, 0))
	require.NoError(t, m.Upsert(ctx, "s1", payload.Payload{"uid": "new"}, 0))

	assert.False(t, mr.Exists("oidc:idx:session:uid:old"))

	got, err := m.FindBySecondary(ctx, model.SecondaryUID, "new")
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = m.FindBySecondary(ctx, model.SecondaryUID, "old")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsert_GrantChangeMovesListEntry(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.AccessToken.Spec())

	require.NoError(t, m.Upsert(ctx, "a1", payload.Payload{"grantId": "g1"}, 0))
	require.NoError(t, m.Upsert(ctx, "a1", payload.Payload{"grantId": "g2"}, 0))

	n, err := m.RevokeByGrantID(ctx, "g1")
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := m.Find(ctx, "a1")
	require.NoError(t, err)
	assert.NotNil(t, got, "revoking the old grant must not touch the record")
}

func TestFindBySecondary_UnsupportedKind(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.AccessToken.Spec())

	require.NoError(t, m.Upsert(ctx, "a1", payload.Payload{"userCode": "ABCD"}, 0))

	got, err := m.FindBySecondary(ctx, model.SecondaryUserCode, "ABCD")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDestroy(t *testing.T) {
	s, mr, _ := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.DeviceCode.Spec())

	require.NoError(t, m.Upsert(ctx, "d1", payload.Payload{"userCode": "ABCD", "grantId": "g1"}, 0))
	require.NoError(t, m.Destroy(ctx, "d1"))

	assert.False(t, mr.Exists("oidc:rec:device_code:d1"))
	assert.False(t, mr.Exists("oidc:idx:device_code:userCode:ABCD"))
	list, _ := mr.List("oidc:grant:g1")
	assert.Empty(t, list)

	require.NoError(t, m.Destroy(ctx, "d1"))
}

func TestConsume(t *testing.T) {
	s, mr, clock := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.AuthorizationCode.Spec())

	require.NoError(t, m.Upsert(ctx, "code-1", payload.Payload{"grantId": "g1"}, time.Minute))
	mr.FastForward(10 * time.Second)
	clock.Advance(10 * time.Second)

	require.NoError(t, m.Consume(ctx, "code-1"))

	got, err := m.Find(ctx, "code-1")
	require.NoError(t, err)
	consumed, ok := got.Consumed()
	require.True(t, ok)
	assert.Equal(t, clock.Unix(), consumed)
	assert.Equal(t, 50*time.Second, mr.TTL("oidc:rec:authorization_code:code-1"), "consume keeps the TTL")
}

func TestConsume_NeverDecreases(t *testing.T) {
	s, _, clock := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.RefreshToken.Spec())

	require.NoError(t, m.Upsert(ctx, "r1", payload.Payload{}, 0))
	clock.Advance(time.Hour)
	require.NoError(t, m.Consume(ctx, "r1"))
	first := clock.Unix()

	clock.Set(testutil.Epoch)
	require.NoError(t, m.Consume(ctx, "r1"))

	got, err := m.Find(ctx, "r1")
	require.NoError(t, err)
	consumed, _ := got.Consumed()
	assert.Equal(t, first, consumed)
}

func TestConsume_PayloadValueWins(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.DeviceCode.Spec())

	require.NoError(t, m.Upsert(ctx, "d1", payload.Payload{"consumed": 4102444800}, 0))
	require.NoError(t, m.Consume(ctx, "d1"))

	got, err := m.Find(ctx, "d1")
	require.NoError(t, err)
	consumed, _ := got.Consumed()
	assert.Equal(t, int64(4102444800), consumed)
}

func TestConsume_Missing(t *testing.T) {
	s, mr, _ := createTestStore(t)

	require.NoError(t, s.Model(model.AuthorizationCode.Spec()).Consume(context.Background(), "ghost"))
	assert.False(t, mr.Exists("oidc:rec:authorization_code:ghost"))
}

func TestRevokeByGrantID(t *testing.T) {
	s, mr, _ := createTestStore(t)
	ctx := context.Background()
	rt := s.Model(model.RefreshToken.Spec())
	at := s.Model(model.AccessToken.Spec())

	require.NoError(t, rt.Upsert(ctx, "r1", payload.Payload{"grantId": "g1"}, 0))
	require.NoError(t, rt.Upsert(ctx, "r2", payload.Payload{"grantId": "g1"}, 0))
	require.NoError(t, rt.Upsert(ctx, "r3", payload.Payload{"grantId": "g2"}, 0))
	require.NoError(t, at.Upsert(ctx, "a1", payload.Payload{"grantId": "g1"}, 0))

	n, err := rt.RevokeByGrantID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []string{"r1", "r2"} {
		got, err := rt.Find(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got, id)
	}
	got, err := rt.Find(ctx, "r3")
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = at.Find(ctx, "a1")
	require.NoError(t, err)
	assert.NotNil(t, got, "other kinds keep their records")

	list, err := mr.List("oidc:grant:g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"oidc:rec:access_token:a1"}, list)
}

func TestRevokeByGrantID_NonGrantable(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.Session.Spec())

	require.NoError(t, m.Upsert(ctx, "s1", payload.Payload{"grantId": "g1", "uid": "u"}, 0))

	n, err := m.RevokeByGrantID(ctx, "g1")
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := m.Find(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestRevokeGrant(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Model(model.AccessToken.Spec()).Upsert(ctx, "a1", payload.Payload{"grantId": "g1"}, 0))
	require.NoError(t, s.Model(model.DeviceCode.Spec()).Upsert(ctx, "d1", payload.Payload{"grantId": "g1", "userCode": "X"}, 0))

	deleted, err := s.RevokeGrant(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, map[model.Kind]int64{model.AccessToken: 1, model.DeviceCode: 1}, deleted)

	got, err := s.Model(model.DeviceCode.Spec()).FindBySecondary(ctx, model.SecondaryUserCode, "X")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGrantListTTL(t *testing.T) {
	s, mr, _ := createTestStore(t)
	ctx := context.Background()
	m := s.Model(model.AccessToken.Spec())

	require.NoError(t, m.Upsert(ctx, "a1", payload.Payload{"grantId": "g1"}, time.Minute))
	require.NoError(t, m.Upsert(ctx, "a2", payload.Payload{"grantId": "g1"}, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("oidc:grant:g1"), "list lives as long as its longest member")

	require.NoError(t, m.Upsert(ctx, "a3", payload.Payload{"grantId": "g1"}, time.Second))
	assert.Equal(t, time.Hour, mr.TTL("oidc:grant:g1"), "shorter members never shrink it")

	require.NoError(t, m.Upsert(ctx, "a4", payload.Payload{"grantId": "g1"}, 0))
	assert.Zero(t, mr.TTL("oidc:grant:g1"), "a non-expiring member pins the list")
}

func TestStats(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Model(model.DeviceCode.Spec()).Upsert(ctx, "d1", payload.Payload{"userCode": "A"}, 0))
	require.NoError(t, s.Model(model.DeviceCode.Spec()).Upsert(ctx, "d2", payload.Payload{"userCode": "B"}, 0))
	require.NoError(t, s.Model(model.Client.Spec()).Upsert(ctx, "c1", payload.Payload{}, 0))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)

	counts := map[model.Kind]int64{}
	for _, st := range stats {
		counts[st.Kind] = st.Records
	}
	assert.Equal(t, int64(2), counts[model.DeviceCode], "secondary pointers are not records")
	assert.Equal(t, int64(1), counts[model.Client])
	assert.Zero(t, counts[model.ClientCredentials], "client:* must not match client_credentials")
}

func TestReap_NoOp(t *testing.T) {
	s, _, _ := createTestStore(t)
	reaped, err := s.Reap(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reaped)
}
