package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/payload"
	"github.com/roach88/oidcstore/internal/store"
)

// ModelStore reads and writes the records of one kind.
type ModelStore struct {
	s    *Store
	spec model.Spec
}

// Spec returns the kind this store is bound to.
func (m *ModelStore) Spec() model.Spec {
	return m.spec
}

// recordKey and secondaryKey live under separate namespaces (rec: and idx:)
// so no record id, however many colons it carries, can name a pointer key.
func (m *ModelStore) recordKey(id string) string {
	return m.s.prefix + "rec:" + m.spec.Name + ":" + id
}

// secondaryKey is only meaningful for kinds that declare a secondary field.
func (m *ModelStore) secondaryKey(value string) string {
	return m.s.prefix + "idx:" + m.spec.Name + ":" + m.spec.Secondary.Field() + ":" + value
}

// Upsert replaces record id. A positive expiresIn becomes the TTL of the
// record and its secondary key; otherwise both persist.
func (m *ModelStore) Upsert(ctx context.Context, id string, p payload.Payload, expiresIn time.Duration) error {
	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("upsert %s: %w", m.spec.Name, err)
	}

	var secKey, secVal string
	if field := m.spec.Secondary.Field(); field != "" {
		if secVal = p.String(field); secVal != "" {
			secKey = m.secondaryKey(secVal)
		}
	}

	var grantKey, grantID string
	if m.spec.Grantable {
		if grantID = p.GrantID(); grantID != "" {
			grantKey = m.s.grantKey(grantID)
		}
	}

	ttl := expiresIn.Milliseconds()
	if ttl < 0 {
		ttl = 0
	}

	ok, err := upsertScript.Run(ctx, m.s.client,
		[]string{m.recordKey(id), secKey, grantKey},
		string(data), ttl, id, secVal, m.secondaryKey(""), grantID, m.s.grantKey(""),
	).Int64()
	if err != nil {
		return fmt.Errorf("upsert %s: %w", m.spec.Name, err)
	}
	if ok == 0 {
		return fmt.Errorf("upsert %s %q: %s %q: %w", m.spec.Name, id, m.spec.Secondary, secVal, store.ErrConflict)
	}

	m.s.logger.Debug("upsert", "kind", m.spec.Name, "id", id, "expires_in", expiresIn)
	return nil
}

// Find returns the payload of record id, or nil when Redis has no such key.
// A consumed timestamp recorded by Consume is merged into the payload.
func (m *ModelStore) Find(ctx context.Context, id string) (payload.Payload, error) {
	vals, err := m.s.client.HMGet(ctx, m.recordKey(id), "payload", "consumed").Result()
	if err != nil {
		return nil, fmt.Errorf("find %s %q: %w", m.spec.Name, id, err)
	}

	raw, ok := vals[0].(string)
	if !ok {
		return nil, nil
	}
	p, err := payload.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("find %s %q: %w", m.spec.Name, id, err)
	}

	if c, ok := vals[1].(string); ok {
		consumed, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("find %s %q: bad consumed %q: %w", m.spec.Name, id, c, err)
		}
		if prev, ok := p.Consumed(); !ok || consumed > prev {
			p[model.FieldConsumed] = payload.FormatUnix(consumed)
		}
	}
	return p, nil
}

// FindBySecondary resolves the secondary pointer and loads the record. Kinds
// that do not declare sec always report not found.
func (m *ModelStore) FindBySecondary(ctx context.Context, sec model.Secondary, value string) (payload.Payload, error) {
	if !m.spec.Supports(sec) {
		return nil, nil
	}

	id, err := m.s.client.Get(ctx, m.secondaryKey(value)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s by %s: %w", m.spec.Name, sec, err)
	}

	p, err := m.Find(ctx, id)
	if err != nil || p == nil {
		return p, err
	}
	if p.String(sec.Field()) != value {
		// pointer outlived a rewrite of the record
		return nil, nil
	}
	return p, nil
}

// Destroy deletes record id and the keys pointing at it.
func (m *ModelStore) Destroy(ctx context.Context, id string) error {
	n, err := m.destroy(ctx, m.recordKey(id))
	if err != nil {
		return fmt.Errorf("destroy %s: %w", m.spec.Name, err)
	}
	m.s.logger.Debug("destroy", "kind", m.spec.Name, "id", id, "deleted", n)
	return nil
}

func (m *ModelStore) destroy(ctx context.Context, key string) (int64, error) {
	id := strings.TrimPrefix(key, m.recordKey(""))
	return destroyScript.Run(ctx, m.s.client,
		[]string{key}, id, m.secondaryKey(""), m.s.grantKey(""),
	).Int64()
}

// Consume records the current unix time as payload.consumed without ever
// lowering it. Missing records are ignored.
func (m *ModelStore) Consume(ctx context.Context, id string) error {
	n, err := consumeScript.Run(ctx, m.s.client, []string{m.recordKey(id)}, m.s.now().Unix()).Int64()
	if err != nil {
		return fmt.Errorf("consume %s: %w", m.spec.Name, err)
	}
	m.s.logger.Debug("consume", "kind", m.spec.Name, "id", id, "updated", n)
	return nil
}

// RevokeByGrantID deletes this kind's records listed under grantID. Entries
// of other kinds stay in the shared grant list. Non-grantable kinds report
// zero.
func (m *ModelStore) RevokeByGrantID(ctx context.Context, grantID string) (int64, error) {
	if !m.spec.Grantable {
		return 0, nil
	}

	keys, err := m.s.client.LRange(ctx, m.s.grantKey(grantID), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("revoke %s by grant: %w", m.spec.Name, err)
	}

	grantKey := m.s.grantKey(grantID)
	own := m.recordKey("")
	var deleted int64
	for _, key := range keys {
		if !strings.HasPrefix(key, own) {
			continue
		}
		n, err := m.destroy(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("revoke %s by grant: %w", m.spec.Name, err)
		}
		// entries of already-expired records are not cleaned by destroy
		if err := m.s.client.LRem(ctx, grantKey, 0, key).Err(); err != nil {
			return deleted, fmt.Errorf("revoke %s by grant: %w", m.spec.Name, err)
		}
		deleted += n
	}

	m.s.logger.Debug("revoke by grant", "kind", m.spec.Name, "grant_id", grantID, "deleted", deleted)
	return deleted, nil
}
