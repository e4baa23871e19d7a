package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/payload"
)

// Upsert creates or fully replaces the record id.
//
// When expiresIn is positive the record expires at now+expiresIn; otherwise
// it never expires, clearing any expiry a previous upsert set. The payload is
// stored as canonical JSON.
//
// For kinds with a secondary key, a live record of another id holding the
// same userCode or uid makes Upsert fail with ErrConflict. Expired holders
// are removed first so a reissued code is not blocked by a dead record.
func (m *ModelStore) Upsert(ctx context.Context, id string, p payload.Payload, expiresIn time.Duration) error {
	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("upsert %s: %w", m.spec.Name, err)
	}

	now := m.s.nowMillis()
	var expiresAt sql.NullInt64
	if expiresIn > 0 {
		expiresAt = sql.NullInt64{Int64: now + expiresIn.Milliseconds(), Valid: true}
	}

	tx, err := m.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert %s: begin tx: %w", m.spec.Name, err)
	}
	defer tx.Rollback() // No-op if committed

	if field := m.spec.Secondary.Field(); field != "" {
		if value := p.String(field); value != "" {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`
				DELETE FROM %s
				WHERE %s = ? AND id <> ? AND expires_at IS NOT NULL AND expires_at <= ?
			`, m.table(), jsonField(field)), value, id, now)
			if err != nil {
				return fmt.Errorf("upsert %s: clear expired %s: %w", m.spec.Name, field, err)
			}
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at
	`, m.table()), id, string(data), expiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("upsert %s %q: %w: %w", m.spec.Name, id, ErrConflict, err)
		}
		return fmt.Errorf("upsert %s: %w", m.spec.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert %s: commit: %w", m.spec.Name, err)
	}

	m.s.logger.Debug("upsert", "kind", m.spec.Name, "id", id, "expires_in", expiresIn)
	return nil
}

// Destroy deletes the record id. Deleting a missing record is not an error.
func (m *ModelStore) Destroy(ctx context.Context, id string) error {
	res, err := m.s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, m.table()), id)
	if err != nil {
		return fmt.Errorf("destroy %s: %w", m.spec.Name, err)
	}
	n, _ := res.RowsAffected()
	m.s.logger.Debug("destroy", "kind", m.spec.Name, "id", id, "deleted", n)
	return nil
}

// Consume stamps payload.consumed with the current unix time in seconds.
//
// The update is a single statement. An existing larger timestamp is kept, so
// consumed never decreases. Expiry is left untouched, and missing or expired
// records are ignored.
func (m *ModelStore) Consume(ctx context.Context, id string) error {
	now := m.s.now()
	res, err := m.s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET payload = json_set(payload, '$.%s',
			max(?, coalesce(json_extract(payload, '$.%s'), 0)))
		WHERE id = ? AND %s
	`, m.table(), model.FieldConsumed, model.FieldConsumed, live),
		now.Unix(), id, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("consume %s: %w", m.spec.Name, err)
	}
	n, _ := res.RowsAffected()
	m.s.logger.Debug("consume", "kind", m.spec.Name, "id", id, "updated", n)
	return nil
}

// RevokeByGrantID deletes every record of this kind whose payload.grantId is
// grantID and reports how many were removed. Non-grantable kinds are left
// alone and report zero.
func (m *ModelStore) RevokeByGrantID(ctx context.Context, grantID string) (int64, error) {
	if !m.spec.Grantable {
		return 0, nil
	}

	res, err := m.s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE %s = ?
	`, m.table(), jsonField(model.FieldGrantID)), grantID)
	if err != nil {
		return 0, fmt.Errorf("revoke %s by grant: %w", m.spec.Name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke %s by grant: rows affected: %w", m.spec.Name, err)
	}
	m.s.logger.Debug("revoke by grant", "kind", m.spec.Name, "grant_id", grantID, "deleted", n)
	return n, nil
}

// Reap deletes rows whose expiry has passed.
func (m *ModelStore) Reap(ctx context.Context) (int64, error) {
	res, err := m.s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, m.table()), m.s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("reap %s: %w", m.spec.Name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap %s: rows affected: %w", m.spec.Name, err)
	}
	return n, nil
}
