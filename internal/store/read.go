package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/payload"
)

// Find returns the payload of the live record id.
// Returns a nil payload and nil error when there is no such record or it has
// expired.
func (m *ModelStore) Find(ctx context.Context, id string) (payload.Payload, error) {
	row := m.s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT payload FROM %s WHERE id = ? AND %s
	`, m.table(), live), id, m.s.nowMillis())

	p, err := scanPayload(row)
	if err != nil {
		return nil, fmt.Errorf("find %s %q: %w", m.spec.Name, id, err)
	}
	return p, nil
}

// FindBySecondary returns the live record whose secondary field equals value.
// Kinds that do not declare sec always report not found.
func (m *ModelStore) FindBySecondary(ctx context.Context, sec model.Secondary, value string) (payload.Payload, error) {
	if !m.spec.Supports(sec) {
		return nil, nil
	}

	row := m.s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT payload FROM %s WHERE %s = ? AND %s
	`, m.table(), jsonField(sec.Field()), live), value, m.s.nowMillis())

	p, err := scanPayload(row)
	if err != nil {
		return nil, fmt.Errorf("find %s by %s: %w", m.spec.Name, sec, err)
	}
	return p, nil
}

// ExpiresAt returns the stored expiry of record id, ignoring whether it has
// passed. ok is false when the record is absent or never expires.
func (m *ModelStore) ExpiresAt(ctx context.Context, id string) (at int64, ok bool, err error) {
	var v sql.NullInt64
	err = m.s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT expires_at FROM %s WHERE id = ?
	`, m.table()), id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("expiry %s %q: %w", m.spec.Name, id, err)
	}
	return v.Int64, v.Valid, nil
}

func scanPayload(row *sql.Row) (payload.Payload, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return payload.DecodeString(raw)
}
