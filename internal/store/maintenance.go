package store

import (
	"context"
	"fmt"

	"github.com/roach88/oidcstore/internal/model"
)

// RevokeGrant removes every record of every grantable kind carrying grantID.
//
// Kinds are revoked one after another with no enclosing transaction, matching
// what a caller doing RevokeByGrantID per kind would get. The first error
// stops the sweep; counts gathered so far are returned with it.
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

// Reap deletes expired rows from every provisioned kind.
func (s *Store) Reap(ctx context.Context) (map[model.Kind]int64, error) {
	present, err := s.tables(ctx)
	if err != nil {
		return nil, err
	}

	reaped := make(map[model.Kind]int64)
	for _, spec := range model.Specs() {
		if !present[spec.Name] {
			continue
		}
		n, err := s.Model(spec).Reap(ctx)
		if err != nil {
			return reaped, err
		}
		if n > 0 {
			reaped[spec.Kind] = n
		}
	}
	s.logger.Debug("reap", "kinds", len(reaped))
	return reaped, nil
}

// KindStats summarizes one kind's table.
type KindStats struct {
	Kind        model.Kind `json:"-"`
	Name        string     `json:"kind"`
	Provisioned bool       `json:"provisioned"`
	Records     int64      `json:"records"`
	Expired     int64      `json:"expired"`
}

// Stats reports row counts for every kind in table order. Expired rows are
// those still stored but already invisible to reads.
func (s *Store) Stats(ctx context.Context) ([]KindStats, error) {
	present, err := s.tables(ctx)
	if err != nil {
		return nil, err
	}

	now := s.nowMillis()
	specs := model.Specs()
	stats := make([]KindStats, 0, len(specs))
	for _, spec := range specs {
		ks := KindStats{Kind: spec.Kind, Name: spec.Name, Provisioned: present[spec.Name]}
		if ks.Provisioned {
			err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
				SELECT count(*),
				       count(CASE WHEN expires_at IS NOT NULL AND expires_at <= ? THEN 1 END)
				FROM %q
			`, spec.Name), now).Scan(&ks.Records, &ks.Expired)
			if err != nil {
				return nil, fmt.Errorf("stats %s: %w", spec.Name, err)
			}
		}
		stats = append(stats, ks)
	}
	return stats, nil
}

func (s *Store) tables(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return present, nil
}
