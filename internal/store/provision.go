package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/oidcstore/internal/model"
)

// Provision creates the table and indexes for each spec, or for every kind
// when specs is empty. It is idempotent and safe to run concurrently with
// another process doing the same.
//
// Every kind is attempted. Failures are collected into a *ProvisionError;
// the schema version is only recorded when all kinds succeed.
func (s *Store) Provision(ctx context.Context, specs ...model.Spec) error {
	if len(specs) == 0 {
		specs = model.Specs()
	}

	var perr ProvisionError
	for _, spec := range specs {
		if err := s.provisionKind(ctx, spec); err != nil {
			s.logger.Error("provision failed", "kind", spec.Name, "error", err)
			perr.Failures = append(perr.Failures, KindFailure{Kind: spec.Kind, Err: err})
			continue
		}
		s.logger.Debug("provisioned", "kind", spec.Name)
	}
	if len(perr.Failures) > 0 {
		return &perr
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *Store) provisionKind(ctx context.Context, spec model.Spec) error {
	for _, stmt := range schemaFor(spec) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// schemaFor returns the DDL for one kind. All statements use IF NOT EXISTS.
func schemaFor(spec model.Spec) []string {
	t := spec.Name
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			expires_at INTEGER
		)`, t),
	}
	if spec.Grantable {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %q ON %q (%s)`,
			t+"_grant_id", t, jsonField(model.FieldGrantID)))
	}
	if spec.Secondary != model.SecondaryNone {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %q (%s)`,
			t+"_"+model.Normalize(spec.Secondary.Field()), t, jsonField(spec.Secondary.Field())))
	}
	stmts = append(stmts, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %q ON %q (expires_at)`,
		t+"_expires_at", t))
	return stmts
}

// jsonField is the indexed expression for a payload field. Queries must use
// the identical expression for SQLite to pick the index.
func jsonField(field string) string {
	return fmt.Sprintf("json_extract(payload, '$.%s')", field)
}

func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '\n' || r == '(' {
			return strings.TrimSpace(stmt[:i])
		}
	}
	return stmt
}
