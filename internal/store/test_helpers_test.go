package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/payload"
	"github.com/roach88/oidcstore/internal/testutil"
)

// createTestStore opens a provisioned store in a temp dir driven by a fake
// clock starting at testutil.Epoch.
func createTestStore(t *testing.T) (*Store, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(testutil.Epoch)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Provision(context.Background()); err != nil {
		t.Fatalf("Provision() failed: %v", err)
	}
	return s, clock
}

// mustUpsert stores p under id with no expiry.
func mustUpsert(t *testing.T, m *ModelStore, id string, p payload.Payload) {
	t.Helper()
	if err := m.Upsert(context.Background(), id, p, 0); err != nil {
		t.Fatalf("Upsert(%s, %q) failed: %v", m.Spec().Name, id, err)
	}
}

// rawPayload reads the stored column bypassing expiry filtering.
func rawPayload(t *testing.T, s *Store, kind model.Kind, id string) string {
	t.Helper()
	var raw string
	err := s.db.QueryRow(`SELECT payload FROM "`+kind.Spec().Name+`" WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		t.Fatalf("read raw payload %s/%s: %v", kind, id, err)
	}
	return raw
}

func countRows(t *testing.T, s *Store, kind model.Kind) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT count(*) FROM "` + kind.Spec().Name + `"`).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", kind, err)
	}
	return n
}
