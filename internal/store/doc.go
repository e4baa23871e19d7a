// Package store provides SQLite-backed storage for OIDC token-lifecycle
// records.
//
// Each record kind gets its own table:
//
//	id          TEXT PRIMARY KEY
//	payload     TEXT NOT NULL   -- canonical JSON object
//	expires_at  INTEGER         -- unix milliseconds, NULL = never
//
// with an index on json_extract(payload, '$.grantId') for grantable kinds, a
// unique index on '$.userCode' (device_code) or '$.uid' (session), and an
// index on expires_at. Provision creates all of it and must run once at
// startup before any ModelStore is used.
//
// # Expiry
//
// Reads treat a row whose expires_at has passed as absent, so expiry is exact
// from the caller's point of view even though the row stays on disk until
// Reap runs. Nothing in the package schedules Reap.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - one open connection: SQLite serializes writers anyway
package store
