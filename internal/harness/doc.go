// Package harness replays token-lifecycle scenarios against a storage
// backend.
//
// A scenario is a YAML script of adapter calls (upsert, find,
// find_by_user_code, find_by_uid, destroy, consume, revoke_by_grant_id) and
// clock movements (advance). Each run gets a fresh provisioned backend and a
// frozen clock, so the resulting trace is deterministic and can be compared
// byte for byte with a golden file. The same golden file is expected from
// every backend; a difference means the backends disagree on semantics.
//
// Scenario files are checked twice before running: against the embedded
// CUE schema (schema.cue) for shape, and in Go for constraints that depend
// on the kind catalogue, such as revoke_by_grant_id only applying to kinds
// that carry a grant.
//
// Example:
//
//	name: revoke_refresh_by_grant
//	description: Revoking a grant removes only that grant's refresh tokens
//	steps:
//	  - op: upsert
//	    model: RefreshToken
//	    id: r1
//	    payload: {grantId: g1}
//	    expires_in: 3600
//	  - op: revoke_by_grant_id
//	    model: RefreshToken
//	    grant_id: g1
//	  - op: find
//	    model: RefreshToken
//	    id: r1
//	    expect: {found: false}
package harness
