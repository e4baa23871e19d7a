// Package model defines the closed set of record kinds a protocol engine
// persists through oidcstore, and the per-kind index layout.
//
// The engine addresses storage by a logical model name ("AccessToken",
// "Session", ...). Normalize maps that name to the storage identifier used
// for tables and key prefixes, and Lookup resolves it to a Spec exactly once,
// at adapter construction.
//
// # Record Kinds
//
//	Kind                           Grantable  Secondary
//	access_token                   yes        -
//	authorization_code             yes        -
//	refresh_token                  yes        -
//	device_code                    yes        userCode (unique)
//	client_credentials             no         -
//	session                        no         uid (unique)
//	interaction                    no         -
//	client                         no         -
//	initial_access_token           no         -
//	registration_access_token      no         -
//	pushed_authorization_request   no         -
//
// Grantable kinds take part in grant-cascade revocation: deleting a grant
// removes every record whose payload.grantId matches it.
package model
