// Package stores provides the Redis-backed second-factor registry and the
// per-user factor material behind it: factor settings, the authenticator secret,
// security questions, backup codes and email one-time codes.
//
// # Design
//
// Every user owns a small set of keys under one prefix. Full replacements
// (security questions, backup codes) run inside MULTI/EXEC so a reader never
// sees a half-replaced set. Single-use redemption (backup codes, email codes)
// runs as a Lua script so two concurrent redeemers cannot both succeed.
//
// # Architecture boundaries
//
// This package stores hashes, never plaintext answers or backup codes. It does
// NOT hash, compare hashes, or decide lockout; those belong to internal/flows
// and internal/limiters.
//
// # What this package must NOT do
//
//   - Import gatekeeper or any sibling internal package.
//   - Log or expose secrets or code hashes.
package stores
