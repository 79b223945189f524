// Package middleware adapts gatekeeper session checks to net/http.
//
// # Guards
//
//   - [RequireSession] reads the bearer token, resolves the caller's device
//     fingerprint and calls Engine.Authorize.
//   - [RequireRole] restricts a route to session tokens carrying one of the
//     given roles.
//
// Claims for the request are available through [SessionFromContext].
//
// # What this package must NOT do
//
//   - Parse or create tokens directly; every decision is delegated to the Engine.
//   - Derive a role from anything but the token's claims.
package middleware
