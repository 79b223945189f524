// Package gatekeeper is the login and second-factor core: it turns an email,
// a password and optional second-factor proofs into a session token while
// enforcing lockout, device blocking and role selection.
//
// A login is a small state machine:
//
//	Login ─┬─> second factor pending ── VerifySecondFactor ─┐
//	       ├─> role selection pending <─────────────────────┤
//	       │        └── SelectRole ──> authenticated        │
//	       └─> authenticated <──────────────────────────────┘
//
// Pending states are carried by short-lived intermediate tokens whose purpose
// claim is checked on every step; a session token is never accepted where an
// intermediate token is expected and vice versa.
//
// Engine methods are safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// gatekeeper is the public surface. It exposes [Engine], [Builder], [Config], the
// collaborator interfaces ([CredentialStore], [RoleRegistry], [EmailSender],
// [Clock]) and value types. Factor material, the attempt ledger and device
// sessions live in Redis behind internal packages and the session package.
//
// # What this package must NOT do
//
//   - Return raw backend errors to callers; every failure maps to a sentinel in errors.go.
//   - Log or audit secrets: passwords, codes, answers and tokens.
//   - Re-derive a session's role from storage; the token's role claim is authoritative.
package gatekeeper
