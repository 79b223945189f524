// Package session is the device session registry: one Redis hash per device
// session plus a per-user index set.
//
// A device session is identified for policy purposes by its [Fingerprint]
// (ip, browser, os), not by its id. Two logins from the same fingerprint land in
// the same blockability unit; changing any component yields an unrelated,
// unblocked session. The block lives on the session row, so [Store.Delete] and
// [Store.DeleteAllExcept] leave blocked rows in place.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does NOT decide which
// device is "current" for self-service actions or whether a lookup error should
// fail open; those policies belong to the Engine.
//
// # What this package must NOT do
//
//   - Import gatekeeper or jwt (no upward imports).
//   - Store tokens or any credential material in [Session] fields.
package session
