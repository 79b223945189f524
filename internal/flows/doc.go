// Package flows contains the second-factor verifiers and the code material they
// check: TOTP, email one-time codes, security questions and backup codes.
//
// Every verifier is a small struct of function dependencies so it can be
// exercised without Redis. [Recorded] wraps any [Verifier] and guarantees that
// each call writes exactly one attempt row, whether the verifier matched,
// rejected, errored or panicked.
//
// # Architecture boundaries
//
// Verifiers answer "did this proof match". Lockout, token issuance and device
// checks happen in the Engine before and after the call.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import gatekeeper (to avoid import cycles).
//   - Reveal which sub-check failed; a verifier returns only match or no match.
package flows
