// Package limiters holds the counters behind second-factor throttling.
//
//   - [AttemptLedger]: append-only Redis record of verification attempts; its
//     failure count over a trailing window is the lockout input.
//   - [SendLimiter]: Redis token bucket per user for outbound one-time codes.
//
// # Architecture boundaries
//
// Both types count. Neither decides what happens at a threshold; the Engine
// compares counts with its configured policy.
//
// # What this package must NOT do
//
//   - Import gatekeeper or any sibling internal package.
//   - Delete or rewrite ledger entries. Retention is an external housekeeping job.
package limiters
