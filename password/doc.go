// Package password implements the hashing primitive used for account passwords,
// security-question answers and backup codes.
//
// # Output format
//
// Hashes are standard bcrypt strings ($2a$<cost>$...). The cost is fixed per
// [Bcrypt] instance; [Bcrypt.NeedsRehash] reports hashes produced with a lower cost.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Normalization of the input
// (trimming answers, canonicalizing backup codes) is the caller's job.
//
// # What this package must NOT do
//
//   - Store or retrieve secrets. Callers supply plaintext and receive hashes.
//   - Import any other gatekeeper package.
//   - Log plaintext input or hashes.
package password
