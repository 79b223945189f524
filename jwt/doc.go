// Package jwt issues and verifies the two token families used by the login flow:
// long-lived session tokens and short-lived intermediate tokens (role selection,
// second-factor pending).
//
// Both families share one signing key and are told apart only by the `pur`
// (purpose) and `tmp` claims. [Manager.Parse] therefore always takes the purpose
// the caller expects and rejects any other, even when signature and expiry are valid.
package jwt
