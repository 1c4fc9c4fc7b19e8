// Package totp implements time-based one-time passwords per RFC 6238
// for multi-factor enrollment and verification.
package totp
