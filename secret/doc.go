// Package secret implements authenticated symmetric encryption for
// sensitive material held at rest, with optional slow key derivation
// from a passphrase.
package secret
