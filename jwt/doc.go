// Package jwt issues and validates the signed session tokens used by the
// identity engine. Access and refresh tokens share one claim shape and
// are told apart by the "typ" claim.
package jwt
