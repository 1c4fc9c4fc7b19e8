// Package middleware provides the HTTP guards in front of identity
// endpoints: bearer-token authentication, role gating, and rate
// limiting with 429/Retry-After semantics.
package middleware
