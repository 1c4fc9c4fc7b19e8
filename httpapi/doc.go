// Package httpapi exposes the identity engine over JSON HTTP. It maps
// the engine's error taxonomy onto status codes (423 for lockout, 429
// with Retry-After for throttling, 502 for provider exchange failures)
// and keeps internal detail out of response bodies.
package httpapi
