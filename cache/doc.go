// Package cache is a thin Redis-backed cache for derived read models:
// JSON values under prefixed keys, with TTLs and prefix invalidation.
package cache
