// Package rate enforces request budgets with Redis-backed counters.
// Two algorithms are available: aligned fixed windows for simple
// attempt caps and a token bucket for burst-tolerant throttling.
package rate
