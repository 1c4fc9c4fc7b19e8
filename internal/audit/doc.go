// Package audit implements the engine's structured audit event model and
// the asynchronous dispatcher that feeds pluggable sinks.
package audit
