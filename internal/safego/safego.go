// Package safego launches named background goroutines that log panics
// instead of crashing the process.
package safego

import "log/slog"

// Go runs fn in a new goroutine. A panic in fn is recovered and logged
// with name so the report can be traced back to the worker that died.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "goroutine", name, "panic", r)
			}
		}()
		fn()
	}()
}
