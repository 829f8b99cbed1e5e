// Package safego provides a panic-recovering launcher for background goroutines.
package safego

import "log/slog"

// Go launches fn in a new goroutine, recovering and logging any panic instead
// of crashing the process. Use it for fire-and-forget work (side-channel HTTP
// listeners, async audit shipping) where an unrecovered panic would silently
// kill the goroutine forever.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
