// Package recovery provides panic recovery for the per-connection
// goroutines relaymuxd spawns.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers from a panic and logs it with logger. Defer
// it at the start of any goroutine driving a connection so a bad
// Rewriter or Acceptor implementation cannot take down the process.
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "listener.handleConnection")
//	    ...
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			"goroutine", name,
			"panic", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()))
	}
}
