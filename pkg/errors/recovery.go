package errors

import (
	"fmt"
	"runtime/debug"
)

// Guard runs fn and turns a panic into an internal AppError carrying the stack.
// Realtime event handlers run through it so one bad event cannot kill a connection.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			appErr := Internal("Internal error").WithCause(fmt.Errorf("panic: %v", r))
			appErr.Stack = string(debug.Stack())
			err = appErr
		}
	}()
	return fn()
}
