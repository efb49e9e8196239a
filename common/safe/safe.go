package safe

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// PanicError is returned by Call when fn panicked.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Call runs fn and converts a panic into *PanicError.
func Call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// Go starts fn in a goroutine protected from panics. Panics are logged
// and reported to onPanic when it is not nil.
func Go(log *zap.Logger, name string, fn func(), onPanic func(error)) {
	go func() {
		err := Call(func() error {
			fn()
			return nil
		})
		if err != nil {
			log.Error("panic recovered", zap.String("goroutine", name), zap.Error(err))
			if onPanic != nil {
				onPanic(err)
			}
		}
	}()
}
