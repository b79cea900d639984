package testrun

import (
	"context"
	"fmt"
)

// Future is a Handle backed by a goroutine.
type Future struct {
	done chan struct{}
	info map[string]string
	err  error
}

// Go runs fn in its own goroutine and returns a handle to its outcome.
// A panic inside fn is reported as an error.
func Go(ctx context.Context, fn func(ctx context.Context) (map[string]string, error)) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("panic: %v", r)
			}
		}()
		f.info, f.err = fn(ctx)
	}()
	return f
}

// Completed returns an already finished handle.
func Completed(info map[string]string, err error) *Future {
	f := &Future{done: make(chan struct{}), info: info, err: err}
	close(f.done)
	return f
}

func (f *Future) Wait(ctx context.Context) (map[string]string, error) {
	select {
	case <-f.done:
		return f.info, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}
