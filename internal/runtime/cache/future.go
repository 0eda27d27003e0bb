package cache

import "context"

// Future is the eventual result of one instance context build. It resolves
// exactly once and may be awaited by any number of callers.
type Future[V any] struct {
	done  chan struct{}
	value V
	err   error
}

func newFuture[V any]() *Future[V] {
	return &Future[V]{done: make(chan struct{})}
}

func (f *Future[V]) resolve(value V, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

func (f *Future[V]) settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done is closed once the build settles.
func (f *Future[V]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the build settles or ctx ends. Abandoning the wait does
// not cancel the build.
func (f *Future[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
