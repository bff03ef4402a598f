package asyncworker

import (
	"context"
	"sync"
)

// Completion is the promise attached to awaitable submissions
// ([Worker.InvokeTaskAwait] and friends, [Worker.SetBarrierAwait]).
//
// A completion resolves exactly once, with one of:
//
//   - the inner [Task] handle and a nil error, when the task ran to
//     completion (barriers resolve with a nil task);
//   - a nil task and [context.Canceled], when the submission was dropped by
//     [Worker.Close] or the task unwound via the shared cancellation context;
//   - the inner [Task] handle and the task's fault, when the task faulted.
type Completion struct {
	done chan struct{}
	once sync.Once
	task *Task
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// resolve records the outcome. Safe to call more than once; only the first
// call wins.
func (x *Completion) resolve(task *Task, err error) {
	x.once.Do(func() {
		x.task = task
		x.err = err
		close(x.done)
	})
}

// Done returns a channel that is closed once the completion has resolved.
func (x *Completion) Done() <-chan struct{} {
	return x.done
}

// Task returns the inner task handle, or nil if not (yet) resolved with one.
// Only valid for access after Done is closed.
func (x *Completion) Task() *Task {
	select {
	case <-x.done:
		return x.task
	default:
		return nil
	}
}

// Err returns the resolution error, if any. Only valid for access after Done
// is closed.
func (x *Completion) Err() error {
	select {
	case <-x.done:
		return x.err
	default:
		return nil
	}
}

// Wait blocks until the completion resolves or ctx is canceled, returning
// the inner task handle and the resolution error.
func (x *Completion) Wait(ctx context.Context) (*Task, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-x.done:
		return x.task, x.err
	}
}
