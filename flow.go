package asyncworker

import (
	"context"
	"sync/atomic"
	"time"
)

// gate is the region handshake between a worker and a task goroutine. The
// worker grants one synchronous region at a time, and blocks until the
// region parks at a yield point or the task completes. Both channels are
// unbuffered; every grant is matched by exactly one park or one completion.
type gate struct {
	grant  chan struct{}
	parked chan struct{}
	router atomic.Pointer[resumeRouter]
}

func newGate() *gate {
	return &gate{
		grant:  make(chan struct{}),
		parked: make(chan struct{}),
	}
}

// Flow is the awaiter passed to every asynchronous work payload. Between
// calls to its yield methods the payload runs a synchronous region: no other
// work item's synchronous code runs on the same worker during that region.
//
// A Flow is only valid for use by the payload goroutine it was passed to,
// for the lifetime of that payload.
type Flow struct {
	worker *Worker
	work   *work
}

// Worker returns the worker executing this flow.
func (x *Flow) Worker() *Worker {
	return x.worker
}

// Yield suspends the payload, releasing the worker so queued work items may
// run, and resumes once the worker processes the rescheduled continuation.
func (x *Flow) Yield() {
	x.suspend(nil)
}

// Sleep suspends the payload for at least d, or until ctx is canceled,
// whichever is first. The worker is released for the duration. Returns
// ctx.Err() if ctx was canceled.
func (x *Flow) Sleep(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ready := make(chan struct{})
	timer := time.NewTimer(d)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		close(ready)
	}()
	x.suspend(ready)
	return ctx.Err()
}

// Await suspends the payload until t completes, or ctx is canceled,
// whichever is first. The worker is released for the duration. Returns
// ctx.Err() if ctx was canceled, otherwise t's terminal error.
func (x *Flow) Await(ctx context.Context, t *Task) error {
	if t == nil {
		return &MisuseError{Message: `asyncworker: await requires a task`}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ready := make(chan struct{})
	go func() {
		select {
		case <-t.Done():
		case <-ctx.Done():
		}
		close(ready)
	}()
	x.suspend(ready)
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.Err()
}

// suspend parks the payload until ready fires (nil reschedules immediately).
// The continuation is routed through the work's resume router, so it runs as
// a Post work item on the owning worker. The park is signalled after the
// continuation is arranged, and before blocking on the next grant.
func (x *Flow) suspend(ready <-chan struct{}) {
	g := x.work.gate
	r := g.router.Load()
	if ready == nil {
		r.post()
	} else {
		go func() {
			<-ready
			r.post()
		}()
	}
	g.parked <- struct{}{}
	<-g.grant
}
