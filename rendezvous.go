package asyncworker

import (
	"sync"
	"sync/atomic"
)

// rendezvous is the state shared by an "owner" worker and one or more
// "waiter" workers for the duration of one sync-qualified work item. The
// protected work begins only after every participant has arrived, and the
// waiters are released exactly once, after the protected region ends.
//
// Neither side ever holds the peer's mutex: all transitions on the counter
// are atomic, and the callbacks (syncReady, syncEnd) are invoked by
// whichever goroutine crosses the zero threshold.
type rendezvous struct {
	owner   *Worker
	waiters []*Worker
	work    *work

	// remaining counts outstanding arrivals: every waiter, plus the owner.
	remaining atomic.Int32
	// cancelled is set when the owner drops the protected work at close; the
	// owner's arrival is substituted so parked waiters still drain.
	cancelled atomic.Bool
	released  sync.Once
}

func newRendezvous(owner *Worker, waiters []*Worker) *rendezvous {
	x := &rendezvous{owner: owner, waiters: waiters}
	x.remaining.Store(int32(len(waiters)) + 1)
	return x
}

// request enqueues a participation marker on every waiter. Called by the
// owner after the protected work has been admitted, outside any lock.
func (x *rendezvous) request() {
	for _, w := range x.waiters {
		w.enqueue(&work{kind: workSyncMarker, options: optSync, sync: x})
	}
}

// arrive records one participant reaching the rendezvous. The caller that
// observes the counter hit zero wakes the owner, or releases the waiters
// outright if the protected work was dropped.
func (x *rendezvous) arrive() {
	if x.remaining.Add(-1) != 0 {
		return
	}
	if x.cancelled.Load() {
		x.release()
		return
	}
	x.owner.syncReady(x)
}

// cancel substitutes the owner's arrival after the protected work was
// dropped by close, so participants that already parked (or will still park)
// are not held forever.
func (x *rendezvous) cancel() {
	x.cancelled.Store(true)
	x.arrive()
}

// release notifies every waiter, exactly once, that the protected region has
// ended.
func (x *rendezvous) release() {
	x.released.Do(func() {
		for _, w := range x.waiters {
			w.syncEnd(x)
		}
	})
}
