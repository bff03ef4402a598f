package asyncworker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// Worker is one instance of the serialized work executor. See the package
// documentation for the execution model.
//
// Instances must be initialized using the [New] factory. A Worker has no
// dedicated goroutine while idle: the run loop is handed off to a background
// goroutine on demand, and exits whenever the active queue drains or the
// worker parks in a rendezvous.
type Worker struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	name      string
	log       *logiface.Logger[logiface.Event]
	unhandled func(w *Worker, err error)

	// mu guards all queue and mode state below. Counters documented as
	// atomic are the only exceptions. No two worker mutexes are ever held
	// together; cross-worker interaction goes through unlocked rendezvous
	// operations and lock-free submissions to peers.
	mu sync.Mutex

	active   []*work // runnable, in admission order
	pending  []*work // buffered during an atomic window (swapped with active)
	deferred []*work // buffered behind a barrier while prior work drains

	loopSpawned bool

	inAtomic   bool
	atomicWork *work

	inBarrier      bool
	waitingBarrier *work

	waitingSync          *work // parked as a rendezvous waiter
	waitingOwnedSyncWork *work // parked as a rendezvous owner

	disposed bool

	cancelCtx context.Context
	cancel    context.CancelFunc

	// runningTasks counts asynchronous tasks whose completion has not yet
	// been observed. Atomic; also read under mu for barrier decisions.
	runningTasks atomic.Int32
}

// New creates a new worker.
func New(options ...WorkerOption) *Worker {
	var cfg workerOptions
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt.applyWorker(&cfg)
	}
	return &Worker{
		name:      cfg.name,
		log:       cfg.logger,
		unhandled: cfg.unhandled,
	}
}

// Name returns the worker's diagnostic name.
func (s *Worker) Name() string {
	return s.name
}

// --- submission surface ---

// Invoke submits a synchronous action. Actions run to completion inline on
// the worker, strictly in submission order.
func (s *Worker) Invoke(action func(), opts ...InvokeOption) error {
	return s.submit(&work{kind: workActionNoState, action: action}, opts)
}

// InvokeState submits a synchronous action carrying a state argument.
func (s *Worker) InvokeState(action func(state any), state any, opts ...InvokeOption) error {
	return s.submit(&work{kind: workActionWithState, actionState: action, state: state}, opts)
}

// InvokeTask submits an asynchronous work item. The payload's synchronous
// prefix runs in submission order; between its yield points other work items
// may run.
func (s *Worker) InvokeTask(fn func(f *Flow) error, opts ...InvokeOption) error {
	return s.submit(&work{kind: workTaskNoState, task: fn}, opts)
}

// InvokeTaskState submits an asynchronous work item carrying a state
// argument.
func (s *Worker) InvokeTaskState(fn func(f *Flow, state any) error, state any, opts ...InvokeOption) error {
	return s.submit(&work{kind: workTaskWithState, taskState: fn, state: state}, opts)
}

// InvokeTaskContext submits an asynchronous work item that receives the
// worker's shared cancellation context, canceled by [Worker.Close].
func (s *Worker) InvokeTaskContext(fn func(f *Flow, token context.Context) error, opts ...InvokeOption) error {
	return s.submit(&work{kind: workTaskWithToken, taskToken: fn, token: s.sharedContext()}, opts)
}

// InvokeTaskStateContext submits an asynchronous work item carrying a state
// argument, receiving the worker's shared cancellation context.
func (s *Worker) InvokeTaskStateContext(fn func(f *Flow, state any, token context.Context) error, state any, opts ...InvokeOption) error {
	return s.submit(&work{kind: workTaskWithStateAndToken, taskStateToken: fn, state: state, token: s.sharedContext()}, opts)
}

// InvokeTaskAwait is [Worker.InvokeTask] with an attached [Completion] that
// resolves once the task completes.
func (s *Worker) InvokeTaskAwait(fn func(f *Flow) error, opts ...InvokeOption) (*Completion, error) {
	return s.submitAwait(&work{kind: workTaskNoState, task: fn}, opts)
}

// InvokeTaskStateAwait is [Worker.InvokeTaskState] with an attached
// [Completion].
func (s *Worker) InvokeTaskStateAwait(fn func(f *Flow, state any) error, state any, opts ...InvokeOption) (*Completion, error) {
	return s.submitAwait(&work{kind: workTaskWithState, taskState: fn, state: state}, opts)
}

// InvokeTaskContextAwait is [Worker.InvokeTaskContext] with an attached
// [Completion].
func (s *Worker) InvokeTaskContextAwait(fn func(f *Flow, token context.Context) error, opts ...InvokeOption) (*Completion, error) {
	return s.submitAwait(&work{kind: workTaskWithToken, taskToken: fn, token: s.sharedContext()}, opts)
}

// InvokeTaskStateContextAwait is [Worker.InvokeTaskStateContext] with an
// attached [Completion].
func (s *Worker) InvokeTaskStateContextAwait(fn func(f *Flow, state any, token context.Context) error, state any, opts ...InvokeOption) (*Completion, error) {
	return s.submitAwait(&work{kind: workTaskWithStateAndToken, taskStateToken: fn, state: state, token: s.sharedContext()}, opts)
}

// SetBarrier enqueues a barrier marker: all work submitted before it
// (including all pending resumptions of asynchronous work) completes before
// any work submitted after it begins.
func (s *Worker) SetBarrier() error {
	s.enqueue(&work{kind: workBarrier, options: optBarrier})
	return nil
}

// SetBarrierAwait is [Worker.SetBarrier] with an attached [Completion] that
// resolves (with a nil task) once the barrier has been consumed; at that
// moment all prior work items on the worker are fully complete.
func (s *Worker) SetBarrierAwait() (*Completion, error) {
	c := newCompletion()
	s.enqueue(&work{kind: workBarrier, options: optBarrier, completion: c})
	return c, nil
}

func (s *Worker) submitAwait(w *work, opts []InvokeOption) (*Completion, error) {
	w.completion = newCompletion()
	if err := s.submit(w, opts); err != nil {
		return nil, err
	}
	return w.completion, nil
}

// submit validates per-submission options, then hands the work to admission.
func (s *Worker) submit(w *work, opts []InvokeOption) error {
	var cfg invokeOptions
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyInvoke(&cfg)
	}

	if cfg.atomic {
		if !w.isTask() {
			return &MisuseError{Message: `asyncworker: atomic requires an asynchronous work`}
		}
		w.options |= optAtomic
	}

	if cfg.sync != nil {
		if len(cfg.sync) == 0 {
			return &MisuseError{Message: `asyncworker: sync requires at least one other worker`}
		}
		seen := make(map[*Worker]struct{}, len(cfg.sync))
		for _, peer := range cfg.sync {
			if peer == nil {
				return &MisuseError{Message: `asyncworker: sync peer must not be nil`}
			}
			if peer == s {
				return &MisuseError{Message: `asyncworker: sync peer must not be the submitting worker`}
			}
			if _, ok := seen[peer]; ok {
				return &MisuseError{Message: `asyncworker: sync peers must not contain duplicates`}
			}
			seen[peer] = struct{}{}
		}
		r := newRendezvous(s, cfg.sync)
		r.work = w
		w.sync = r
		w.options |= optSync
	}

	s.enqueue(w)
	return nil
}

// sharedContext lazily creates the worker's cancellation source.
func (s *Worker) sharedContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelCtx == nil {
		s.cancelCtx, s.cancel = context.WithCancel(context.Background())
		if s.disposed {
			s.cancel()
		}
	}
	return s.cancelCtx
}

// --- admission ---

// enqueue admits a work item, routing it by the worker's current mode, and
// spawns the run loop if needed. Participation requests for sync-qualified
// work are sent after the mutex is released, and never for dropped work.
func (s *Worker) enqueue(w *work) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		if w.completion != nil {
			w.completion.resolve(nil, context.Canceled)
		}
		if w.kind == workSyncMarker {
			// a closed participant cannot be held idle; count it as arrived
			w.sync.arrive()
		}
		return
	}
	switch {
	case s.inBarrier:
		s.deferred = append(s.deferred, w)
	case s.inAtomic:
		s.pending = append(s.pending, w)
	default:
		if w.kind == workBarrier {
			s.inBarrier = true
		}
		s.active = append(s.active, w)
		s.spawnLocked()
	}
	s.mu.Unlock()

	if w.sync != nil && w.kind != workSyncMarker {
		w.sync.request()
	}
}

// post admits a continuation of a suspended asynchronous work item. A post
// resuming the current atomic work runs inside the atomic window; any other
// post during an atomic window waits for the window to end. Posts are
// admitted even after close, so suspended tasks can observe the cancelled
// context and unwind.
func (s *Worker) post(of *work) {
	w := &work{kind: workPost, options: optPost, of: of}
	s.mu.Lock()
	if s.inAtomic && of != s.atomicWork {
		s.pending = append(s.pending, w)
	} else {
		s.active = append(s.active, w)
		s.spawnLocked()
	}
	s.mu.Unlock()
}

// spawnLocked hands the run loop off to a background goroutine, if it is not
// already running. Callers must hold mu.
func (s *Worker) spawnLocked() {
	if !s.loopSpawned {
		s.loopSpawned = true
		go s.runLoop()
	}
}

// --- run loop ---

func (s *Worker) runLoop() {
	for {
		s.mu.Lock()
		if s.waitingSync != nil || s.waitingOwnedSyncWork != nil || len(s.active) == 0 {
			s.loopSpawned = false
			s.mu.Unlock()
			return
		}
		w := s.active[0]
		s.active = s.active[1:]

		switch {
		case w.kind == workSyncMarker:
			if w.sync.cancelled.Load() {
				// the protected work was dropped; don't park
				s.mu.Unlock()
				w.sync.arrive()
				continue
			}
			s.waitingSync = w
			s.mu.Unlock()
			w.sync.arrive()

		case w.sync != nil:
			// owner side: park until every participant arrives
			s.waitingOwnedSyncWork = w
			s.mu.Unlock()
			w.sync.arrive()

		case w.options&optAtomic != 0:
			if s.inAtomic {
				s.mu.Unlock()
				panic(&InvariantError{Message: `asyncworker: atomic work dequeued inside an atomic window`})
			}
			s.enterAtomicLocked(w)
			s.mu.Unlock()
			w.execute(s)

		case w.kind == workBarrier:
			s.beginBarrier(w) // releases mu

		default:
			s.mu.Unlock()
			w.execute(s)
		}
	}
}

// enterAtomicLocked opens the atomic window for w: subsequent submissions
// land in the (swapped-in) pending queue, keeping the hot path free of mode
// branches. Callers must hold mu.
func (s *Worker) enterAtomicLocked(w *work) {
	s.inAtomic = true
	s.atomicWork = w
	s.active, s.pending = s.pending, s.active
}

// beginBarrier handles a dequeued barrier marker. Work admitted ahead of the
// barrier flag being set (possible when the barrier was submitted inside an
// atomic window) defers now; posts stay runnable, since quiescence depends
// on them. Called with mu held; releases it.
func (s *Worker) beginBarrier(w *work) {
	s.inBarrier = true
	if len(s.active) > 0 {
		var posts, rest []*work
		for _, q := range s.active {
			if q.kind == workPost {
				posts = append(posts, q)
			} else {
				rest = append(rest, q)
			}
		}
		if len(rest) > 0 {
			s.active = posts
			s.deferred = append(rest, s.deferred...)
		}
	}
	if s.runningTasks.Load() > 0 {
		s.waitingBarrier = w
		s.mu.Unlock()
		return
	}
	s.consumeBarrierLocked(w)
}

// consumeBarrierLocked consumes a barrier at quiescence: deferred
// submissions drain back into the active queue, in order, stopping at the
// next barrier marker if one was queued behind this one. Called with mu
// held; releases it.
func (s *Worker) consumeBarrierLocked(w *work) {
	s.inBarrier = false
	s.waitingBarrier = nil
	for len(s.deferred) > 0 {
		n := s.deferred[0]
		s.deferred = s.deferred[1:]
		s.active = append(s.active, n)
		if n.kind == workBarrier {
			s.inBarrier = true
			break
		}
	}
	s.spawnLocked()
	s.mu.Unlock()

	s.log.Debug().Str(`worker`, s.name).Log(`barrier consumed`)

	if w.completion != nil {
		w.completion.resolve(nil, nil)
	}
}

// --- execution ---

// runAction executes a synchronous action payload inline, delivering panics
// to the unhandled fault channel.
func (s *Worker) runAction(w *work) {
	defer func() {
		if r := recover(); r != nil {
			s.fault(&PanicError{Value: r})
		}
	}()
	if w.kind == workActionWithState {
		w.actionState(w.state)
	} else {
		w.action()
	}
}

// startTask spawns the payload goroutine for w, parked awaiting its first
// grant, and installs the work's resume router.
func (s *Worker) startTask(w *work) {
	w.handle = newTask()
	w.gate = newGate()
	w.gate.router.Store(&resumeRouter{worker: s, of: w})
	s.runningTasks.Add(1)

	f := &Flow{worker: s, work: w}
	go func() {
		<-w.gate.grant
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r}
				}
			}()
			err = w.invokeTask(f)
		}()
		w.handle.complete(err)
	}()
}

// runRegion grants w's task one synchronous region, blocking until the
// region parks at a yield point or the task completes. This block is what
// serializes user code: whichever goroutine granted the region (run loop or
// rendezvous wake) does not proceed until the region ends.
func (s *Worker) runRegion(w *work) (completed bool) {
	w.gate.grant <- struct{}{}
	select {
	case <-w.gate.parked:
		return false
	case <-w.handle.Done():
		return true
	}
}

// completeTask propagates an observed task completion: status mapping onto
// the carried completion, atomic-window exit, rendezvous release, and
// barrier quiescence. Runs on whichever goroutine observed the completion,
// without holding mu.
func (s *Worker) completeTask(w *work) {
	s.runningTasks.Add(-1)

	t := w.handle
	var faulted error
	switch t.Status() {
	case TaskCanceled:
		if w.completion != nil {
			w.completion.resolve(nil, context.Canceled)
		}
	case TaskFaulted:
		faulted = t.Err()
		if w.completion != nil {
			w.completion.resolve(t, faulted)
		}
	default:
		if w.completion != nil {
			w.completion.resolve(t, nil)
		}
	}

	if w.options&optAtomic != 0 {
		if w.sync != nil {
			w.sync.release()
		}
		s.mu.Lock()
		s.inAtomic = false
		s.atomicWork = nil
		s.active, s.pending = s.pending, s.active
		s.spawnLocked()
		s.mu.Unlock()
	} else if w.sync != nil {
		w.sync.release()
	}

	s.mu.Lock()
	if s.runningTasks.Load() == 0 && s.waitingBarrier != nil {
		s.consumeBarrierLocked(s.waitingBarrier) // releases mu
	} else {
		s.mu.Unlock()
	}

	if faulted != nil {
		s.fault(faulted)
	}
}

// fault delivers an unhandled fault to the configured observer, or
// propagates it on the current goroutine if none is installed.
func (s *Worker) fault(err error) {
	s.log.Err().Err(err).Str(`worker`, s.name).Log(`unhandled fault`)
	if s.unhandled != nil {
		s.unhandled(s, err)
		return
	}
	panic(err)
}

// --- rendezvous participation ---

// syncReady wakes the owner once every participant has arrived: the
// protected work executes on the calling goroutine (which may be a waiter's
// run loop), then the owner resumes its own queue. Waiter release happens on
// exit from the protected region: the first synchronous region for plain
// work, task completion for atomic work.
func (s *Worker) syncReady(r *rendezvous) {
	s.mu.Lock()
	w := s.waitingOwnedSyncWork
	if w == nil || w.sync != r {
		s.mu.Unlock()
		panic(&InvariantError{Message: `asyncworker: rendezvous ready without a matching parked owner work`})
	}
	if w.options&optAtomic != 0 {
		if s.inAtomic {
			s.mu.Unlock()
			panic(&InvariantError{Message: `asyncworker: atomic sync work ready inside an atomic window`})
		}
		s.enterAtomicLocked(w)
	}
	s.mu.Unlock()

	s.log.Debug().Str(`worker`, s.name).Log(`rendezvous open`)

	if w.isTask() {
		s.startTask(w)
		if s.runRegion(w) {
			s.completeTask(w)
		}
	} else {
		s.runAction(w)
	}

	// the protected synchronous region has ended; release is a no-op here
	// for atomic work (deferred to completion) and for work that already
	// completed above (released by completeTask).
	if w.options&optAtomic == 0 {
		r.release()
	}

	s.mu.Lock()
	s.waitingOwnedSyncWork = nil
	s.spawnLocked()
	s.mu.Unlock()

	s.log.Debug().Str(`worker`, s.name).Log(`rendezvous closed`)
}

// syncEnd releases this worker from its parked-waiter state.
func (s *Worker) syncEnd(r *rendezvous) {
	s.mu.Lock()
	m := s.waitingSync
	if m == nil || m.sync != r {
		disposed := s.disposed
		s.mu.Unlock()
		if disposed || r.cancelled.Load() {
			// the marker was dropped at close, or skipped after the
			// protected work was dropped; nothing is parked
			return
		}
		panic(&InvariantError{Message: `asyncworker: rendezvous release does not match the parked marker`})
	}
	s.waitingSync = nil
	s.spawnLocked()
	s.mu.Unlock()
}

// --- close ---

// Close disposes the worker: the shared cancellation context (if created) is
// cancelled, queued work is dropped with any carried completions resolved as
// cancelled, and new submissions are dropped. Post work items are retained,
// as are pending resumptions of in-flight asynchronous work arriving later,
// so suspended tasks can observe the cancellation and unwind. Idempotent.
func (s *Worker) Close() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	cancel := s.cancel

	var dropped []*work
	s.active, dropped = retainPosts(s.active, dropped)
	s.pending, dropped = retainPosts(s.pending, dropped)
	s.deferred, dropped = retainPosts(s.deferred, dropped)
	if wb := s.waitingBarrier; wb != nil {
		s.waitingBarrier = nil
		s.inBarrier = false
		dropped = append(dropped, wb)
	}
	if len(s.active) > 0 {
		s.spawnLocked()
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, w := range dropped {
		if w.completion != nil {
			w.completion.resolve(nil, context.Canceled)
		}
		switch {
		case w.kind == workSyncMarker:
			w.sync.arrive()
		case w.sync != nil:
			w.sync.cancel()
		}
	}

	s.log.Debug().Str(`worker`, s.name).Log(`worker closed`)
	return nil
}

// retainPosts splits q, keeping post work items (in order) and appending
// everything else to dropped.
func retainPosts(q, dropped []*work) (kept, out []*work) {
	out = dropped
	for _, w := range q {
		if w.kind == workPost {
			kept = append(kept, w)
		} else {
			out = append(out, w)
		}
	}
	return kept, out
}
