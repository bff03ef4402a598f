package asyncworker

import (
	"github.com/joeycumines/logiface"
)

// workerOptions holds configuration for Worker creation.
type workerOptions struct {
	name      string
	logger    *logiface.Logger[logiface.Event]
	unhandled func(w *Worker, err error)
}

// --- Worker Options ---

// WorkerOption configures a Worker instance.
type WorkerOption interface {
	applyWorker(*workerOptions)
}

// workerOptionImpl implements WorkerOption.
type workerOptionImpl struct {
	applyWorkerFunc func(*workerOptions)
}

func (x *workerOptionImpl) applyWorker(opts *workerOptions) {
	x.applyWorkerFunc(opts)
}

// WithName sets a diagnostic name for the worker, surfaced via
// [Worker.Name] and attached to log events.
func WithName(name string) WorkerOption {
	return &workerOptionImpl{func(opts *workerOptions) {
		opts.name = name
	}}
}

// WithLogger sets the structured logger used for lifecycle diagnostics.
// A nil logger (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) WorkerOption {
	return &workerOptionImpl{func(opts *workerOptions) {
		opts.logger = logger
	}}
}

// WithUnhandledHandler sets the observer for faults that have no other
// surface: synchronous panics from action payloads, and asynchronous task
// faults. The handler is NOT serialized with the run loop, and may be called
// on any goroutine; consumers that need serialization must forward to their
// own queue. Without a handler, faults propagate as panics on the executing
// goroutine.
func WithUnhandledHandler(handler func(w *Worker, err error)) WorkerOption {
	return &workerOptionImpl{func(opts *workerOptions) {
		opts.unhandled = handler
	}}
}

// invokeOptions holds per-submission configuration.
type invokeOptions struct {
	atomic bool
	sync   []*Worker
}

// --- Invoke Options ---

// InvokeOption configures a single submission.
type InvokeOption interface {
	applyInvoke(*invokeOptions)
}

// invokeOptionImpl implements InvokeOption.
type invokeOptionImpl struct {
	applyInvokeFunc func(*invokeOptions)
}

func (x *invokeOptionImpl) applyInvoke(opts *invokeOptions) {
	x.applyInvokeFunc(opts)
}

// WithAtomic requests that the submitted asynchronous work runs without
// interleaving: from its first step until its completion, no other work
// item's synchronous region runs on the worker. Only valid for asynchronous
// submissions; synchronous actions fail with [MisuseError].
func WithAtomic() InvokeOption {
	return &invokeOptionImpl{func(opts *invokeOptions) {
		opts.atomic = true
	}}
}

// WithSync requests that the submitted work runs with every listed worker
// held idle for the duration of its protected region: the first synchronous
// region for plain work, the whole task when combined with [WithAtomic].
//
// The peer list must be non-empty, free of duplicates, and must not contain
// the submitting worker; violations fail with [MisuseError].
//
// WARNING: Cyclic sync descriptors (worker A holding B while B holds A) are
// not detected, and will deadlock both workers. Establish a consistent
// ordering between workers that synchronize with each other.
func WithSync(peers ...*Worker) InvokeOption {
	return &invokeOptionImpl{func(opts *invokeOptions) {
		// copy into a non-nil slice, so an empty peer list is still seen as
		// a sync request (and rejected) rather than as no request
		opts.sync = append([]*Worker{}, peers...)
	}}
}
