package asyncworker

import (
	"context"
)

// workKind discriminates the payload carried by a work record.
type workKind uint8

const (
	workActionNoState workKind = iota
	workActionWithState
	workTaskNoState
	workTaskWithState
	workTaskWithToken
	workTaskWithStateAndToken
	workPost
	workBarrier
	workSyncMarker
)

// workOptions is a bitset of submission and engine options. The high bits
// are internal and never exposed on the public surface.
type workOptions uint16

const (
	optAtomic  workOptions = 1 << 0
	optPost    workOptions = 1 << 8
	optBarrier workOptions = 1 << 9
	optSync    workOptions = 1 << 10
)

// work is one queued unit: a synchronous action, an asynchronous task
// producer, a barrier marker, a sync-rendezvous marker, or a continuation
// post. Ownership passes from the queue holding it to the run loop executing
// it; it is released after completion propagation.
type work struct {
	kind    workKind
	options workOptions

	// payload, by kind
	action         func()
	actionState    func(state any)
	task           func(f *Flow) error
	taskState      func(f *Flow, state any) error
	taskToken      func(f *Flow, token context.Context) error
	taskStateToken func(f *Flow, state any, token context.Context) error
	state          any
	token          context.Context

	completion *Completion
	sync       *rendezvous

	// runtime state, set by the engine
	of     *work // post: the suspended work being resumed
	gate   *gate // task: region handshake, set on start
	handle *Task // task: handle, set on start
}

// isTask reports whether the work carries an asynchronous task payload.
func (x *work) isTask() bool {
	switch x.kind {
	case workTaskNoState, workTaskWithState, workTaskWithToken, workTaskWithStateAndToken:
		return true
	}
	return false
}

// execute runs the work's payload on s. Barrier and sync-marker kinds are
// state transitions handled by the run loop and never reach this point.
func (x *work) execute(s *Worker) {
	switch x.kind {
	case workActionNoState, workActionWithState:
		s.runAction(x)
	case workPost:
		if s.runRegion(x.of) {
			s.completeTask(x.of)
		}
	default:
		s.startTask(x)
		if s.runRegion(x) {
			s.completeTask(x)
		}
	}
}

// invokeTask dispatches the asynchronous payload.
func (x *work) invokeTask(f *Flow) error {
	switch x.kind {
	case workTaskNoState:
		return x.task(f)
	case workTaskWithState:
		return x.taskState(f, x.state)
	case workTaskWithToken:
		return x.taskToken(f, x.token)
	case workTaskWithStateAndToken:
		return x.taskStateToken(f, x.state, x.token)
	}
	panic(&InvariantError{Message: `asyncworker: work kind carries no asynchronous payload`})
}
