// Package asyncworker provides a per-instance asynchronous work scheduler
// with a serialized-by-default, cooperatively-interleaved execution
// discipline.
//
// # Execution Model
//
// A [Worker] behaves as a logical single-threaded execution domain: no two
// submitted work items ever execute their synchronous code regions
// concurrently on the same worker. An asynchronous work item that suspends
// at a yield point ([Flow.Yield], [Flow.Sleep], [Flow.Await]) releases the
// worker, so subsequent work items may begin their synchronous prefixes
// before the earlier one resumes. Resumptions are routed back through the
// worker, preserving serialization.
//
// Three primitives compose on top of the base discipline:
//
//   - Atomic work ([WithAtomic]): an asynchronous work item that runs as if
//     no other work existed, from its first step until its completion.
//   - Barriers ([Worker.SetBarrier]): queue markers that partition past from
//     future submissions; everything submitted before the barrier (including
//     all pending resumptions) completes before anything submitted after it
//     begins.
//   - Cross-worker synchronization ([WithSync]): a work item on worker A runs
//     with one or more other workers held idle for the duration of its
//     protected region.
//
// # Thread Safety
//
// All submission methods are safe to call from any goroutine, including from
// inside work items running on the same worker. Work payloads must never
// block on another worker's submission surface while holding resources that
// worker needs; see [WithSync] for the cross-worker discipline.
//
// # Cancellation
//
// Cancellation is worker-wide. [Worker.Close] cancels the shared context
// passed to the Context submission variants; suspended work items still run
// their pending resumptions after close, so they can observe the cancelled
// context and unwind.
//
// # Usage
//
//	w := asyncworker.New(asyncworker.WithName(`example`))
//	defer w.Close()
//
//	c, err := w.InvokeTaskAwait(func(f *asyncworker.Flow) error {
//		fmt.Println(`before yield`)
//		f.Yield()
//		fmt.Println(`after yield`)
//		return nil
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if _, err := c.Wait(context.Background()); err != nil {
//		log.Fatal(err)
//	}
package asyncworker
