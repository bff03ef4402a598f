package asyncworker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorker_closeCancelsInFlightTask(t *testing.T) {
	w := New()

	var rec recorder
	c, err := w.InvokeTaskContextAwait(func(f *Flow, token context.Context) error {
		rec.record(`1`)
		_ = w.Close() // close from inside the running region
		if err := f.Sleep(token, time.Hour); err != nil {
			return err
		}
		rec.record(`2`)
		return nil
	})
	require.NoError(t, err)

	task, err := c.Wait(testCtx(t))
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, task)
	require.Equal(t, []string{`1`}, rec.snapshot())
}

func TestWorker_closeIsIdempotent(t *testing.T) {
	w := New()
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWorker_closeDropsQueuedWork(t *testing.T) {
	w := New()

	release := holdWorker(t, w)

	ran := make(chan struct{})
	require.NoError(t, w.Invoke(func() { close(ran) }))
	c, err := w.InvokeTaskAwait(func(*Flow) error {
		t.Error(`queued task ran after close`)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, w.Close())
	release()

	task, err := c.Wait(testCtx(t))
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, task)

	select {
	case <-ran:
		t.Fatal(`queued action ran after close`)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWorker_submissionsAfterCloseAreDropped(t *testing.T) {
	w := New()
	require.NoError(t, w.Close())

	require.NoError(t, w.Invoke(func() { t.Error(`action ran on a closed worker`) }))

	c, err := w.InvokeTaskAwait(func(*Flow) error {
		t.Error(`task ran on a closed worker`)
		return nil
	})
	require.NoError(t, err)
	task, err := c.Wait(testCtx(t))
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, task)

	bc, err := w.SetBarrierAwait()
	require.NoError(t, err)
	_, err = bc.Wait(testCtx(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestWorker_closeResolvesWaitingBarrierCancelled(t *testing.T) {
	w := New()

	holdCtx, holdCancel := context.WithCancel(context.Background())
	defer holdCancel()

	c, err := w.InvokeTaskAwait(func(f *Flow) error {
		return f.Sleep(holdCtx, time.Hour)
	})
	require.NoError(t, err)

	bc, err := w.SetBarrierAwait()
	require.NoError(t, err)

	// wait for the barrier to park behind the suspended task
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.waitingBarrier != nil
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, w.Close())

	_, err = bc.Wait(testCtx(t))
	require.ErrorIs(t, err, context.Canceled)

	// the suspended task still unwinds once its resumption arrives
	holdCancel()
	task, err := c.Wait(testCtx(t))
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, task)
}

func TestWorker_closeRetainsPostsDuringAtomic(t *testing.T) {
	w := New()

	holdCtx, holdCancel := context.WithCancel(context.Background())
	defer holdCancel()

	var rec recorder
	release := holdWorker(t, w)

	plain, err := w.InvokeTaskAwait(func(f *Flow) error {
		rec.record(`plain1`)
		return f.Sleep(holdCtx, time.Hour)
	})
	require.NoError(t, err)

	atomicC, err := w.InvokeTaskAwait(func(f *Flow) error {
		rec.record(`atomic1`)
		_ = w.Close() // close from inside the atomic window
		f.Yield()
		rec.record(`atomic2`)
		return nil
	}, WithAtomic())
	require.NoError(t, err)

	release()

	// the atomic exit path still runs: the window closes and the retained
	// resumption of the plain task runs after it
	_, err = atomicC.Wait(testCtx(t))
	require.NoError(t, err)

	holdCancel()
	task, err := plain.Wait(testCtx(t))
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, task)

	require.Equal(t, []string{`plain1`, `atomic1`, `atomic2`}, rec.snapshot())
}

func TestWorker_sharedContextCancelledAtClose(t *testing.T) {
	w := New()
	token := w.sharedContext()
	require.NoError(t, token.Err())
	require.NoError(t, w.Close())
	require.ErrorIs(t, token.Err(), context.Canceled)

	// lazily created after close: already cancelled
	w2 := New()
	require.NoError(t, w2.Close())
	require.ErrorIs(t, w2.sharedContext().Err(), context.Canceled)
}
