package asyncworker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompletion_resolvesAtMostOnce(t *testing.T) {
	c := newCompletion()
	task := newTask()
	c.resolve(task, nil)
	c.resolve(nil, errors.New(`late`))
	c.resolve(nil, context.Canceled)

	got, err := c.Wait(testCtx(t))
	require.NoError(t, err)
	require.Same(t, task, got)
	require.Same(t, task, c.Task())
	require.NoError(t, c.Err())
}

func TestCompletion_accessorsBeforeResolution(t *testing.T) {
	c := newCompletion()
	require.Nil(t, c.Task())
	require.NoError(t, c.Err())
	select {
	case <-c.Done():
		t.Fatal(`unresolved completion reported done`)
	default:
	}
}

func TestCompletion_waitHonoursContext(t *testing.T) {
	c := newCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTask_statusMapping(t *testing.T) {
	for _, tc := range []struct {
		name   string
		err    error
		status TaskStatus
	}{
		{name: `completed`, err: nil, status: TaskCompleted},
		{name: `canceled`, err: context.Canceled, status: TaskCanceled},
		{name: `canceled wrapped`, err: &PanicError{Value: context.Canceled}, status: TaskCanceled},
		{name: `faulted`, err: errors.New(`boom`), status: TaskFaulted},
	} {
		t.Run(tc.name, func(t *testing.T) {
			task := newTask()
			require.Equal(t, TaskPending, task.Status())
			require.NoError(t, task.Err())
			task.complete(tc.err)
			require.Equal(t, tc.status, task.Status())
			require.Equal(t, tc.err, task.Err()) //nolint:testifylint
			require.Equal(t, tc.err, task.Wait(testCtx(t)))
		})
	}
}

func TestTaskStatus_string(t *testing.T) {
	require.Equal(t, `Pending`, TaskPending.String())
	require.Equal(t, `Completed`, TaskCompleted.String())
	require.Equal(t, `Faulted`, TaskFaulted.String())
	require.Equal(t, `Canceled`, TaskCanceled.String())
	require.Equal(t, `Unknown`, TaskStatus(99).String())
}
