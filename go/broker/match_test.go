package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAwaitAfterPublish(t *testing.T) {
	var ws = NewWorkerSessions()
	var s = NewSession("7", ToWorker, nil)
	ws.Publish(s)

	var got, err = ws.Await(context.Background(), "7")
	require.NoError(t, err)
	require.Same(t, s, got)
	require.Zero(t, ws.Len())
}

func TestAwaitBlocksUntilPublish(t *testing.T) {
	var ws = NewWorkerSessions()
	var done = make(chan *Session, 1)

	go func() {
		var s, err = ws.Await(context.Background(), "9")
		require.NoError(t, err)
		done <- s
	}()

	select {
	case <-done:
		t.Fatal("Await returned before Publish")
	case <-time.After(20 * time.Millisecond):
	}

	var s = NewSession("9", ToWorker, nil)
	ws.Publish(s)

	select {
	case got := <-done:
		require.Same(t, s, got)
	case <-time.After(time.Second):
		t.Fatal("Await did not observe Publish")
	}
}

func TestAwaitIgnoresOtherSessions(t *testing.T) {
	var ws = NewWorkerSessions()
	ws.Publish(NewSession("1", ToWorker, nil))

	var ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var _, err = ws.Await(ctx, "2")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, ws.Len())
}

func TestAwaitHonorsCancellation(t *testing.T) {
	var ws = NewWorkerSessions()
	var ctx, cancel = context.WithCancel(context.Background())

	var errCh = make(chan error, 1)
	go func() {
		var _, err = ws.Await(ctx, "1")
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Await did not observe cancellation")
	}
}

func TestRemoveWithdrawsUnmatched(t *testing.T) {
	var ws = NewWorkerSessions()
	ws.Publish(NewSession("3", ToWorker, nil))
	ws.Remove("3")
	require.Zero(t, ws.Len())
}
