package serve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-hq/inkwell/go/broker"
	"github.com/inkwell-hq/inkwell/go/pool"
)

func newScanFixture(t *testing.T) (*broker.Registry, *broker.Session) {
	var p = pool.NewPool(nopSpawner{}, 0, 50*time.Millisecond)
	p.Register(pool.NewWorker(1, nil))

	var reg = broker.NewRegistry(p)
	var uri, err = broker.SanitizeURI("/doc/Maint.odt")
	require.NoError(t, err)
	b, _, err := reg.GetOrCreate("doc/Maint.odt", uri)
	require.NoError(t, err)

	var sess = broker.NewSession("1", broker.ToClient, nil)
	b.AddSession(sess)
	return reg, sess
}

func TestIdleScanSavesQuietSession(t *testing.T) {
	var reg, sess = newScanFixture(t)
	var m = &Maintenance{Registry: reg, IdleSaveAfter: 30 * time.Second}

	var now = time.Now()
	sess.SetLastMessageTime(now.Add(-60 * time.Second).Unix())

	m.scanIdle(now)
	require.Equal(t, 1, sess.Queue.Len())
	require.Equal(t, []byte("uno .uno:Save"), sess.Queue.Snapshot()[0])
	require.Equal(t, now.Unix(), sess.IdleSaveTime())

	// A second scan with no new activity does not save again.
	m.scanIdle(now.Add(time.Second))
	require.Equal(t, 1, sess.Queue.Len())
}

func TestIdleScanSkipsActiveSession(t *testing.T) {
	var reg, sess = newScanFixture(t)
	var m = &Maintenance{Registry: reg, IdleSaveAfter: 30 * time.Second}

	var now = time.Now()
	sess.SetLastMessageTime(now.Add(-5 * time.Second).Unix())

	m.scanIdle(now)
	require.Equal(t, 0, sess.Queue.Len())
}

func TestAutoScanSavesActiveSession(t *testing.T) {
	var reg, sess = newScanFixture(t)
	var m = &Maintenance{Registry: reg, AutoSaveEvery: 300 * time.Second}

	var now = time.Now()
	sess.SetLastMessageTime(now.Add(-5 * time.Second).Unix())

	m.scanAuto(now)
	require.Equal(t, 1, sess.Queue.Len())
	require.Equal(t, now.Unix(), sess.AutoSaveTime())

	// No further activity, no further auto save.
	m.scanAuto(now.Add(time.Second))
	require.Equal(t, 1, sess.Queue.Len())
}

func TestAutoScanSkipsSessionIdleSavedSince(t *testing.T) {
	var reg, sess = newScanFixture(t)
	var m = &Maintenance{Registry: reg, AutoSaveEvery: 300 * time.Second}

	var now = time.Now()
	sess.SetLastMessageTime(now.Add(-60 * time.Second).Unix())
	sess.SetIdleSaveTime(now.Add(-10 * time.Second).Unix())

	m.scanAuto(now)
	require.Equal(t, 0, sess.Queue.Len())
}

func TestRunStopsOnSupervisorExit(t *testing.T) {
	var reg, _ = newScanFixture(t)
	var exited bool
	var m = &Maintenance{
		Registry:         reg,
		Interval:         5 * time.Millisecond,
		PollSupervisor:   func() (bool, error) { return true, errors.New("exit status 70") },
		OnSupervisorExit: func() { exited = true },
	}

	var done = make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("maintenance loop did not observe supervisor exit")
	}
	require.True(t, exited)
}

func TestRunReturnsOnCancel(t *testing.T) {
	var reg, _ = newScanFixture(t)
	var m = &Maintenance{Registry: reg, Interval: 5 * time.Millisecond}

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("maintenance loop did not observe cancellation")
	}
}
