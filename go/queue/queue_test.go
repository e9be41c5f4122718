package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func frames(q *TileQueue) []string {
	var out []string
	for _, f := range q.Snapshot() {
		out = append(out, string(f))
	}
	return out
}

func TestOrderPreserved(t *testing.T) {
	var q = New()
	q.Put([]byte("load url=doc"))
	q.Put([]byte("tile 0 0"))
	q.Put([]byte("key type=input char=97"))

	require.Equal(t, "load url=doc", string(q.Get()))
	require.Equal(t, "tile 0 0", string(q.Get()))
	require.Equal(t, "key type=input char=97", string(q.Get()))
}

func TestCancelTilesCollapse(t *testing.T) {
	var q = New()
	q.Put([]byte("tile A"))
	q.Put([]byte("tile B"))
	q.Put([]byte("tilecombine C"))
	q.Put([]byte("text T"))
	q.Put([]byte("canceltiles"))

	require.Equal(t, []string{"text T", "canceltiles"}, frames(q))
}

func TestCancelTilesLeavesLaterTilesAlone(t *testing.T) {
	var q = New()
	q.Put([]byte("tile A"))
	q.Put([]byte("canceltiles"))
	q.Put([]byte("tile B"))

	require.Equal(t, []string{"canceltiles", "tile B"}, frames(q))
}

func TestClear(t *testing.T) {
	var q = New()
	q.Put([]byte("tile A"))
	q.Put([]byte("text T"))
	q.Clear()
	require.Zero(t, q.Len())
}

func TestGetBlocksUntilPut(t *testing.T) {
	var q = New()
	var got = make(chan []byte, 1)
	go func() { got <- q.Get() }()

	select {
	case <-got:
		t.Fatal("Get returned from an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	q.Put([]byte("eof"))
	select {
	case f := <-got:
		require.Equal(t, "eof", string(f))
	case <-time.After(time.Second):
		t.Fatal("Get did not observe Put")
	}
}

func TestConcurrentProducers(t *testing.T) {
	var q = New()
	for i := 0; i != 4; i++ {
		go func() {
			for j := 0; j != 100; j++ {
				q.Put([]byte("text T"))
			}
		}()
	}
	for i := 0; i != 400; i++ {
		require.Equal(t, "text T", string(q.Get()))
	}
}
