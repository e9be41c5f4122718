// Package queue implements the per-session tile queue: an unbounded,
// internally synchronized buffer with a single consumer. Producers may call
// from any goroutine. The queue is deliberately without backpressure; its
// consumer only forwards frames onto a worker stream and is always fast.
package queue

import (
	"sync"

	"github.com/inkwell-hq/inkwell/go/protocol"
)

// TileQueue orders frames for a session's queue consumer.
//
// Enqueueing a frame whose first token is "canceltiles" atomically drops all
// currently queued tile-producing frames before appending the cancel marker,
// so that a cancelled tile never reaches the worker. Enqueueing the "eof"
// sentinel tells the consumer to drain and terminate.
type TileQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items [][]byte
}

func New() *TileQueue {
	var q = new(TileQueue)
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends a frame, applying the canceltiles collapse.
func (q *TileQueue) Put(frame []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if protocol.FirstToken(frame) == protocol.TokenCancelTiles {
		var kept = q.items[:0]
		for _, it := range q.items {
			if !protocol.IsTileCommand(protocol.FirstToken(it)) {
				kept = append(kept, it)
			}
		}
		q.items = kept
	}

	q.items = append(q.items, frame)
	q.cond.Signal()
}

// Get blocks until a frame is available and removes it from the queue.
// The "eof" sentinel is returned like any other frame; interpreting it is
// the consumer's concern.
func (q *TileQueue) Get() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.cond.Wait()
	}
	var frame = q.items[0]
	q.items = q.items[1:]
	return frame
}

// Clear abandons all queued frames.
func (q *TileQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *TileQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued frames, oldest first.
func (q *TileQueue) Snapshot() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out = make([][]byte, len(q.items))
	copy(out, q.items)
	return out
}
