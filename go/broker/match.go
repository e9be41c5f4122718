package broker

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// WorkerSessions is the matchmaking map between user sessions and the
// worker-side streams attached for them: the internal endpoint publishes a
// ToWorker session under its session id, and the matching user pipeline
// awaits and drains it.
type WorkerSessions struct {
	mu       sync.Mutex
	cond     *sync.Cond
	sessions map[string]*Session
}

func NewWorkerSessions() *WorkerSessions {
	var ws = &WorkerSessions{sessions: make(map[string]*Session)}
	ws.cond = sync.NewCond(&ws.mu)
	return ws
}

// Publish makes a worker-side session available for matching.
func (ws *WorkerSessions) Publish(s *Session) {
	ws.mu.Lock()
	ws.sessions[s.ID] = s
	var n = len(ws.sessions)
	ws.mu.Unlock()

	log.WithFields(log.Fields{"session": s.ID, "available": n}).
		Debug("published worker session")
	ws.cond.Broadcast()
}

// Remove withdraws a session that was never matched, typically because its
// worker stream closed first.
func (ws *WorkerSessions) Remove(id string) {
	ws.mu.Lock()
	delete(ws.sessions, id)
	ws.mu.Unlock()
}

// Await blocks until the worker session for id is published, removes it,
// and returns it. The wait is bounded by the context, which the caller
// ties to the client connection's life.
func (ws *WorkerSessions) Await(ctx context.Context, id string) (*Session, error) {
	var stop = context.AfterFunc(ctx, ws.cond.Broadcast)
	defer stop()

	ws.mu.Lock()
	defer ws.mu.Unlock()

	for {
		if s, ok := ws.sessions[id]; ok {
			delete(ws.sessions, id)
			return s, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ws.cond.Wait()
	}
}

// Len returns the number of unmatched worker sessions.
func (ws *WorkerSessions) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.sessions)
}
