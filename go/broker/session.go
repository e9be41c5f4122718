package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/inkwell-hq/inkwell/go/protocol"
	"github.com/inkwell-hq/inkwell/go/queue"
)

// Kind distinguishes the two halves of a bridged session pair.
type Kind int

const (
	// ToClient faces the end user's websocket.
	ToClient Kind = iota
	// ToWorker faces the per-session stream a worker opened against the
	// internal endpoint.
	ToWorker
)

// Session is one side of a user-to-worker bridge. ToClient sessions own the
// tile queue; ToWorker sessions carry the peer pointer back to the user
// side once matchmaking binds the two halves.
//
// Conn may be nil for synthetic sessions (format conversion has no user
// socket); writes to a nil Conn are dropped.
type Session struct {
	ID    string
	Kind  Kind
	Conn  *websocket.Conn
	Queue *queue.TileQueue

	// Unix seconds, read by the maintenance scans.
	lastMessage atomic.Int64
	idleSave    atomic.Int64
	autoSave    atomic.Int64
	loadError   atomic.Bool

	mu       sync.Mutex
	editLock bool
	peer     *Session

	writeMu  sync.Mutex
	saveAsCh chan string
}

func NewSession(id string, kind Kind, conn *websocket.Conn) *Session {
	var s = &Session{
		ID:       id,
		Kind:     kind,
		Conn:     conn,
		saveAsCh: make(chan string, 1),
	}
	if kind == ToClient {
		s.Queue = queue.New()
	}
	return s
}

// Touch records message activity now. Monotone from the session's view.
func (s *Session) Touch() {
	s.lastMessage.Store(time.Now().Unix())
}

func (s *Session) LastMessageTime() int64 { return s.lastMessage.Load() }
func (s *Session) IdleSaveTime() int64    { return s.idleSave.Load() }
func (s *Session) AutoSaveTime() int64    { return s.autoSave.Load() }

func (s *Session) SetLastMessageTime(t int64) { s.lastMessage.Store(t) }
func (s *Session) SetIdleSaveTime(t int64)    { s.idleSave.Store(t) }
func (s *Session) SetAutoSaveTime(t int64)    { s.autoSave.Store(t) }

func (s *Session) SetLoadError()   { s.loadError.Store(true) }
func (s *Session) LoadError() bool { return s.loadError.Load() }

func (s *Session) SetEditLock(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editLock = v
}

func (s *Session) EditLock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editLock
}

// BindPeer points a ToWorker session back at its matched user session.
func (s *Session) BindPeer(p *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = p
}

func (s *Session) Peer() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// WriteFrame sends a text frame on the session socket. Safe for concurrent
// use; a nil socket swallows the frame.
func (s *Session) WriteFrame(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.Conn == nil {
		return nil
	}
	return s.Conn.WriteMessage(websocket.TextMessage, frame)
}

// SetSaveAs records the result URL of a completed saveas. Only the first
// result is retained.
func (s *Session) SetSaveAs(url string) {
	select {
	case s.saveAsCh <- url:
	default:
	}
}

// AwaitSaveAs blocks until a saveas result arrives or the context expires.
func (s *Session) AwaitSaveAs(ctx context.Context) (string, error) {
	select {
	case url := <-s.saveAsCh:
		return url, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// HandleWorkerFrame processes one frame read from the worker side of the
// bridge: saveas results and load errors are recorded against the user
// session, and every frame is forwarded to the user socket.
// It reports whether the read loop should continue.
func (s *Session) HandleWorkerFrame(frame []byte) bool {
	var peer = s.Peer()

	if url, ok := protocol.ParseSaveAs(frame); ok && peer != nil {
		peer.SetSaveAs(url)
	}
	if protocol.IsLoadError(frame) && peer != nil {
		peer.SetLoadError()
	}

	if peer == nil {
		log.WithFields(log.Fields{"session": s.ID, "frame": protocol.Abbreviate(frame)}).
			Debug("dropping worker frame without a bound peer")
		return true
	}

	if err := peer.WriteFrame(frame); err != nil {
		log.WithFields(log.Fields{"session": s.ID, "err": err}).
			Warn("failed to forward worker frame to client")
		return false
	}
	return true
}
