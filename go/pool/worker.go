package pool

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WorkerState tracks where a worker handle is in its life.
type WorkerState int

const (
	// Ready workers sit in the pool awaiting acquisition.
	Ready WorkerState = iota
	// Bound workers are owned by exactly one document broker.
	Bound
	// Dead workers have lost their process or stream.
	Dead
)

// Worker is the parent's handle on one pre-spawned worker process: its pid
// and the control stream it opened against the internal endpoint at
// registration. The handle is owned by the pool while Ready, and is
// transferred to exactly one broker on acquisition.
type Worker struct {
	PID  int
	Conn *websocket.Conn

	mu      sync.Mutex
	state   WorkerState
	writeMu sync.Mutex
}

func NewWorker(pid int, conn *websocket.Conn) *Worker {
	return &Worker{PID: pid, Conn: conn}
}

func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Bind marks the worker as owned by a broker.
func (w *Worker) Bind() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = Bound
}

// Unbind returns a never-used worker to the Ready state. Dead workers
// stay dead.
func (w *Worker) Unbind() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Bound {
		w.state = Ready
	}
}

// WriteFrame sends a text frame on the worker's control stream.
// Safe for concurrent use.
func (w *Worker) WriteFrame(frame []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.Conn == nil {
		return nil // Detached handle (tests).
	}
	return w.Conn.WriteMessage(websocket.TextMessage, frame)
}

// Close marks the worker Dead and closes its control stream, which the
// worker process treats as its signal to exit.
func (w *Worker) Close() {
	w.mu.Lock()
	w.state = Dead
	w.mu.Unlock()

	if w.Conn != nil {
		_ = w.Conn.Close()
	}
}
