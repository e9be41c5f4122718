// Package pool maintains the set of ready worker processes produced by the
// external forking supervisor, and the command link to the supervisor that
// replenishes them.
package pool

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultAcquireTimeout bounds how long Acquire waits for a worker to
// register before failing with ErrNoWorker.
const DefaultAcquireTimeout = 10 * time.Second

// ErrNoWorker is returned when no worker registered within the acquire
// timeout. Callers surface it as HTTP 503; the request may be retried.
var ErrNoWorker = errors.New("no worker process is available")

// Spawner requests that the supervisor fork new workers.
// *Supervisor implements it; tests substitute stubs.
type Spawner interface {
	Spawn(n int) error
}

// Pool holds ready workers. Registration appends; acquisition pops from the
// tail, so the most recently spawned worker is handed out first. A fresh
// worker has the warmest caches and the most likely-healthy descriptors;
// older ones rotate out through supervisor-side process recycling.
type Pool struct {
	spawner  Spawner
	preSpawn int
	timeout  time.Duration

	mu    sync.Mutex
	cond  *sync.Cond
	ready []*Worker
}

func NewPool(spawner Spawner, preSpawn int, timeout time.Duration) *Pool {
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	var p = &Pool{spawner: spawner, preSpawn: preSpawn, timeout: timeout}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// PreSpawn asks the supervisor for the full steady-state complement.
func (p *Pool) PreSpawn() {
	p.spawn(p.preSpawn)
}

func (p *Pool) spawn(n int) {
	log.WithField("count", n).Debug("requesting worker spawn")
	if err := p.spawner.Spawn(n); err != nil {
		// Never fatal to an in-flight request.
		log.WithField("err", err).Error("failed to command worker spawn")
		return
	}
	spawnCommandsTotal.Add(float64(n))
}

// Register adds a freshly-connected worker and wakes one waiter. It also
// accepts a worker that was acquired but never used, returning it to the
// ready list.
func (p *Pool) Register(w *Worker) {
	w.Unbind()

	p.mu.Lock()
	p.ready = append(p.ready, w)
	readyWorkers.Set(float64(len(p.ready)))
	p.mu.Unlock()

	p.cond.Signal()
}

// Remove withdraws a worker whose process or control stream died while it
// sat in the ready list. Reports whether the worker was present.
func (p *Pool) Remove(w *Worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, cand := range p.ready {
		if cand == w {
			p.ready = append(p.ready[:i], p.ready[i+1:]...)
			readyWorkers.Set(float64(len(p.ready)))
			return true
		}
	}
	return false
}

// Ready returns the current ready-worker count.
func (p *Pool) Ready() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ready)
}

// Acquire removes and returns a ready worker, blocking up to the pool
// timeout for one to register. It also tops up the supervisor's spawn
// deficit so the pool trends back to its pre-spawn complement.
func (p *Pool) Acquire() (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var deficit = p.preSpawn - (len(p.ready) - 1)
	if len(p.ready) == 0 {
		log.Error("no ready worker; requesting spawn and waiting")
		deficit = p.preSpawn
	}
	if deficit > 0 {
		p.spawn(deficit)
	}

	var deadline = time.Now().Add(p.timeout)
	for len(p.ready) == 0 {
		if !p.waitUntil(deadline) {
			return nil, ErrNoWorker
		}
	}

	var w = p.ready[len(p.ready)-1]
	p.ready = p.ready[:len(p.ready)-1]
	readyWorkers.Set(float64(len(p.ready)))
	w.Bind()
	return w, nil
}

// waitUntil waits on the pool condition until signaled or the deadline
// passes. Callers re-check their predicate; spurious wakeups are fine.
func (p *Pool) waitUntil(deadline time.Time) bool {
	if !time.Now().Before(deadline) {
		return false
	}
	var timer = time.AfterFunc(time.Until(deadline), p.cond.Broadcast)
	p.cond.Wait()
	timer.Stop()
	return true
}

// CloseAll tears down every still-ready worker. Called during shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	var workers = p.ready
	p.ready = nil
	readyWorkers.Set(0)
	p.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
}
