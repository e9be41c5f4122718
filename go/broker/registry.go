package broker

import (
	"net/url"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/inkwell-hq/inkwell/go/pool"
)

// Registry is the process-wide map of document key to broker. Insertion is
// conditional on absence; removal is conditional on the refcount reaching
// zero, observed under the same mutex.
type Registry struct {
	pool *pool.Pool

	mu      sync.Mutex
	brokers map[string]*Broker
}

func NewRegistry(p *pool.Pool) *Registry {
	return &Registry{pool: p, brokers: make(map[string]*Broker)}
}

// GetOrCreate returns the broker for a key, retaining a reference. A
// missing broker acquires a worker from the pool first; the registry mutex
// is released for the duration of the wait so one slow acquisition cannot
// block requests for other documents. Worker-acquisition failure propagates
// without inserting anything.
func (r *Registry) GetOrCreate(key string, uri *url.URL) (*Broker, bool, error) {
	r.mu.Lock()
	if b, ok := r.brokers[key]; ok {
		b.refCount++
		r.mu.Unlock()
		log.WithField("docKey", key).Debug("found existing document broker")
		return b, false, nil
	}
	r.mu.Unlock()

	var w, err = r.pool.Acquire()
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	if b, ok := r.brokers[key]; ok {
		// Raced with another request for the same key. Keep theirs and
		// return our worker to the ready list.
		b.refCount++
		r.mu.Unlock()
		r.pool.Register(w)
		return b, false, nil
	}

	var b = newBroker(key, uri, w)
	b.refCount = 1
	r.brokers[key] = b
	brokersGauge.Set(float64(len(r.brokers)))
	r.mu.Unlock()

	log.WithFields(log.Fields{"docKey": key, "workerPid": w.PID}).
		Info("new document broker")
	return b, true, nil
}

// Lookup returns the broker for a key without retaining a reference. Used
// by the internal endpoint, whose broker must already exist.
func (r *Registry) Lookup(key string) (*Broker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b, ok = r.brokers[key]
	return b, ok
}

// RefCount reports a broker's current reference count.
func (r *Registry) RefCount(b *Broker) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return b.refCount
}

// Release drops one reference. At zero the broker leaves the registry and
// its worker stream is torn down (outside the registry mutex).
func (r *Registry) Release(b *Broker) int {
	r.mu.Lock()
	b.refCount--
	var n = b.refCount
	if n == 0 {
		delete(r.brokers, b.Key)
		brokersGauge.Set(float64(len(r.brokers)))
	}
	r.mu.Unlock()

	if n == 0 {
		log.WithField("docKey", b.Key).Info("removing document broker")
		b.destroy()
	}
	return n
}

// Len returns the number of live brokers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.brokers)
}

// Each calls fn for every broker, under the registry mutex. fn must not
// perform I/O or take the registry mutex.
func (r *Registry) Each(fn func(*Broker)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.brokers {
		fn(b)
	}
}
