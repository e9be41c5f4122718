// Package broker maps documents to workers. Each open document has exactly
// one Broker, which owns one worker process and the set of user sessions
// attached to the document. The Registry is the process-wide key-to-broker
// index with create-or-get semantics and reference-counted removal.
package broker

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/inkwell-hq/inkwell/go/pool"
)

// Broker is the per-document hub bridging user sessions to the one worker
// that owns the document.
//
// Lifecycle: Empty → Active (first AddSession) → Draining (last
// RemoveSession while still referenced) → Gone (dropped from the registry
// at refcount zero). A Gone broker is never revived; a later request for
// the same key builds a fresh one.
type Broker struct {
	Key       string
	PublicURI *url.URL

	worker *pool.Worker

	// refCount is guarded by the owning registry's mutex, not b.mu.
	refCount int

	mu       sync.Mutex
	sessions map[string]*Session
	loaded   bool
	jailID   string
}

func newBroker(key string, uri *url.URL, worker *pool.Worker) *Broker {
	return &Broker{
		Key:       key,
		PublicURI: uri,
		worker:    worker,
		sessions:  make(map[string]*Session),
	}
}

// Worker returns the handle of the worker process owning this document.
func (b *Broker) Worker() *pool.Worker {
	return b.worker
}

// AddSession attaches a user session and returns the attached-session count.
// The first session to attach is granted the edit lock.
func (b *Broker) AddSession(s *Session) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sessions[s.ID] = s
	if len(b.sessions) == 1 {
		s.SetEditLock(true)
	}

	var n = len(b.sessions)
	log.WithFields(log.Fields{"docKey": b.Key, "session": s.ID, "wsSessions": n}).
		Info("session attached")
	return n
}

// RemoveSession detaches a session. Worker teardown is governed by the
// registry refcount, never by the session map emptying.
func (b *Broker) RemoveSession(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.sessions, id)
	var n = len(b.sessions)
	log.WithFields(log.Fields{"docKey": b.Key, "session": id, "wsSessions": n}).
		Info("session detached")
	return n
}

// SessionsCount returns the number of attached sessions.
func (b *Broker) SessionsCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// EachSession calls fn for every attached session, under the sessions
// mutex. fn must not perform I/O.
func (b *Broker) EachSession(fn func(*Session)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sessions {
		fn(s)
	}
}

// AnnounceSession tells the broker's worker to open a per-session stream
// for the given session.
func (b *Broker) AnnounceSession(s *Session) error {
	return b.worker.WriteFrame([]byte("session " + s.ID + " " + b.Key))
}

// Validate checks that the document URI is a form the storage backend can
// serve. A failure here is a client error, reported before any worker slot
// is consumed.
func (b *Broker) Validate(uri *url.URL) error {
	if uri == nil || uri.Path == "" {
		return fmt.Errorf("document URI has an empty path")
	}
	switch uri.Scheme {
	case "", "file", "http", "https":
	default:
		return fmt.Errorf("unsupported document scheme %q", uri.Scheme)
	}
	for _, seg := range strings.Split(uri.Path, "/") {
		if seg == ".." {
			return fmt.Errorf("document path %q escapes the storage root", uri.Path)
		}
	}
	return nil
}

// Load records the jail identity the worker declared for this document.
// Idempotent; only the first call transitions the broker to loaded.
func (b *Broker) Load(jailID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loaded {
		return
	}
	b.loaded = true
	b.jailID = jailID
	log.WithFields(log.Fields{"docKey": b.Key, "jailId": jailID}).Info("document loaded")
}

func (b *Broker) Loaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

func (b *Broker) JailID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jailID
}

// destroy closes the worker control stream, which ends the worker process.
func (b *Broker) destroy() {
	log.WithField("docKey", b.Key).Debug("destroying document broker")
	b.worker.Close()
}
