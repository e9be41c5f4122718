// Package serve implements the two HTTP endpoints of the WSD parent: the
// public endpoint terminating user connections, and the loopback internal
// endpoint accepting worker registrations and per-session worker streams.
// It also hosts the per-session pipelines bridging the two, and the
// periodic maintenance scans.
package serve

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"

	"github.com/inkwell-hq/inkwell/go/broker"
	"github.com/inkwell-hq/inkwell/go/pool"
)

// JailedDocRoot is where documents live inside a worker's jail.
const JailedDocRoot = "/user/docs/"

// DefaultInternalPort is the fixed loopback port workers connect back on.
// The public port must differ.
const DefaultInternalPort = 9981

// Config carries the endpoint wiring of a Server.
type Config struct {
	// PublicAddr and InternalAddr are listen addresses, e.g. ":9980" and
	// "127.0.0.1:9981". Tests use ":0".
	PublicAddr   string
	InternalAddr string

	// AdvertisedPort is the public port written into discovery responses.
	AdvertisedPort int

	// ChildRoot is the directory under which worker jails are created,
	// with a trailing separator.
	ChildRoot string

	// DiscoveryPath locates the disk-resident discovery document.
	DiscoveryPath string

	// CertFile and KeyFile enable TLS on the public endpoint when both
	// are set. Context assembly beyond a cert pair is the deployment's
	// concern.
	CertFile string
	KeyFile  string

	// FileServer and Admin handle the delegated /loleaflet/ and /adminws/
	// path spaces. Nil falls back to a 404 handler.
	FileServer http.Handler
	Admin      http.Handler
}

// Server owns both endpoints and the process-wide session state.
type Server struct {
	cfg            Config
	registry       *broker.Registry
	pool           *pool.Pool
	workerSessions *broker.WorkerSessions
	ids            *broker.IDGenerator
	keys           *broker.KeyCache
	terminating    *atomic.Bool
	upgrader       websocket.Upgrader

	public     *http.Server
	internal   *http.Server
	publicLn   net.Listener
	internalLn net.Listener
}

func NewServer(cfg Config, registry *broker.Registry, p *pool.Pool, terminating *atomic.Bool) *Server {
	if cfg.FileServer == nil {
		cfg.FileServer = http.NotFoundHandler()
	}
	if cfg.Admin == nil {
		cfg.Admin = http.NotFoundHandler()
	}
	return &Server{
		cfg:            cfg,
		registry:       registry,
		pool:           p,
		workerSessions: broker.NewWorkerSessions(),
		ids:            new(broker.IDGenerator),
		keys:           broker.NewKeyCache(),
		terminating:    terminating,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Authentication and origin policy are a wrapping proxy's
			// concern; see the deployment notes.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// WorkerSessions exposes the matchmaking map (tests).
func (s *Server) WorkerSessions() *broker.WorkerSessions { return s.workerSessions }

func (s *Server) shouldStop() bool { return s.terminating.Load() }

// Bind opens both listeners. Serving starts with QueueTasks.
func (s *Server) Bind() error {
	var err error
	if s.publicLn, err = net.Listen("tcp", s.cfg.PublicAddr); err != nil {
		return err
	}
	if s.internalLn, err = net.Listen("tcp", s.cfg.InternalAddr); err != nil {
		_ = s.publicLn.Close()
		return err
	}

	s.public = &http.Server{Handler: s.publicRouter()}
	s.internal = &http.Server{Handler: s.internalRouter()}

	log.WithFields(log.Fields{
		"public":   s.publicLn.Addr().String(),
		"internal": s.internalLn.Addr().String(),
	}).Info("endpoints bound")
	return nil
}

// PublicAddr returns the bound public address.
func (s *Server) PublicAddr() string { return s.publicLn.Addr().String() }

// InternalAddr returns the bound internal address.
func (s *Server) InternalAddr() string { return s.internalLn.Addr().String() }

// QueueTasks starts both accept loops on the task group, plus a watcher
// that stops them when the group is cancelled.
func (s *Server) QueueTasks(tasks *task.Group) {
	tasks.Queue("public.Serve", func() error {
		var err error
		if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
			err = s.public.ServeTLS(s.publicLn, s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = s.public.Serve(s.publicLn)
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	tasks.Queue("internal.Serve", func() error {
		if err := s.internal.Serve(s.internalLn); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	tasks.Queue("server.watchCancel", func() error {
		<-tasks.Context().Done()
		s.Stop()
		return nil
	})
}

// Stop sets the termination flag, stops accepting, and closes every live
// session socket so blocked readers observe the flag.
func (s *Server) Stop() {
	s.terminating.Store(true)

	var ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.public.Shutdown(ctx)
	_ = s.internal.Shutdown(ctx)

	// Shutdown does not reach hijacked websockets; close them directly.
	s.registry.Each(func(b *broker.Broker) {
		b.EachSession(func(sess *broker.Session) {
			if sess.Conn != nil {
				_ = sess.Conn.Close()
			}
		})
	})
	s.pool.CloseAll()
}
