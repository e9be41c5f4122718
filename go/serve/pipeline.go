package serve

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/inkwell-hq/inkwell/go/broker"
	"github.com/inkwell-hq/inkwell/go/protocol"
)

// runClientSession drives one user-facing session to completion: the
// inbound read loop runs here, the queue consumer in a goroutine of its
// own, and the worker-facing half (attached by the internal endpoint)
// forwards worker output back to this session's socket.
func (s *Server) runClientSession(conn *websocket.Conn, id string, b *broker.Broker) {
	var sess = broker.NewSession(id, broker.ToClient, conn)
	b.AddSession(sess)
	if err := b.AnnounceSession(sess); err != nil {
		log.WithFields(log.Fields{"session": id, "err": err}).
			Warn("failed to announce session to worker")
	}

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var consumerDone = make(chan struct{})
	go func() {
		defer close(consumerDone)
		s.runQueueConsumer(ctx, sess)
	}()

	var normalShutdown bool
	ProcessSocket(conn, "client_ws_"+id, func(frame []byte) bool {
		sess.Touch()
		if protocol.FirstToken(frame) == protocol.TokenDisconnect {
			normalShutdown = true
			return false
		}
		sess.Queue.Put(append([]byte(nil), frame...))
		return true
	}, s.shouldStop)

	// The last view leaving without a deliberate disconnect must not lose
	// unsaved edits. A failed load suppresses this; there is nothing worth
	// persisting.
	if s.registry.RefCount(b) == 1 && !normalShutdown && !sess.LoadError() {
		log.WithFields(log.Fields{"session": id, "docKey": b.Key}).
			Info("non-deliberate shutdown of the last session; saving before teardown")
		sess.Queue.Put([]byte(protocol.CommandSave))
		savesTotal.WithLabelValues("final").Inc()
	} else {
		sess.Queue.Clear()
	}

	b.RemoveSession(id)

	sess.Queue.Put([]byte(protocol.TokenEOF))
	cancel()
	<-consumerDone

	log.WithFields(log.Fields{"session": id, "docKey": b.Key, "normal": normalShutdown}).
		Info("client session finished")
}

// runQueueConsumer drains a session's tile queue, forwarding each frame to
// the session's worker stream. The worker stream is awaited lazily on the
// first frame; a consumer whose worker never arrives drops frames until the
// eof sentinel.
func (s *Server) runQueueConsumer(ctx context.Context, sess *broker.Session) {
	var worker *broker.Session

	for {
		var frame = sess.Queue.Get()
		if protocol.FirstToken(frame) == protocol.TokenEOF {
			return
		}

		if worker == nil {
			var w, err = s.workerSessions.Await(ctx, sess.ID)
			if err != nil {
				log.WithFields(log.Fields{"session": sess.ID, "frame": protocol.Abbreviate(frame)}).
					Debug("dropping frame; no worker session")
				continue
			}
			worker = w
			worker.BindPeer(sess)
		}

		if err := worker.WriteFrame(frame); err != nil {
			log.WithFields(log.Fields{"session": sess.ID, "err": err}).
				Warn("failed to forward frame to worker")
		}
	}
}

const conversionTimeout = time.Minute

// runConversion drives a synthetic single-session pipeline: load the
// uploaded document, save it as the requested format, and resolve the
// worker's result URL to a parent-visible path.
func (s *Server) runConversion(r *http.Request, b *broker.Broker, uri *url.URL, format string) (string, error) {
	var id = s.ids.Next()
	var sess = broker.NewSession(id, broker.ToClient, nil)
	b.AddSession(sess)
	if err := b.AnnounceSession(sess); err != nil {
		log.WithFields(log.Fields{"session": id, "err": err}).
			Warn("failed to announce session to worker")
	}

	var ctx, cancel = context.WithTimeout(r.Context(), conversionTimeout)
	defer cancel()

	var consumerDone = make(chan struct{})
	go func() {
		defer close(consumerDone)
		s.runQueueConsumer(ctx, sess)
	}()

	var toName = strings.TrimSuffix(filepath.Base(uri.Path), filepath.Ext(uri.Path)) + "." + format
	sess.Queue.Put([]byte("load url=" + url.PathEscape(uri.Path)))
	sess.Queue.Put([]byte("saveas url=" + url.PathEscape("file://"+JailedDocRoot+toName) +
		" format=" + format + " options="))

	var result, err = sess.AwaitSaveAs(ctx)

	b.RemoveSession(id)
	sess.Queue.Put([]byte(protocol.TokenEOF))
	cancel()
	<-consumerDone

	if err != nil {
		return "", fmt.Errorf("waiting for conversion result: %w", err)
	}
	return s.jailedPath(b, result)
}

// jailedPath resolves a worker-reported file URL to a path the parent can
// open. URLs under the jailed document root map into the worker's jail;
// anything else is taken as already parent-visible.
func (s *Server) jailedPath(b *broker.Broker, raw string) (string, error) {
	var u, err = url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing worker result URL %q: %w", raw, err)
	}
	if u.Path == "" {
		return "", fmt.Errorf("worker result URL %q has no path", raw)
	}
	if strings.HasPrefix(u.Path, JailedDocRoot) {
		return filepath.Join(s.cfg.ChildRoot, b.JailID(), u.Path), nil
	}
	return u.Path, nil
}
