package serve

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/inkwell-hq/inkwell/go/broker"
	"github.com/inkwell-hq/inkwell/go/pool"
)

// internalRouter routes the loopback endpoint: worker registration,
// per-session worker streams, and process metrics.
func (s *Server) internalRouter() *mux.Router {
	var r = mux.NewRouter()

	r.PathPrefix("/new-child-uri").HandlerFunc(s.handleNewChild)
	r.PathPrefix("/child-uri").HandlerFunc(s.handleChildSession)
	r.Path("/metrics").Handler(promhttp.Handler())

	return r
}

// handleNewChild registers a freshly-forked worker's control stream into
// the ready pool.
func (s *Server) handleNewChild(w http.ResponseWriter, r *http.Request) {
	var pid, err = strconv.Atoi(r.URL.Query().Get("pid"))
	if err != nil || pid <= 0 {
		workerAttachTotal.WithLabelValues("control", "bad_pid").Inc()
		log.WithFields(log.Fields{"pid": r.URL.Query().Get("pid"), "client": r.RemoteAddr}).
			Error("worker registration without a usable pid")
		http.Error(w, "bad or missing pid", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		workerAttachTotal.WithLabelValues("control", "upgrade_failed").Inc()
		log.WithFields(log.Fields{"pid": pid, "err": err}).Warn("failed to upgrade worker registration")
		return
	}

	var worker = pool.NewWorker(pid, conn)
	s.pool.Register(worker)
	workerAttachTotal.WithLabelValues("control", "ok").Inc()
	log.WithField("pid", pid).Info("worker registered")

	// The worker writes nothing on its control stream; a read returning
	// is how we learn the process died or hung up.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		worker.Close()
		if s.pool.Remove(worker) {
			log.WithField("pid", pid).Warn("ready worker lost its control stream")
		} else {
			log.WithField("pid", pid).Info("worker control stream closed")
		}
	}()
}

// handleChildSession attaches a worker's per-session stream to its waiting
// client pipeline and pumps worker output until either side ends.
func (s *Server) handleChildSession(w http.ResponseWriter, r *http.Request) {
	var q = r.URL.Query()
	var sessionID, jailID, docKey = q.Get("sessionId"), q.Get("jailId"), q.Get("docKey")
	if sessionID == "" || jailID == "" || docKey == "" {
		workerAttachTotal.WithLabelValues("session", "bad_request").Inc()
		http.Error(w, "sessionId, jailId, and docKey are required", http.StatusBadRequest)
		return
	}

	var b, ok = s.registry.Lookup(docKey)
	if !ok {
		workerAttachTotal.WithLabelValues("session", "unknown_doc").Inc()
		log.WithFields(log.Fields{"sessionId": sessionID, "docKey": docKey}).
			Error("worker session for an unknown document")
		http.Error(w, "unknown document", http.StatusNotFound)
		return
	}
	b.Load(jailID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		workerAttachTotal.WithLabelValues("session", "upgrade_failed").Inc()
		log.WithFields(log.Fields{"sessionId": sessionID, "err": err}).
			Warn("failed to upgrade worker session")
		return
	}
	workerAttachTotal.WithLabelValues("session", "ok").Inc()

	var sess = broker.NewSession(sessionID, broker.ToWorker, conn)
	s.workerSessions.Publish(sess)
	log.WithFields(log.Fields{"sessionId": sessionID, "jailId": jailID, "docKey": docKey}).
		Info("worker session attached")

	ProcessSocket(conn, "worker_ws_"+sessionID, sess.HandleWorkerFrame, s.shouldStop)

	s.workerSessions.Remove(sessionID)
	_ = conn.Close()
}
