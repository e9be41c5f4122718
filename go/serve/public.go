package serve

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/inkwell-hq/inkwell/go/broker"
	"github.com/inkwell-hq/inkwell/go/pool"
)

// publicRouter routes the public endpoint by first path segment and method.
func (s *Server) publicRouter() *mux.Router {
	var r = mux.NewRouter()

	r.Path("/hosting/discovery").
		Methods("GET").
		HandlerFunc(s.handleDiscovery)
	r.PathPrefix("/loleaflet/").
		Handler(s.cfg.FileServer)
	r.PathPrefix("/adminws/").
		Handler(s.cfg.Admin)
	r.Path("/convert-to").
		Methods("POST").
		HandlerFunc(s.handleConvertTo)
	r.Path("/insertfile").
		Methods("POST").
		HandlerFunc(s.handleInsertFile)
	r.PathPrefix("/").
		Methods("POST").
		HandlerFunc(s.handleDownload)
	r.PathPrefix("/").
		Methods("GET").
		HandlerFunc(s.handleClientSocket)

	return r
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
}

// handleClientSocket upgrades a document GET into a long-lived user session
// bridged to the document's worker.
func (s *Server) handleClientSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	var id = s.ids.Next()
	var key, uri, err = s.keys.Resolve(r.URL.String())
	if err != nil {
		upgradesTotal.WithLabelValues("bad_uri").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, created, err := s.registry.GetOrCreate(key, uri)
	if errors.Is(err, pool.ErrNoWorker) {
		upgradesTotal.WithLabelValues("no_worker").Inc()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	} else if err != nil {
		upgradesTotal.WithLabelValues("error").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err = b.Validate(uri); err != nil {
		s.registry.Release(b)
		upgradesTotal.WithLabelValues("invalid_doc").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already responded.
		s.registry.Release(b)
		upgradesTotal.WithLabelValues("upgrade_failed").Inc()
		log.WithFields(log.Fields{"err": err, "url": r.URL.String(), "client": r.RemoteAddr}).
			Warn("failed to upgrade client request")
		return
	}
	upgradesTotal.WithLabelValues("ok").Inc()

	log.WithFields(log.Fields{"session": id, "docKey": key, "created": created, "client": r.RemoteAddr}).
		Info("client session starting")

	s.runClientSession(conn, id, b)
	s.registry.Release(b)
	_ = conn.Close()
}

const multipartMemoryLimit = 64 << 20

// handleConvertTo converts an uploaded document to a requested format using
// a worker of its own, then streams the result back.
//
// The synthetic broker is registered under the document key extended with
// the upload's temp directory. A plain key would collide with a live
// editing session of a same-named document.
func (s *Server) handleConvertTo(w http.ResponseWriter, r *http.Request) {
	setCORS(w)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var format = r.FormValue("format")
	file, header, err := r.FormFile("file")
	if err != nil || format == "" || header.Filename == "" {
		conversionsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "format and file fields are required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	tmpDir, err := os.MkdirTemp("", "inkwell-convert")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(tmpDir)

	var fromPath = filepath.Join(tmpDir, filepath.Base(header.Filename))
	if err = copyToFile(fromPath, file); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	uri, err := broker.SanitizeURI(fromPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var key = broker.DocKey(uri) + tmpDir

	b, _, err := s.registry.GetOrCreate(key, uri)
	if errors.Is(err, pool.ErrNoWorker) {
		conversionsTotal.WithLabelValues("no_worker").Inc()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resultPath, convErr = s.runConversion(r, b, uri, format)
	s.registry.Release(b)

	if convErr != nil {
		conversionsTotal.WithLabelValues("failed").Inc()
		log.WithFields(log.Fields{"err": convErr, "docKey": key}).Warn("conversion failed")
		http.Error(w, convErr.Error(), http.StatusBadRequest)
		return
	}

	f, err := os.Open(resultPath)
	if err != nil {
		conversionsTotal.WithLabelValues("missing_result").Inc()
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer f.Close()

	conversionsTotal.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, f)
}

// handleInsertFile accepts a file to be placed into a worker's jail for a
// later insert operation.
func (s *Server) handleInsertFile(w http.ResponseWriter, r *http.Request) {
	setCORS(w)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var childID = r.FormValue("childid")
	var name = r.FormValue("name")
	file, _, err := r.FormFile("file")
	if err != nil || childID == "" || name == "" {
		http.Error(w, "childid, name, and file fields are required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	// Reject attempts to inject a path here.
	if !safePathSegment(childID) || !safePathSegment(name) {
		log.WithFields(log.Fields{"childid": childID, "name": name, "client": r.RemoteAddr}).
			Warn("rejecting insertfile with tainted path component")
		http.Error(w, "invalid childid or name", http.StatusBadRequest)
		return
	}

	var dir = filepath.Join(s.cfg.ChildRoot, childID, JailedDocRoot, "insertfile")
	if err = os.MkdirAll(dir, 0755); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = copyToFile(filepath.Join(dir, name), file); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.WithFields(log.Fields{"childid": childID, "name": name}).Info("insertfile stored")
	w.WriteHeader(http.StatusOK)
}

// handleDownload serves a file a worker produced inside its jail, then
// removes the containing directory.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var segs = strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segs) < 3 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var jailID, sub = segs[0], segs[1]
	fileName, err := url.PathUnescape(segs[2])
	if err != nil || !safePathSegment(jailID) || !safePathSegment(sub) || !safePathSegment(fileName) {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var dir = filepath.Join(s.cfg.ChildRoot, jailID, JailedDocRoot, sub)
	var filePath = filepath.Join(dir, fileName)
	log.WithField("path", filePath).Info("file download request")

	f, err := os.Open(filePath)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Access-Control-Allow-Origin", "*")
	var mimeType = r.FormValue("mime_type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	_, _ = io.Copy(w, f)

	// The jail directory held only this download; reclaim it.
	if err = os.RemoveAll(dir); err != nil {
		log.WithFields(log.Fields{"dir": dir, "err": err}).Warn("failed to remove download directory")
	}
}

// safePathSegment reports whether a client-supplied name is usable as a
// single path component.
func safePathSegment(seg string) bool {
	return seg != "" && seg != "." && seg != ".." &&
		!strings.ContainsAny(seg, "/\\")
}

func copyToFile(path string, r io.Reader) error {
	var f, err = os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
