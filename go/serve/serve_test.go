package serve

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-hq/inkwell/go/broker"
	"github.com/inkwell-hq/inkwell/go/pool"
)

type nopSpawner struct{}

func (nopSpawner) Spawn(int) error { return nil }

type testServer struct {
	*Server
	registry *broker.Registry
	pool     *pool.Pool
}

func newTestServer(t *testing.T, cfg Config, acquireTimeout time.Duration) *testServer {
	if cfg.PublicAddr == "" {
		cfg.PublicAddr = "127.0.0.1:0"
	}
	if cfg.InternalAddr == "" {
		cfg.InternalAddr = "127.0.0.1:0"
	}
	if cfg.AdvertisedPort == 0 {
		cfg.AdvertisedPort = 9980
	}
	if cfg.ChildRoot == "" {
		cfg.ChildRoot = t.TempDir()
	}

	var p = pool.NewPool(nopSpawner{}, 0, acquireTimeout)
	var reg = broker.NewRegistry(p)
	var terminating atomic.Bool
	var s = NewServer(cfg, reg, p, &terminating)
	require.NoError(t, s.Bind())

	go func() { _ = s.public.Serve(s.publicLn) }()
	go func() { _ = s.internal.Serve(s.internalLn) }()
	t.Cleanup(s.Stop)

	return &testServer{Server: s, registry: reg, pool: p}
}

// stubWorker stands in for a jailed worker process: a control stream
// registered with the pool, plus per-session streams opened on demand.
type stubWorker struct {
	internalAddr string
	control      *websocket.Conn
}

func dialWorker(t *testing.T, internalAddr string, pid int) *stubWorker {
	var conn, _, err = websocket.DefaultDialer.Dial(
		fmt.Sprintf("ws://%s/new-child-uri?pid=%d", internalAddr, pid), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &stubWorker{internalAddr: internalAddr, control: conn}
}

// awaitAnnounce reads the next session announcement from the control
// stream and returns the session id and document key.
func (w *stubWorker) awaitAnnounce(t *testing.T) (string, string) {
	var _, msg, err = w.control.ReadMessage()
	require.NoError(t, err)

	var parts = strings.SplitN(string(msg), " ", 3)
	require.Len(t, parts, 3)
	require.Equal(t, "session", parts[0])
	return parts[1], parts[2]
}

// openSession dials the per-session stream for an announced session.
func (w *stubWorker) openSession(t *testing.T, sessionID, jailID, docKey string) *websocket.Conn {
	var conn, _, err = websocket.DefaultDialer.Dial(
		fmt.Sprintf("ws://%s/child-uri?sessionId=%s&jailId=%s&docKey=%s",
			w.internalAddr, sessionID, jailID, url.QueryEscape(docKey)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func dialClient(t *testing.T, publicAddr, docPath string) *websocket.Conn {
	var conn, _, err = websocket.DefaultDialer.Dial("ws://"+publicAddr+docPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeText(t *testing.T, conn *websocket.Conn, frame string) {
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func readText(t *testing.T, conn *websocket.Conn) string {
	var _, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	return string(msg)
}
