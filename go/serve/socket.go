package serve

import (
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// ProcessSocket is the shared full-duplex read loop: it reads frames from
// conn and hands each to the handler until the peer closes, the handler
// declines to continue, or shouldStop reports process termination.
//
// Reads carry no deadline by design; frames are arbitrary-latency, so
// cancellation flows only through shouldStop (checked at every frame
// boundary) and explicit socket close.
func ProcessSocket(conn *websocket.Conn, name string, handler func(frame []byte) bool, shouldStop func() bool) {
	log.WithField("socket", name).Debug("socket processor started")
	defer log.WithField("socket", name).Debug("socket processor finished")

	for !shouldStop() {
		var mt, frame, err = conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				log.WithFields(log.Fields{"socket": name, "err": err}).Debug("socket read ended")
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage || len(frame) == 0 {
			continue
		}
		if !handler(frame) {
			return
		}
	}
}
