package serve

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/inkwell-hq/inkwell/go/broker"
	"github.com/inkwell-hq/inkwell/go/protocol"
)

// Maintenance runs the periodic background work of the parent: supervisor
// liveness polling and the idle-save and auto-save scans. Scans only
// enqueue save commands; the per-session consumers do the I/O.
type Maintenance struct {
	Registry *broker.Registry

	// PollSupervisor reports whether the supervisor exited, and how.
	// Nil disables liveness polling (tests).
	PollSupervisor func() (exited bool, err error)

	// OnSupervisorExit runs once if the supervisor is found dead.
	OnSupervisorExit func()

	// Interval is the poll cadence. IdleSaveAfter and AutoSaveEvery are
	// the inactivity and wall-clock thresholds of the two save scans.
	Interval      time.Duration
	IdleSaveAfter time.Duration
	AutoSaveEvery time.Duration
}

// Run polls until the context is cancelled or the supervisor dies.
func (m *Maintenance) Run(ctx context.Context) error {
	if m.Interval <= 0 {
		m.Interval = 2 * time.Second
	}
	if m.IdleSaveAfter <= 0 {
		m.IdleSaveAfter = 30 * time.Second
	}
	if m.AutoSaveEvery <= 0 {
		m.AutoSaveEvery = 300 * time.Second
	}

	var ticker = time.NewTicker(m.Interval)
	defer ticker.Stop()

	var lastIdleScan, lastAutoScan = time.Now(), time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if m.PollSupervisor != nil {
			if exited, err := m.PollSupervisor(); exited {
				log.WithField("err", err).Error("supervisor process exited")
				if m.OnSupervisorExit != nil {
					m.OnSupervisorExit()
				}
				return nil
			}
		}

		var now = time.Now()
		if now.Sub(lastIdleScan) >= m.IdleSaveAfter {
			lastIdleScan = now
			m.scanIdle(now)
		}
		if now.Sub(lastAutoScan) >= m.AutoSaveEvery {
			lastAutoScan = now
			m.scanAuto(now)
		}
	}
}

// scanIdle saves sessions that went quiet: active since their last idle
// save, but with no message inside the idle window.
func (m *Maintenance) scanIdle(now time.Time) {
	var cutoff = now.Add(-m.IdleSaveAfter).Unix()
	m.eachClientSession(func(sess *broker.Session) {
		var last = sess.LastMessageTime()
		if last > sess.IdleSaveTime() && last < cutoff {
			log.WithField("session", sess.ID).Debug("idle save")
			sess.Queue.Put([]byte(protocol.CommandSave))
			sess.SetIdleSaveTime(now.Unix())
			savesTotal.WithLabelValues("idle").Inc()
		}
	})
}

// scanAuto saves sessions still actively edited since their last save of
// either kind.
func (m *Maintenance) scanAuto(now time.Time) {
	m.eachClientSession(func(sess *broker.Session) {
		var last = sess.LastMessageTime()
		if last >= sess.IdleSaveTime() && last >= sess.AutoSaveTime() {
			log.WithField("session", sess.ID).Debug("auto save")
			sess.Queue.Put([]byte(protocol.CommandSave))
			sess.SetAutoSaveTime(now.Unix())
			savesTotal.WithLabelValues("auto").Inc()
		}
	})
}

func (m *Maintenance) eachClientSession(fn func(*broker.Session)) {
	m.Registry.Each(func(b *broker.Broker) {
		b.EachSession(func(sess *broker.Session) {
			if sess.Kind == broker.ToClient && sess.Queue != nil {
				fn(sess)
			}
		})
	})
}
