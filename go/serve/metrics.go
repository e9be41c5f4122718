package serve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var upgradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "inkwell_wsd_client_upgrades_total",
	Help: "counter of client websocket upgrade attempts on the public endpoint",
}, []string{"status"})

var workerAttachTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "inkwell_wsd_worker_attach_total",
	Help: "counter of worker stream attachments on the internal endpoint",
}, []string{"kind", "status"})

var savesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "inkwell_wsd_saves_triggered_total",
	Help: "counter of document saves enqueued by the parent",
}, []string{"reason"})

var conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "inkwell_wsd_conversions_total",
	Help: "counter of convert-to requests",
}, []string{"status"})
