package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var readyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "inkwell_wsd_ready_workers",
	Help: "gauge of registered worker processes awaiting acquisition",
})

var spawnCommandsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inkwell_wsd_spawn_commands_total",
	Help: "counter of workers requested from the forking supervisor",
})
