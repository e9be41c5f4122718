package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var brokersGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "inkwell_wsd_document_brokers",
	Help: "gauge of live document brokers",
})
