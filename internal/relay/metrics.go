package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg      *prometheus.Registry
	Fixes    *prometheus.CounterVec
	Frames   prometheus.Counter
	Dropped  prometheus.Counter
	Rejected *prometheus.CounterVec
	Sessions *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Fixes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ridertrack", Name: "fixes_total", Help: "Rider fixes accepted, by delivery phase.",
		}, []string{"phase"}),
		Frames: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ridertrack", Name: "frames_pushed_total", Help: "Tracking frames queued to watchers.",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ridertrack", Name: "frames_dropped_total", Help: "Tracking frames skipped for slow watchers.",
		}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ridertrack", Name: "rejected_total", Help: "Connections and messages refused, by reason.",
		}, []string{"reason"}),
		Sessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ridertrack", Name: "sessions", Help: "Open websocket sessions, by actor.",
		}, []string{"actor"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
