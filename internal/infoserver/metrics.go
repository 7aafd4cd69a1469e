// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package infoserver

import (
	"net/http"

	"github.com/anonnet/infoserviced/internal/topology"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "infoservice"

// metrics holds the collectors exported by the server.
type metrics struct {
	registry  *prometheus.Registry
	accepted  *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	synced    *prometheus.CounterVec
	wsClients prometheus.Gauge
}

// newMetrics registers the collectors of the server.  Store sizes, the
// distributor counters, and the probe results are read when scraped.
func newMetrics(s *Server) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "posts_accepted_total",
			Help:      "Posted documents accepted by entry kind.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "posts_rejected_total",
			Help:      "Posted documents rejected by command.",
		}, []string{"command"}),
		synced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_fetched_total",
			Help:      "Entries fetched from neighbour infoservices by kind.",
		}, []string{"kind"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket change feed clients.",
		}),
	}
	m.registry.MustRegister(m.accepted, m.rejected, m.synced, m.wsClients)

	kinds := append([]kindRoute{{"dynacascade", topology.KindVirtualCascade}},
		kindRoutes...)
	for _, route := range kinds {
		store := s.store(route.kind)
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "entries",
			Help:        "Live entries by kind.",
			ConstLabels: prometheus.Labels{"kind": string(route.kind)},
		}, func() float64 { return float64(store.Len()) }))
	}

	if p := s.cfg.Prober; p != nil {
		for _, result := range []string{"ok", "failed"} {
			result := result
			m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Name:        "probes_total",
				Help:        "Connectivity probes by result.",
				ConstLabels: prometheus.Labels{"result": result},
			}, func() float64 {
				ok, failed := p.Counts()
				if result == "ok" {
					return float64(ok)
				}
				return float64(failed)
			}))
		}
	}

	if d := s.cfg.Distributor; d != nil {
		counters := []struct {
			name, help string
			value      func() float64
		}{
			{"distributor_queued_total", "Entries queued for distribution.",
				func() float64 { return float64(d.Stats().Queued) }},
			{"distributor_dropped_total", "Entries dropped from a full queue.",
				func() float64 { return float64(d.Stats().Dropped) }},
			{"distributor_sent_total", "Entries posted to neighbours.",
				func() float64 { return float64(d.Stats().Sent) }},
			{"distributor_failed_total", "Failed posts to neighbours.",
				func() float64 { return float64(d.Stats().Failed) }},
		}
		for _, c := range counters {
			m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      c.name,
				Help:      c.help,
			}, c.value))
		}
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "distributor_pending",
			Help:      "Entries waiting for distribution.",
		}, func() float64 { return float64(d.Stats().Pending) }))
	}
	return m
}

// handler returns the scrape handler of the registry.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog: promLogger{},
	})
}

// promLogger forwards scrape errors to the package logger.
type promLogger struct{}

// Println implements the promhttp.Logger interface.
func (promLogger) Println(v ...interface{}) {
	log.Error(v...)
}
