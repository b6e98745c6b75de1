package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcomb_fetch_total",
		Help: "Fetch attempts by feed and result.",
	}, []string{"feed", "result"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedcomb_fetch_duration_seconds",
		Help:    "Duration of fetch and merge per feed.",
		Buckets: prometheus.DefBuckets,
	}, []string{"feed"})

	entriesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedcomb_entries",
		Help: "Entries currently held per source feed.",
	}, []string{"feed"})

	fetchInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedcomb_fetch_in_flight",
		Help: "Fetches currently running.",
	})
)

const (
	resultSuccess     = "success"
	resultNotModified = "not_modified"
	resultTransient   = "transient"
	resultPermanent   = "permanent"
)
