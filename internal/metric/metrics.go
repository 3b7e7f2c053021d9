package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ResultsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qadash_results_ingested_total",
		Help: "The number of test results ingested since the service was started",
	}, []string{"source", "framework"})

	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qadash_webhooks_received_total",
		Help: "The number of webhook deliveries received, by provider and outcome",
	}, []string{"provider", "status"})

	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qadash_event_subscribers",
		Help: "The number of currently connected event stream subscribers",
	})

	TrendQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qadash_trend_queries_total",
		Help: "The number of trend queries served, by grouping",
	}, []string{"grouping"})
)
