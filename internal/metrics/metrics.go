// Package metrics holds the Prometheus collectors for token lifecycle and relay traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokenRefreshTotal counts refresh attempts by platform and outcome
	// (renewed, noop, adopted, transient, terminal, persistence).
	TokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_connect_token_refresh_total",
		Help: "The total number of token refresh attempts by outcome",
	}, []string{"platform", "outcome"})

	// ConnectTotal counts connect operations by platform and outcome.
	ConnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_connect_connect_total",
		Help: "The total number of account connect attempts by outcome",
	}, []string{"platform", "outcome"})

	// DisconnectTotal counts disconnects by platform and outcome.
	DisconnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_connect_disconnect_total",
		Help: "The total number of account disconnects by outcome",
	}, []string{"platform", "outcome"})

	// SchedulerFiresTotal counts refresh timer fires.
	SchedulerFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_connect_scheduler_fires_total",
		Help: "The total number of refresh job fires by result",
	}, []string{"result"})

	// ScheduledJobs is the number of armed refresh jobs in this process.
	ScheduledJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "social_connect_scheduled_jobs",
		Help: "The number of armed refresh jobs",
	})

	// ExchangeDuration measures provider token exchange and renewal latency.
	ExchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "social_connect_exchange_duration_seconds",
		Help:    "Provider token exchange duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform", "operation"})

	// RelayResponsesTotal counts relay responses by route and status code.
	RelayResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_connect_relay_responses_total",
		Help: "The total number of relay responses by route and status",
	}, []string{"route", "status"})
)
