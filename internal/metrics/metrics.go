// Package metrics exposes prometheus counters for the job lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider error kinds used as the "kind" label of ProviderErrorsTotal.
const (
	KindNotConfigured   = "not_configured"
	KindRateLimited     = "rate_limited"
	KindPaymentRequired = "payment_required"
	KindProvider        = "provider"
)

// Reconcile sources used as the "source" label of ReconcileTotal.
const (
	SourceWebhook = "webhook"
	SourceSweep   = "sweep"
)

var (
	JobsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adreel_jobs_created_total",
		Help: "Total number of video jobs created",
	})

	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adreel_jobs_completed_total",
		Help: "Total number of video jobs that completed",
	})

	JobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adreel_jobs_failed_total",
		Help: "Total number of video jobs that failed",
	})

	ProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adreel_provider_errors_total",
		Help: "Provider call failures by kind",
	}, []string{"kind"})

	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adreel_reconcile_total",
		Help: "Reconciliation attempts by source and outcome",
	}, []string{"source", "outcome"})

	ProviderSubmitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "adreel_provider_submit_duration_seconds",
		Help:    "Time taken by the provider to answer a submit request",
		Buckets: prometheus.DefBuckets,
	})
)
