package usecase

import (
	"sync/atomic"
	"time"
)

// MetricsSummary represents aggregated session insights.
type MetricsSummary struct {
	ActiveSessions                 int     `json:"active_sessions"`
	SessionsCreated                int64   `json:"sessions_created"`
	Classifications                int64   `json:"classifications"`
	ClassificationFailures         int64   `json:"classification_failures"`
	ModelLoadFailures              int64   `json:"model_load_failures"`
	CacheHits                      int64   `json:"cache_hits"`
	AverageClassificationLatencyMs float64 `json:"average_classification_latency_ms"`
}

type metrics struct {
	sessionsCreated        atomic.Int64
	classifications        atomic.Int64
	classificationFailures atomic.Int64
	loadFailures           atomic.Int64
	cacheHits              atomic.Int64
	latencyMicros          atomic.Int64
}

func (m *metrics) observeClassification(elapsed time.Duration, err error) {
	if err != nil {
		m.classificationFailures.Add(1)
		return
	}
	m.classifications.Add(1)
	m.latencyMicros.Add(elapsed.Microseconds())
}

// GetMetricsSummary aggregates counters collected since start.
func (uc *SessionUseCase) GetMetricsSummary() *MetricsSummary {
	summary := &MetricsSummary{
		ActiveSessions:         uc.store.count(),
		SessionsCreated:        uc.metrics.sessionsCreated.Load(),
		Classifications:        uc.metrics.classifications.Load(),
		ClassificationFailures: uc.metrics.classificationFailures.Load(),
		ModelLoadFailures:      uc.metrics.loadFailures.Load(),
		CacheHits:              uc.metrics.cacheHits.Load(),
	}

	if summary.Classifications > 0 {
		summary.AverageClassificationLatencyMs = float64(uc.metrics.latencyMicros.Load()) / 1000 / float64(summary.Classifications)
	}

	return summary
}
