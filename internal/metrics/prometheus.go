package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EnrichmentRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_enrichment_runs_total",
			Help: "Enrichment pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_enrichment_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	SearchCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_search_calls_total",
			Help: "Outbound web search calls",
		},
		[]string{"status"},
	)

	PagesFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_pages_fetched_total",
			Help: "Candidate pages fetched",
		},
		[]string{"status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"type"},
	)

	InterestsPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_interests_persisted_total",
			Help: "Interests written to contacts, by source stage",
		},
		[]string{"source"},
	)

	HealthScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crm_contact_health_score",
			Help:    "Health score distribution after interaction updates",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(EnrichmentRuns)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(SearchCalls)
	prometheus.MustRegister(PagesFetched)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(InterestsPersisted)
	prometheus.MustRegister(HealthScore)
	prometheus.MustRegister(CacheHits)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
