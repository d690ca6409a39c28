package ops

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the counters named in the external interfaces section's
// GET /metrics surface, registered once against the default registry so
// every binary that imports this package shares one exposition.
var (
	IngestRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlake_ingest_requests_total",
		Help: "Webhook deliveries accepted by the ingestion endpoint.",
	})
	IngestWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlake_ingest_write_failures_total",
		Help: "Background raw-log append failures.",
	})
	CompactionRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlake_compaction_records_total",
		Help: "Records folded into the columnar store by compaction runs.",
	})
	AnalysisRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatlake_analysis_runs_total",
		Help: "Analysis runs by terminal status.",
	}, []string{"status"})
)

// MetricsHandler exposes the default registry in Prometheus exposition
// format for GET /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
