package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gateway-level counters and gauges, registered on the default registry
// and exposed via Handler on /metrics.
var (
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workspace_gateway",
		Name:      "events_applied_total",
		Help:      "Stream events applied to the workspace store, by event kind.",
	}, []string{"kind"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workspace_gateway",
		Name:      "events_dropped_total",
		Help:      "Stream events dropped before application, by reason.",
	}, []string{"reason"})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "workspace_gateway",
		Name:      "active_streams",
		Help:      "Backend SSE streams currently open.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "workspace_gateway",
		Name:      "connected_clients",
		Help:      "WebSocket clients currently subscribed to workspace updates.",
	})

	StreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workspace_gateway",
		Name:      "stream_errors_total",
		Help:      "Stream failures, by error code.",
	}, []string{"error_code"})

	ResearchStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "workspace_gateway",
		Name:      "research_started_total",
		Help:      "Research executions started through the gateway.",
	})

	ArtifactRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workspace_gateway",
		Name:      "artifact_records_total",
		Help:      "Artifact records persisted, by artifact type.",
	}, []string{"type"})
)

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
