// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_submissions_total",
		Help: "User submissions by outcome.",
	}, []string{"outcome"})

	FileUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_file_uploads_total",
		Help: "Attachment operations by pipeline stage and outcome.",
	}, []string{"stage", "outcome"})

	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_assistant_runs_total",
		Help: "Assistant runs by outcome.",
	}, []string{"outcome"})

	StreamDeltas = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_stream_deltas_total",
		Help: "Delta events consumed from assistant run streams.",
	})
)

// Handler serves the default registry, mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
