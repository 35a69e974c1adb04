// Package telemetry exposes the counters and gauges recommended by
// spec §8 through a prometheus.Registerer, the way the teacher's
// binaries build their own metrics registries (see
// cmd/config-reloader/main.go).
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every beamium_* series named in spec §8.
type Metrics struct {
	FetchDatapoints *prometheus.CounterVec
	FetchErrors     *prometheus.CounterVec

	PushDatapoints *prometheus.CounterVec
	PushErrors     *prometheus.CounterVec
	PushHTTPStatus *prometheus.CounterVec

	SkipTTL     *prometheus.CounterVec
	SkipMaxSize *prometheus.CounterVec

	DirectoryFiles *prometheus.GaugeVec
	ReloadCount    prometheus.Counter
}

// New builds the metrics bundle and, if reg is non-nil, registers every
// series on it.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchDatapoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beamium_fetch_datapoints",
			Help: "Number of datapoints fetched from a scraper's endpoint.",
		}, []string{"scraper"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beamium_fetch_errors",
			Help: "Number of failed scrape attempts.",
		}, []string{"scraper"}),
		PushDatapoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beamium_push_datapoints",
			Help: "Number of datapoints successfully pushed to a sink.",
		}, []string{"sink"}),
		PushErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beamium_push_errors",
			Help: "Number of failed push attempts to a sink.",
		}, []string{"sink"}),
		PushHTTPStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beamium_push_http_status",
			Help: "Response status codes observed when pushing to a sink.",
		}, []string{"sink", "status"}),
		SkipTTL: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beamium_skip_ttl",
			Help: "Number of spool files discarded for exceeding a sink's TTL.",
		}, []string{"sink"}),
		SkipMaxSize: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beamium_skip_max_size",
			Help: "Number of spool files discarded to enforce a sink's max_size.",
		}, []string{"sink"}),
		DirectoryFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "beamium_directory_files",
			Help: "Number of finalized spool files currently present: per source directory path for the router, per sink name (that sink's own files) for a sink.",
		}, []string{"directory"}),
		ReloadCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beamium_reload_count",
			Help: "Number of successful configuration reloads.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FetchDatapoints,
			m.FetchErrors,
			m.PushDatapoints,
			m.PushErrors,
			m.PushHTTPStatus,
			m.SkipTTL,
			m.SkipMaxSize,
			m.DirectoryFiles,
			m.ReloadCount,
		)
	}
	return m
}
