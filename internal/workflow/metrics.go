package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	registry        *prometheus.Registry
	stagesTotal     *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	transformsTotal *prometheus.CounterVec
	lowClarityTotal prometheus.Counter
	staleTotal      prometheus.Counter
	resetsTotal     prometheus.Counter
	activeStages    prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		stagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facefilter_workflow_stages_total",
			Help: "Workflow stages by stage name and outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "facefilter_workflow_stage_duration_seconds",
			Help:    "Duration of each workflow stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage", "outcome"}),
		transformsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facefilter_transforms_total",
			Help: "Transform requests by filter and error kind (empty on success).",
		}, []string{"filter_id", "error_kind"}),
		lowClarityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facefilter_low_clarity_faces_total",
			Help: "Validated faces flagged as low clarity.",
		}),
		staleTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facefilter_stale_results_total",
			Help: "Stage results discarded because the session was reset.",
		}),
		resetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facefilter_session_resets_total",
			Help: "Explicit session resets.",
		}),
		activeStages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "facefilter_workflow_active_stages",
			Help: "Stages currently in flight.",
		}),
	}

	registry.MustRegister(
		m.stagesTotal,
		m.stageDuration,
		m.transformsTotal,
		m.lowClarityTotal,
		m.staleTotal,
		m.resetsTotal,
		m.activeStages,
	)
	return m
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
