package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "assetbuilder"

// PrometheusRecorder implements Recorder with metrics registered on one registry.
type PrometheusRecorder struct {
	stageDuration     *prom.HistogramVec
	buildDuration     prom.Histogram
	stageResults      *prom.CounterVec
	buildOutcome      *prom.CounterVec
	units             *prom.CounterVec
	outputFiles       prom.Gauge
	rebuilds          *prom.CounterVec
	liveReloadClients prom.Gauge
}

// NewPrometheusRecorder registers the build and dev server metrics on reg.
// It panics if reg already holds them.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	f := promauto.With(reg)
	return &PrometheusRecorder{
		stageDuration: f.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of build stages",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		buildDuration: f.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time of whole builds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		stageResults: f.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Build stage results",
		}, []string{"stage", "result"}),
		buildOutcome: f.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Builds by final status",
		}, []string{"outcome"}),
		units: f.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Source units by how their transform result was obtained",
		}, []string{"result"}),
		outputFiles: f.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "output_files",
			Help:      "Files in the most recent build output",
		}),
		rebuilds: f.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dev_rebuilds_total",
			Help:      "Dev server rebuild requests by disposition",
		}, []string{"reason"}),
		liveReloadClients: f.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "livereload_clients",
			Help:      "Connected live reload clients",
		}),
	}
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}
func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}
func (p *PrometheusRecorder) IncBuildOutcome(outcome BuildOutcomeLabel) {
	if p == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddUnits(total, cached, failed int) {
	if p == nil {
		return
	}
	transformed := max(total-cached-failed, 0)
	p.units.WithLabelValues("transformed").Add(float64(transformed))
	p.units.WithLabelValues("cached").Add(float64(cached))
	p.units.WithLabelValues("failed").Add(float64(failed))
}

func (p *PrometheusRecorder) SetOutputFiles(n int) {
	if p == nil {
		return
	}
	p.outputFiles.Set(float64(n))
}

func (p *PrometheusRecorder) IncRebuild(reason string) {
	if p == nil {
		return
	}
	p.rebuilds.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) SetLiveReloadClients(n int) {
	if p == nil {
		return
	}
	p.liveReloadClients.Set(float64(n))
}
