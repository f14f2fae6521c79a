package observer

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsObserver exports job events as Prometheus metrics
type MetricsObserver struct {
	jobs          *prometheus.CounterVec
	pipelineLoads *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	staleResults  prometheus.Counter
}

// NewMetricsObserver creates the collectors and registers them with reg
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	o := &MetricsObserver{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upscaler",
			Name:      "jobs_total",
			Help:      "Upscale jobs by terminal status.",
		}, []string{"status", "tier"}),
		pipelineLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upscaler",
			Name:      "pipeline_lookups_total",
			Help:      "Pipeline cache lookups by result.",
		}, []string{"result", "tier"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "upscaler",
			Name:      "job_duration_seconds",
			Help:      "Time from message receipt to terminal result.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"tier"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "upscaler",
			Name:      "jobs_in_flight",
			Help:      "Jobs received but not yet terminated.",
		}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "upscaler",
			Name:      "stale_results_total",
			Help:      "Completed jobs whose pipeline was superseded while running.",
		}),
	}

	for _, c := range []prometheus.Collector{o.jobs, o.pipelineLoads, o.jobDuration, o.inFlight, o.staleResults} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// OnEvent handles job events by updating metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event JobEvent) {
	switch event.EventType {
	case JobReceived:
		o.inFlight.Inc()
	case PipelineReady:
		o.pipelineLoads.WithLabelValues("ok", event.Tier).Inc()
	case PipelineFailed:
		o.pipelineLoads.WithLabelValues("error", event.Tier).Inc()
	case JobCompleted:
		o.inFlight.Dec()
		o.jobs.WithLabelValues("complete", event.Tier).Inc()
		o.jobDuration.WithLabelValues(event.Tier).Observe(event.Duration.Seconds())
		if event.Stale {
			o.staleResults.Inc()
		}
	case JobFailed:
		o.inFlight.Dec()
		o.jobs.WithLabelValues("error", event.Tier).Inc()
		o.jobDuration.WithLabelValues(event.Tier).Observe(event.Duration.Seconds())
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}
