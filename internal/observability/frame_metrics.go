package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FrameCollector exposes engine frame metrics. It implements
// core.MetricsRecorder.
type FrameCollector struct {
	gatherer prometheus.Gatherer

	UpdateDuration prometheus.Histogram
	RenderDuration prometheus.Histogram
	Lwmax          prometheus.Gauge
	Tasks          prometheus.Gauge
	ListingRetries *prometheus.CounterVec
	DataSources    *prometheus.CounterVec
}

// NewFrameCollector registers frame metrics against the provided registerer.
func NewFrameCollector(reg prometheus.Registerer) (*FrameCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	frameBuckets := []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.025, 0.05, 0.1, 0.25}

	update, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "core_update_duration_seconds",
		Help:    "Duration of core frame updates.",
		Buckets: frameBuckets,
	}), "core_update_duration_seconds")
	if err != nil {
		return nil, err
	}

	render, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "core_render_duration_seconds",
		Help:    "Duration of core frame renders.",
		Buckets: frameBuckets,
	}), "core_render_duration_seconds")
	if err != nil {
		return nil, err
	}

	lwmax, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tonemapper_lwmax",
		Help: "Current adapted maximum luminance of the tonemapper, cd/m2.",
	}), "tonemapper_lwmax")
	if err != nil {
		return nil, err
	}

	tasks, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "core_tasks",
		Help: "Number of scheduled frame tasks.",
	}), "core_tasks")
	if err != nil {
		return nil, err
	}

	retries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "listing_retries_total",
		Help: "Listings that reported data still loading, labeled by module path.",
	}, []string{"module"}), "listing_retries_total")
	if err != nil {
		return nil, err
	}

	sources, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "data_sources_total",
		Help: "Data sources offered to the engine, labeled by result.",
	}, []string{"result"}), "data_sources_total")
	if err != nil {
		return nil, err
	}

	return &FrameCollector{
		gatherer:       gatherer,
		UpdateDuration: update,
		RenderDuration: render,
		Lwmax:          lwmax,
		Tasks:          tasks,
		ListingRetries: retries,
		DataSources:    sources,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *FrameCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FrameCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// ObserveUpdate records the duration of one Update.
func (c *FrameCollector) ObserveUpdate(d time.Duration) {
	if c == nil || c.UpdateDuration == nil {
		return
	}
	c.UpdateDuration.Observe(d.Seconds())
}

// ObserveRender records the duration of one Render.
func (c *FrameCollector) ObserveRender(d time.Duration) {
	if c == nil || c.RenderDuration == nil {
		return
	}
	c.RenderDuration.Observe(d.Seconds())
}

// SetLwmax updates the adapted luminance gauge.
func (c *FrameCollector) SetLwmax(v float64) {
	if c == nil || c.Lwmax == nil {
		return
	}
	c.Lwmax.Set(v)
}

// SetTasks updates the task count gauge.
func (c *FrameCollector) SetTasks(n int) {
	if c == nil || c.Tasks == nil {
		return
	}
	c.Tasks.Set(float64(n))
}

// ListingRetry counts a listing that has to be repeated.
func (c *FrameCollector) ListingRetry(module string) {
	if c == nil || c.ListingRetries == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	c.ListingRetries.WithLabelValues(module).Inc()
}

// DataSource counts a data source outcome.
func (c *FrameCollector) DataSource(result string) {
	if c == nil || c.DataSources == nil {
		return
	}
	c.DataSources.WithLabelValues(result).Inc()
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
