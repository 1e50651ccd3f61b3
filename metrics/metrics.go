// Package metrics exposes session counters to Prometheus. Values are read
// from atomic snapshots at scrape time, so nothing here touches the render
// path.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/d1nch8g/audiobridge/engine"
)

const namespace = "audiobridge"

// StatsSource is implemented by engine.Engine.
type StatsSource interface {
	Stats() engine.Stats
}

// Collector is a prometheus.Collector over a session's counters.
type Collector struct {
	source StatsSource

	queueEnqueued  *prometheus.Desc
	queueDequeued  *prometheus.Desc
	queueDropped   *prometheus.Desc
	queueRejected  *prometheus.Desc
	queueSanitized *prometheus.Desc
	queueUnderruns *prometheus.Desc
	queueLength    *prometheus.Desc
	queueHighWater *prometheus.Desc

	renderSteps     *prometheus.Desc
	renderSilent    *prometheus.Desc
	renderPadded    *prometheus.Desc
	renderTruncated *prometheus.Desc
	renderFaults    *prometheus.Desc

	ingestFrames *prometheus.Desc
}

// NewCollector creates a collector reading from source.
func NewCollector(source StatsSource) *Collector {
	stream := []string{"stream"}
	queueDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", name), help, stream, nil)
	}
	renderDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "render", name), help, nil, nil)
	}

	return &Collector{
		source: source,

		queueEnqueued:  queueDesc("enqueued_total", "Chunks accepted by the queue."),
		queueDequeued:  queueDesc("dequeued_total", "Chunks handed to the render step."),
		queueDropped:   queueDesc("dropped_total", "Chunks dropped by the overflow policy."),
		queueRejected:  queueDesc("rejected_total", "Malformed chunks rejected at enqueue."),
		queueSanitized: queueDesc("sanitized_samples_total", "Non-finite samples replaced with zero."),
		queueUnderruns: queueDesc("underruns_total", "Dequeues that found the queue empty."),
		queueLength:    queueDesc("length", "Chunks currently queued."),
		queueHighWater: queueDesc("high_water", "Largest queue length observed."),

		renderSteps:     renderDesc("steps_total", "Render step invocations."),
		renderSilent:    renderDesc("silent_blocks_total", "Channel blocks rendered as silence on underrun."),
		renderPadded:    renderDesc("padded_blocks_total", "Channel blocks zero-padded from a short chunk."),
		renderTruncated: renderDesc("truncated_blocks_total", "Channel blocks cut from a long chunk."),
		renderFaults:    renderDesc("faults_total", "Recovered panics in the render step."),

		ingestFrames: prometheus.NewDesc(prometheus.BuildFQName(namespace, "ingest", "frames_total"),
			"Frames cut from producer PCM.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.queueEnqueued, c.queueDequeued, c.queueDropped, c.queueRejected,
		c.queueSanitized, c.queueUnderruns, c.queueLength, c.queueHighWater,
		c.renderSteps, c.renderSilent, c.renderPadded, c.renderTruncated,
		c.renderFaults, c.ingestFrames,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v int, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), labels...)
	}

	for i, q := range stats.Queues {
		stream := strconv.Itoa(i)
		counter(c.queueEnqueued, q.Enqueued, stream)
		counter(c.queueDequeued, q.Dequeued, stream)
		counter(c.queueDropped, q.Dropped, stream)
		counter(c.queueRejected, q.Rejected, stream)
		counter(c.queueSanitized, q.Sanitized, stream)
		counter(c.queueUnderruns, q.Underruns, stream)
		gauge(c.queueLength, q.Length, stream)
		gauge(c.queueHighWater, q.HighWater, stream)
	}

	counter(c.renderSteps, stats.Render.Steps)
	counter(c.renderSilent, stats.Render.Silent)
	counter(c.renderPadded, stats.Render.Padded)
	counter(c.renderTruncated, stats.Render.Truncated)
	counter(c.renderFaults, stats.Render.Faults)
	counter(c.ingestFrames, stats.Frames)
}

// NewRegistry returns a registry holding the session collector.
func NewRegistry(source StatsSource) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(source)); err != nil {
		return nil, fmt.Errorf("failed to register collector: %w", err)
	}
	return reg, nil
}

// Serve exposes reg on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
