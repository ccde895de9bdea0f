package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the acquisition counters. Each session registers its own set.
type Metrics struct {
	Records        prometheus.Counter
	Discarded      *prometheus.CounterVec
	DiscardedBytes prometheus.Counter
	SinkLatency    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cobsdaq",
			Subsystem: "acquisition",
			Name:      "records_total",
			Help:      "Records decoded and committed to the sink.",
		}),
		Discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cobsdaq",
			Subsystem: "acquisition",
			Name:      "discarded_frames_total",
			Help:      "Frames discarded by the synchronizer, by error kind.",
		}, []string{"kind"}),
		DiscardedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cobsdaq",
			Subsystem: "acquisition",
			Name:      "resync_bytes_total",
			Help:      "Bytes skipped while resynchronizing.",
		}),
		SinkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cobsdaq",
			Subsystem: "sink",
			Name:      "commit_duration_seconds",
			Help:      "Time to write and flush one record.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Records, m.Discarded, m.DiscardedBytes, m.SinkLatency)
	}
	return m
}

func (m *Metrics) RecordCommit(d time.Duration) {
	m.Records.Inc()
	m.SinkLatency.Observe(d.Seconds())
}

func (m *Metrics) RecordDiscard(kind string) {
	m.Discarded.WithLabelValues(kind).Inc()
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
