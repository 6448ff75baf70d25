package semcache

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// sdkMetrics holds prometheus metrics registered for the SDK.
type sdkMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	decisions  *prometheus.CounterVec
	topScore   *prometheus.HistogramVec
	corpus     prometheus.Gauge
}

func newSDKMetrics(reg prometheus.Registerer) (*sdkMetrics, error) {
	m := &sdkMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semcache",
			Subsystem: "sdk",
			Name:      "operations_total",
			Help:      "Total SDK operations by type and status.",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semcache",
			Subsystem: "sdk",
			Name:      "operation_duration_seconds",
			Help:      "SDK operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semcache",
			Subsystem: "sdk",
			Name:      "decisions_total",
			Help:      "Best-match decisions by operation and outcome.",
		}, []string{"operation", "decision"}),
		topScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semcache",
			Subsystem: "sdk",
			Name:      "top_score",
			Help:      "Cosine similarity of the best match.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"operation"}),
		corpus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semcache",
			Subsystem: "sdk",
			Name:      "corpus_entries",
			Help:      "Entries in the served corpus after the last load.",
		}),
	}
	if err := registerOrReuse(reg, &m.operations); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.decisions); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.topScore); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.corpus); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers a collector or reuses an existing one.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			existing, ok := are.ExistingCollector.(T)
			if !ok {
				return fmt.Errorf("semcache: metric already registered with incompatible type: %T", are.ExistingCollector)
			}
			*c = existing
			return nil
		}
		return fmt.Errorf("semcache: register metric: %w", err)
	}
	return nil
}

// observer provides logging and metrics for SDK operations.
type observer struct {
	logger  *slog.Logger
	metrics *sdkMetrics
}

func newObserver(logger *slog.Logger, reg prometheus.Registerer) (*observer, error) {
	var m *sdkMetrics
	if reg != nil {
		var err error
		m, err = newSDKMetrics(reg)
		if err != nil {
			return nil, err
		}
	}
	return &observer{logger: logger, metrics: m}, nil
}

// observeMatches records a query or similar call. The first match is the
// best one; an empty corpus yields no matches and no decision.
func (o *observer) observeMatches(op string, start time.Time, matches []Match, err error) {
	if o == nil {
		return
	}
	if err != nil || len(matches) == 0 {
		o.observe(op, start, err, slog.Int("matches", 0))
		return
	}
	best := matches[0]
	if o.metrics != nil {
		o.metrics.decisions.WithLabelValues(op, string(best.Decision)).Inc()
		o.metrics.topScore.WithLabelValues(op).Observe(float64(best.Score))
	}
	attrs := []slog.Attr{
		slog.String("decision", string(best.Decision)),
		slog.Float64("score", float64(best.Score)),
		slog.Int("matches", len(matches)),
	}
	if best.EntryID != "" {
		attrs = append(attrs, slog.String("entry_id", best.EntryID))
	}
	o.observe(op, start, err, attrs...)
}

// observeCorpus records an operation that produced n entries. When served is
// true, n is the new corpus size.
func (o *observer) observeCorpus(op string, start time.Time, n int, served bool, err error) {
	if o == nil {
		return
	}
	if err == nil && served && o.metrics != nil {
		o.metrics.corpus.Set(float64(n))
	}
	o.observe(op, start, err, slog.Int("entries", n))
}

func (o *observer) observe(
	op string, start time.Time, err error, attrs ...slog.Attr,
) {
	if o == nil {
		return
	}
	dur := time.Since(start)

	if o.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		o.metrics.operations.WithLabelValues(op, status).Inc()
		o.metrics.duration.WithLabelValues(op).Observe(
			dur.Seconds(),
		)
	}

	if o.logger != nil {
		args := make([]any, 0, len(attrs)+3)
		args = append(args, slog.String("op", op), slog.Duration("duration", dur))
		for _, a := range attrs {
			args = append(args, a)
		}
		if err != nil {
			o.logger.Warn("operation failed", append(args, slog.Any("error", err))...)
		} else {
			o.logger.Debug("operation completed", args...)
		}
	}
}
