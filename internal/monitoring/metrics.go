package monitoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// bucket accumulates the count, sum, min and max of the samples recorded in
// one aggregation interval; series holds a metric's current value, labels and
// current histogram bucket.
type bucket struct {
	start     time.Time
	count     int64
	sum       float64
	min       float64
	max       float64
	hasValues bool
}

type series struct {
	kind      string // counter, gauge, histogram
	value     float64
	labels    map[string]string
	histogram bucket
}

// Registry aggregates counters, gauges, and histograms into fixed-width time
// buckets with bounded retention.
type Registry struct {
	mu          sync.Mutex
	bucketWidth time.Duration
	retention   time.Duration
	series      map[string]*series
	history     map[string][]models.MetricPoint // name -> bucketed points
	store       interfaces.MetricStore
	logger      *common.Logger
	lastFlush   time.Time
}

// NewRegistry builds a Registry with the configured bucket width and retention.
func NewRegistry(bucketWidth, retention time.Duration, store interfaces.MetricStore, logger *common.Logger) *Registry {
	if bucketWidth <= 0 {
		bucketWidth = 10 * time.Second
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &Registry{
		bucketWidth: bucketWidth,
		retention:   retention,
		series:      make(map[string]*series),
		history:     make(map[string][]models.MetricPoint),
		store:       store,
		logger:      logger,
		lastFlush:   time.Now(),
	}
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := name
	for _, k := range keys {
		key += "|" + k + "=" + labels[k]
	}
	return key
}

// IncCounter increments a counter metric by delta (default 1).
func (r *Registry) IncCounter(name string, delta float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seriesLocked(name, "counter", labels)
	s.value += delta
}

// SetGauge sets a gauge metric's current value.
func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seriesLocked(name, "gauge", labels)
	s.value = value
}

// ObserveHistogram records one sample into the current bucket of a histogram metric.
func (r *Registry) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seriesLocked(name, "histogram", labels)
	if !s.histogram.hasValues {
		s.histogram.start = time.Now()
		s.histogram.min = value
		s.histogram.max = value
		s.histogram.hasValues = true
	}
	s.histogram.count++
	s.histogram.sum += value
	if value < s.histogram.min {
		s.histogram.min = value
	}
	if value > s.histogram.max {
		s.histogram.max = value
	}
}

func (r *Registry) seriesLocked(name, kind string, labels map[string]string) *series {
	key := seriesKey(name, labels)
	s, ok := r.series[key]
	if !ok {
		s = &series{kind: kind, labels: labels}
		r.series[key] = s
	}
	return s
}

// Snapshot returns the current value of every series, keyed by metric name (a
// live read for dashboards; not bucket-aggregated).
func (r *Registry) Snapshot() []models.MetricPoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	out := make([]models.MetricPoint, 0, len(r.series))
	for key, s := range r.series {
		name := key
		if idx := indexOfPipe(key); idx >= 0 {
			name = key[:idx]
		}
		val := s.value
		if s.kind == "histogram" {
			if s.histogram.count > 0 {
				val = s.histogram.sum / float64(s.histogram.count)
			}
		}
		out = append(out, models.MetricPoint{Name: name, Timestamp: now, Value: val, Labels: s.labels})
	}
	return out
}

func indexOfPipe(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			return i
		}
	}
	return -1
}

// RunBucketLoop periodically (every bucketWidth) flushes a bucketed snapshot
// into in-memory history with retention trimming, and optionally to the
// durable MetricStore. Blocks until ctx is cancelled.
func (r *Registry) RunBucketLoop(ctx context.Context) {
	ticker := time.NewTicker(r.bucketWidth)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flushBucket(ctx)
		}
	}
}

func (r *Registry) flushBucket(ctx context.Context) {
	points := r.Snapshot()
	now := time.Now()

	r.mu.Lock()
	for _, p := range points {
		r.history[p.Name] = append(r.history[p.Name], p)
		cutoff := now.Add(-r.retention)
		hist := r.history[p.Name]
		i := 0
		for i < len(hist) && hist[i].Timestamp.Before(cutoff) {
			i++
		}
		if i > 0 {
			r.history[p.Name] = append([]models.MetricPoint{}, hist[i:]...)
		}
	}
	// Reset histogram buckets for the next window; counters/gauges persist.
	for _, s := range r.series {
		if s.kind == "histogram" {
			s.histogram = bucket{}
		}
	}
	r.mu.Unlock()

	if r.store != nil {
		for _, p := range points {
			pt := p
			if err := r.store.Append(ctx, &pt); err != nil && r.logger != nil {
				r.logger.Warn().Err(err).Str("metric", p.Name).Msg("failed to persist metric bucket")
			}
		}
	}
}

// History returns the in-memory bucketed history for a metric name since `since`.
func (r *Registry) History(name string, since time.Time) []models.MetricPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.MetricPoint
	for _, p := range r.history[name] {
		if !p.Timestamp.Before(since) {
			out = append(out, p)
		}
	}
	return out
}

// Rate computes a simple rate (last minus first value, divided by the seconds
// between those two points) over the named
// counter's in-memory history, the aggregate shape alert expressions like
// `rate(errors_total[5m]) > 0.1` evaluate against.
func (r *Registry) Rate(name string, window time.Duration) float64 {
	since := time.Now().Add(-window)
	points := r.History(name, since)
	if len(points) < 2 {
		return 0
	}
	first, last := points[0].Value, points[len(points)-1].Value
	elapsed := points[len(points)-1].Timestamp.Sub(points[0].Timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return (last - first) / elapsed
}
