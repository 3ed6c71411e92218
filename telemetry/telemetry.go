// Package telemetry implements the Telemetry Sink: fixed-bucket
// latency histograms for HTTP and LLM calls, in-flight call counts, and a
// length-capped preview cache, all keyed by call key and readable as
// point-in-time snapshots. Histogram recording goes through a real
// go.opentelemetry.io/otel meter backed by a ManualReader, collected on
// demand rather than pushed to a remote backend.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// BucketBoundariesMs are the fixed histogram bucket boundaries,
// in milliseconds. The SDK appends an implicit +Inf overflow bucket.
var BucketBoundariesMs = []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000}

// DefaultPreviewLength bounds how many characters of a response preview
// are retained per call key.
const DefaultPreviewLength = 500

const callKeyAttr = "call_key"

// HistogramSnapshot is one call key's collected histogram at a point in
// time.
type HistogramSnapshot struct {
	CallKey string
	Bounds  []float64
	Counts  []uint64
	Sum     float64
	Count   uint64
}

// Snapshot is the full telemetry state at the moment it was taken.
type Snapshot struct {
	Histograms []HistogramSnapshot
	InFlight   map[string]int64
	Previews   map[string]string
	Timestamp  time.Time
}

// Sink collects call-latency histograms, in-flight counts, and response
// previews, and can be subscribed to for push updates.
type Sink struct {
	meterProvider *sdkmetric.MeterProvider
	reader        sdkmetric.Reader
	histogram     metric.Float64Histogram
	previewLength int

	mu       sync.RWMutex
	inFlight map[string]int64
	previews map[string]string

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

// NewSink builds a Sink with its own meter provider and manual reader.
// previewLength <= 0 defaults to DefaultPreviewLength.
func NewSink(previewLength int) *Sink {
	if previewLength <= 0 {
		previewLength = DefaultPreviewLength
	}
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("github.com/epicforge/promptopt/telemetry")

	histogram, _ := meter.Float64Histogram(
		"call_duration_ms",
		metric.WithDescription("HTTP and LLM call latency in milliseconds"),
		metric.WithExplicitBucketBoundaries(BucketBoundariesMs...),
	)

	return &Sink{
		meterProvider: provider,
		reader:        reader,
		histogram:     histogram,
		previewLength: previewLength,
		inFlight:      make(map[string]int64),
		previews:      make(map[string]string),
		subs:          make(map[int]chan Snapshot),
	}
}

// IncInFlight records the start of a call under key, via a copy-on-write
// replacement of the in-flight map so concurrent readers never observe a
// partially updated map.
func (s *Sink) IncInFlight(key string) {
	s.mu.Lock()
	next := cloneInt64Map(s.inFlight)
	next[key]++
	s.inFlight = next
	s.mu.Unlock()
	s.publish()
}

// DecInFlight records the end of a call under key.
func (s *Sink) DecInFlight(key string) {
	s.mu.Lock()
	next := cloneInt64Map(s.inFlight)
	if next[key] > 0 {
		next[key]--
	}
	if next[key] == 0 {
		delete(next, key)
	}
	s.inFlight = next
	s.mu.Unlock()
	s.publish()
}

// RecordCall records a completed call's duration and, if non-empty, its
// response preview (truncated to previewLength runes).
func (s *Sink) RecordCall(ctx context.Context, key string, durationMs float64, preview string) {
	s.histogram.Record(ctx, durationMs, metric.WithAttributes(attribute.String(callKeyAttr, key)))

	if preview != "" {
		s.mu.Lock()
		next := make(map[string]string, len(s.previews))
		for k, v := range s.previews {
			next[k] = v
		}
		next[key] = truncatePreview(preview, s.previewLength)
		s.previews = next
		s.mu.Unlock()
	}
	s.publish()
}

// Snapshot collects the current histogram state from the SDK's manual
// reader and combines it with the in-flight counts and preview cache.
func (s *Sink) Snapshot(ctx context.Context) Snapshot {
	var rm metricdata.ResourceMetrics
	_ = s.reader.Collect(ctx, &rm)

	var histograms []HistogramSnapshot
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			hist, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				continue
			}
			for _, dp := range hist.DataPoints {
				key := ""
				if v, ok := dp.Attributes.Value(attribute.Key(callKeyAttr)); ok {
					key = v.AsString()
				}
				histograms = append(histograms, HistogramSnapshot{
					CallKey: key,
					Bounds:  append([]float64(nil), dp.Bounds...),
					Counts:  append([]uint64(nil), dp.BucketCounts...),
					Sum:     dp.Sum,
					Count:   dp.Count,
				})
			}
		}
	}

	s.mu.RLock()
	inFlight := cloneInt64Map(s.inFlight)
	previews := make(map[string]string, len(s.previews))
	for k, v := range s.previews {
		previews[k] = v
	}
	s.mu.RUnlock()

	return Snapshot{Histograms: histograms, InFlight: inFlight, Previews: previews, Timestamp: time.Now()}
}

// Subscribe returns a channel receiving a Snapshot after every update
// event and on every tick of interval (the keep-alive). Callers must
// drain the channel; Unsubscribe stops delivery and closes it.
func (s *Sink) Subscribe(ctx context.Context, interval time.Duration) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(maxDuration(interval, time.Second))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.unsubscribe(id)
				return
			case <-stop:
				s.unsubscribe(id)
				return
			case <-ticker.C:
				s.deliver(id, s.Snapshot(ctx))
			}
		}
	}()

	return ch, func() { close(stop) }
}

func (s *Sink) unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Sink) deliver(id int, snap Snapshot) {
	s.subMu.Lock()
	ch, ok := s.subs[id]
	s.subMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- snap:
	default:
		// Drop if the subscriber hasn't drained the previous snapshot; the
		// next tick or event will deliver a fresher one.
	}
}

func (s *Sink) publish() {
	snap := s.Snapshot(context.Background())
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.subMu.Unlock()
	for _, id := range ids {
		s.deliver(id, snap)
	}
}

// Shutdown releases the underlying meter provider's resources.
func (s *Sink) Shutdown(ctx context.Context) error {
	return s.meterProvider.Shutdown(ctx)
}

func cloneInt64Map(m map[string]int64) map[string]int64 {
	next := make(map[string]int64, len(m))
	for k, v := range m {
		next[k] = v
	}
	return next
}

func truncatePreview(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
