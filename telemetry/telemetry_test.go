package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCallAppearsInSnapshotHistogram(t *testing.T) {
	s := NewSink(0)
	ctx := context.Background()
	s.RecordCall(ctx, "llm:generate", 120, "some preview text")

	snap := s.Snapshot(ctx)
	var found *HistogramSnapshot
	for i := range snap.Histograms {
		if snap.Histograms[i].CallKey == "llm:generate" {
			found = &snap.Histograms[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, uint64(1), found.Count)
	assert.InDelta(t, 120, found.Sum, 1e-6)
	assert.Equal(t, snap.Previews["llm:generate"], "some preview text")
}

func TestInFlightIncDecTracksCount(t *testing.T) {
	s := NewSink(0)
	ctx := context.Background()
	s.IncInFlight("llm:generate")
	s.IncInFlight("llm:generate")
	snap := s.Snapshot(ctx)
	assert.Equal(t, int64(2), snap.InFlight["llm:generate"])

	s.DecInFlight("llm:generate")
	snap = s.Snapshot(ctx)
	assert.Equal(t, int64(1), snap.InFlight["llm:generate"])

	s.DecInFlight("llm:generate")
	snap = s.Snapshot(ctx)
	_, present := snap.InFlight["llm:generate"]
	assert.False(t, present)
}

func TestPreviewIsTruncatedToConfiguredLength(t *testing.T) {
	s := NewSink(5)
	ctx := context.Background()
	s.RecordCall(ctx, "k", 10, "abcdefghij")
	snap := s.Snapshot(ctx)
	assert.Equal(t, "abcde", snap.Previews["k"])
}

func TestBucketBoundariesMatchSpec(t *testing.T) {
	expected := []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000}
	assert.Equal(t, expected, BucketBoundariesMs)
}

func TestSubscribeDeliversSnapshotOnEvent(t *testing.T) {
	s := NewSink(0)
	ctx := context.Background()
	ch, unsub := s.Subscribe(ctx, time.Hour)
	defer unsub()

	s.RecordCall(ctx, "llm:generate", 50, "")

	select {
	case snap := <-ch:
		found := false
		for _, h := range snap.Histograms {
			if h.CallKey == "llm:generate" {
				found = true
			}
		}
		assert.True(t, found)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func TestCloneInt64MapIsIndependentCopy(t *testing.T) {
	m := map[string]int64{"a": 1}
	clone := cloneInt64Map(m)
	clone["a"] = 2
	assert.Equal(t, int64(1), m["a"])
}

func TestTruncatePreviewNoopWhenShort(t *testing.T) {
	assert.Equal(t, "short", truncatePreview("short", 100))
	assert.Equal(t, strings.Repeat("a", 3), truncatePreview(strings.Repeat("a", 10), 3))
}
