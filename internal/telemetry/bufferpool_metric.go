package internaltelemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// BufferPoolMetrics holds the metric instruments for the buffer pool.
// A nil *BufferPoolMetrics is valid and records nothing.
type BufferPoolMetrics struct {
	HitsCounter        metric.Int64Counter
	MissesCounter      metric.Int64Counter
	EvictionsCounter   metric.Int64Counter
	WriteBacksCounter  metric.Int64Counter
	ExhaustedCounter   metric.Int64Counter
	PinnedFramesUpDown metric.Int64UpDownCounter
}

// NewBufferPoolMetrics creates and registers all the metrics for the buffer pool.
func NewBufferPoolMetrics(meter metric.Meter) (*BufferPoolMetrics, error) {
	hits, err := meter.Int64Counter(
		"gojoheap.bufferpool.hits",
		metric.WithDescription("Pins served from a resident frame."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"gojoheap.bufferpool.misses",
		metric.WithDescription("Pins that had to claim a frame."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"gojoheap.bufferpool.evictions",
		metric.WithDescription("Valid pages evicted from the pool."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	writeBacks, err := meter.Int64Counter(
		"gojoheap.bufferpool.writebacks",
		metric.WithDescription("Dirty frames written back to disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	exhausted, err := meter.Int64Counter(
		"gojoheap.bufferpool.exhausted",
		metric.WithDescription("Requests refused because every frame was pinned."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pinned, err := meter.Int64UpDownCounter(
		"gojoheap.bufferpool.pinned_frames",
		metric.WithDescription("Number of frames with a non-zero pin count."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &BufferPoolMetrics{
		HitsCounter:        hits,
		MissesCounter:      misses,
		EvictionsCounter:   evictions,
		WriteBacksCounter:  writeBacks,
		ExhaustedCounter:   exhausted,
		PinnedFramesUpDown: pinned,
	}, nil
}

func (m *BufferPoolMetrics) RecordHit() {
	if m != nil {
		m.HitsCounter.Add(context.Background(), 1)
	}
}

func (m *BufferPoolMetrics) RecordMiss() {
	if m != nil {
		m.MissesCounter.Add(context.Background(), 1)
	}
}

func (m *BufferPoolMetrics) RecordEviction() {
	if m != nil {
		m.EvictionsCounter.Add(context.Background(), 1)
	}
}

func (m *BufferPoolMetrics) RecordWriteBack() {
	if m != nil {
		m.WriteBacksCounter.Add(context.Background(), 1)
	}
}

func (m *BufferPoolMetrics) RecordExhausted() {
	if m != nil {
		m.ExhaustedCounter.Add(context.Background(), 1)
	}
}

// PinnedDelta moves the pinned-frames gauge by delta.
func (m *BufferPoolMetrics) PinnedDelta(delta int64) {
	if m != nil {
		m.PinnedFramesUpDown.Add(context.Background(), delta)
	}
}
