package memgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordSearch is called after each search round. kind is the round
	// kind ("sweep", "continue", "compare"), found the number of hits.
	RecordSearch(kind string, found int64, duration time.Duration, err error)

	// RecordCapture is called after each capture with the bytes captured.
	RecordCapture(bytes int64, duration time.Duration, err error)

	// RecordWrite is called after each memory patch with the number of
	// addresses written.
	RecordWrite(count int, duration time.Duration, err error)

	// RecordWalk is called after each signature refresh.
	RecordWalk(candidates int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSearch(string, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordCapture(int64, time.Duration, error)        {}
func (NoopMetricsCollector) RecordWrite(int, time.Duration, error)            {}
func (NoopMetricsCollector) RecordWalk(int, time.Duration, error)             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchHits       atomic.Int64
	SearchTotalNanos atomic.Int64
	CaptureCount     atomic.Int64
	CaptureErrors    atomic.Int64
	CaptureBytes     atomic.Int64
	WriteCount       atomic.Int64
	WriteErrors      atomic.Int64
	WriteAddresses   atomic.Int64
	WalkCount        atomic.Int64
	WalkErrors       atomic.Int64
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ string, found int64, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
		return
	}
	b.SearchHits.Add(found)
}

// RecordCapture implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCapture(bytes int64, _ time.Duration, err error) {
	b.CaptureCount.Add(1)
	if err != nil {
		b.CaptureErrors.Add(1)
		return
	}
	b.CaptureBytes.Add(bytes)
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(count int, _ time.Duration, err error) {
	b.WriteCount.Add(1)
	b.WriteAddresses.Add(int64(count))
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// RecordWalk implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWalk(_ int, _ time.Duration, err error) {
	b.WalkCount.Add(1)
	if err != nil {
		b.WalkErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchHits:     b.SearchHits.Load(),
		SearchAvgNanos: b.getAvgSearchNanos(),
		CaptureCount:   b.CaptureCount.Load(),
		CaptureErrors:  b.CaptureErrors.Load(),
		CaptureBytes:   b.CaptureBytes.Load(),
		WriteCount:     b.WriteCount.Load(),
		WriteErrors:    b.WriteErrors.Load(),
		WriteAddresses: b.WriteAddresses.Load(),
		WalkCount:      b.WalkCount.Load(),
		WalkErrors:     b.WalkErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SearchCount    int64
	SearchErrors   int64
	SearchHits     int64
	SearchAvgNanos int64
	CaptureCount   int64
	CaptureErrors  int64
	CaptureBytes   int64
	WriteCount     int64
	WriteErrors    int64
	WriteAddresses int64
	WalkCount      int64
	WalkErrors     int64
}
