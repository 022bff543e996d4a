// Package metrics holds the OpenTelemetry metric instruments the storage
// engine and lock manager report to, registered the way
// internal/telemetry/grpc_metric.go registered gRPC gateway instruments:
// one constructor per family, each instrument created once against a
// metric.Meter and returned in a struct of typed handles.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StorageMetrics holds the buffer pool and B+ tree instruments.
type StorageMetrics struct {
	meter metric.Meter

	bufferHits      metric.Int64Counter
	bufferMisses    metric.Int64Counter
	bufferEvictions metric.Int64Counter
	bufferFlushes   metric.Int64Counter
	pagesInUse      metric.Int64UpDownCounter
}

// NewStorageMetrics creates and registers the buffer pool instruments.
func NewStorageMetrics(meter metric.Meter) (*StorageMetrics, error) {
	hits, err := meter.Int64Counter(
		"gojodb.buffer_pool.hits_total",
		metric.WithDescription("Total buffer pool fetches served from a resident frame."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	misses, err := meter.Int64Counter(
		"gojodb.buffer_pool.misses_total",
		metric.WithDescription("Total buffer pool fetches that required a disk read."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	evictions, err := meter.Int64Counter(
		"gojodb.buffer_pool.evictions_total",
		metric.WithDescription("Total frames evicted by the LRU-K replacer."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	flushes, err := meter.Int64Counter(
		"gojodb.buffer_pool.flushes_total",
		metric.WithDescription("Total dirty pages flushed to disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	inUse, err := meter.Int64UpDownCounter(
		"gojodb.buffer_pool.pages_in_use",
		metric.WithDescription("Frames currently holding a pinned or dirty page."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &StorageMetrics{
		meter:           meter,
		bufferHits:      hits,
		bufferMisses:    misses,
		bufferEvictions: evictions,
		bufferFlushes:   flushes,
		pagesInUse:      inUse,
	}, nil
}

func (m *StorageMetrics) RecordHit(ctx context.Context)   { m.bufferHits.Add(ctx, 1) }
func (m *StorageMetrics) RecordMiss(ctx context.Context)  { m.bufferMisses.Add(ctx, 1) }
func (m *StorageMetrics) RecordEvict(ctx context.Context) { m.bufferEvictions.Add(ctx, 1) }
func (m *StorageMetrics) RecordFlush(ctx context.Context) { m.bufferFlushes.Add(ctx, 1) }
func (m *StorageMetrics) AdjustPagesInUse(ctx context.Context, delta int64) {
	m.pagesInUse.Add(ctx, delta)
}

// LockMetrics holds the lock manager's wait-time and deadlock instruments.
type LockMetrics struct {
	lockWaitLatency metric.Float64Histogram
	deadlockVictims metric.Int64Counter
	abortsByReason  metric.Int64Counter
}

// NewLockMetrics creates and registers the lock manager instruments.
func NewLockMetrics(meter metric.Meter) (*LockMetrics, error) {
	waitLatency, err := meter.Float64Histogram(
		"gojodb.lock_manager.wait_duration_ms",
		metric.WithDescription("Time a lock request spent queued before being granted."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	deadlocks, err := meter.Int64Counter(
		"gojodb.lock_manager.deadlock_victims_total",
		metric.WithDescription("Total transactions aborted by the cycle detector."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	aborts, err := meter.Int64Counter(
		"gojodb.lock_manager.aborts_total",
		metric.WithDescription("Total transactions aborted by a lock pre-check, labeled by reason."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &LockMetrics{
		lockWaitLatency: waitLatency,
		deadlockVictims: deadlocks,
		abortsByReason:  aborts,
	}, nil
}

func (m *LockMetrics) RecordWait(ctx context.Context, ms float64) {
	m.lockWaitLatency.Record(ctx, ms)
}

func (m *LockMetrics) RecordDeadlockVictim(ctx context.Context) {
	m.deadlockVictims.Add(ctx, 1)
}

func (m *LockMetrics) RecordAbort(ctx context.Context, reason string) {
	m.abortsByReason.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}
