package logcompress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StagingQueue holds one segment being written (the staging slot) and a FIFO
// of sealed segments visible to the consumer (the ready list).
//
// The staging slot and the ready list have separate locks so that a consumer
// waiting on or dequeuing ready segments never contends with a producer that
// is filling the staging segment. Lock order is staging then ready.
type StagingQueue[T Segment] struct {
	name    string
	size    LogQueueSize
	newItem func() (T, error)

	stagingMu  sync.Mutex
	staging    T
	hasStaging bool

	readyMu   sync.Mutex
	ready     []T
	readySize int
	// readyCh is closed and replaced each time a segment is admitted, waking
	// every waiting consumer.
	readyCh chan struct{}

	commits      atomic.Uint64
	evictions    atomic.Uint64
	evictedBytes atomic.Uint64

	readySegmentsGauge prometheus.Gauge
	readyBytesGauge    prometheus.Gauge
	commitsCounter     prometheus.Counter
	evictionsCounter   prometheus.Counter
	evictedBytesCount  prometheus.Counter
}

// QueueStats is a point-in-time snapshot of a StagingQueue.
type QueueStats struct {
	ReadySegments int    `json:"ready_segments"`
	ReadyBytes    int    `json:"ready_bytes"`
	StagedBytes   int    `json:"staged_bytes"`
	Commits       uint64 `json:"commits"`
	Evictions     uint64 `json:"evictions"`
	EvictedBytes  uint64 `json:"evicted_bytes"`
}

// NewStagingQueue creates a queue named name (used as a metrics label).
// newItem is called lazily whenever the staging slot is empty and a producer
// writes to it.
func NewStagingQueue[T Segment](name string, size LogQueueSize, newItem func() (T, error)) (*StagingQueue[T], error) {
	if err := size.Validate(); err != nil {
		return nil, fmt.Errorf("%s queue: %w", name, err)
	}
	return &StagingQueue[T]{
		name:               name,
		size:               size,
		newItem:            newItem,
		readyCh:            make(chan struct{}),
		readySegmentsGauge: stagingReadySegments.WithLabelValues(name),
		readyBytesGauge:    stagingReadyBytes.WithLabelValues(name),
		commitsCounter:     stagingCommitsTotal.WithLabelValues(name),
		evictionsCounter:   stagingEvictionsTotal.WithLabelValues(name),
		evictedBytesCount:  stagingEvictedBytesTotal.WithLabelValues(name),
	}, nil
}

// Push writes n bytes to the staging segment through fn. If the staged
// segment is non-empty and adding n bytes would exceed the segment size, it
// is sealed first so fn starts a fresh segment.
func (q *StagingQueue[T]) Push(n int, fn func(T) error) error {
	q.stagingMu.Lock()
	defer q.stagingMu.Unlock()

	if q.hasStaging && !q.staging.Empty() && q.staging.Size()+n > q.size.MaxSegmentSize {
		if err := q.commitLocked(); err != nil {
			return err
		}
	}
	return q.modifyLocked(fn)
}

// Modify applies fn to the staging segment and seals it once it reaches the
// segment size. If fn fails the staged segment is discarded, since its
// contents can no longer be trusted.
func (q *StagingQueue[T]) Modify(fn func(T) error) error {
	q.stagingMu.Lock()
	defer q.stagingMu.Unlock()
	return q.modifyLocked(fn)
}

func (q *StagingQueue[T]) modifyLocked(fn func(T) error) error {
	if !q.hasStaging {
		item, err := q.newItem()
		if err != nil {
			return fmt.Errorf("%s queue: new segment: %w", q.name, err)
		}
		q.staging = item
		q.hasStaging = true
	}
	if err := fn(q.staging); err != nil {
		// Release codec resources; the output is dropped either way.
		_ = q.staging.Seal()
		q.discardLocked()
		return err
	}
	if q.staging.Size() >= q.size.MaxSegmentSize {
		return q.commitLocked()
	}
	return nil
}

// Commit seals the staging segment and makes it ready even if it is below the
// segment size. It is a no-op when nothing is staged.
func (q *StagingQueue[T]) Commit() error {
	q.stagingMu.Lock()
	defer q.stagingMu.Unlock()
	return q.commitLocked()
}

// commitLocked must be called with q.stagingMu held.
func (q *StagingQueue[T]) commitLocked() error {
	if !q.hasStaging || q.staging.Empty() {
		return nil
	}
	item := q.staging
	q.discardLocked()
	if err := item.Seal(); err != nil {
		return fmt.Errorf("%s queue: seal segment: %w", q.name, err)
	}
	q.admit(item)
	return nil
}

// discardLocked must be called with q.stagingMu held.
func (q *StagingQueue[T]) discardLocked() {
	var zero T
	q.staging = zero
	q.hasStaging = false
}

// admit appends a sealed item to the ready list, evicting the oldest ready
// items until the total budget holds. An item larger than the whole budget is
// still admitted and ends up as the only ready item.
func (q *StagingQueue[T]) admit(item T) {
	size := item.Size()

	q.readyMu.Lock()
	for len(q.ready) > 0 && q.readySize+size > q.size.MaxTotalSize {
		q.evictOldestLocked()
	}
	q.ready = append(q.ready, item)
	q.readySize += size
	q.signalLocked()
	q.readyMu.Unlock()

	q.commits.Add(1)
	q.commitsCounter.Inc()
}

// evictOldestLocked must be called with q.readyMu held.
func (q *StagingQueue[T]) evictOldestLocked() {
	var zero T
	evicted := q.ready[0]
	q.ready[0] = zero // allow GC to collect the segment
	q.ready = q.ready[1:]
	size := evicted.Size()
	q.readySize -= size

	q.evictions.Add(1)
	q.evictedBytes.Add(uint64(size))
	q.evictionsCounter.Inc()
	q.evictedBytesCount.Add(float64(size))
}

// signalLocked must be called with q.readyMu held.
func (q *StagingQueue[T]) signalLocked() {
	close(q.readyCh)
	q.readyCh = make(chan struct{})
	q.updateGaugesLocked()
}

// updateGaugesLocked must be called with q.readyMu held.
func (q *StagingQueue[T]) updateGaugesLocked() {
	q.readySegmentsGauge.Set(float64(len(q.ready)))
	q.readyBytesGauge.Set(float64(q.readySize))
}

// tryPop removes the oldest ready item without waiting.
func (q *StagingQueue[T]) tryPop() (T, bool) {
	q.readyMu.Lock()
	defer q.readyMu.Unlock()

	var zero T
	if len(q.ready) == 0 {
		return zero, false
	}
	item := q.ready[0]
	q.ready[0] = zero
	q.ready = q.ready[1:]
	q.readySize -= item.Size()
	q.maybeCompactLocked()
	q.updateGaugesLocked()
	return item, true
}

// maybeCompactLocked compacts the slice if capacity is significantly larger than length.
// Must be called with q.readyMu held.
func (q *StagingQueue[T]) maybeCompactLocked() {
	if cap(q.ready) > 64 && cap(q.ready) > 2*len(q.ready)+16 {
		compacted := make([]T, len(q.ready))
		copy(compacted, q.ready)
		q.ready = compacted
	}
}

// readySignal returns the channel closed on the next ready-list change, or
// nil if items are already ready.
func (q *StagingQueue[T]) readySignal() <-chan struct{} {
	q.readyMu.Lock()
	defer q.readyMu.Unlock()
	if len(q.ready) > 0 {
		return nil
	}
	return q.readyCh
}

// TryDequeue removes and returns the oldest ready segment, waiting up to
// timeout for one to become ready. It returns false on timeout or when ctx is
// done. A zero timeout never waits.
func (q *StagingQueue[T]) TryDequeue(ctx context.Context, timeout time.Duration) (T, bool) {
	if item, ok := q.tryPop(); ok || timeout <= 0 {
		return item, ok
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if item, ok := q.tryPop(); ok {
			return item, true
		}
		signal := q.readySignal()
		if signal == nil {
			continue
		}
		select {
		case <-signal:
		case <-timer.C:
			return q.tryPop()
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// Wait blocks until at least one segment is ready, timeout elapses or ctx is
// done. It reports whether a segment is ready.
func (q *StagingQueue[T]) Wait(ctx context.Context, timeout time.Duration) bool {
	signal := q.readySignal()
	if signal == nil {
		return true
	}
	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-signal:
		case <-timer.C:
			return q.readySignal() == nil
		case <-ctx.Done():
			return false
		}
		if signal = q.readySignal(); signal == nil {
			return true
		}
	}
}

// Len returns the number of ready segments.
func (q *StagingQueue[T]) Len() int {
	q.readyMu.Lock()
	defer q.readyMu.Unlock()
	return len(q.ready)
}

// ReadySize returns the total bytes of ready segments.
func (q *StagingQueue[T]) ReadySize() int {
	q.readyMu.Lock()
	defer q.readyMu.Unlock()
	return q.readySize
}

// Stats returns a snapshot of the queue.
func (q *StagingQueue[T]) Stats() QueueStats {
	q.stagingMu.Lock()
	staged := 0
	if q.hasStaging {
		staged = q.staging.Size()
	}
	q.stagingMu.Unlock()

	q.readyMu.Lock()
	s := QueueStats{
		ReadySegments: len(q.ready),
		ReadyBytes:    q.readySize,
		StagedBytes:   staged,
	}
	q.readyMu.Unlock()

	s.Commits = q.commits.Load()
	s.Evictions = q.evictions.Load()
	s.EvictedBytes = q.evictedBytes.Load()
	return s
}

// Reset drops the staging segment and every ready segment. The staged
// segment is sealed to release its resources but never becomes ready.
func (q *StagingQueue[T]) Reset() {
	q.stagingMu.Lock()
	if q.hasStaging {
		_ = q.staging.Seal()
	}
	q.discardLocked()
	q.stagingMu.Unlock()

	q.readyMu.Lock()
	q.ready = nil
	q.readySize = 0
	q.signalLocked()
	q.readyMu.Unlock()
}
