package logcompress

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

func newRawQueue(t *testing.T, size LogQueueSize) *StagingQueue[*LogBuffer] {
	t.Helper()
	q, err := NewStagingQueue("test_raw", size, func() (*LogBuffer, error) {
		return NewLogBuffer(0), nil
	})
	if err != nil {
		t.Fatalf("NewStagingQueue: %v", err)
	}
	return q
}

func pushRecord(t *testing.T, q *StagingQueue[*LogBuffer], record []byte) {
	t.Helper()
	if err := q.Push(len(record), func(b *LogBuffer) error {
		b.Append(record)
		return nil
	}); err != nil {
		t.Fatalf("Push: %v", err)
	}
}

func mustDequeue(t *testing.T, q *StagingQueue[*LogBuffer]) []byte {
	t.Helper()
	b, ok := q.TryDequeue(context.Background(), 0)
	if !ok {
		t.Fatal("expected a ready segment")
	}
	return b.Bytes()
}

func TestStagingQueue_RotatesBeforeExceedingSegmentSize(t *testing.T) {
	q := newRawQueue(t, LogQueueSize{MaxTotalSize: 1000, MaxSegmentSize: 100})
	record := bytes.Repeat([]byte("a"), 40)

	pushRecord(t, q, record)
	pushRecord(t, q, record)
	if q.Len() != 0 {
		t.Fatalf("expected no ready segment after 80 bytes, got %d", q.Len())
	}

	pushRecord(t, q, record)
	if q.Len() != 1 {
		t.Fatalf("expected 1 ready segment after 120 bytes, got %d", q.Len())
	}
	if q.ReadySize() != 80 {
		t.Errorf("expected sealed segment of 80 bytes, got %d", q.ReadySize())
	}
	if staged := q.Stats().StagedBytes; staged != 40 {
		t.Errorf("expected 40 staged bytes, got %d", staged)
	}
}

func TestStagingQueue_CommitIsIdempotent(t *testing.T) {
	q := newRawQueue(t, LogQueueSize{MaxTotalSize: 1000, MaxSegmentSize: 100})

	if err := q.Commit(); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 0 {
		t.Fatalf("commit on empty queue produced %d segments", q.Len())
	}

	pushRecord(t, q, []byte("hello"))
	if err := q.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := q.Commit(); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 ready segment, got %d", q.Len())
	}
	if commits := q.Stats().Commits; commits != 1 {
		t.Errorf("expected 1 commit, got %d", commits)
	}
}

func TestStagingQueue_EvictsOldestWhenOverBudget(t *testing.T) {
	q := newRawQueue(t, LogQueueSize{MaxTotalSize: 250, MaxSegmentSize: 100})

	for _, c := range []byte("abc") {
		pushRecord(t, q, bytes.Repeat([]byte{c}, 100))
		if q.ReadySize() > 250 {
			t.Fatalf("ready size %d exceeds budget", q.ReadySize())
		}
	}

	if q.Len() != 2 {
		t.Fatalf("expected 2 ready segments, got %d", q.Len())
	}
	stats := q.Stats()
	if stats.Evictions != 1 || stats.EvictedBytes != 100 {
		t.Errorf("expected 1 eviction of 100 bytes, got %d of %d", stats.Evictions, stats.EvictedBytes)
	}
	if got := mustDequeue(t, q); got[0] != 'b' {
		t.Errorf("expected oldest surviving segment 'b', got %q", got[0])
	}
	if got := mustDequeue(t, q); got[0] != 'c' {
		t.Errorf("expected segment 'c', got %q", got[0])
	}
}

func TestStagingQueue_OversizeRecordIsSoleOccupant(t *testing.T) {
	q := newRawQueue(t, LogQueueSize{MaxTotalSize: 250, MaxSegmentSize: 100})

	pushRecord(t, q, bytes.Repeat([]byte("a"), 100))
	pushRecord(t, q, bytes.Repeat([]byte("b"), 40))
	pushRecord(t, q, bytes.Repeat([]byte("c"), 300))

	if q.Len() != 1 {
		t.Fatalf("expected oversize segment alone, got %d segments", q.Len())
	}
	if q.ReadySize() != 300 {
		t.Errorf("expected ready size 300, got %d", q.ReadySize())
	}
	if got := mustDequeue(t, q); len(got) != 300 || got[0] != 'c' {
		t.Errorf("unexpected segment of %d bytes", len(got))
	}
	if staged := q.Stats().StagedBytes; staged != 0 {
		t.Errorf("expected nothing staged, got %d", staged)
	}
}

func TestStagingQueue_SegmentBoundaries(t *testing.T) {
	const maxSegment = 100
	q := newRawQueue(t, LogQueueSize{MaxTotalSize: 1 << 20, MaxSegmentSize: maxSegment})
	rng := rand.New(rand.NewSource(42))

	var want []byte
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(140)
		record := append(bytes.Repeat([]byte{byte('a' + i%26)}, n-1), '\n')
		want = append(want, record...)
		pushRecord(t, q, record)
	}
	if err := q.Commit(); err != nil {
		t.Fatal(err)
	}

	var got []byte
	for q.Len() > 0 {
		seg := mustDequeue(t, q)
		if len(seg) > maxSegment && bytes.Count(seg, []byte("\n")) != 1 {
			t.Errorf("segment of %d bytes holds %d records", len(seg), bytes.Count(seg, []byte("\n")))
		}
		if seg[len(seg)-1] != '\n' {
			t.Error("segment does not end on a record boundary")
		}
		got = append(got, seg...)
	}
	if !bytes.Equal(got, want) {
		t.Error("concatenated segments differ from submitted records")
	}
}

func TestStagingQueue_FIFO(t *testing.T) {
	q := newRawQueue(t, LogQueueSize{MaxTotalSize: 1000, MaxSegmentSize: 10})

	for _, r := range []string{"one", "two", "three"} {
		pushRecord(t, q, []byte(r))
		if err := q.Commit(); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		if got := string(mustDequeue(t, q)); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}

func TestStagingQueue_TryDequeueTimesOut(t *testing.T) {
	q := newRawQueue(t, LogQueueSize{MaxTotalSize: 1000, MaxSegmentSize: 100})

	start := time.Now()
	if _, ok := q.TryDequeue(context.Background(), 50*time.Millisecond); ok {
		t.Fatal("expected timeout on empty queue")
	}
	elapsed := time.Since(start)
	if elapsed < 40*time.Millisecond || elapsed > time.Second {
		t.Errorf("unexpected wait %v", elapsed)
	}

	start = time.Now()
	if _, ok := q.TryDequeue(context.Background(), 0); ok {
		t.Fatal("expected nothing with zero timeout")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("zero timeout waited %v", elapsed)
	}
}

func TestStagingQueue_TryDequeueWakesOnCommit(t *testing.T) {
	q := newRawQueue(t, LogQueueSize{MaxTotalSize: 1000, MaxSegmentSize: 100})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Push(5, func(b *LogBuffer) error {
			b.Append([]byte("ready"))
			return nil
		})
		_ = q.Commit()
	}()

	start := time.Now()
	b, ok := q.TryDequeue(context.Background(), 5*time.Second)
	if !ok {
		t.Fatal("expected a segment")
	}
	if string(b.Bytes()) != "ready" {
		t.Errorf("unexpected segment %q", b.Bytes())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("consumer was not woken promptly: %v", elapsed)
	}
}

func TestStagingQueue_ContextCancelUnblocks(t *testing.T) {
	q := newRawQueue(t, LogQueueSize{MaxTotalSize: 1000, MaxSegmentSize: 100})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if _, ok := q.TryDequeue(ctx, 5*time.Second); ok {
		t.Fatal("expected no segment")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancel did not unblock TryDequeue: %v", elapsed)
	}

	if q.Wait(ctx, 5*time.Second) {
		t.Error("Wait on cancelled context reported ready")
	}
}

func TestStagingQueue_Wait(t *testing.T) {
	q := newRawQueue(t, LogQueueSize{MaxTotalSize: 1000, MaxSegmentSize: 100})

	if q.Wait(context.Background(), 10*time.Millisecond) {
		t.Fatal("Wait on empty queue reported ready")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Push(1, func(b *LogBuffer) error {
			b.Append([]byte("x"))
			return nil
		})
		_ = q.Commit()
	}()
	if !q.Wait(context.Background(), 5*time.Second) {
		t.Fatal("Wait did not observe the commit")
	}
	if q.Len() != 1 {
		t.Errorf("Wait must not consume; Len = %d", q.Len())
	}
}

func TestStagingQueue_ModifyErrorDiscardsStagedSegment(t *testing.T) {
	q := newRawQueue(t, LogQueueSize{MaxTotalSize: 1000, MaxSegmentSize: 100})
	pushRecord(t, q, []byte("partial"))

	boom := errors.New("boom")
	err := q.Modify(func(b *LogBuffer) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if staged := q.Stats().StagedBytes; staged != 0 {
		t.Errorf("expected staged segment to be discarded, %d bytes left", staged)
	}
	if err := q.Commit(); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 0 {
		t.Errorf("expected nothing to commit, got %d", q.Len())
	}
}

func TestStagingQueue_NewItemError(t *testing.T) {
	want := errors.New("no codec")
	q, err := NewStagingQueue("test_raw", LogQueueSize{MaxTotalSize: 10, MaxSegmentSize: 10}, func() (*LogBuffer, error) {
		return nil, want
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Push(1, func(*LogBuffer) error { return nil }); !errors.Is(err, want) {
		t.Errorf("expected new item error, got %v", err)
	}
}

func TestStagingQueue_InvalidSize(t *testing.T) {
	_, err := NewStagingQueue("test_raw", LogQueueSize{MaxTotalSize: 10, MaxSegmentSize: 20}, func() (*LogBuffer, error) {
		return NewLogBuffer(0), nil
	})
	if !errors.Is(err, ErrInvalidQueueSize) {
		t.Errorf("expected ErrInvalidQueueSize, got %v", err)
	}
}

func TestStagingQueue_Reset(t *testing.T) {
	q := newRawQueue(t, LogQueueSize{MaxTotalSize: 1000, MaxSegmentSize: 10})
	pushRecord(t, q, bytes.Repeat([]byte("a"), 10))
	pushRecord(t, q, []byte("b"))

	q.Reset()

	stats := q.Stats()
	if stats.ReadySegments != 0 || stats.ReadyBytes != 0 || stats.StagedBytes != 0 {
		t.Errorf("expected empty queue after Reset, got %+v", stats)
	}
}

type sealCounter struct {
	data  []byte
	seals int
}

func (s *sealCounter) Size() int   { return len(s.data) }
func (s *sealCounter) Empty() bool { return len(s.data) == 0 }
func (s *sealCounter) Seal() error { s.seals++; return nil }

func TestStagingQueue_ResetSealsStagedWithoutCommit(t *testing.T) {
	var staged *sealCounter
	q, err := NewStagingQueue("test_reset", LogQueueSize{MaxTotalSize: 1000, MaxSegmentSize: 100}, func() (*sealCounter, error) {
		staged = &sealCounter{}
		return staged, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Modify(func(s *sealCounter) error {
		s.data = append(s.data, "pending"...)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	q.Reset()

	if staged.seals != 1 {
		t.Errorf("expected staged segment sealed once, got %d", staged.seals)
	}
	stats := q.Stats()
	if stats.Commits != 0 || stats.ReadySegments != 0 || stats.StagedBytes != 0 {
		t.Errorf("expected nothing committed or staged after Reset, got %+v", stats)
	}
}
