package logcompress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/szibis/edge-log-compressor/internal/compression"
	"github.com/szibis/edge-log-compressor/internal/logging"
)

// ErrClosed is returned by operations on a closed Sink.
var ErrClosed = errors.New("log compression sink closed")

const (
	rawQueueName        = "raw"
	compressedQueueName = "compressed"

	defaultIdleWait = time.Second

	// maxRawPrealloc caps the initial allocation of a raw segment.
	maxRawPrealloc = 64 * 1024
)

type compressionResult int

const (
	compressionSuccess compressionResult = iota
	nothingToCompress
)

func (r compressionResult) String() string {
	if r == compressionSuccess {
		return "success"
	}
	return "nothing_to_compress"
}

// Content is one finished compressed segment.
type Content struct {
	*bytes.Reader
	// Codec is the codec that produced the stream.
	Codec compression.Type
	// RawSize is the number of uncompressed bytes in the stream.
	RawSize int
}

// Stats is a point-in-time snapshot of a Sink.
type Stats struct {
	Codec           compression.Type `json:"codec"`
	Records         uint64           `json:"records"`
	RecordBytes     uint64           `json:"record_bytes"`
	SegmentFailures uint64           `json:"segment_failures"`
	Raw             QueueStats       `json:"raw"`
	Compressed      QueueStats       `json:"compressed"`
	Closed          bool             `json:"closed"`
}

// Option configures a Sink.
type Option func(*Sink)

// WithCompression selects the codec used for compressed segments.
func WithCompression(cfg compression.Config) Option {
	return func(s *Sink) {
		s.codec = cfg.Type
		s.newEncoder = func(w io.Writer) (io.WriteCloser, error) {
			return compression.NewEncoder(w, cfg)
		}
	}
}

// WithEncoderFactory installs a custom encoder for codec.
func WithEncoderFactory(codec compression.Type, factory EncoderFactory) Option {
	return func(s *Sink) {
		s.codec = codec
		s.newEncoder = factory
	}
}

// WithIdleWait bounds how long the worker waits for a sealed raw segment
// before re-checking its state. Seals wake the worker earlier.
func WithIdleWait(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.idleWait = d
		}
	}
}

// Sink captures formatted log records, compresses them in the background and
// hands out finished compressed segments. It implements logging.Sink.
type Sink struct {
	logger     *logging.Logger
	codec      compression.Type
	newEncoder EncoderFactory
	idleWait   time.Duration

	raw        *StagingQueue[*LogBuffer]
	compressed *StagingQueue[*ActiveCompressor]

	// compressMu serializes dequeue-and-compress steps between the worker and
	// forced flushes, so a flush always seals everything consumed before it.
	compressMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	records         atomic.Uint64
	recordBytes     atomic.Uint64
	segmentFailures atomic.Uint64
}

var _ logging.Sink = (*Sink)(nil)

// New creates a Sink and starts its compression worker. cacheSize bounds the
// raw queue, compressedSize bounds the compressed queue. logger receives the
// sink's own diagnostics and must not have this sink attached.
func New(cacheSize, compressedSize LogQueueSize, logger *logging.Logger, opts ...Option) (*Sink, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Sink{
		logger:   logger,
		idleWait: defaultIdleWait,
		done:     make(chan struct{}),
	}
	WithCompression(compression.Config{Type: compression.TypeGzip})(s)
	for _, opt := range opts {
		opt(s)
	}

	// Fail construction on a codec that cannot start rather than on the first segment.
	probe, err := NewActiveCompressor(s.codec, s.newEncoder)
	if err != nil {
		return nil, err
	}
	_ = probe.Seal()

	rawPrealloc := min(cacheSize.MaxSegmentSize, maxRawPrealloc)
	s.raw, err = NewStagingQueue(rawQueueName, cacheSize, func() (*LogBuffer, error) {
		return NewLogBuffer(rawPrealloc), nil
	})
	if err != nil {
		return nil, err
	}
	s.compressed, err = NewStagingQueue(compressedQueueName, compressedSize, func() (*ActiveCompressor, error) {
		return NewActiveCompressor(s.codec, s.newEncoder)
	})
	if err != nil {
		return nil, err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.run()
	return s, nil
}

// Submit buffers one formatted log record. It never blocks on compression
// or retrieval and is a no-op after Close.
func (s *Sink) Submit(record []byte) {
	if len(record) == 0 || s.closed.Load() {
		return
	}
	// Appending to a LogBuffer cannot fail.
	_ = s.raw.Push(len(record), func(b *LogBuffer) error {
		b.Append(record)
		return nil
	})
	s.records.Add(1)
	s.recordBytes.Add(uint64(len(record)))
	sinkRecordsTotal.Inc()
	sinkRecordBytesTotal.Add(float64(len(record)))
}

// Flush seals the current raw segment so the worker compresses it.
func (s *Sink) Flush() {
	if s.closed.Load() {
		return
	}
	_ = s.raw.Commit()
}

// GetContent returns the oldest finished compressed segment, waiting up to
// wait for one. With flush set, everything submitted so far is sealed and
// compressed first. It returns nil when nothing became available.
func (s *Sink) GetContent(ctx context.Context, wait time.Duration, flush bool) *Content {
	if s.closed.Load() {
		sinkRetrievalsTotal.WithLabelValues("empty").Inc()
		return nil
	}
	if flush {
		_ = s.raw.Commit()
		s.compress(true)
	}
	c, ok := s.compressed.TryDequeue(ctx, wait)
	if !ok {
		sinkRetrievalsTotal.WithLabelValues("empty").Inc()
		return nil
	}
	sinkRetrievalsTotal.WithLabelValues("content").Inc()
	return &Content{
		Reader:  bytes.NewReader(c.Bytes()),
		Codec:   c.Codec(),
		RawSize: c.RawSize(),
	}
}

// Codec returns the codec used for compressed segments.
func (s *Sink) Codec() compression.Type {
	return s.codec
}

// Stats returns a snapshot of the sink's counters and queues.
func (s *Sink) Stats() Stats {
	return Stats{
		Codec:           s.codec,
		Records:         s.records.Load(),
		RecordBytes:     s.recordBytes.Load(),
		SegmentFailures: s.segmentFailures.Load(),
		Raw:             s.raw.Stats(),
		Compressed:      s.compressed.Stats(),
		Closed:          s.closed.Load(),
	}
}

// Ready returns ErrClosed once the sink has been closed.
func (s *Sink) Ready() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close stops the worker, waits for it to exit and releases both queues.
// It is safe to call more than once.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		<-s.done
		s.raw.Reset()
		s.compressed.Reset()
		s.logger.Debug("log compression sink closed", logging.F("codec", string(s.codec)))
	})
	return nil
}

func (s *Sink) run() {
	defer close(s.done)

	for {
		if s.ctx.Err() != nil {
			return
		}
		if !s.raw.Wait(s.ctx, s.idleWait) {
			sinkCompressRunsTotal.WithLabelValues(nothingToCompress.String()).Inc()
			continue
		}
		s.compress(false)
	}
}

// compress drains the raw segments that are ready when it starts into the
// active compressor. With force set the active compressor is sealed
// afterwards even below its segment size.
func (s *Sink) compress(force bool) compressionResult {
	s.compressMu.Lock()
	defer s.compressMu.Unlock()

	evictionsBefore := s.compressed.Stats().Evictions
	result := nothingToCompress

	for pending := s.raw.Len(); pending > 0; pending-- {
		buf, ok := s.raw.TryDequeue(s.ctx, 0)
		if !ok {
			break
		}
		result = compressionSuccess
		s.writeSegment(buf.Bytes())
	}

	if force {
		if err := s.compressed.Commit(); err != nil {
			s.segmentFailed(err, 0)
		}
	}

	if evicted := s.compressed.Stats().Evictions - evictionsBefore; evicted > 0 {
		s.logger.Debug("evicted compressed log segments", logging.F("count", evicted))
	}
	sinkCompressRunsTotal.WithLabelValues(result.String()).Inc()
	return result
}

// writeSegment feeds one raw segment to the active compressor. A codec
// failure drops only p: the segments already written into the failed session
// are replayed into a fresh one. Must be called with s.compressMu held.
func (s *Sink) writeSegment(p []byte) {
	var replay [][]byte
	err := s.compressed.Modify(func(c *ActiveCompressor) error {
		if err := c.Write(p); err != nil {
			replay = c.Inputs()
			return err
		}
		return nil
	})
	if err == nil {
		return
	}
	s.segmentFailed(err, len(p))

	for _, prev := range replay {
		if err := s.compressed.Modify(func(c *ActiveCompressor) error {
			return c.Write(prev)
		}); err != nil {
			s.segmentFailed(err, len(prev))
		}
	}
	if len(replay) > 0 {
		s.logger.Debug("replayed raw log segments after compression failure", logging.F(
			"segments", len(replay),
			"codec", string(s.codec),
		))
	}
}

func (s *Sink) segmentFailed(err error, rawBytes int) {
	s.segmentFailures.Add(1)
	sinkSegmentFailuresTotal.Inc()
	s.logger.Error("dropping log segment after compression failure", logging.F(
		"error", fmt.Sprint(err),
		"codec", string(s.codec),
		"raw_bytes", rawBytes,
	))
}
