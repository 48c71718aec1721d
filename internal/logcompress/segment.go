package logcompress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/szibis/edge-log-compressor/internal/compression"
)

// Segment is an item held by a StagingQueue.
type Segment interface {
	// Size is the number of bytes counted against the queue budgets.
	Size() int
	// Empty reports whether nothing has been written to the segment.
	Empty() bool
	// Seal freezes the segment before it becomes ready.
	Seal() error
}

// LogBuffer is a raw segment: formatted log records not yet compressed.
type LogBuffer struct {
	buf []byte
}

// NewLogBuffer returns an empty raw segment with room for capacity bytes.
func NewLogBuffer(capacity int) *LogBuffer {
	return &LogBuffer{buf: make([]byte, 0, capacity)}
}

// Append copies record into the segment.
func (b *LogBuffer) Append(record []byte) {
	b.buf = append(b.buf, record...)
}

// Bytes returns the accumulated records.
func (b *LogBuffer) Bytes() []byte { return b.buf }

func (b *LogBuffer) Size() int   { return len(b.buf) }
func (b *LogBuffer) Empty() bool { return len(b.buf) == 0 }
func (b *LogBuffer) Seal() error { return nil }

// EncoderFactory creates a streaming encoder writing to w.
type EncoderFactory func(w io.Writer) (io.WriteCloser, error)

var errCompressorSealed = errors.New("compressor already sealed")

// ActiveCompressor is a compressed segment: one codec session accumulating
// compressed output for a window of raw input.
type ActiveCompressor struct {
	out      bytes.Buffer
	enc      io.WriteCloser
	codec    compression.Type
	rawBytes int
	sealed   bool
	// inputs holds every raw write accepted by the session until Seal.
	inputs [][]byte
}

// NewActiveCompressor starts a codec session.
func NewActiveCompressor(codec compression.Type, factory EncoderFactory) (*ActiveCompressor, error) {
	c := &ActiveCompressor{codec: codec}
	enc, err := factory(&c.out)
	if err != nil {
		return nil, fmt.Errorf("start %s compressor: %w", codec, err)
	}
	c.enc = enc
	return c, nil
}

// Write feeds raw bytes to the codec.
func (c *ActiveCompressor) Write(p []byte) error {
	if c.sealed {
		return errCompressorSealed
	}
	if _, err := c.enc.Write(p); err != nil {
		return fmt.Errorf("%s write: %w", c.codec, err)
	}
	c.rawBytes += len(p)
	c.inputs = append(c.inputs, p)
	return nil
}

// Seal flushes codec state. After Seal, Bytes holds the finished stream.
func (c *ActiveCompressor) Seal() error {
	if c.sealed {
		return nil
	}
	c.sealed = true
	c.inputs = nil
	if err := c.enc.Close(); err != nil {
		return fmt.Errorf("%s finalize: %w", c.codec, err)
	}
	return nil
}

// Inputs returns the raw writes accepted since the session started. The
// slices are retained, not copied. Nil after Seal.
func (c *ActiveCompressor) Inputs() [][]byte { return c.inputs }

// Size is the compressed output produced so far.
func (c *ActiveCompressor) Size() int { return c.out.Len() }

// Empty reports whether no raw bytes were fed to the codec.
func (c *ActiveCompressor) Empty() bool { return c.rawBytes == 0 }

// RawSize is the number of uncompressed bytes consumed.
func (c *ActiveCompressor) RawSize() int { return c.rawBytes }

// Codec returns the codec of the session.
func (c *ActiveCompressor) Codec() compression.Type { return c.codec }

// Bytes returns the compressed output. Complete only after Seal.
func (c *ActiveCompressor) Bytes() []byte { return c.out.Bytes() }
