// Package compression provides the pluggable codecs used to compress log segments.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrUnsupportedType is returned for an unknown compression type.
var ErrUnsupportedType = errors.New("unsupported compression type")

// Type represents a compression algorithm.
type Type string

const (
	// TypeNone means no compression.
	TypeNone Type = "none"
	// TypeGzip uses gzip compression.
	TypeGzip Type = "gzip"
	// TypeZstd uses zstd compression.
	TypeZstd Type = "zstd"
	// TypeSnappy uses the framed snappy stream format.
	TypeSnappy Type = "snappy"
	// TypeZlib uses zlib compression.
	TypeZlib Type = "zlib"
	// TypeDeflate uses raw deflate compression.
	TypeDeflate Type = "deflate"
	// TypeLZ4 uses the lz4 frame format.
	TypeLZ4 Type = "lz4"
)

// Level represents compression level settings.
type Level int

// Common compression levels (algorithm-specific mappings).
const (
	// LevelDefault uses the default compression level for the algorithm.
	LevelDefault Level = 0
	// LevelFastest uses the fastest compression (lowest ratio).
	LevelFastest Level = 1
	// LevelBest uses the best compression (highest ratio).
	LevelBest Level = 9
)

// zstd levels
const (
	ZstdSpeedFastest           Level = 1
	ZstdSpeedDefault           Level = 3
	ZstdSpeedBetterCompression Level = 6
	ZstdSpeedBestCompression   Level = 11
)

// Config holds compression configuration.
type Config struct {
	// Type is the compression algorithm to use.
	Type Type
	// Level is the compression level (algorithm-specific).
	Level Level
}

// ParseType parses a compression type string.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TypeNone, nil
	case "gzip":
		return TypeGzip, nil
	case "zstd":
		return TypeZstd, nil
	case "snappy":
		return TypeSnappy, nil
	case "zlib":
		return TypeZlib, nil
	case "deflate":
		return TypeDeflate, nil
	case "lz4":
		return TypeLZ4, nil
	default:
		return TypeNone, fmt.Errorf("%w: %s", ErrUnsupportedType, s)
	}
}

// ContentEncoding returns the HTTP Content-Encoding header value for the compression type.
func (t Type) ContentEncoding() string {
	switch t {
	case TypeGzip:
		return "gzip"
	case TypeZstd:
		return "zstd"
	case TypeSnappy:
		return "x-snappy-framed"
	case TypeZlib:
		return "zlib"
	case TypeDeflate:
		return "deflate"
	case TypeLZ4:
		return "lz4"
	default:
		return ""
	}
}

// NewEncoder returns a streaming encoder that writes compressed output to w.
// The stream is complete only after Close returns.
func NewEncoder(w io.Writer, cfg Config) (io.WriteCloser, error) {
	var enc io.WriteCloser
	var err error

	if cfg.Type == "" {
		cfg.Type = TypeNone
	}
	w = countOutput(w, cfg.Type)

	switch cfg.Type {
	case TypeNone:
		enc = nopCloser{w}
	case TypeGzip:
		enc, err = gzip.NewWriterLevel(w, gzipLevel(cfg.Level))
	case TypeZstd:
		enc, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(cfg.Level)))
	case TypeSnappy:
		enc = snappy.NewBufferedWriter(w)
	case TypeZlib:
		enc, err = zlib.NewWriterLevel(w, gzipLevel(cfg.Level))
	case TypeDeflate:
		enc, err = flate.NewWriter(w, gzipLevel(cfg.Level))
	case TypeLZ4:
		lw := lz4.NewWriter(w)
		if cfg.Level != LevelDefault {
			err = lw.Apply(lz4.CompressionLevelOption(lz4Level(cfg.Level)))
		}
		enc = lw
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s encoder: %w", cfg.Type, err)
	}
	return &countingEncoder{enc: enc, codec: cfg.Type}, nil
}

// NewDecoder returns a reader that decompresses r.
func NewDecoder(r io.Reader, t Type) (io.ReadCloser, error) {
	switch t {
	case TypeNone, "":
		return io.NopCloser(r), nil
	case TypeGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gr, nil
	case TypeZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		return dec.IOReadCloser(), nil
	case TypeSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case TypeZlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib reader: %w", err)
		}
		return zr, nil
	case TypeDeflate:
		return flate.NewReader(r), nil
	case TypeLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
}

// Decompress decompresses data using the specified compression type.
func Decompress(data []byte, compressionType Type) ([]byte, error) {
	if compressionType == TypeNone || compressionType == "" {
		return data, nil
	}
	dec, err := NewDecoder(bytes.NewReader(data), compressionType)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s data: %w", compressionType, err)
	}
	return out, nil
}

func gzipLevel(level Level) int {
	if level == LevelDefault {
		return gzip.DefaultCompression
	}
	return int(level)
}

func zstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case ZstdSpeedFastest:
		return zstd.SpeedFastest
	case ZstdSpeedBetterCompression:
		return zstd.SpeedBetterCompression
	case ZstdSpeedBestCompression:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func lz4Level(level Level) lz4.CompressionLevel {
	switch {
	case level <= LevelFastest:
		return lz4.Fast
	case level == 2:
		return lz4.Level2
	case level == 3:
		return lz4.Level3
	case level == 4:
		return lz4.Level4
	case level == 5:
		return lz4.Level5
	case level == 6:
		return lz4.Level6
	case level == 7:
		return lz4.Level7
	case level == 8:
		return lz4.Level8
	default:
		return lz4.Level9
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
