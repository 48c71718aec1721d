package compression

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	bytesInTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_log_compression_bytes_in_total",
		Help: "Uncompressed bytes written to compression encoders",
	}, []string{"codec"})

	bytesOutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_log_compression_bytes_out_total",
		Help: "Compressed bytes produced by compression encoders",
	}, []string{"codec"})
)

func init() {
	prometheus.MustRegister(bytesInTotal)
	prometheus.MustRegister(bytesOutTotal)
}

// countingEncoder records uncompressed bytes accepted by the codec.
type countingEncoder struct {
	enc   io.WriteCloser
	codec Type
}

func (c *countingEncoder) Write(p []byte) (int, error) {
	n, err := c.enc.Write(p)
	bytesInTotal.WithLabelValues(string(c.codec)).Add(float64(n))
	return n, err
}

func (c *countingEncoder) Close() error {
	return c.enc.Close()
}

func countOutput(w io.Writer, codec Type) io.Writer {
	return &countingWriter{w: w, counter: bytesOutTotal.WithLabelValues(string(codec))}
}

type countingWriter struct {
	w       io.Writer
	counter prometheus.Counter
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.counter.Add(float64(n))
	return n, err
}
