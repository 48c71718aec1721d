package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/szibis/edge-log-compressor/internal/compression"
	"github.com/szibis/edge-log-compressor/internal/logcompress"
	"github.com/szibis/edge-log-compressor/internal/logging"
)

type call struct {
	wait  time.Duration
	flush bool
}

type fakeSource struct {
	mu      sync.Mutex
	calls   []call
	content *logcompress.Content
	stats   logcompress.Stats
}

func (f *fakeSource) GetContent(_ context.Context, wait time.Duration, flush bool) *logcompress.Content {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{wait, flush})
	c := f.content
	f.content = nil
	return c
}

func (f *fakeSource) Stats() logcompress.Stats {
	return f.stats
}

func (f *fakeSource) lastCall(t *testing.T) call {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("GetContent was not called")
	}
	return f.calls[len(f.calls)-1]
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestLogsWaitAndFlushParameters(t *testing.T) {
	cfg := Config{DefaultWait: 2 * time.Second, MaxWait: 10 * time.Second}
	tests := []struct {
		query     string
		wantWait  time.Duration
		wantFlush bool
	}{
		{"", 2 * time.Second, false},
		{"?wait=500ms", 500 * time.Millisecond, false},
		{"?wait=3", 3 * time.Second, false},
		{"?wait=0&flush=true", 0, true},
		{"?flush=1", 2 * time.Second, true},
		{"?wait=1h", 10 * time.Second, false},
		{"?wait=60&flush=false", 10 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			src := &fakeSource{}
			h := NewHandler(src, nil, cfg, nil)

			rec := serve(h, http.MethodGet, LogsPath+tt.query)
			if rec.Code != http.StatusNoContent {
				t.Fatalf("expected 204, got %d", rec.Code)
			}
			got := src.lastCall(t)
			if got.wait != tt.wantWait || got.flush != tt.wantFlush {
				t.Errorf("GetContent(wait=%v, flush=%v), want (%v, %v)", got.wait, got.flush, tt.wantWait, tt.wantFlush)
			}
		})
	}
}

func TestLogsBadParameters(t *testing.T) {
	for _, query := range []string{"?wait=soon", "?wait=-1", "?wait=-2s", "?flush=maybe"} {
		t.Run(query, func(t *testing.T) {
			src := &fakeSource{}
			h := NewHandler(src, nil, Config{MaxWait: time.Second}, nil)
			rec := serve(h, http.MethodGet, LogsPath+query)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if len(src.calls) != 0 {
				t.Error("GetContent should not be called on a bad request")
			}
		})
	}
}

func TestLogsMethodNotAllowed(t *testing.T) {
	h := NewHandler(&fakeSource{}, nil, Config{}, nil)
	for _, path := range []string{LogsPath, StatsPath} {
		rec := serve(h, http.MethodPost, path)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: expected 405, got %d", path, rec.Code)
		}
		if rec.Header().Get("Allow") != http.MethodGet {
			t.Errorf("POST %s: Allow = %q", path, rec.Header().Get("Allow"))
		}
	}
}

func TestLogsServesContent(t *testing.T) {
	body := []byte("compressed-bytes")
	src := &fakeSource{content: &logcompress.Content{
		Reader:  bytes.NewReader(body),
		Codec:   compression.TypeZstd,
		RawSize: 123,
	}}
	h := NewHandler(src, nil, Config{}, nil)

	rec := serve(h, http.MethodGet, LogsPath)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Encoding"); got != "zstd" {
		t.Errorf("Content-Encoding = %q, want zstd", got)
	}
	if got := rec.Header().Get(HeaderCodec); got != "zstd" {
		t.Errorf("%s = %q", HeaderCodec, got)
	}
	if got := rec.Header().Get(HeaderRawSize); got != "123" {
		t.Errorf("%s = %q, want 123", HeaderRawSize, got)
	}
	if !bytes.Equal(rec.Body.Bytes(), body) {
		t.Errorf("body = %q, want %q", rec.Body.Bytes(), body)
	}
}

func TestLogsNoEncodingForNone(t *testing.T) {
	src := &fakeSource{content: &logcompress.Content{
		Reader: bytes.NewReader([]byte("plain\n")),
		Codec:  compression.TypeNone,
	}}
	rec := serve(NewHandler(src, nil, Config{}, nil), http.MethodGet, LogsPath)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, want empty", got)
	}
}

func TestStatsEndpoint(t *testing.T) {
	src := &fakeSource{stats: logcompress.Stats{
		Codec:   compression.TypeGzip,
		Records: 42,
		Raw:     logcompress.QueueStats{ReadySegments: 2, Evictions: 1},
	}}
	rec := serve(NewHandler(src, nil, Config{}, nil), http.MethodGet, StatsPath)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got logcompress.Stats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Codec != compression.TypeGzip || got.Records != 42 || got.Raw.ReadySegments != 2 || got.Raw.Evictions != 1 {
		t.Errorf("unexpected stats %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(NewHandler(&fakeSource{}, nil, Config{}, nil), http.MethodGet, MetricsPath)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "edge_log_sink_records_total") {
		t.Error("expected sink metrics in /metrics output")
	}
}

// TestLogsEndToEnd drives a real sink through the HTTP surface.
func TestLogsEndToEnd(t *testing.T) {
	sink, err := logcompress.New(
		logcompress.LogQueueSize{MaxTotalSize: 64 * 1024, MaxSegmentSize: 8 * 1024},
		logcompress.LogQueueSize{MaxTotalSize: 64 * 1024, MaxSegmentSize: 8 * 1024},
		nil,
		logcompress.WithCompression(compression.Config{Type: compression.TypeGzip}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	var stdout bytes.Buffer
	logger := logging.New(&stdout, logging.WithSink(sink))
	logger.Info("hello from the agent", logging.F("attempt", 1))
	logger.Warn("disk almost full")

	probes := NewProbes()
	probes.AddReadiness("log_sink", sink.Ready)
	srv := httptest.NewServer(NewHandler(sink, probes, Config{MaxWait: time.Second}, nil))
	defer srv.Close()

	// The transport would decompress gzip transparently; read the raw stream.
	client := &http.Client{Transport: &http.Transport{DisableCompression: true}}
	defer client.CloseIdleConnections()

	resp, err := client.Get(srv.URL + LogsPath + "?flush=true&wait=1s")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", resp.Header.Get("Content-Encoding"))
	}
	plain, err := compression.Decompress(raw, compression.TypeGzip)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(plain, stdout.Bytes()) {
		t.Errorf("served logs differ from stdout:\n%q\n%q", plain, stdout.Bytes())
	}

	// Nothing left.
	resp, err = client.Get(srv.URL + LogsPath)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 once drained, got %d", resp.StatusCode)
	}

	resp, err = client.Get(srv.URL + ReadyPath)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected ready before close, got %d", resp.StatusCode)
	}

	sink.Close()
	resp, err = client.Get(srv.URL + ReadyPath)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected not ready after close, got %d", resp.StatusCode)
	}
}

// blockingSource parks retrievals until the request context ends.
type blockingSource struct {
	fakeSource
	entered chan struct{}
}

func (b *blockingSource) GetContent(ctx context.Context, _ time.Duration, _ bool) *logcompress.Content {
	close(b.entered)
	<-ctx.Done()
	return nil
}
