package diagnostics

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/szibis/edge-log-compressor/internal/logcompress"
	"github.com/szibis/edge-log-compressor/internal/logging"
)

// Route paths served by Handler.
const (
	LogsPath    = "/v1/logs"
	StatsPath   = "/v1/logs/stats"
	LivePath    = "/live"
	ReadyPath   = "/ready"
	MetricsPath = "/metrics"
)

// Response headers describing a retrieved segment.
const (
	HeaderCodec   = "X-Log-Codec"
	HeaderRawSize = "X-Log-Raw-Size"
)

// LogSource is the compressed log stream served by Handler.
type LogSource interface {
	GetContent(ctx context.Context, wait time.Duration, flush bool) *logcompress.Content
	Stats() logcompress.Stats
}

// Config controls how retrieval requests wait.
type Config struct {
	// DefaultWait applies when a request has no wait parameter.
	DefaultWait time.Duration
	// MaxWait caps the wait a request may ask for.
	MaxWait time.Duration
}

// Handler is the diagnostics HTTP surface.
type Handler struct {
	source LogSource
	probes *Probes
	cfg    Config
	logger *logging.Logger
	mux    *http.ServeMux
}

// NewHandler builds the diagnostics routes over source.
func NewHandler(source LogSource, probes *Probes, cfg Config, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	if probes == nil {
		probes = NewProbes()
	}
	if cfg.MaxWait < cfg.DefaultWait {
		cfg.MaxWait = cfg.DefaultWait
	}
	h := &Handler{
		source: source,
		probes: probes,
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	h.mux.HandleFunc(LogsPath, h.logs)
	h.mux.HandleFunc(StatsPath, h.stats)
	h.mux.HandleFunc(LivePath, probes.Live)
	h.mux.HandleFunc(ReadyPath, probes.Ready)
	h.mux.Handle(MetricsPath, promhttp.Handler())
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// logs hands out the oldest finished compressed segment.
//
// Query parameters:
//
//	wait  - duration ("500ms", "2s") or whole seconds; clamped to MaxWait
//	flush - bool; seal and compress everything submitted so far first
func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	wait, err := parseWait(q.Get("wait"), h.cfg.DefaultWait)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if wait > h.cfg.MaxWait {
		wait = h.cfg.MaxWait
	}
	flush := false
	if v := q.Get("flush"); v != "" {
		flush, err = strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid flush: "+strconv.Quote(v), http.StatusBadRequest)
			return
		}
	}

	content := h.source.GetContent(r.Context(), wait, flush)
	if content == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	if enc := content.Codec.ContentEncoding(); enc != "" {
		w.Header().Set("Content-Encoding", enc)
	}
	w.Header().Set(HeaderCodec, string(content.Codec))
	w.Header().Set(HeaderRawSize, strconv.Itoa(content.RawSize))
	w.Header().Set("Content-Length", strconv.Itoa(content.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, content); err != nil {
		// The segment has already left the queue; the client sees a short body.
		h.logger.Warn("failed to write log segment", logging.F(
			"error", err.Error(),
			"remote", r.RemoteAddr,
		))
	}
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.source.Stats())
}

func parseWait(v string, def time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, errInvalidWait(v)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, errInvalidWait(v)
	}
	return d, nil
}

type errInvalidWait string

func (e errInvalidWait) Error() string {
	return "invalid wait: " + strconv.Quote(string(e))
}
