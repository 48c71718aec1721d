package diagnostics

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/szibis/edge-log-compressor/internal/logging"
)

// Server serves a Handler on a TCP address.
type Server struct {
	srv    *http.Server
	logger *logging.Logger

	// cancel releases requests parked waiting for a segment.
	cancel context.CancelFunc
}

// NewServer creates a server for handler on addr, wrapped in TLS when
// tlsConfig is non-nil. Retrieval requests may block for up to cfg.MaxWait,
// so the write timeout leaves room for it.
func NewServer(addr string, handler http.Handler, cfg Config, tlsConfig *tls.Config, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.MaxWait + 30*time.Second,
			IdleTimeout:       2 * time.Minute,
			BaseContext:       func(net.Listener) context.Context { return base },
		},
		logger: logger,
		cancel: cancel,
	}
}

// Start listens and serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if s.srv.TLSConfig != nil {
		ln = tls.NewListener(ln, s.srv.TLSConfig)
	}
	s.logger.Info("diagnostics endpoint started", logging.F(
		"addr", ln.Addr().String(),
		"tls", s.srv.TLSConfig != nil,
		"logs_path", LogsPath,
		"metrics_path", MetricsPath,
	))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Pending retrievals return with no content.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.srv.Shutdown(ctx)
}
