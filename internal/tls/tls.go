// Package tls builds the server TLS configuration of the diagnostics endpoint.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ServerConfig holds the certificate paths of a TLS listener.
type ServerConfig struct {
	// CertFile is the PEM server certificate.
	CertFile string
	// KeyFile is the PEM private key matching CertFile.
	KeyFile string
	// ClientCAFile, when set, requires clients to present a certificate
	// signed by one of its CAs (mTLS).
	ClientCAFile string
}

// Enabled reports whether a certificate is configured.
func (c ServerConfig) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// Validate checks that the certificate and key are configured together.
func (c ServerConfig) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("cert_file and key_file must be set together")
	}
	if c.ClientCAFile != "" && !c.Enabled() {
		return errors.New("client_ca_file requires cert_file and key_file")
	}
	return nil
}

// NewServerTLSConfig loads the configured certificates. It returns nil when
// TLS is not enabled.
func NewServerTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.ClientCAFile != "" {
		pool, err := loadCertPool(cfg.ClientCAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to parse CA certificate %s", path)
	}
	return pool, nil
}
