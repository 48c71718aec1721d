package config

import (
	"fmt"

	"github.com/szibis/edge-log-compressor/internal/logging"
)

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if err := c.RawQueueSize().Validate(); err != nil {
		return fmt.Errorf("buffer.raw: %w", err)
	}
	if err := c.CompressedQueueSize().Validate(); err != nil {
		return fmt.Errorf("buffer.compressed: %w", err)
	}
	if _, err := c.CompressionConfig(); err != nil {
		return fmt.Errorf("compression.type: %w", err)
	}
	if c.CompressionIdleWait <= 0 {
		return fmt.Errorf("compression.idle_wait: must be positive, got %s", c.CompressionIdleWait)
	}
	if c.DiagnosticsAddr == "" {
		return fmt.Errorf("diagnostics.address: must not be empty")
	}
	if c.DiagnosticsDefaultWait < 0 {
		return fmt.Errorf("diagnostics.default_wait: must not be negative, got %s", c.DiagnosticsDefaultWait)
	}
	if c.DiagnosticsMaxWait < c.DiagnosticsDefaultWait {
		return fmt.Errorf("diagnostics.max_wait: %s is below default_wait %s", c.DiagnosticsMaxWait, c.DiagnosticsDefaultWait)
	}
	if err := c.DiagnosticsTLS().Validate(); err != nil {
		return fmt.Errorf("diagnostics.tls: %w", err)
	}
	if err := c.DiagnosticsAuth().Validate(); err != nil {
		return fmt.Errorf("diagnostics.auth: %w", err)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.MemoryLimitRatio < 0 || c.MemoryLimitRatio > 1 {
		return fmt.Errorf("memory.limit_ratio: must be within [0,1], got %v", c.MemoryLimitRatio)
	}
	return nil
}
