package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/szibis/edge-log-compressor/internal/auth"
	"github.com/szibis/edge-log-compressor/internal/compression"
	"github.com/szibis/edge-log-compressor/internal/logcompress"
	tlsconfig "github.com/szibis/edge-log-compressor/internal/tls"
)

// version is set at build time via ldflags
var version = "dev"

const programName = "edge-log-compressor"

// Config holds the application configuration.
type Config struct {
	// Raw segment queue budget
	RawMaxTotalSize   ByteSize
	RawMaxSegmentSize ByteSize

	// Compressed segment queue budget
	CompressedMaxTotalSize   ByteSize
	CompressedMaxSegmentSize ByteSize

	// Codec settings
	Compression         string
	CompressionLevel    int
	CompressionIdleWait time.Duration // Upper bound on the worker's wait; seals wake it earlier

	// Diagnostics channel settings
	DiagnosticsAddr        string
	DiagnosticsDefaultWait time.Duration // Wait used when a request has no wait parameter
	DiagnosticsMaxWait     time.Duration // Requests asking for longer are clamped

	// Diagnostics TLS
	DiagnosticsTLSCertFile     string
	DiagnosticsTLSKeyFile      string
	DiagnosticsTLSClientCAFile string

	// Diagnostics auth; probes stay open
	DiagnosticsBearerToken       string
	DiagnosticsBasicAuthUsername string
	DiagnosticsBasicAuthPassword string

	LogLevel         string
	MemoryLimitRatio float64 // GOMEMLIMIT ratio of the container limit (0 disables)

	ConfigFile string

	// Flags
	ShowHelp    bool
	ShowVersion bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RawMaxTotalSize:          5 * 1024 * 1024,
		RawMaxSegmentSize:        512 * 1024,
		CompressedMaxTotalSize:   2 * 1024 * 1024,
		CompressedMaxSegmentSize: 256 * 1024,
		Compression:              string(compression.TypeGzip),
		CompressionIdleWait:      time.Second,
		DiagnosticsAddr:          ":8087",
		DiagnosticsMaxWait:       30 * time.Second,
		LogLevel:                 "info",
		MemoryLimitRatio:         0.9,
	}
}

// newFlagSet binds every flag to cfg.
func newFlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVar(&cfg.ConfigFile, "config", "", "Path to YAML configuration file")

	// Buffer flags
	fs.Var(&cfg.RawMaxTotalSize, "raw-max-total-size", "Budget for sealed, uncompressed log segments (e.g. 5Mi)")
	fs.Var(&cfg.RawMaxSegmentSize, "raw-max-segment-size", "Size at which an uncompressed log segment is sealed")
	fs.Var(&cfg.CompressedMaxTotalSize, "compressed-max-total-size", "Budget for finished compressed segments")
	fs.Var(&cfg.CompressedMaxSegmentSize, "compressed-max-segment-size", "Compressed size at which a segment is finalized")

	// Compression flags
	fs.StringVar(&cfg.Compression, "compression", cfg.Compression, "Codec: none, gzip, zstd, snappy, zlib, deflate, lz4")
	fs.IntVar(&cfg.CompressionLevel, "compression-level", cfg.CompressionLevel, "Compression level (algorithm-specific, 0 for default)")
	fs.DurationVar(&cfg.CompressionIdleWait, "compression-idle-wait", cfg.CompressionIdleWait, "Longest the compression worker waits before re-checking for sealed segments")

	// Diagnostics flags
	fs.StringVar(&cfg.DiagnosticsAddr, "diagnostics-listen", cfg.DiagnosticsAddr, "Diagnostics HTTP listen address (logs, stats, health, metrics)")
	fs.DurationVar(&cfg.DiagnosticsDefaultWait, "diagnostics-default-wait", cfg.DiagnosticsDefaultWait, "Wait used by log retrieval requests without a wait parameter")
	fs.DurationVar(&cfg.DiagnosticsMaxWait, "diagnostics-max-wait", cfg.DiagnosticsMaxWait, "Maximum wait a log retrieval request may ask for")
	fs.StringVar(&cfg.DiagnosticsTLSCertFile, "diagnostics-tls-cert-file", cfg.DiagnosticsTLSCertFile, "Diagnostics TLS certificate (PEM)")
	fs.StringVar(&cfg.DiagnosticsTLSKeyFile, "diagnostics-tls-key-file", cfg.DiagnosticsTLSKeyFile, "Diagnostics TLS private key (PEM)")
	fs.StringVar(&cfg.DiagnosticsTLSClientCAFile, "diagnostics-tls-client-ca-file", cfg.DiagnosticsTLSClientCAFile, "CA bundle for client certificate verification (enables mTLS)")
	fs.StringVar(&cfg.DiagnosticsBearerToken, "diagnostics-bearer-token", cfg.DiagnosticsBearerToken, "Bearer token required by the diagnostics endpoint")
	fs.StringVar(&cfg.DiagnosticsBasicAuthUsername, "diagnostics-basic-auth-username", cfg.DiagnosticsBasicAuthUsername, "Basic auth username required by the diagnostics endpoint")
	fs.StringVar(&cfg.DiagnosticsBasicAuthPassword, "diagnostics-basic-auth-password", cfg.DiagnosticsBasicAuthPassword, "Basic auth password required by the diagnostics endpoint")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", cfg.MemoryLimitRatio, "GOMEMLIMIT as a ratio of the container memory limit (0 disables)")

	fs.BoolVarP(&cfg.ShowHelp, "help", "h", false, "Show help message")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version")
	return fs
}

// Parse builds the configuration from defaults, the optional YAML file and
// args, in increasing order of precedence.
func Parse(args []string) (*Config, error) {
	fromFlags := DefaultConfig()
	fs := newFlagSet(fromFlags)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if fromFlags.ConfigFile != "" {
		y, err := LoadYAML(fromFlags.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", fromFlags.ConfigFile, err)
		}
		y.ApplyTo(cfg)
	}

	// Replay only the flags set on the command line over the file values.
	target := newFlagSet(cfg)
	var setErr error
	fs.Visit(func(f *pflag.Flag) {
		if setErr == nil {
			setErr = target.Set(f.Name, f.Value.String())
		}
	})
	if setErr != nil {
		return nil, setErr
	}
	return cfg, nil
}

// ParseFlags parses os.Args and exits on invalid input.
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n\n", programName, err)
		PrintUsage()
		os.Exit(2)
	}
	return cfg
}

// PrintUsage prints the usage message.
func PrintUsage() {
	fmt.Fprintf(os.Stdout, "Usage: %s [flags]\n\n", programName)
	fmt.Fprintf(os.Stdout, "Buffers the agent's own logs in memory, compresses them in the background\n")
	fmt.Fprintf(os.Stdout, "and serves them over the diagnostics endpoint.\n\n")
	fmt.Fprint(os.Stdout, newFlagSet(DefaultConfig()).FlagUsages())
}

// PrintVersion prints the version.
func PrintVersion() {
	fmt.Printf("%s %s\n", programName, version)
}

// Version returns the build version.
func Version() string {
	return version
}

// RawQueueSize returns the raw segment queue budget.
func (c *Config) RawQueueSize() logcompress.LogQueueSize {
	return logcompress.LogQueueSize{
		MaxTotalSize:   int(c.RawMaxTotalSize),
		MaxSegmentSize: int(c.RawMaxSegmentSize),
	}
}

// CompressedQueueSize returns the compressed segment queue budget.
func (c *Config) CompressedQueueSize() logcompress.LogQueueSize {
	return logcompress.LogQueueSize{
		MaxTotalSize:   int(c.CompressedMaxTotalSize),
		MaxSegmentSize: int(c.CompressedMaxSegmentSize),
	}
}

// CompressionConfig returns the codec configuration.
func (c *Config) CompressionConfig() (compression.Config, error) {
	t, err := compression.ParseType(c.Compression)
	if err != nil {
		return compression.Config{}, err
	}
	return compression.Config{Type: t, Level: compression.Level(c.CompressionLevel)}, nil
}

// DiagnosticsTLS returns the diagnostics listener certificates.
func (c *Config) DiagnosticsTLS() tlsconfig.ServerConfig {
	return tlsconfig.ServerConfig{
		CertFile:     c.DiagnosticsTLSCertFile,
		KeyFile:      c.DiagnosticsTLSKeyFile,
		ClientCAFile: c.DiagnosticsTLSClientCAFile,
	}
}

// DiagnosticsAuth returns the diagnostics endpoint credentials.
func (c *Config) DiagnosticsAuth() auth.ServerConfig {
	return auth.ServerConfig{
		BearerToken:       c.DiagnosticsBearerToken,
		BasicAuthUsername: c.DiagnosticsBasicAuthUsername,
		BasicAuthPassword: c.DiagnosticsBasicAuthPassword,
	}
}
