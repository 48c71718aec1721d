package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	Buffer      BufferYAMLConfig      `yaml:"buffer"`
	Compression CompressionYAMLConfig `yaml:"compression"`
	Diagnostics DiagnosticsYAMLConfig `yaml:"diagnostics"`
	Logging     LoggingYAMLConfig     `yaml:"logging"`
	Memory      MemoryYAMLConfig      `yaml:"memory"`
}

// BufferYAMLConfig holds the two staging queue budgets.
type BufferYAMLConfig struct {
	Raw        QueueYAMLConfig `yaml:"raw"`
	Compressed QueueYAMLConfig `yaml:"compressed"`
}

// QueueYAMLConfig holds one staging queue budget.
type QueueYAMLConfig struct {
	MaxTotalSize   ByteSize `yaml:"max_total_size"`
	MaxSegmentSize ByteSize `yaml:"max_segment_size"`
}

// CompressionYAMLConfig holds codec settings.
type CompressionYAMLConfig struct {
	Type     string   `yaml:"type"`
	Level    *int     `yaml:"level"`
	IdleWait Duration `yaml:"idle_wait"`
}

// DiagnosticsYAMLConfig holds the management HTTP endpoint settings.
type DiagnosticsYAMLConfig struct {
	Address     string                    `yaml:"address"`
	DefaultWait Duration                  `yaml:"default_wait"`
	MaxWait     Duration                  `yaml:"max_wait"`
	TLS         DiagnosticsTLSYAMLConfig  `yaml:"tls"`
	Auth        DiagnosticsAuthYAMLConfig `yaml:"auth"`
}

// DiagnosticsTLSYAMLConfig holds the endpoint certificates.
type DiagnosticsTLSYAMLConfig struct {
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientCAFile string `yaml:"client_ca_file"`
}

// DiagnosticsAuthYAMLConfig holds the endpoint credentials.
type DiagnosticsAuthYAMLConfig struct {
	BearerToken string `yaml:"bearer_token"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// LoggingYAMLConfig holds logger settings.
type LoggingYAMLConfig struct {
	Level string `yaml:"level"`
}

// MemoryYAMLConfig holds memory limit configuration.
type MemoryYAMLConfig struct {
	// LimitRatio is the ratio of container memory to use for GOMEMLIMIT (0 disables).
	LimitRatio *float64 `yaml:"limit_ratio"`
}

// Duration is a wrapper for time.Duration that supports YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize is a wrapper for int64 that supports human-readable values.
// Accepted formats: raw integer (bytes), or suffixed: Ki, Mi, Gi, Ti.
// It implements pflag.Value so byte sizes can be set from flags too.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	// Try integer first
	var n int64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return b.Set(s)
}

// MarshalYAML implements yaml.Marshaler for ByteSize.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return FormatByteSize(int64(b)), nil
}

// String implements pflag.Value.
func (b *ByteSize) String() string {
	return FormatByteSize(int64(*b))
}

// Set implements pflag.Value.
func (b *ByteSize) Set(s string) error {
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// Type implements pflag.Value.
func (b *ByteSize) Type() string {
	return "bytes"
}

// ParseByteSize parses a human-readable byte size string.
// Accepted suffixes: Ki (1024), Mi (1048576), Gi (1073741824), Ti (1099511627776).
// Plain integers are treated as bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	type suffix struct {
		name string
		mult int64
	}
	suffixes := []suffix{
		{"Ti", 1099511627776},
		{"Gi", 1073741824},
		{"Mi", 1048576},
		{"Ki", 1024},
	}
	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.name) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, sf.name))
			// Support float values like "1.5Mi"
			var f float64
			if _, err := fmt.Sscanf(numStr, "%f", &f); err != nil {
				return 0, fmt.Errorf("invalid byte size: %q", s)
			}
			return int64(f * float64(sf.mult)), nil
		}
	}
	// Plain integer: reject strings with non-numeric trailing characters (e.g. "256MB")
	var n int64
	var trail string
	if _, err := fmt.Sscanf(s, "%d%s", &n, &trail); err == nil && trail != "" {
		return 0, fmt.Errorf("invalid byte size: %q (use Ki, Mi, Gi, or Ti suffixes)", s)
	}
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}
	return n, nil
}

// FormatByteSize formats bytes as a human-readable string with binary suffix.
func FormatByteSize(b int64) string {
	if b >= 1099511627776 && b%1099511627776 == 0 {
		return fmt.Sprintf("%dTi", b/1099511627776)
	}
	if b >= 1073741824 && b%1073741824 == 0 {
		return fmt.Sprintf("%dGi", b/1073741824)
	}
	if b >= 1048576 && b%1048576 == 0 {
		return fmt.Sprintf("%dMi", b/1048576)
	}
	if b >= 1024 && b%1024 == 0 {
		return fmt.Sprintf("%dKi", b/1024)
	}
	return fmt.Sprintf("%d", b)
}

// LoadYAML loads configuration from a YAML file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML configuration from bytes. Unknown keys are rejected.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	cfg := &YAMLConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty file decodes to io.EOF and means "all defaults".
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyTo copies every value set in the file onto cfg.
func (y *YAMLConfig) ApplyTo(cfg *Config) {
	setSize := func(dst *ByteSize, v ByteSize) {
		if v != 0 {
			*dst = v
		}
	}
	setSize(&cfg.RawMaxTotalSize, y.Buffer.Raw.MaxTotalSize)
	setSize(&cfg.RawMaxSegmentSize, y.Buffer.Raw.MaxSegmentSize)
	setSize(&cfg.CompressedMaxTotalSize, y.Buffer.Compressed.MaxTotalSize)
	setSize(&cfg.CompressedMaxSegmentSize, y.Buffer.Compressed.MaxSegmentSize)

	if y.Compression.Type != "" {
		cfg.Compression = y.Compression.Type
	}
	if y.Compression.Level != nil {
		cfg.CompressionLevel = *y.Compression.Level
	}
	if y.Compression.IdleWait != 0 {
		cfg.CompressionIdleWait = time.Duration(y.Compression.IdleWait)
	}

	if y.Diagnostics.Address != "" {
		cfg.DiagnosticsAddr = y.Diagnostics.Address
	}
	if y.Diagnostics.DefaultWait != 0 {
		cfg.DiagnosticsDefaultWait = time.Duration(y.Diagnostics.DefaultWait)
	}
	if y.Diagnostics.MaxWait != 0 {
		cfg.DiagnosticsMaxWait = time.Duration(y.Diagnostics.MaxWait)
	}
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&cfg.DiagnosticsTLSCertFile, y.Diagnostics.TLS.CertFile)
	setString(&cfg.DiagnosticsTLSKeyFile, y.Diagnostics.TLS.KeyFile)
	setString(&cfg.DiagnosticsTLSClientCAFile, y.Diagnostics.TLS.ClientCAFile)
	setString(&cfg.DiagnosticsBearerToken, y.Diagnostics.Auth.BearerToken)
	setString(&cfg.DiagnosticsBasicAuthUsername, y.Diagnostics.Auth.Username)
	setString(&cfg.DiagnosticsBasicAuthPassword, y.Diagnostics.Auth.Password)

	if y.Logging.Level != "" {
		cfg.LogLevel = y.Logging.Level
	}
	if y.Memory.LimitRatio != nil {
		cfg.MemoryLimitRatio = *y.Memory.LimitRatio
	}
}
