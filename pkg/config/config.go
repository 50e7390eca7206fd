// Package config provides configuration structures and loading logic for the forms knot.
package config

import (
	"fmt"
	"maps"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/forms-knot/internal/governance"
	"github.com/polisai/forms-knot/pkg/domain"
)

// Defaults applied before the file is read.
const (
	DefaultAddress          = ":8092"
	DefaultHiddenField      = "snippet-identifier"
	DefaultFormsCapability  = "form"
	DefaultAdapterPrefix    = "form-"
	DefaultTransition       = "next"
	DefaultAdapterTimeoutMS = 5000
	DefaultServerTimeoutMS  = 30000
	DefaultMaxFailures      = 5
	DefaultOpenTimeoutMS    = 30000
	DefaultTelemetryService = "forms-knot"
	DefaultLogLevel         = "info"
)

// Config holds the global configuration for the forms knot.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Forms     FormsConfig     `yaml:"forms"`
	Adapters  []AdapterConfig `yaml:"adapters"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address        string     `yaml:"address"`
	ReadTimeoutMS  int        `yaml:"read_timeout_ms"`
	WriteTimeoutMS int        `yaml:"write_timeout_ms"`
	TLS            *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig enables TLS termination on the knot listener.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version,omitempty"`
}

// FormsConfig controls marker injection and fragment classification.
type FormsConfig struct {
	HiddenField       string `yaml:"hidden_field"`
	Capability        string `yaml:"capability"`
	AdapterPrefix     string `yaml:"adapter_capability_prefix"`
	DefaultTransition string `yaml:"default_transition"`
	ValidateOnRead    bool   `yaml:"validate_on_read"`
}

// AdapterConfig registers one adapter endpoint.
type AdapterConfig struct {
	Capability     string               `yaml:"capability"`
	Address        string               `yaml:"address"`
	TimeoutMS      int                  `yaml:"timeout_ms"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the breaker guarding one adapter. A zero
// MaxFailures takes the default; a negative one disables the breaker.
type CircuitBreakerConfig struct {
	MaxFailures   int `yaml:"max_failures"`
	OpenTimeoutMS int `yaml:"open_timeout_ms"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	ServiceName  string            `yaml:"service_name"`
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Environment  string            `yaml:"environment"`
	Insecure     bool              `yaml:"insecure"`
	Headers      map[string]string `yaml:"headers"`
	ResourceTags map[string]string `yaml:"resource_tags"`
	// Redact maps span attribute names to drop, mask, hash or redact,
	// overlaying the built-in policy.
	Redact map[string]string `yaml:"redact"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        DefaultAddress,
			ReadTimeoutMS:  DefaultServerTimeoutMS,
			WriteTimeoutMS: DefaultServerTimeoutMS,
		},
		Forms: FormsConfig{
			HiddenField:       DefaultHiddenField,
			Capability:        DefaultFormsCapability,
			AdapterPrefix:     DefaultAdapterPrefix,
			DefaultTransition: DefaultTransition,
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultTelemetryService,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML over cfg, keeping values the document does not set.
func Parse(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("FORMS_LISTEN_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("FORMS_HIDDEN_FIELD"); val != "" {
		cfg.Forms.HiddenField = val
	}
	if val := os.Getenv("FORMS_DEFAULT_TRANSITION"); val != "" {
		cfg.Forms.DefaultTransition = val
	}
	if val := os.Getenv("FORMS_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("FORMS_ENVIRONMENT"); val != "" {
		cfg.Telemetry.Environment = val
	}
	if val := os.Getenv("FORMS_OTLP_INSECURE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Insecure = b
		}
	}
	if val := os.Getenv("FORMS_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate performs validation of the entire configuration, filling defaults
// for fields left empty.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Forms.Validate(); err != nil {
		return fmt.Errorf("forms configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Adapters))
	for i := range c.Adapters {
		a := &c.Adapters[i]
		if err := a.Validate(c.Forms); err != nil {
			return fmt.Errorf("adapter %d: %w", i, err)
		}
		if seen[a.Capability] {
			return fmt.Errorf("adapter %d: %w", i,
				NewConfigValidationError("capability", a.Capability, "capability registered more than once"))
		}
		seen[a.Capability] = true
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = DefaultAddress
	}
	if c.ReadTimeoutMS <= 0 {
		c.ReadTimeoutMS = DefaultServerTimeoutMS
	}
	if c.WriteTimeoutMS <= 0 {
		c.WriteTimeoutMS = DefaultServerTimeoutMS
	}
	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}
	return nil
}

// ReadTimeout returns the server read timeout.
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

// WriteTimeout returns the server write timeout.
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// Validate performs validation of TLS configuration.
func (c *TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.CertFile) == "" {
		return NewConfigMissingError("cert_file").
			WithSuggestion("Provide a path to a valid TLS certificate file")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return NewConfigMissingError("key_file").
			WithSuggestion("Provide a path to the private key matching cert_file")
	}
	switch strings.TrimSpace(c.MinVersion) {
	case "", "1.2", "1.3":
		return nil
	default:
		return NewConfigValidationError("min_version", c.MinVersion, "unsupported TLS version").
			WithSuggestion("Use 1.2 or 1.3")
	}
}

// Validate performs validation of forms configuration.
func (c *FormsConfig) Validate() error {
	c.HiddenField = strings.TrimSpace(c.HiddenField)
	c.Capability = strings.TrimSpace(c.Capability)
	c.DefaultTransition = strings.TrimSpace(c.DefaultTransition)

	if c.HiddenField == "" {
		return NewConfigMissingError("hidden_field")
	}
	if c.Capability == "" {
		return NewConfigMissingError("capability")
	}
	if strings.TrimSpace(c.AdapterPrefix) == "" {
		return NewConfigMissingError("adapter_capability_prefix")
	}
	if c.DefaultTransition == "" {
		return NewConfigMissingError("default_transition")
	}
	if strings.HasPrefix(c.Capability, c.AdapterPrefix) {
		return NewConfigValidationError("capability", c.Capability, "forms capability must not carry the adapter prefix").
			WithSuggestion(fmt.Sprintf("Rename it or change adapter_capability_prefix (%q)", c.AdapterPrefix))
	}
	return nil
}

// Validate performs validation of one adapter entry.
func (c *AdapterConfig) Validate(forms FormsConfig) error {
	c.Capability = strings.TrimSpace(c.Capability)
	if c.Capability == "" {
		return NewConfigMissingError("capability")
	}
	if !strings.HasPrefix(c.Capability, forms.AdapterPrefix) || c.Capability == forms.AdapterPrefix {
		return NewConfigValidationError("capability", c.Capability,
			fmt.Sprintf("adapter capability must start with %q", forms.AdapterPrefix))
	}

	u, err := url.Parse(strings.TrimSpace(c.Address))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewConfigValidationError("address", c.Address, "address must be an absolute http(s) URL").
			WithSuggestion("Example: http://localhost:9091/forms/subscribe")
	}
	c.Address = u.String()

	if c.TimeoutMS < 0 {
		return NewConfigValidationError("timeout_ms", c.TimeoutMS, "timeout must be positive")
	}
	if c.TimeoutMS == 0 {
		c.TimeoutMS = DefaultAdapterTimeoutMS
	}

	if c.CircuitBreaker.MaxFailures == 0 {
		c.CircuitBreaker.MaxFailures = DefaultMaxFailures
	}
	if c.CircuitBreaker.OpenTimeoutMS <= 0 {
		c.CircuitBreaker.OpenTimeoutMS = DefaultOpenTimeoutMS
	}
	return nil
}

// Endpoint converts the entry into the registry form.
func (c AdapterConfig) Endpoint() domain.AdapterEndpoint {
	return domain.AdapterEndpoint{
		Name:    c.Capability,
		Address: c.Address,
		Timeout: time.Duration(c.TimeoutMS) * time.Millisecond,
	}
}

// Breaker returns the circuit breaker settings for this adapter.
func (c AdapterConfig) Breaker() governance.CircuitBreakerConfig {
	cfg := governance.DefaultCircuitBreakerConfig()
	if c.CircuitBreaker.MaxFailures < 0 {
		cfg.MaxFailures = 0
		return cfg
	}
	if c.CircuitBreaker.MaxFailures > 0 {
		cfg.MaxFailures = c.CircuitBreaker.MaxFailures
	}
	if c.CircuitBreaker.OpenTimeoutMS > 0 {
		cfg.OpenTimeout = time.Duration(c.CircuitBreaker.OpenTimeoutMS) * time.Millisecond
	}
	return cfg
}

// Endpoints lists every configured adapter in registry form.
func (c *Config) Endpoints() []domain.AdapterEndpoint {
	out := make([]domain.AdapterEndpoint, 0, len(c.Adapters))
	for _, a := range c.Adapters {
		out = append(out, a.Endpoint())
	}
	return out
}

// Validate performs validation of telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = DefaultTelemetryService
	}
	for attr, strategy := range c.Redact {
		switch strings.ToLower(strings.TrimSpace(strategy)) {
		case "drop", "mask", "hash", "redact":
			c.Redact[attr] = strings.ToLower(strings.TrimSpace(strategy))
		default:
			return NewConfigValidationError("redact", attr,
				fmt.Sprintf("unknown strategy %q, supported: drop, mask, hash, redact", strategy))
		}
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = DefaultLogLevel
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// RestartRequired reports which differences between c and next cannot be
// applied to a running process. The adapter registry and listener are fixed
// for the process lifetime.
func (c *Config) RestartRequired(next *Config) []string {
	var fields []string
	if !sameServer(c.Server, next.Server) {
		fields = append(fields, "server")
	}
	if c.Forms != next.Forms {
		fields = append(fields, "forms")
	}
	if !sameAdapters(c.Adapters, next.Adapters) {
		fields = append(fields, "adapters")
	}
	if !sameTelemetry(c.Telemetry, next.Telemetry) {
		fields = append(fields, "telemetry")
	}
	return fields
}

func sameTelemetry(a, b TelemetryConfig) bool {
	return a.ServiceName == b.ServiceName &&
		a.OTLPEndpoint == b.OTLPEndpoint &&
		a.Environment == b.Environment &&
		a.Insecure == b.Insecure &&
		maps.Equal(a.Headers, b.Headers) &&
		maps.Equal(a.ResourceTags, b.ResourceTags) &&
		maps.Equal(a.Redact, b.Redact)
}

func sameServer(a, b ServerConfig) bool {
	if a.Address != b.Address || a.ReadTimeoutMS != b.ReadTimeoutMS || a.WriteTimeoutMS != b.WriteTimeoutMS {
		return false
	}
	switch {
	case a.TLS == nil && b.TLS == nil:
		return true
	case a.TLS == nil || b.TLS == nil:
		return false
	default:
		return *a.TLS == *b.TLS
	}
}

func sameAdapters(a, b []AdapterConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of c, so callers can adjust it without touching
// a value shared with a FileConfigProvider.
func (c *Config) Clone() *Config {
	out := *c
	if c.Server.TLS != nil {
		tlsCfg := *c.Server.TLS
		out.Server.TLS = &tlsCfg
	}
	out.Adapters = slices.Clone(c.Adapters)
	out.Telemetry.Headers = maps.Clone(c.Telemetry.Headers)
	out.Telemetry.ResourceTags = maps.Clone(c.Telemetry.ResourceTags)
	out.Telemetry.Redact = maps.Clone(c.Telemetry.Redact)
	return &out
}
