package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Config represents the main voxrelay configuration
type Config struct {
	Server  ServerConfig  `json:"server" mapstructure:"server"`
	Queue   QueueConfig   `json:"queue" mapstructure:"queue"`
	Catalog CatalogConfig `json:"catalog" mapstructure:"catalog"`
	Retell  RetellConfig  `json:"retell" mapstructure:"retell"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	MCP     MCPConfig     `json:"mcp" mapstructure:"mcp"`
	Secrets SecretsConfig `json:"secrets" mapstructure:"secrets"`

	// Data directory (PID file, default log file)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds the relay HTTP server settings
type ServerConfig struct {
	Host               string        `json:"host" mapstructure:"host"`
	Port               int           `json:"port" mapstructure:"port"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"` // 0 disables
	RequestTimeout     time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	ToolTimeout        time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
	MaxBodyBytes       int64         `json:"max_body_bytes" mapstructure:"max_body_bytes"`
	ShutdownTimeout    time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	AllowedOrigins     []string      `json:"allowed_origins" mapstructure:"allowed_origins"` // poll CORS allowlist
}

// QueueConfig controls eviction of undrained command sequences
type QueueConfig struct {
	TTL           time.Duration `json:"ttl" mapstructure:"ttl"`
	SweepSchedule string        `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron expression or @every
}

// CatalogConfig points at optional catalog and service-area overrides
type CatalogConfig struct {
	CatalogFile     string        `json:"catalog_file" mapstructure:"catalog_file"`
	ServiceAreaFile string        `json:"service_area_file" mapstructure:"service_area_file"`
	Watch           bool          `json:"watch" mapstructure:"watch"`
	ReloadDelay     time.Duration `json:"reload_delay" mapstructure:"reload_delay"`
}

// RetellConfig holds the Retell API credentials used for web-call registration
type RetellConfig struct {
	APIKey  string        `json:"api_key" mapstructure:"api_key"` // may be ENC[...]
	BaseURL string        `json:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// MCPConfig controls the streamable HTTP MCP endpoint
type MCPConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// SecretsConfig locates the age identity for ENC[...] values
type SecretsConfig struct {
	Identity string `json:"identity" mapstructure:"identity"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               3001,
			RateLimitPerMinute: 300,
			RequestTimeout:     30 * time.Second,
			ToolTimeout:        10 * time.Second,
			MaxBodyBytes:       1 << 20,
			ShutdownTimeout:    30 * time.Second,
			AllowedOrigins: []string{
				"https://staging12.milestonetrucks.com",
				"https://milestonetrucks.com",
				"https://www.milestonetrucks.com",
			},
		},
		Queue: QueueConfig{
			TTL:           30 * time.Minute,
			SweepSchedule: "@every 1m",
		},
		Catalog: CatalogConfig{
			Watch:       true,
			ReloadDelay: 200 * time.Millisecond,
		},
		Retell: RetellConfig{
			BaseURL: "https://api.retellai.com",
			Timeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "voxrelay",
			SampleRatio: 1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		MCP: MCPConfig{
			Enabled: true,
			Path:    "/mcp",
		},
	}
}

// String returns a JSON representation of the config with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.Retell.APIKey != "" {
		masked.Retell.APIKey = "********"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate runs every section check and joins the failures
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
