package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/harun/voxrelay/internal/secrets"
	"github.com/robfig/cron/v3"
)

// reservedPaths are served by the relay itself and cannot host the metrics
// or MCP endpoints.
var reservedPaths = []string{"/health", "/api/"}

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateOrigin validates one CORS origin such as https://milestonetrucks.com
func (v *Validator) ValidateOrigin(origin string) error {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid allowed origin %q (want scheme://host)", origin)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("allowed origin %q must not have a path", origin)
	}
	return nil
}

// ValidateBaseURL validates an API base URL
func (v *Validator) ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base URL %q", raw)
	}
	return nil
}

// ValidateSchedule validates a cron expression or descriptor
func (v *Validator) ValidateSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid queue.sweep_schedule %q: %w", expr, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateMountPath validates the path of a mounted endpoint
func (v *Validator) ValidateMountPath(name, path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%s must start with /", name)
	}
	for _, reserved := range reservedPaths {
		if path == reserved || strings.HasPrefix(path, reserved) {
			return fmt.Errorf("%s %q collides with a relay route", name, path)
		}
	}
	return nil
}

// ValidateFile checks that an optional data file exists
func (v *Validator) ValidateFile(name, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s: %s is a directory", name, path)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	// Server
	add(v.ValidatePort(cfg.Server.Port))
	if strings.TrimSpace(cfg.Server.Host) == "" {
		add(fmt.Errorf("server.host is required"))
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		add(fmt.Errorf("server.rate_limit_per_minute must be >= 0"))
	}
	if cfg.Server.RequestTimeout <= 0 {
		add(fmt.Errorf("server.request_timeout must be positive"))
	}
	if cfg.Server.ToolTimeout <= 0 {
		add(fmt.Errorf("server.tool_timeout must be positive"))
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		add(fmt.Errorf("server.max_body_bytes must be positive"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		add(fmt.Errorf("server.shutdown_timeout must be >= 0"))
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		add(v.ValidateOrigin(origin))
	}

	// Queue
	if cfg.Queue.TTL <= 0 {
		add(fmt.Errorf("queue.ttl must be positive"))
	}
	add(v.ValidateSchedule(cfg.Queue.SweepSchedule))

	// Catalog
	add(v.ValidateFile("catalog.catalog_file", cfg.Catalog.CatalogFile))
	add(v.ValidateFile("catalog.service_area_file", cfg.Catalog.ServiceAreaFile))
	if cfg.Catalog.ReloadDelay < 0 {
		add(fmt.Errorf("catalog.reload_delay must be >= 0"))
	}

	// Retell
	if secrets.IsSealed(cfg.Retell.APIKey) {
		add(fmt.Errorf("retell.api_key is still encrypted"))
	}
	add(v.ValidateBaseURL(cfg.Retell.BaseURL))
	if cfg.Retell.Timeout <= 0 {
		add(fmt.Errorf("retell.timeout must be positive"))
	}

	// Logging
	add(v.ValidateLogLevel(cfg.Logging.Level))
	if cfg.Logging.MaxSize < 0 || cfg.Logging.MaxAge < 0 {
		add(fmt.Errorf("logging.max_size and logging.max_age must be >= 0"))
	}

	// Tracing
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		add(fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}
	if cfg.Tracing.Enabled && cfg.Tracing.ServiceName == "" {
		add(fmt.Errorf("tracing.service_name is required when tracing is enabled"))
	}

	// Mounted endpoints
	if cfg.Metrics.Enabled {
		add(v.ValidateMountPath("metrics.path", cfg.Metrics.Path))
	}
	if cfg.MCP.Enabled {
		add(v.ValidateMountPath("mcp.path", cfg.MCP.Path))
	}
	if cfg.Metrics.Enabled && cfg.MCP.Enabled && cfg.Metrics.Path == cfg.MCP.Path {
		add(fmt.Errorf("metrics.path and mcp.path must differ"))
	}

	return errs
}
