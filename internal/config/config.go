// Package config provides configuration management with tiered priority:
// environment variables > config document fields > defaults.
package config

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/user/bungee-go/internal/models"
)

const (
	defaultPort            = 8088
	defaultWorkerCount     = 2
	maxWorkerCount         = 32
	defaultBodyParserLimit = "1mb"
	defaultLogLevel        = "info"
)

// Config is the fully-resolved, validated runtime configuration: the
// parsed document (spec.md §3) plus the process-level settings spec.md §6
// recognizes as either document fields or environment variable overrides,
// whichever is set (env var > config field > default).
type Config struct {
	BodyParserLimitRaw   string               `json:"bodyParserLimit"`
	Routes               []models.RouteConfig `json:"routes"`
	Port                 int                  `json:"port,omitempty"`
	WorkerCount          int                  `json:"workerCount,omitempty"`
	LogLevel             string               `json:"logLevel,omitempty"`
	BodyParserLimitBytes int64                `json:"-"`
}

// DefaultConfig returns the configuration used when no document field or
// environment variable overrides a setting.
func DefaultConfig() *Config {
	limitBytes, _ := humanize.ParseBytes(defaultBodyParserLimit)
	return &Config{
		BodyParserLimitRaw:   defaultBodyParserLimit,
		Routes:               nil,
		BodyParserLimitBytes: int64(limitBytes),
		Port:                 defaultPort,
		WorkerCount:          defaultWorkerCount,
		LogLevel:             defaultLogLevel,
	}
}

// Validate checks the configuration against spec.md §4.8. A failing route
// or upstream is reported with enough context to find it in the document.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &ConfigError{Field: "port", Message: "must be between 1 and 65535"}
	}
	if c.WorkerCount < 1 || c.WorkerCount > maxWorkerCount {
		return &ConfigError{Field: "workerCount", Message: fmt.Sprintf("must be between 1 and %d", maxWorkerCount)}
	}
	if len(c.Routes) == 0 {
		return &ConfigError{Field: "routes", Message: "must be a non-empty array"}
	}
	for i, route := range c.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		if route.Path == "" {
			return &ConfigError{Field: field + ".path", Message: "must be non-empty"}
		}
		if len(route.Upstreams) == 0 {
			return &ConfigError{Field: field + ".upstreams", Message: "must be a non-empty array"}
		}
		totalWeight := 0
		for j, up := range route.Upstreams {
			upField := fmt.Sprintf("%s.upstreams[%d]", field, j)
			if up.Target == "" {
				return &ConfigError{Field: upField + ".target", Message: "must be a non-empty string"}
			}
			if up.Weight < 0 {
				return &ConfigError{Field: upField + ".weight", Message: "must be positive"}
			}
			if up.Priority < 0 {
				return &ConfigError{Field: upField + ".priority", Message: "must be positive"}
			}
			totalWeight += up.Weight
		}
		if totalWeight <= 0 {
			return &ConfigError{Field: field + ".upstreams", Message: "total weight must be greater than 0"}
		}
	}
	return nil
}

// Warnings returns non-fatal issues worth logging but not rejecting
// (spec.md §4.8: "Warn, not fail, if failover.enabled with fewer than 2
// upstreams").
func (c *Config) Warnings() []string {
	var out []string
	for i, route := range c.Routes {
		if route.Failover != nil && route.Failover.Enabled && len(route.Upstreams) < 2 {
			out = append(out, fmt.Sprintf("routes[%d] (%s): failover.enabled with fewer than 2 upstreams", i, route.Path))
		}
	}
	return out
}

// applyUpstreamDefaults fills the per-upstream defaults spec.md §3 names
// (weight 100, priority 1) for any upstream the document left unset.
func applyUpstreamDefaults(routes []models.RouteConfig) {
	for i := range routes {
		for j := range routes[i].Upstreams {
			up := &routes[i].Upstreams[j]
			if up.Weight == 0 {
				up.Weight = 100
			}
			if up.Priority == 0 {
				up.Priority = 1
			}
		}
	}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}
