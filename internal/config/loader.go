package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/sjson"

	"github.com/user/bungee-go/internal/jsonutil"
	"github.com/user/bungee-go/internal/pkg/paths"
)

// Load reads, env-overrides, parses, and validates the configuration
// document at the path spec.md §6 resolves from explicitPath (empty string
// defers entirely to CONFIG_PATH / cwd / home-dir fallback).
func Load(explicitPath string) (*Config, error) {
	loadDotEnv()

	path := paths.ResolveConfigPath(explicitPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	data, err = applyEnvOverridesToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("config: apply env overrides: %w", err)
	}

	cfg := DefaultConfig()
	if err := jsonutil.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	limitBytes, err := humanize.ParseBytes(cfg.BodyParserLimitRaw)
	if err != nil {
		return nil, fmt.Errorf("config: invalid bodyParserLimit %q: %w", cfg.BodyParserLimitRaw, err)
	}
	cfg.BodyParserLimitBytes = int64(limitBytes)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	applyUpstreamDefaults(cfg.Routes)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvOverridesToJSON patches the recognized environment variable
// overrides (spec.md §6: "env var > config field > default") directly onto
// the raw document bytes before it is parsed, rather than parse-mutate-
// reserialize — a byte-level patch is all a handful of scalar overrides
// need.
func applyEnvOverridesToJSON(data []byte) ([]byte, error) {
	var err error
	if v := os.Getenv("PORT"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			if data, err = sjson.SetBytes(data, "port", n); err != nil {
				return nil, err
			}
		}
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			if data, err = sjson.SetBytes(data, "workerCount", n); err != nil {
				return nil, err
			}
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if data, err = sjson.SetBytes(data, "logLevel", v); err != nil {
			return nil, err
		}
	}
	if v := os.Getenv("BODY_PARSER_LIMIT"); v != "" {
		if data, err = sjson.SetBytes(data, "bodyParserLimit", v); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// loadDotEnv loads a .env file from the working directory, if present, for
// local development convenience. Variables already set in the process
// environment take precedence.
func loadDotEnv() {
	data, err := os.ReadFile(filepath.Join(".", ".env"))
	if err != nil {
		return
	}
	for _, line := range splitLines(string(data)) {
		line = trimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		if idx := indexOf(line, '='); idx > 0 {
			key := trimSpace(line[:idx])
			val := trimQuotes(trimSpace(line[idx+1:]))
			if os.Getenv(key) == "" {
				os.Setenv(key, val)
			}
		}
	}
}

// String utility functions (avoiding external dependencies for a feature
// this small).

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			line := s[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			lines = append(lines, line)
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

func indexOf(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
