package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads a fleet file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Placeholders are expanded and defaults applied; the result is not validated.
func LoadConfig(path string) (*FleetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses fleet file data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*FleetConfig, error) {
	var config FleetConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	config.ExpandEnvironment(environ())
	ApplyDefaults(&config)
	return &config, nil
}

// ParseDuration parses a duration string.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
//   - Empty string: zero
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if seconds, convErr := strconv.Atoi(s); convErr == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration %q: %w", s, err)
}

// ExpandEnvironment replaces {{NAME}} placeholders in the target with values from env.
func (c *FleetConfig) ExpandEnvironment(env map[string]string) {
	c.Target.URL = ProcessEnvironment(c.Target.URL, env)
	c.Target.Username = ProcessEnvironment(c.Target.Username, env)
	c.Target.Password = ProcessEnvironment(c.Target.Password, env)
	for i := range c.Nodes {
		c.Nodes[i].URL = ProcessEnvironment(c.Nodes[i].URL, env)
	}
}

// ProcessEnvironment replaces {{NAME}} placeholders in input with values from env.
func ProcessEnvironment(input string, env map[string]string) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	result := input
	for key, value := range env {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}
	return env
}
