// Package config provides configuration parsing and validation for
// relaymuxd.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete relaymuxd configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Listeners ListenersConfig `yaml:"listeners"`
	Router    RouterConfig    `yaml:"router"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// ListenersConfig groups one optional listener per acceptor family.
type ListenersConfig struct {
	SOCKS5      *ListenerConfig `yaml:"socks5"`
	HTTPConnect *ListenerConfig `yaml:"http_connect"`
	HTTPProxy   *ListenerConfig `yaml:"http_proxy"`
}

// ListenerConfig configures one inbound TCP listener.
type ListenerConfig struct {
	Address          string        `yaml:"address"`
	MaxConnections   int           `yaml:"max_connections"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// RouterConfig configures the direct-dial Connector every listener
// routes through.
type RouterConfig struct {
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Default returns the baseline configuration applied before YAML is
// unmarshaled on top of it, so unset fields keep sane values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "127.0.0.1:9090",
		},
		Router: RouterConfig{
			DialTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, expanding ${VAR} /
// ${VAR:-default} environment references first.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName, defaultVal := name[:idx], name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors. At least one listener
// must be configured.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s", c.Log.Format))
	}

	if c.Listeners.SOCKS5 == nil && c.Listeners.HTTPConnect == nil && c.Listeners.HTTPProxy == nil {
		errs = append(errs, "at least one of listeners.socks5, listeners.http_connect, listeners.http_proxy must be set")
	}
	for name, l := range map[string]*ListenerConfig{
		"socks5":       c.Listeners.SOCKS5,
		"http_connect": c.Listeners.HTTPConnect,
		"http_proxy":   c.Listeners.HTTPProxy,
	} {
		if l != nil && l.Address == "" {
			errs = append(errs, fmt.Sprintf("listeners.%s.address is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	default:
		return false
	}
}

