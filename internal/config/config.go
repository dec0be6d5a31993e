package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 8484
	DefaultMaxWait        = 10 * time.Minute
	DefaultPollInterval   = 2 * time.Second
	DefaultRequestTimeout = 1500 * time.Millisecond
	DefaultStopTimeout    = 10 * time.Second

	// PortPlaceholder in gateway args is replaced with the configured port.
	PortPlaceholder = "{{port}}"
)

// Config holds launcher configuration loaded from ~/.gateboot/config.yaml.
type Config struct {
	Gateway   Gateway   `yaml:"gateway"`
	Boot      Boot      `yaml:"boot"`
	APIAddr   string    `yaml:"api_addr,omitempty"`
	StateDir  string    `yaml:"state_dir,omitempty"`
	Telemetry Telemetry `yaml:"telemetry,omitempty"`
}

// Gateway describes how to launch the gateway process.
type Gateway struct {
	Mode        string            `yaml:"mode"`                   // "native" | "container"
	Command     string            `yaml:"command,omitempty"`      // native only
	Args        []string          `yaml:"args,omitempty"`         // appended to command, or the container cmd
	WorkingDir  string            `yaml:"working_dir,omitempty"`  // native only
	Image       string            `yaml:"image,omitempty"`        // container only
	NetworkMode string            `yaml:"network_mode,omitempty"` // container only
	Port        int               `yaml:"port"`
	StopTimeout Duration          `yaml:"stop_timeout,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Secrets     map[string]Secret `yaml:"secrets,omitempty"`
}

// Secret points an env var at a keychain entry.
type Secret struct {
	Keychain string `yaml:"keychain"`
}

// Boot holds readiness polling settings.
type Boot struct {
	HealthURL      string   `yaml:"health_url,omitempty"`
	MaxWait        Duration `yaml:"max_wait,omitempty"`
	PollInterval   Duration `yaml:"poll_interval,omitempty"`
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`
}

// Telemetry selects where boot traces go.
type Telemetry struct {
	Traces   string `yaml:"traces,omitempty"`   // "none" | "stdout" | "otlp"
	Endpoint string `yaml:"endpoint,omitempty"` // otlp collector host:port
	Insecure bool   `yaml:"insecure,omitempty"` // otlp over plain http
}

// Duration wraps time.Duration for YAML strings like "2s" or "1500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Default returns the configuration used when no file exists. It names no
// gateway command, so it does not pass Validate on its own.
func Default() *Config {
	cfg := &Config{
		Gateway: Gateway{Mode: "native", Port: DefaultPort},
	}
	cfg.applyDefaults()
	return cfg
}

// DefaultPath returns ~/.gateboot/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gateboot", "config.yaml")
}

// Load reads a YAML config file and applies defaults. A file with content is
// also validated. A missing or empty file yields Default() unvalidated, so
// callers that need a launchable config must call Validate themselves.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var top map[string]any
	if err := yaml.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if len(top) == 0 {
		// Empty or comment-only.
		return Default(), nil
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	g := &c.Gateway
	if g.Mode == "" {
		g.Mode = "native"
	}
	if g.Port == 0 {
		g.Port = DefaultPort
	}
	if g.StopTimeout.Duration == 0 {
		g.StopTimeout.Duration = DefaultStopTimeout
	}
	if g.Mode == "container" && g.NetworkMode == "" {
		g.NetworkMode = "host"
	}

	if c.Telemetry.Traces == "" {
		c.Telemetry.Traces = "none"
	}

	b := &c.Boot
	if b.HealthURL == "" {
		b.HealthURL = fmt.Sprintf("http://127.0.0.1:%d/health", g.Port)
	}
	if b.MaxWait.Duration == 0 {
		b.MaxWait.Duration = DefaultMaxWait
	}
	if b.PollInterval.Duration == 0 {
		b.PollInterval.Duration = DefaultPollInterval
	}
	if b.RequestTimeout.Duration == 0 {
		b.RequestTimeout.Duration = DefaultRequestTimeout
	}
}

// Validate checks that the configuration can drive a launch.
func (c *Config) Validate() error {
	g := c.Gateway
	switch g.Mode {
	case "native":
		if strings.TrimSpace(g.Command) == "" {
			return fmt.Errorf("gateway.command is required for native mode")
		}
		if g.Image != "" {
			return fmt.Errorf("gateway.image is not valid for native mode")
		}
	case "container":
		if g.Image == "" {
			return fmt.Errorf("gateway.image is required for container mode")
		}
		if g.Command != "" {
			return fmt.Errorf("gateway.command is not valid for container mode (use args)")
		}
	default:
		return fmt.Errorf("gateway.mode must be \"native\" or \"container\", got %q", g.Mode)
	}

	if g.Port < 1 || g.Port > 65535 {
		return fmt.Errorf("gateway.port %d is out of range", g.Port)
	}
	if g.StopTimeout.Duration < 0 {
		return fmt.Errorf("gateway.stop_timeout must not be negative")
	}
	for name, s := range g.Secrets {
		if s.Keychain == "" {
			return fmt.Errorf("gateway.secrets.%s.keychain is required", name)
		}
	}

	b := c.Boot
	u, err := url.Parse(b.HealthURL)
	if err != nil {
		return fmt.Errorf("boot.health_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("boot.health_url must be http or https, got %q", b.HealthURL)
	}
	if u.Host == "" {
		return fmt.Errorf("boot.health_url %q has no host", b.HealthURL)
	}
	if u.Path != "" && !strings.HasPrefix(u.Path, "/") {
		return fmt.Errorf("boot.health_url path must start with /")
	}

	if b.MaxWait.Duration <= 0 {
		return fmt.Errorf("boot.max_wait must be positive")
	}
	if b.PollInterval.Duration <= 0 {
		return fmt.Errorf("boot.poll_interval must be positive")
	}
	if b.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("boot.request_timeout must be positive")
	}

	switch c.Telemetry.Traces {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.traces must be \"none\", \"stdout\" or \"otlp\", got %q", c.Telemetry.Traces)
	}
	return nil
}

// Argv returns the native command line with the port placeholder expanded.
func (g Gateway) Argv() (string, []string) {
	parts := strings.Fields(g.Command)
	parts = append(parts, g.Args...)
	port := strconv.Itoa(g.Port)
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, PortPlaceholder, port)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// ContainerCmd returns the container args with the port placeholder expanded.
func (g Gateway) ContainerCmd() []string {
	port := strconv.Itoa(g.Port)
	out := make([]string, len(g.Args))
	for i, a := range g.Args {
		out[i] = strings.ReplaceAll(a, PortPlaceholder, port)
	}
	return out
}
