package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadNativeConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
gateway:
  mode: native
  command: python3 -m local_runtime.main
  args: ["--port", "{{port}}"]
  working_dir: /opt/gateway
  port: 9000
  stop_timeout: 3s
  env:
    LOG_LEVEL: debug
  secrets:
    OPENAI_API_KEY:
      keychain: gateway/openai
boot:
  max_wait: 5m
  poll_interval: 500ms
api_addr: 127.0.0.1:9494
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Gateway.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Gateway.Port)
	}
	if cfg.Gateway.StopTimeout.Duration != 3*time.Second {
		t.Errorf("StopTimeout = %v, want 3s", cfg.Gateway.StopTimeout.Duration)
	}
	if cfg.Boot.HealthURL != "http://127.0.0.1:9000/health" {
		t.Errorf("HealthURL = %q, want derived from port", cfg.Boot.HealthURL)
	}
	if cfg.Boot.MaxWait.Duration != 5*time.Minute {
		t.Errorf("MaxWait = %v, want 5m", cfg.Boot.MaxWait.Duration)
	}
	if cfg.Boot.PollInterval.Duration != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.Boot.PollInterval.Duration)
	}
	if cfg.Boot.RequestTimeout.Duration != DefaultRequestTimeout {
		t.Errorf("RequestTimeout = %v, want default", cfg.Boot.RequestTimeout.Duration)
	}
	if cfg.Gateway.Secrets["OPENAI_API_KEY"].Keychain != "gateway/openai" {
		t.Errorf("unexpected secrets: %+v", cfg.Gateway.Secrets)
	}
	if cfg.APIAddr != "127.0.0.1:9494" {
		t.Errorf("APIAddr = %q", cfg.APIAddr)
	}

	name, args := cfg.Gateway.Argv()
	if name != "python3" {
		t.Errorf("command = %q, want python3", name)
	}
	if got := strings.Join(args, " "); got != "-m local_runtime.main --port 9000" {
		t.Errorf("args = %q", got)
	}
}

func TestLoadContainerConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
gateway:
  mode: container
  image: ghcr.io/example/gateway:latest
  args: ["serve", "--port={{port}}"]
boot:
  health_url: http://127.0.0.1:8484/healthz
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.NetworkMode != "host" {
		t.Errorf("NetworkMode = %q, want host", cfg.Gateway.NetworkMode)
	}
	if got := cfg.Gateway.ContainerCmd(); len(got) != 2 || got[1] != "--port=8484" {
		t.Errorf("ContainerCmd = %v", got)
	}
	if cfg.Boot.HealthURL != "http://127.0.0.1:8484/healthz" {
		t.Errorf("HealthURL = %q, want explicit value kept", cfg.Boot.HealthURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	assertDefaults(t, cfg)
}

func TestLoadMissingFileLeavesValidationToCaller(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "gateway.command is required") {
		t.Fatalf("expected the default config to fail validation, got %v", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()
	for _, content := range []string{"", "# nothing configured yet\n"} {
		cfg, err := Load(writeConfig(t, content))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", content, err)
		}
		assertDefaults(t, cfg)
	}
}

func assertDefaults(t *testing.T, cfg *Config) {
	t.Helper()
	if cfg.Gateway.Mode != "native" || cfg.Gateway.Port != DefaultPort {
		t.Errorf("unexpected gateway defaults: %+v", cfg.Gateway)
	}
	if cfg.Boot.HealthURL != "http://127.0.0.1:8484/health" {
		t.Errorf("HealthURL = %q", cfg.Boot.HealthURL)
	}
	if cfg.Boot.MaxWait.Duration != 10*time.Minute ||
		cfg.Boot.PollInterval.Duration != 2*time.Second ||
		cfg.Boot.RequestTimeout.Duration != 1500*time.Millisecond {
		t.Errorf("unexpected boot defaults: %+v", cfg.Boot)
	}
	if cfg.Telemetry.Traces != "none" {
		t.Errorf("Traces = %q, want none", cfg.Telemetry.Traces)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	if _, err := Load(writeConfig(t, "gateway: [unclosed\n")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Parallel()
	_, err := Load(writeConfig(t, `
gateway:
  command: gateway
boot:
  poll_interval: soon
`))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		cfg := Default()
		cfg.Gateway.Command = "local-runtime-gateway"
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown mode", func(c *Config) { c.Gateway.Mode = "sidecar" }, "gateway.mode"},
		{"native without command", func(c *Config) { c.Gateway.Command = " " }, "gateway.command is required"},
		{"native with image", func(c *Config) { c.Gateway.Image = "x" }, "not valid for native"},
		{"container without image", func(c *Config) { c.Gateway.Mode = "container"; c.Gateway.Command = "" }, "gateway.image is required"},
		{"container with command", func(c *Config) { c.Gateway.Mode = "container"; c.Gateway.Image = "x" }, "not valid for container"},
		{"port range", func(c *Config) { c.Gateway.Port = 70000 }, "out of range"},
		{"secret without key", func(c *Config) { c.Gateway.Secrets = map[string]Secret{"K": {}} }, "keychain is required"},
		{"bad scheme", func(c *Config) { c.Boot.HealthURL = "ftp://127.0.0.1/health" }, "http or https"},
		{"no host", func(c *Config) { c.Boot.HealthURL = "http:///health" }, "no host"},
		{"zero poll", func(c *Config) { c.Boot.PollInterval.Duration = 0 }, "poll_interval"},
		{"negative wait", func(c *Config) { c.Boot.MaxWait.Duration = -time.Second }, "max_wait"},
		{"zero request timeout", func(c *Config) { c.Boot.RequestTimeout.Duration = 0 }, "request_timeout"},
		{"otlp traces", func(c *Config) { c.Telemetry = Telemetry{Traces: "otlp", Endpoint: "127.0.0.1:4318"} }, ""},
		{"unknown traces", func(c *Config) { c.Telemetry.Traces = "jaeger" }, "telemetry.traces"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.errSub == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.errSub) {
				t.Fatalf("expected error containing %q, got %v", tc.errSub, err)
			}
		})
	}
}

func TestDefaultIsNotLaunchable(t *testing.T) {
	t.Parallel()
	if err := Default().Validate(); err == nil {
		t.Fatal("expected Default() to require a gateway command")
	}
}
