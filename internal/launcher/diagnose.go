package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/benaskins/gateboot/internal/config"
	"github.com/benaskins/gateboot/internal/driver"
	"github.com/benaskins/gateboot/internal/health"
)

// Check outcomes.
const (
	CheckOK      = "ok"
	CheckWarning = "warning"
	CheckError   = "error"
)

// Check is one line of a Doctor report.
type Check struct {
	Title   string `json:"title"`
	Status  string `json:"status"` // CheckOK, CheckWarning or CheckError
	Details string `json:"details"`
	Fix     string `json:"fix,omitempty"`
}

// Connection tells clients where the gateway serves.
type Connection struct {
	Port      int       `json:"port"`
	BaseURL   string    `json:"base_url"`
	LLMURL    string    `json:"llm_url"`
	STTURL    string    `json:"stt_url"`
	Endpoints Endpoints `json:"endpoints"`
}

// Endpoints are example URLs on the gateway.
type Endpoints struct {
	Health     string `json:"health"`
	LLMExample string `json:"llm_example"`
	STTExample string `json:"stt_example"`
}

func baseURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// Connection returns the gateway's URLs for the current config.
func (g *Gateway) Connection() Connection {
	g.mu.Lock()
	cfg := g.cfg
	g.mu.Unlock()

	base := baseURL(cfg.Gateway.Port)
	return Connection{
		Port:    cfg.Gateway.Port,
		BaseURL: base,
		LLMURL:  base,
		STTURL:  base,
		Endpoints: Endpoints{
			Health:     cfg.Boot.HealthURL,
			LLMExample: base + "/v1/responses",
			STTExample: base + "/v1/audio/transcriptions",
		},
	}
}

// Models returns the "data" array of the gateway's /v1/models. Failures
// are noted in the log ring and returned.
func (g *Gateway) Models(ctx context.Context) ([]json.RawMessage, error) {
	g.mu.Lock()
	cfg := g.cfg
	g.mu.Unlock()

	models, err := g.fetchModels(ctx, cfg)
	if err != nil {
		g.notice("gateway models request failed: %v", err)
		return nil, err
	}
	return models, nil
}

func (g *Gateway) fetchModels(ctx context.Context, cfg *config.Config) ([]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Boot.RequestTimeout.Duration)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(cfg.Gateway.Port)+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	var payload struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}
	return payload.Data, nil
}

// Doctor checks that the gateway can launch: the command or image, the
// port, and the health endpoint if a gateway is running.
func (g *Gateway) Doctor(ctx context.Context) []Check {
	g.mu.Lock()
	cfg := g.cfg
	g.mu.Unlock()

	var checks []Check
	if cfg.Gateway.Mode == "container" {
		checks = append(checks, imageCheck(ctx, cfg.Gateway.Image))
	} else {
		checks = append(checks, commandCheck(cfg.Gateway))
	}

	port := cfg.Gateway.Port
	running := g.Status(ctx).Status == "running"
	switch {
	case health.PortOpen(ctx, port, portDialTimeout) && running:
		checks = append(checks, Check{Title: "Port availability", Status: CheckOK,
			Details: fmt.Sprintf("Port %d is bound by the running gateway.", port)})
	case health.PortOpen(ctx, port, portDialTimeout):
		checks = append(checks, Check{Title: "Port availability", Status: CheckError,
			Details: fmt.Sprintf("Port %d is already in use.", port),
			Fix:     "Choose another gateway.port or stop the process using this port."})
	default:
		checks = append(checks, Check{Title: "Port availability", Status: CheckOK,
			Details: fmt.Sprintf("Port %d is free.", port)})
	}

	if !running {
		return append(checks, Check{Title: "Gateway health", Status: CheckWarning,
			Details: "Gateway is not running yet.",
			Fix:     "Start the gateway to verify health."})
	}
	res := g.prober.Check(ctx, cfg.Boot.HealthURL, cfg.Boot.RequestTimeout.Duration)
	if res.OK {
		return append(checks, Check{Title: "Gateway health", Status: CheckOK,
			Details: "Health check OK: " + res.String()})
	}
	return append(checks, Check{Title: "Gateway health", Status: CheckWarning,
		Details: "Gateway responded but health check failed: " + res.String(),
		Fix:     "Open the gateway logs to inspect startup errors."})
}

func commandCheck(gw config.Gateway) Check {
	name, _ := gw.Argv()
	if name == "" {
		return Check{Title: "Gateway executable", Status: CheckError,
			Details: "No gateway command configured.",
			Fix:     "Set gateway.command in the config file."}
	}
	if strings.Contains(name, "/") && !filepath.IsAbs(name) && gw.WorkingDir != "" {
		name = filepath.Join(gw.WorkingDir, name)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return Check{Title: "Gateway executable", Status: CheckError,
			Details: fmt.Sprintf("Unable to run %s: %v", name, err),
			Fix:     "Check gateway.command and gateway.working_dir, and that the file is executable."}
	}
	return Check{Title: "Gateway executable", Status: CheckOK, Details: "Using " + path}
}

func imageCheck(ctx context.Context, image string) Check {
	present, err := driver.ImagePresent(ctx, image)
	switch {
	case err != nil:
		return Check{Title: "Gateway image", Status: CheckError,
			Details: err.Error(),
			Fix:     "Ensure Docker is running."}
	case !present:
		return Check{Title: "Gateway image", Status: CheckError,
			Details: fmt.Sprintf("Image %s is not present locally.", image),
			Fix:     fmt.Sprintf("Run docker pull %s.", image)}
	}
	return Check{Title: "Gateway image", Status: CheckOK, Details: "Found image " + image}
}
