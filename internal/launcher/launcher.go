// Package launcher starts and stops the gateway process on behalf of the
// supervisor. It adopts a healthy gateway that already holds the configured
// port and refuses to spawn over a port held by something unresponsive. A
// native gateway's pid is recorded so a restarted daemon can take it back
// as managed. Launcher notices and child output go to a shared log ring.
package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benaskins/gateboot/internal/config"
	"github.com/benaskins/gateboot/internal/driver"
	"github.com/benaskins/gateboot/internal/health"
	"github.com/benaskins/gateboot/internal/keychain"
	"github.com/benaskins/gateboot/internal/logbuf"
)

// portDialTimeout bounds the dial used to detect a busy port.
const portDialTimeout = 500 * time.Millisecond

// LaunchError describes a spawn failure.
type LaunchError struct {
	Message  string   `json:"message"`
	Launcher string   `json:"launcher"`
	Args     []string `json:"args"`
	Hint     string   `json:"hint,omitempty"`
	Report   string   `json:"report,omitempty"` // path of the saved failure report
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("spawning gateway via %s: %s", e.Launcher, e.Message)
}

// Status is the launcher's view of the gateway process.
type Status struct {
	Status  string `json:"status"` // "running" | "stopped"
	Managed bool   `json:"managed"`
	Mode    string `json:"mode"`
	Port    int    `json:"port"`
	PID     int    `json:"pid,omitempty"`
}

// Options configures a Gateway.
type Options struct {
	Secrets   keychain.Store // nil skips secret injection
	Logs      *logbuf.Ring   // nil allocates a default ring
	Prober    *health.Prober
	ReportDir string // spawn failure reports; empty disables them
	PIDFile   string // identity of the spawned native gateway; empty disables re-attaching
	Logger    *slog.Logger
}

// Gateway launches the gateway described by a config.
type Gateway struct {
	secrets   keychain.Store
	logs      *logbuf.Ring
	prober    *health.Prober
	reportDir string
	pidFile   string
	client    *http.Client
	logger    *slog.Logger
	now       func() time.Time
	create    func(cfg *config.Config, env []string) (driver.Driver, string, []string, error)

	mu      sync.Mutex
	cfg     *config.Config
	drv     driver.Driver
	adopted bool
	logFile *os.File
}

// New creates a launcher for cfg. Nothing is spawned until StartGateway.
func New(cfg *config.Config, opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Logs == nil {
		opts.Logs = logbuf.New(logbuf.DefaultLines)
	}
	if opts.Prober == nil {
		opts.Prober = health.NewProber(nil, opts.Logger)
	}
	g := &Gateway{
		secrets:   opts.Secrets,
		logs:      opts.Logs,
		prober:    opts.Prober,
		reportDir: opts.ReportDir,
		pidFile:   opts.PIDFile,
		client:    &http.Client{},
		logger:    opts.Logger.With("component", "launcher"),
		now:       time.Now,
		cfg:       cfg,
	}
	g.create = g.createDriver
	return g
}

// Reconfigure applies cfg to the next spawn. A running gateway keeps its
// current settings until it is stopped.
func (g *Gateway) Reconfigure(cfg *config.Config) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
	g.notice("configuration reloaded (mode %s port %d)", cfg.Gateway.Mode, cfg.Gateway.Port)
}

// OpenLogFile mirrors every log line to path, appending.
func (g *Gateway) OpenLogFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.logFile != nil {
		g.logFile.Close()
	}
	g.logFile = f
	g.logs.SetMirror(f)
	g.notice("writing logs to %s", path)
	return nil
}

// StartGateway ensures a gateway is serving on the configured port.
func (g *Gateway) StartGateway(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.drv != nil && g.drv.Info().State.Alive() {
		g.notice("gateway already running (pid %d)", g.drv.Info().PID)
		return nil
	}

	cfg := g.cfg
	port := cfg.Gateway.Port
	g.adopted = false
	g.notice("start requested (mode %s port %d)", cfg.Gateway.Mode, port)

	if health.PortOpen(ctx, port, portDialTimeout) {
		res := g.prober.Check(ctx, cfg.Boot.HealthURL, cfg.Boot.RequestTimeout.Duration)
		if res.HTTPStatus != nil {
			if drv := g.reattach(port); drv != nil {
				g.drv = drv
				g.notice("re-attached to gateway pid %d on port %d (health: %s)", drv.Info().PID, port, res)
				go g.watch(drv)
				return nil
			}
			g.adopted = true
			g.notice("gateway already running on port %d (health: %s)", port, res)
			return nil
		}
		g.notice("port %d is in use but health check failed: %s", port, res)
		return fmt.Errorf("Port %d is in use and the gateway is not responding.", port)
	}

	env, err := g.environment(cfg)
	if err != nil {
		g.notice("%v", err)
		return err
	}

	drv, launcher, args, err := g.create(cfg, env)
	if err == nil {
		g.notice("spawning %s gateway via %s", cfg.Gateway.Mode, launcher)
		err = drv.Start(ctx)
		if err != nil {
			if c, ok := drv.(io.Closer); ok {
				c.Close()
			}
		}
	}
	if err != nil {
		g.notice("%s spawn failed: %v", cfg.Gateway.Mode, err)
		le := &LaunchError{
			Message:  err.Error(),
			Launcher: launcher,
			Args:     args,
			Hint:     hintFor(cfg.Gateway.Mode),
		}
		le.Report = g.writeReport(cfg, le)
		return le
	}

	g.drv = drv
	info := drv.Info()
	if info.PID != 0 {
		g.notice("gateway pid %d", info.PID)
		g.recordSpawn(info.PID, launcher, port)
	} else {
		g.notice("gateway container %s", shortID(info.ID))
	}
	go g.watch(drv)
	return nil
}

// StopGateway stops a gateway this launcher spawned or re-attached to. A
// gateway adopted without a matching pid record is left running. Calling it with nothing running is a no-op.
func (g *Gateway) StopGateway(ctx context.Context) error {
	g.mu.Lock()
	drv := g.drv
	g.drv = nil
	if g.adopted {
		g.adopted = false
		g.notice("leaving unmanaged gateway running")
	}
	timeout := g.cfg.Gateway.StopTimeout.Duration
	g.mu.Unlock()

	if drv == nil {
		return nil
	}
	if c, ok := drv.(io.Closer); ok {
		defer c.Close()
	}
	info := drv.Info()
	if !info.State.Alive() {
		g.forgetSpawn(info.PID)
		return nil
	}

	err := drv.Stop(ctx, timeout)
	if err != nil {
		g.notice("stopping gateway: %v", err)
		return fmt.Errorf("stopping gateway: %w", err)
	}
	g.forgetSpawn(info.PID)
	g.notice("gateway stopped")
	return nil
}

// Status reports whether a gateway is running and whether it is ours. An
// unmanaged gateway is detected by probing the health endpoint.
func (g *Gateway) Status(ctx context.Context) Status {
	g.mu.Lock()
	cfg := g.cfg
	st := Status{Status: "stopped", Mode: cfg.Gateway.Mode, Port: cfg.Gateway.Port}
	if g.drv != nil {
		if info := g.drv.Info(); info.State.Alive() {
			st.Status = "running"
			st.Managed = true
			st.PID = info.PID
		}
	}
	g.mu.Unlock()

	if st.Managed {
		return st
	}
	if res := g.prober.Check(ctx, cfg.Boot.HealthURL, cfg.Boot.RequestTimeout.Duration); res.HTTPStatus != nil {
		st.Status = "running"
	}
	return st
}

// Logs returns the last n log lines; n <= 0 returns all of them.
func (g *Gateway) Logs(n int) []string {
	return g.logs.Last(n)
}

// Close releases the log file. The gateway process is not touched.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.logFile == nil {
		return nil
	}
	g.logs.SetMirror(nil)
	err := g.logFile.Close()
	g.logFile = nil
	return err
}

func (g *Gateway) watch(drv driver.Driver) {
	<-drv.Done()
	info := drv.Info()
	if info.State == driver.StateExited {
		g.forgetSpawn(info.PID)
		g.notice("gateway exited with code %d", info.ExitCode)
		g.logger.Warn("gateway exited unexpectedly", "exit_code", info.ExitCode, "error", info.Error)
	}
}

func (g *Gateway) createDriver(cfg *config.Config, env []string) (driver.Driver, string, []string, error) {
	gw := cfg.Gateway
	switch gw.Mode {
	case "container":
		args := gw.ContainerCmd()
		d, err := driver.NewContainer(driver.ContainerConfig{
			Image:       gw.Image,
			Env:         env,
			Cmd:         args,
			NetworkMode: gw.NetworkMode,
			Output:      g.logs,
		})
		return d, "container:" + gw.Image, args, err
	default:
		name, args := gw.Argv()
		d := driver.NewNative(driver.NativeConfig{
			Command:    name,
			Args:       args,
			Env:        env,
			WorkingDir: gw.WorkingDir,
			Output:     g.logs,
		})
		return d, name, args, nil
	}
}

// environment builds the child env: host env for native launches, PORT,
// configured vars, then keychain secrets.
func (g *Gateway) environment(cfg *config.Config) ([]string, error) {
	gw := cfg.Gateway

	var env []string
	if gw.Mode == "native" {
		env = os.Environ()
	}
	env = append(env, "PORT="+strconv.Itoa(gw.Port))
	for _, k := range slices.Sorted(maps.Keys(gw.Env)) {
		env = append(env, k+"="+gw.Env[k])
	}

	if len(gw.Secrets) == 0 {
		return env, nil
	}
	if g.secrets == nil {
		g.logger.Warn("secrets configured but no secret store available", "count", len(gw.Secrets))
		return env, nil
	}

	refs := make(map[string]string, len(gw.Secrets))
	for name, s := range gw.Secrets {
		refs[name] = s.Keychain
	}
	secretEnv, missing, err := keychain.EnvFor(g.secrets, refs)
	if err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}
	for _, name := range missing {
		g.logger.Warn("secret not found, skipping", "env_var", name, "keychain_key", refs[name])
		g.notice("secret for %s not found, skipping", name)
	}
	for _, kv := range secretEnv {
		name, _, _ := strings.Cut(kv, "=")
		g.logger.Info("injected secret", "env_var", name)
	}
	return append(env, secretEnv...), nil
}

type spawnReport struct {
	Phase    string       `json:"phase"`
	Mode     string       `json:"mode"`
	Port     int          `json:"port"`
	Args     []string     `json:"args"`
	Launcher string       `json:"launcher"`
	Error    string       `json:"error"`
	Hint     string       `json:"hint,omitempty"`
	Time     time.Time    `json:"time"`
	Details  *LaunchError `json:"details"`
}

// writeReport saves a spawn failure report and returns its path, or "" when
// reports are disabled or the write fails.
func (g *Gateway) writeReport(cfg *config.Config, le *LaunchError) string {
	if g.reportDir == "" {
		return ""
	}
	if err := os.MkdirAll(g.reportDir, 0700); err != nil {
		g.logger.Warn("creating report dir", "error", err)
		return ""
	}

	now := g.now()
	data, err := json.MarshalIndent(spawnReport{
		Phase:    cfg.Gateway.Mode + "_spawn",
		Mode:     cfg.Gateway.Mode,
		Port:     cfg.Gateway.Port,
		Args:     le.Args,
		Launcher: le.Launcher,
		Error:    le.Message,
		Hint:     le.Hint,
		Time:     now.UTC(),
		Details:  le,
	}, "", "  ")
	if err != nil {
		return ""
	}

	path := filepath.Join(g.reportDir, fmt.Sprintf("spawn-failure-%d.json", now.Unix()))
	if err := os.WriteFile(path, data, 0600); err != nil {
		g.logger.Warn("writing spawn failure report", "error", err)
		return ""
	}
	g.notice("spawn failure report saved to %s", path)
	return path
}

func hintFor(mode string) string {
	if mode == "container" {
		return "Ensure Docker is running and gateway.image can be pulled."
	}
	return "Check gateway.command and gateway.working_dir in the config file."
}

// notice appends a launcher line to the log ring, which has its own lock.
func (g *Gateway) notice(format string, args ...any) {
	g.logs.Append("launcher: " + fmt.Sprintf(format, args...))
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
