// Package daemon wires configuration, launcher, supervisor, run history and
// the API into one long-running gateway manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/benaskins/gateboot/internal/api"
	"github.com/benaskins/gateboot/internal/audit"
	"github.com/benaskins/gateboot/internal/boot"
	"github.com/benaskins/gateboot/internal/config"
	"github.com/benaskins/gateboot/internal/history"
	"github.com/benaskins/gateboot/internal/keychain"
	"github.com/benaskins/gateboot/internal/launcher"
	"github.com/benaskins/gateboot/internal/logbuf"
	"github.com/benaskins/gateboot/internal/supervisor"
	"github.com/benaskins/gateboot/internal/telemetry"
)

// shutdownTimeout bounds API shutdown and the final gateway stop.
const shutdownTimeout = 30 * time.Second

// Daemon owns one gateway and its boot supervisor.
type Daemon struct {
	configPath string
	stateDir   string
	secrets    keychain.Store
	audit      *audit.Logger
	logger     *slog.Logger
	traceOut   io.Writer
	telemetry  *telemetry.Provider

	mu  sync.RWMutex
	cfg *config.Config

	gateway *launcher.Gateway
	sup     *supervisor.Supervisor
	history *history.Store
}

// Option configures the daemon.
type Option func(*Daemon)

// WithSecrets sets the secret store used for keychain references. Reads
// made through it are recorded to <state_dir>/audit.log.
func WithSecrets(s keychain.Store) Option {
	return func(d *Daemon) {
		d.secrets = s
	}
}

// WithStateDir sets the directory for run history, reports and logs. A
// state_dir in the config file takes precedence.
func WithStateDir(dir string) Option {
	return func(d *Daemon) {
		d.stateDir = dir
	}
}

// WithTraceOutput sets where stdout traces are written. Defaults to
// os.Stdout.
func WithTraceOutput(w io.Writer) Option {
	return func(d *Daemon) {
		d.traceOut = w
	}
}

// NewDaemon loads the config at configPath and assembles the components.
// The config must name a gateway to launch.
func NewDaemon(configPath string, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		configPath: configPath,
		logger:     slog.With("component", "daemon"),
	}
	for _, opt := range opts {
		opt(d)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	d.cfg = cfg
	if cfg.StateDir != "" {
		d.stateDir = cfg.StateDir
	}
	if d.stateDir == "" {
		d.stateDir = filepath.Dir(configPath)
	}

	if d.secrets != nil {
		auditLog, err := audit.NewLogger(filepath.Join(d.stateDir, "audit.log"))
		if err != nil {
			d.logger.Warn("secret audit log disabled", "error", err)
		} else {
			d.audit = auditLog
			d.secrets = audit.WrapStore(d.secrets, auditLog, "launcher")
		}
	}

	tp, err := telemetry.Setup(context.Background(), cfg.Telemetry, d.traceOut)
	if err != nil {
		d.logger.Warn("tracing disabled", "traces", cfg.Telemetry.Traces, "error", err)
		tp, _ = telemetry.Setup(context.Background(), config.Telemetry{Traces: "none"}, nil)
	}
	d.telemetry = tp

	d.history = history.New(d.stateDir)
	lastRunID, err := d.history.LastRunID()
	switch {
	case errors.Is(err, history.ErrCorrupt):
		d.logger.Error("run history corrupt, run ids restart", "path", d.history.Path(), "kept", d.history.BadPath(), "error", err)
	case err != nil:
		d.logger.Error("run history unreadable, run ids restart", "path", d.history.Path(), "error", err)
	}

	d.gateway = launcher.New(cfg, launcher.Options{
		Secrets:   d.secrets,
		Logs:      logbuf.New(logbuf.DefaultLines),
		ReportDir: filepath.Join(d.stateDir, "reports"),
		PIDFile:   filepath.Join(d.stateDir, "gateway.pid"),
	})
	if err := d.gateway.OpenLogFile(filepath.Join(d.stateDir, "logs", "gateway.log")); err != nil {
		d.logger.Warn("gateway log file disabled", "error", err)
	}

	d.sup = supervisor.New(d.gateway, supervisor.Options{
		Timing:    TimingFor(cfg),
		LastRunID: lastRunID,
		OnSettled: d.recordRun,
		Logger:    slog.Default(),

		TracerProvider: tp.TracerProvider(),
	})
	return d, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("no usable gateway in %s: %w", path, err)
	}
	return cfg, nil
}

// TimingFor extracts the supervisor polling settings from cfg.
func TimingFor(cfg *config.Config) supervisor.Timing {
	return supervisor.Timing{
		HealthURL:      cfg.Boot.HealthURL,
		MaxWait:        cfg.Boot.MaxWait.Duration,
		PollInterval:   cfg.Boot.PollInterval.Duration,
		RequestTimeout: cfg.Boot.RequestTimeout.Duration,
	}
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Supervisor returns the boot supervisor.
func (d *Daemon) Supervisor() *supervisor.Supervisor { return d.sup }

// Gateway returns the launcher.
func (d *Daemon) Gateway() *launcher.Gateway { return d.gateway }

// History returns the run history store.
func (d *Daemon) History() *history.Store { return d.history }

func (d *Daemon) recordRun(st boot.State) {
	if err := d.history.Record(st); err != nil {
		d.logger.Error("recording run", "run_id", st.RunID, "error", err)
	}
}

// Reload re-reads the config file. New settings apply to the next run; an
// invalid file leaves the current settings in place. Telemetry settings
// take effect on restart.
func (d *Daemon) Reload() error {
	cfg, err := loadConfig(d.configPath)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()

	d.gateway.Reconfigure(cfg)
	d.sup.UpdateTiming(TimingFor(cfg))
	d.logger.Info("configuration reloaded", "mode", cfg.Gateway.Mode, "port", cfg.Gateway.Port)
	return nil
}

// Run serves the API on socketPath (and tcpAddr, if set) and watches the
// config file until ctx is cancelled or a listener fails. On return the
// supervisor is closed and a gateway this daemon launched is stopped.
func (d *Daemon) Run(ctx context.Context, socketPath, tcpAddr string) error {
	// Remove stale socket
	os.Remove(socketPath)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	srv := api.NewServer(d.sup, d.gateway, d.history, gctx)

	g.Go(func() error {
		return serveErr(srv.ListenUnix(socketPath))
	})
	if tcpAddr != "" {
		g.Go(func() error {
			return serveErr(srv.ListenTCP(tcpAddr))
		})
	}
	g.Go(func() error {
		return d.Watch(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	d.logger.Info("gateboot daemon ready", "socket", socketPath, "config", d.configPath)
	err := g.Wait()

	d.Close()
	os.Remove(socketPath)
	d.logger.Info("gateboot daemon stopped")
	return err
}

// Close stops polling and any gateway this daemon launched.
func (d *Daemon) Close() {
	d.sup.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.gateway.StopGateway(ctx); err != nil {
		d.logger.Warn("stopping gateway on shutdown", "error", err)
	}
	d.gateway.Close()
	if d.audit != nil {
		d.audit.Close()
	}
	if err := d.telemetry.Shutdown(ctx); err != nil {
		d.logger.Warn("flushing traces", "error", err)
	}
}

func serveErr(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
