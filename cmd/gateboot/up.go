package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/gateboot/internal/boot"
	"github.com/benaskins/gateboot/internal/daemon"
	"github.com/benaskins/gateboot/internal/keychain"
	"github.com/benaskins/gateboot/internal/supervisor"
	"github.com/benaskins/gateboot/internal/tui"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Launch the gateway in the foreground and wait for it to become ready",
	Long: `Launch the gateway without a daemon and show boot progress. Once the
gateway is ready it keeps running until interrupted.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().Bool("no-tui", false, "log progress lines instead of the interactive view")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	noTUI, _ := cmd.Flags().GetBool("no-tui")

	home, err := gatebootHome()
	if err != nil {
		return fmt.Errorf("locating home: %w", err)
	}
	d, err := daemon.NewDaemon(resolveConfigPath(),
		daemon.WithStateDir(home),
		daemon.WithSecrets(keychain.NewSystemStore()),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	sup := d.Supervisor()
	updates, unsubscribe := sup.Subscribe()
	defer unsubscribe()

	var final boot.State
	if !noTUI && term.IsTerminal(int(os.Stdout.Fd())) {
		final, err = bootWithTUI(ctx, sup, updates)
	} else {
		final = bootWithLogs(ctx, sup, updates)
	}
	if err != nil {
		d.Close()
		return err
	}

	switch final.Phase {
	case boot.PhaseReady:
	case boot.PhaseError:
		d.Close()
		return fmt.Errorf("gateway failed to start: %s", final.Error)
	default:
		d.Close()
		return errors.New("boot cancelled")
	}

	slog.Info("gateway ready, press Ctrl-C to stop", "run_id", final.RunID)
	<-ctx.Done()
	d.Close()
	return nil
}

func bootWithTUI(ctx context.Context, sup *supervisor.Supervisor, updates <-chan boot.Snapshot) (boot.State, error) {
	m := tui.New(ctx, sup, updates)
	p := tea.NewProgram(m,
		tea.WithOutput(os.Stderr),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return boot.State{}, fmt.Errorf("running progress view: %w", err)
	}
	if ctx.Err() != nil && sup.State().Phase.Active() {
		sup.Cancel(context.Background())
	}
	return sup.State(), nil
}

func bootWithLogs(ctx context.Context, sup *supervisor.Supervisor, updates <-chan boot.Snapshot) boot.State {
	sup.Start(ctx)

	last := boot.Snapshot{}
	for {
		select {
		case <-ctx.Done():
			sup.Cancel(context.Background())
			return sup.State()
		case snap, ok := <-updates:
			if !ok {
				return sup.State()
			}
			if snap.RunID == 0 {
				continue
			}
			if snap.Phase != last.Phase || snap.Attempts != last.Attempts {
				logSnapshot(snap)
			}
			last = snap
			if snap.Phase.Terminal() {
				return snap.State
			}
		}
	}
}

func logSnapshot(snap boot.Snapshot) {
	attrs := []any{
		"run_id", snap.RunID,
		"phase", snap.Phase,
		"attempts", snap.Attempts,
		"elapsed_ms", snap.ElapsedMs,
		"progress", fmt.Sprintf("%.0f%%", snap.Progress*100),
	}
	if snap.LastHTTPStatus != nil {
		attrs = append(attrs, "http_status", *snap.LastHTTPStatus)
	}
	if snap.LastReadiness != nil {
		attrs = append(attrs, "readiness", *snap.LastReadiness)
	}
	if snap.Error != "" {
		slog.Error("gateway boot", append(attrs, "error", snap.Error)...)
		return
	}
	slog.Info("gateway boot", attrs...)
}
