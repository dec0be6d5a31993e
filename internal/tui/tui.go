// Package tui renders boot progress in the terminal with bubbletea.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/benaskins/gateboot/internal/boot"
)

const refreshEvery = 250 * time.Millisecond

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("42")
	red    = lipgloss.Color("196")
	gray   = lipgloss.Color("245")

	titleStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(gray)
	readyStyle  = lipgloss.NewStyle().Foreground(green).Bold(true)
	errorBanner = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(red).Bold(true).Padding(0, 1)
)

// Controller is the part of the supervisor the UI drives.
type Controller interface {
	Start(ctx context.Context) uint64
	Cancel(ctx context.Context)
	Reset()
	Snapshot() boot.Snapshot
}

type keyMap struct {
	Quit    key.Binding
	Restart key.Binding
	Reset   key.Binding
}

func (k keyMap) ShortHelp() []key.Binding  { return []key.Binding{k.Restart, k.Reset, k.Quit} }
func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "cancel and quit")),
	Restart: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "restart")),
	Reset:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "reset")),
}

type (
	snapshotMsg  boot.Snapshot
	closedMsg    struct{}
	refreshMsg   struct{}
	cancelledMsg struct{}
)

// Model is the bubbletea model for one `gateboot up` session.
type Model struct {
	ctrl    Controller
	ctx     context.Context
	updates <-chan boot.Snapshot

	spinner spinner.Model
	bar     progress.Model
	help    help.Model

	snap      boot.Snapshot
	quitting  bool
	cancelled bool
}

// New creates a model that starts a run on Init and follows updates.
func New(ctx context.Context, ctrl Controller, updates <-chan boot.Snapshot) *Model {
	return &Model{
		ctrl:    ctrl,
		ctx:     ctx,
		updates: updates,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(purple)),
		),
		bar:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		help: help.New(),
		snap: ctrl.Snapshot(),
	}
}

// Snapshot returns the last snapshot the model saw.
func (m *Model) Snapshot() boot.Snapshot { return m.snap }

// Cancelled reports whether the operator quit before the gateway was ready.
func (m *Model) Cancelled() bool { return m.cancelled }

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start(), m.waitForSnapshot(), refresh())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			if m.snap.Phase.Active() {
				m.cancelled = true
				return m, m.cancel()
			}
			return m, tea.Quit
		case key.Matches(msg, keys.Restart):
			if !m.snap.Phase.Active() {
				return m, m.start()
			}
		case key.Matches(msg, keys.Reset):
			m.ctrl.Reset()
			m.snap = m.ctrl.Snapshot()
		}

	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-20, 10), 60)
		m.help.Width = msg.Width

	case snapshotMsg:
		m.snap = boot.Snapshot(msg)
		if m.snap.Phase == boot.PhaseReady {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.waitForSnapshot()

	case closedMsg:
		m.quitting = true
		return m, tea.Quit

	case cancelledMsg:
		m.snap = m.ctrl.Snapshot()
		return m, tea.Quit

	case refreshMsg:
		if m.snap.Phase.Active() {
			m.snap = m.ctrl.Snapshot()
		}
		return m, refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) View() string {
	s := m.snap
	var b strings.Builder

	switch s.Phase {
	case boot.PhaseReady:
		b.WriteString(readyStyle.Render("✓ Gateway ready"))
	case boot.PhaseError:
		b.WriteString(errorBanner.Render("Gateway failed to start"))
	case boot.PhaseCancelled:
		b.WriteString(titleStyle.Render("Boot cancelled"))
	case boot.PhaseIdle:
		b.WriteString(titleStyle.Render("Gateway idle"))
	default:
		b.WriteString(m.spinner.View() + " " + titleStyle.Render(phaseTitle(s.Phase)))
	}
	if s.RunID != 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  run #%d", s.RunID)))
	}
	b.WriteString("\n\n")

	b.WriteString(m.bar.ViewAs(s.Progress))
	b.WriteString("\n")

	elapsed := (time.Duration(s.ElapsedMs) * time.Millisecond).Round(time.Second)
	maxWait := time.Duration(s.MaxWaitMs) * time.Millisecond
	b.WriteString(dimStyle.Render(fmt.Sprintf("elapsed %s of %s · attempts %d", elapsed, maxWait, s.Attempts)))
	if d := diagnostics(s.State); d != "" {
		b.WriteString(dimStyle.Render(" · " + d))
	}
	b.WriteString("\n")

	if s.Phase == boot.PhaseError && s.Error != "" {
		b.WriteString("\n" + lipgloss.NewStyle().Foreground(red).Render(s.Error) + "\n")
	}

	if !m.quitting {
		b.WriteString("\n" + m.help.View(keys) + "\n")
	}
	return b.String()
}

func phaseTitle(p boot.Phase) string {
	if p == boot.PhaseBooting {
		return "Starting gateway"
	}
	return "Waiting for gateway"
}

// diagnostics renders the last health check's status code and readiness value.
func diagnostics(s boot.State) string {
	var parts []string
	if s.LastHTTPStatus != nil {
		parts = append(parts, fmt.Sprintf("http %d", *s.LastHTTPStatus))
	}
	if s.LastReadiness != nil {
		parts = append(parts, fmt.Sprintf("status %q", *s.LastReadiness))
	}
	return strings.Join(parts, " ")
}

func (m *Model) start() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		ctrl.Start(ctx)
		return nil
	}
}

func (m *Model) cancel() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		ctrl.Cancel(ctx)
		return cancelledMsg{}
	}
}

func (m *Model) waitForSnapshot() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshEvery, func(time.Time) tea.Msg { return refreshMsg{} })
}
