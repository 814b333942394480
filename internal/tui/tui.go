// Package tui renders a live view of a game for watchers.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/lox/toninas/internal/client"
	"github.com/lox/toninas/internal/controller"
	"github.com/lox/toninas/internal/game"
	"github.com/lox/toninas/internal/server"
)

const (
	tickInterval = 100 * time.Millisecond
	maxMessages  = 5
	maxBarWidth  = 60
)

// Source is where the model gets events and sends commands. *client.Client
// satisfies it.
type Source interface {
	Events() <-chan client.Event
	StartGame(o server.Overrides) error
	StopGame() error
}

type eventMsg client.Event

type streamClosedMsg struct{}

type tickMsg time.Time

// Model is the bubbletea model of the watch screen.
type Model struct {
	source Source
	logger *log.Logger
	now    func() time.Time

	progress progress.Model

	snap      game.Snapshot
	hasGame   bool
	state     []int
	health    game.HealthValue
	startedAt time.Time
	ended     bool
	outcome   game.Outcome
	messages  []string

	disconnected bool
	quitting     bool
}

// Option configures a Model.
type Option func(*Model)

// WithNow replaces the wall clock used for the remaining-time bar.
func WithNow(now func() time.Time) Option {
	return func(m *Model) {
		m.now = now
	}
}

// NewModel creates the watch screen for source.
func NewModel(source Source, logger *log.Logger, opts ...Option) *Model {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	m := &Model{
		source:   source,
		logger:   logger.WithPrefix("tui"),
		now:      time.Now,
		progress: bar,
		health: game.HealthValue{
			Sender:   controller.HealthUnknown,
			Receiver: controller.HealthUnknown,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), tick())
}

func (m *Model) waitForEvent() tea.Cmd {
	events := m.source.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.apply(client.Event(msg))
		return m, m.waitForEvent()

	case streamClosedMsg:
		m.disconnected = true
		m.addMessage("Disconnected from server")
		return m, nil

	case tickMsg:
		return m, tick()

	case tea.WindowSizeMsg:
		m.progress.Width = min(maxBarWidth, max(10, msg.Width-20))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.quitting = true
			return m, tea.Quit
		case "s":
			if err := m.source.StartGame(server.Overrides{}); err != nil {
				m.addMessage("Start failed: " + err.Error())
			}
		case "x":
			if err := m.source.StopGame(); err != nil {
				m.addMessage("Stop failed: " + err.Error())
			}
		}
	}
	return m, nil
}

func (m *Model) apply(ev client.Event) {
	m.logger.Debug("Event", "signal", ev.Signal)

	var err error
	switch ev.Signal {
	case game.SignalConfig:
		var snap game.Snapshot
		if snap, err = ev.Config(); err == nil {
			m.snap = snap
			m.hasGame = true
			m.state = append([]int{}, snap.ConnState...)
			if len(m.state) != snap.ConnQty {
				m.state = make([]int, snap.ConnQty)
			}
			m.health = game.HealthValue{Sender: snap.SenderHealth, Receiver: snap.ReceiverHealth}
			m.startedAt = m.now()
			m.ended = snap.State == game.StateEnded
			m.outcome = snap.Outcome
		}

	case game.SignalStatus:
		var state []int
		if state, err = ev.Status(); err == nil {
			m.state = state
		}

	case game.SignalHealthCheck:
		var h game.HealthValue
		if h, err = ev.Health(); err == nil {
			m.health = h
		}

	case game.SignalWin:
		m.ended = true
		m.outcome = game.OutcomeWon

	case game.SignalTimeout:
		m.ended = true
		m.outcome = game.OutcomeTimedOut

	case server.SignalError:
		var text string
		if text, err = ev.ErrorMessage(); err == nil {
			m.addMessage("Server: " + text)
		}

	default:
		m.logger.Debug("Ignoring unknown event", "signal", ev.Signal)
	}

	if err != nil {
		m.addMessage(fmt.Sprintf("Bad %s event: %v", ev.Signal, err))
	}
}

func (m *Model) addMessage(msg string) {
	m.messages = append(m.messages, msg)
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
}

// Remaining returns the time left in the current game.
func (m *Model) Remaining() time.Duration {
	if !m.hasGame || m.ended {
		return 0
	}
	timeout := time.Duration(m.snap.Timeout * float64(time.Second))
	remaining := timeout - m.now().Sub(m.startedAt)
	return max(remaining, 0)
}

// Connected returns how many connections are made.
func (m *Model) Connected() int {
	n := 0
	for _, v := range m.state {
		n += v
	}
	return n
}

// Outcome returns how the watched game ended, if it has.
func (m *Model) Outcome() game.Outcome {
	return m.outcome
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render("toninas"))
	if m.hasGame {
		b.WriteString(" " + InfoStyle.Render(m.snap.ID))
	}
	b.WriteString("\n\n")

	if !m.hasGame {
		b.WriteString(InfoStyle.Render("Waiting for a game..."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderBoard())
		b.WriteString("\n")
		b.WriteString(m.renderHealth())
		b.WriteString("\n\n")
		b.WriteString(m.renderTimer())
		b.WriteString("\n")
		if banner := m.renderBanner(); banner != "" {
			b.WriteString(banner)
			b.WriteString("\n")
		}
	}

	for _, msg := range m.messages {
		b.WriteString("\n" + WarningStyle.Render(msg))
	}

	b.WriteString("\n\n" + InfoStyle.Render("s: new game  x: stop  q: quit"))
	return b.String()
}

func (m *Model) renderBoard() string {
	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render("sender"), renderSlots(m.snap.SlotQty, m.snap.SenderPos)),
		lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render("receiver"), renderSlots(m.snap.SlotQty, m.snap.ReceiverPos)),
		lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render("links"), m.renderState()),
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// renderSlots draws every slot on one side, labelling assigned slots with
// their connection index.
func renderSlots(slotQty int, positions []int) string {
	index := make(map[int]int, len(positions))
	for i, p := range positions {
		index[p] = i
	}

	cells := make([]string, slotQty)
	for slot := range slotQty {
		if i, ok := index[slot]; ok {
			cells[slot] = AssignedSlotStyle.Render(fmt.Sprintf("%X", i%16))
		} else {
			cells[slot] = SlotStyle.Render("·")
		}
	}
	return strings.Join(cells, "")
}

func (m *Model) renderState() string {
	cells := make([]string, len(m.state))
	for i, v := range m.state {
		if v == 1 {
			cells[i] = ConnectedStyle.Render("●")
		} else {
			cells[i] = OpenStyle.Render("○")
		}
	}
	return strings.Join(cells, " ") + InfoStyle.Render(fmt.Sprintf("  %d/%d", m.Connected(), len(m.state)))
}

func (m *Model) renderHealth() string {
	return fmt.Sprintf("%s%s   %s",
		LabelStyle.Render("health"),
		healthStyle(m.health.Sender).Render("sender "+string(m.health.Sender)),
		healthStyle(m.health.Receiver).Render("receiver "+string(m.health.Receiver)))
}

func healthStyle(h controller.Health) lipgloss.Style {
	switch h {
	case controller.HealthOK:
		return SuccessStyle
	case controller.HealthError, controller.HealthDisconnected:
		return ErrorStyle
	default:
		return InfoStyle
	}
}

func (m *Model) renderTimer() string {
	timeout := m.snap.Timeout
	remaining := m.Remaining().Seconds()
	pct := 0.0
	if timeout > 0 {
		pct = remaining / timeout
	}
	return fmt.Sprintf("%s%s %s", LabelStyle.Render("time"), m.progress.ViewAs(pct), InfoStyle.Render(fmt.Sprintf("%.1fs", remaining)))
}

func (m *Model) renderBanner() string {
	switch {
	case m.outcome == game.OutcomeWon:
		return BannerStyle.BorderForeground(lipgloss.Color("#04B575")).Render(SuccessStyle.Render("All connections made!"))
	case m.outcome == game.OutcomeTimedOut:
		return BannerStyle.BorderForeground(lipgloss.Color("#FF6B6B")).Render(ErrorStyle.Render("Time is up"))
	case m.outcome == game.OutcomeStopped:
		return BannerStyle.Render(InfoStyle.Render("Game stopped"))
	case m.disconnected:
		return BannerStyle.Render(ErrorStyle.Render("Disconnected"))
	}
	return ""
}
