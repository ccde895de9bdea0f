// Package monitor is the terminal status view of a running acquisition.
// Pressing q (or ctrl+c) stops the session.
package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cobsdaq/pkg/engine"
	"cobsdaq/pkg/protocol"
)

const defaultRefresh = 200 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(16)
	valueStyle = lipgloss.NewStyle().Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	hintStyle  = lipgloss.NewStyle().Faint(true)
)

type tickMsg time.Time

type eventMsg engine.Event

// Model renders session status. Stop is called once when the operator quits.
type Model struct {
	title    string
	source   string
	output   string
	status   func() engine.Status
	stop     func()
	refresh  time.Duration
	snap     engine.Status
	live     *protocol.LiveSample
	lastDiag *protocol.Diagnostic
	quitting bool
}

type Option func(*Model)

func WithRefresh(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.refresh = d
		}
	}
}

// WithSession names the source and output shown in the header.
func WithSession(source, output string) Option {
	return func(m *Model) {
		m.source = source
		m.output = output
	}
}

func NewModel(title string, status func() engine.Status, stop func(), opts ...Option) Model {
	m := Model{
		title:   title,
		status:  status,
		stop:    stop,
		refresh: defaultRefresh,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "Q", "ctrl+c":
			if !m.quitting && m.stop != nil {
				m.stop()
			}
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		if m.status != nil {
			m.snap = m.status()
		}
		return m, m.tick()
	case eventMsg:
		if msg.Live != nil {
			m.live = msg.Live
		}
		if msg.Diagnostic != nil {
			m.lastDiag = msg.Diagnostic
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	if m.source != "" {
		row(&b, "source", m.source)
	}
	if m.output != "" {
		row(&b, "output", m.output)
	}
	row(&b, "state", m.snap.State.String())
	row(&b, "records", fmt.Sprintf("%d", m.snap.Records))
	row(&b, "last seq", fmt.Sprintf("%d", m.snap.LastSeq))
	row(&b, "discarded", fmt.Sprintf("%d (framing %d, decode %d, length %d)",
		m.snap.Stats.Discarded(),
		m.snap.Stats.FramingErrors,
		m.snap.Stats.DecodeErrors,
		m.snap.Stats.LengthMismatch))
	row(&b, "resync bytes", fmt.Sprintf("%d", m.snap.Stats.DiscardedBytes))
	if m.live != nil {
		row(&b, fmt.Sprintf("ch%d", m.live.Channel), fmt.Sprintf("%g @ t=%g", m.live.Value, m.live.Tag))
	}
	if m.lastDiag != nil {
		b.WriteString(warnStyle.Render("last discard: " + m.lastDiag.Kind.String()))
		b.WriteString("\n")
	}
	if m.quitting {
		b.WriteString(hintStyle.Render("stopping..."))
	} else {
		b.WriteString(hintStyle.Render("press q to stop"))
	}
	b.WriteString("\n")
	return b.String()
}

func row(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

// Run shows m until the operator quits or ctx is cancelled. Hub events, when
// a hub is given, update the live value and the last discard.
func Run(ctx context.Context, m Model, hub *engine.Hub, in io.Reader, out io.Writer) error {
	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)

	if hub != nil {
		sub := hub.SubscribeWithBuffer(64)
		go func() {
			for {
				select {
				case <-ctx.Done():
					hub.Unsubscribe(sub)
					return
				case ev, ok := <-sub:
					if !ok {
						return
					}
					if ev.Record != nil {
						continue
					}
					p.Send(eventMsg(ev))
				}
			}
		}()
	}

	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
