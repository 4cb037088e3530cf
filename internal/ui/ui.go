package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/relink/internal/auth"
	"github.com/desertthunder/relink/internal/bus"
	"github.com/desertthunder/relink/internal/realtime"
)

// maxEventLog bounds the rolling inbound event log.
const maxEventLog = 12

// eventEntry is one inbound server event rendered in the log.
type eventEntry struct {
	at      time.Time
	name    string
	summary string
}

// Model represents the dashboard application state.
type Model struct {
	ctx     context.Context
	coord   *auth.Coordinator
	manager *realtime.Manager
	width   int
	height  int

	status  *auth.Status
	state   realtime.State
	failure string
	events  []eventEntry
	action  string
	err     error

	authCh     <-chan bus.Event
	stateCh    <-chan bus.Event
	failCh     <-chan bus.Event
	playbackCh <-chan bus.Event
	playlistCh <-chan bus.Event
	notifyCh   <-chan bus.Event
	cancels    []func()

	help help.Model
	keys keyMap
}

// NewModel creates a dashboard wired to the bus topics it renders.
func NewModel(ctx context.Context, coord *auth.Coordinator, manager *realtime.Manager, b *bus.Broadcaster) *Model {
	m := &Model{
		ctx:     ctx,
		coord:   coord,
		manager: manager,
		state:   manager.State(),
		help:    help.New(),
		keys:    newKeyMap(),
	}

	subscribe := func(topic string) <-chan bus.Event {
		ch, cancel := b.Subscribe(topic, 32)
		m.cancels = append(m.cancels, cancel)
		return ch
	}
	m.authCh = subscribe(bus.TopicAuthStatus)
	m.stateCh = subscribe(bus.TopicChannelState)
	m.failCh = subscribe(bus.TopicTerminalFailure)
	m.playbackCh = subscribe("playback_update")
	m.playlistCh = subscribe("playlist_update")
	m.notifyCh = subscribe("system_notification")

	return m
}

// Init starts the bus listener and runs an initial auth check.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForBus(), m.doCheckAuth())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case Msg:
		return m.handleBusMsg(msg)
	}

	return m, nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.teardown()
		return m, tea.Quit
	case "c":
		return m, m.doConnect()
	case "d":
		return m, m.doDisconnect()
	case "a":
		return m, m.doCheckAuth()
	case "r":
		return m, m.doRefresh()
	case "p":
		return m, m.doPing()
	}
	return m, nil
}

func (m *Model) handleBusMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgAuthStatus:
		status := msg.data.(auth.Status)
		m.status = &status
		return m, m.waitForBus()

	case MsgChannelState:
		m.state = msg.data.(realtime.State)
		return m, m.waitForBus()

	case MsgTerminalFailure:
		m.failure = msg.data.(string)
		return m, m.waitForBus()

	case MsgServerEvent:
		entry := msg.data.(eventEntry)
		m.events = append(m.events, entry)
		if len(m.events) > maxEventLog {
			m.events = m.events[len(m.events)-maxEventLog:]
		}
		return m, m.waitForBus()

	case MsgActionDone:
		data := msg.data.(struct {
			label string
			err   error
		})
		m.action = data.label
		m.err = data.err
		return m, nil
	}
	return m, nil
}

// View renders the dashboard.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(styles.title.Render("relink session"))
	b.WriteString("\n")

	b.WriteString(m.renderAuth())
	b.WriteString("\n")
	b.WriteString(m.renderChannel())
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Queued events: %d", m.manager.QueueLen()))
	b.WriteString("\n")

	if m.failure != "" {
		b.WriteString("\n")
		b.WriteString(styles.err.Render(fmt.Sprintf("Channel failed: %s", m.failure)))
		b.WriteString("\n")
	}

	if len(m.events) > 0 {
		b.WriteString("\nRecent events:\n")
		for _, e := range m.events {
			b.WriteString(fmt.Sprintf("  %s  %-20s %s\n", e.at.Format("15:04:05"), e.name, e.summary))
		}
	}

	if m.action != "" {
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(styles.warn.Render(fmt.Sprintf("%s: %v", m.action, m.err)))
		} else {
			b.WriteString(styles.help.Render(m.action))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.FullHelpView(m.keys.FullHelp()))
	return b.String()
}

func (m *Model) renderAuth() string {
	if m.status == nil {
		return "Auth: checking..."
	}
	if m.status.Authenticated {
		return fmt.Sprintf("Auth: %s (checked %s)", styles.ok.Render("✓ authenticated"), m.status.CheckedAt.Format("15:04:05"))
	}
	return fmt.Sprintf("Auth: %s (checked %s)", styles.err.Render("✗ unauthenticated"), m.status.CheckedAt.Format("15:04:05"))
}

func (m *Model) renderChannel() string {
	label := string(m.state)
	switch m.state {
	case realtime.StateConnected:
		label = styles.ok.Render(label)
	case realtime.StateFailedTerminal:
		label = styles.err.Render(label)
	case realtime.StateConnecting, realtime.StateReconnecting:
		label = styles.warn.Render(label)
	}
	return fmt.Sprintf("Channel: %s", label)
}

// waitForBus blocks on the subscribed topics and converts the next bus
// event into a TUI message. Re-armed after every delivery.
func (m *Model) waitForBus() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.authCh:
			if status, ok := ev.Payload.(auth.Status); ok {
				return authStatusMsg(status)
			}
		case ev := <-m.stateCh:
			if state, ok := ev.Payload.(realtime.State); ok {
				return channelStateMsg(state)
			}
		case ev := <-m.failCh:
			if reason, ok := ev.Payload.(string); ok {
				return terminalFailureMsg(reason)
			}
		case ev := <-m.playbackCh:
			if ev.Topic != "" {
				return serverEventMsg(newEventEntry("playback_update", ev))
			}
		case ev := <-m.playlistCh:
			if ev.Topic != "" {
				return serverEventMsg(newEventEntry("playlist_update", ev))
			}
		case ev := <-m.notifyCh:
			if ev.Topic != "" {
				return serverEventMsg(newEventEntry("system_notification", ev))
			}
		case <-m.ctx.Done():
		}
		return nil
	}
}

func newEventEntry(name string, ev bus.Event) eventEntry {
	summary := ""
	if raw, ok := ev.Payload.(json.RawMessage); ok {
		summary = string(raw)
		if len(summary) > 60 {
			summary = summary[:57] + "..."
		}
	}
	return eventEntry{at: time.Now(), name: name, summary: summary}
}

func (m *Model) doConnect() tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg("connect", m.manager.Connect(m.ctx))
	}
}

func (m *Model) doDisconnect() tea.Cmd {
	return func() tea.Msg {
		m.manager.Disconnect()
		return actionDoneMsg("disconnected", nil)
	}
}

func (m *Model) doCheckAuth() tea.Cmd {
	return func() tea.Msg {
		_, err := m.coord.CheckAuth(m.ctx)
		return actionDoneMsg("auth checked", err)
	}
}

func (m *Model) doRefresh() tea.Cmd {
	return func() tea.Msg {
		_, err := m.coord.RefreshToken(m.ctx)
		return actionDoneMsg("token refreshed", err)
	}
}

func (m *Model) doPing() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		defer cancel()

		ok, err := m.manager.Verify(ctx)
		if err == nil && !ok {
			err = fmt.Errorf("server did not confirm the session")
		}
		return actionDoneMsg("ping", err)
	}
}

func (m *Model) teardown() {
	for _, cancel := range m.cancels {
		cancel()
	}
}
