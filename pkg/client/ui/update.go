package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aeolun/ripplechat/pkg/client"
)

const (
	headerHeight = 1
	footerHeight = 1
	inputHeight  = 3 // input line plus its border
	paneChrome   = 2 // top and bottom border of a pane
)

// Update handles incoming messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case SessionChangedMsg:
		m.applySnapshot()
		return m, waitForSessionChange(m.reducer)

	case ConnectionStateMsg:
		m.connState = msg.State
		if msg.State == client.StateConnecting {
			m.reconnectAttempt = msg.Attempt
		}
		if msg.State == client.StateOpen {
			m.reconnectAttempt = 0
			m.errorMessage = ""
		}
		if msg.Err != nil {
			m.errorMessage = msg.Err.Error()
		}
		return m, listenForConnection(m.conn)

	case ErrorMsg:
		m.errorMessage = msg.Err.Error()
		return m, listenForConnection(m.conn)

	case ShutdownMsg:
		// Done stays closed, so stop listening
		m.shutdown = true
		m.connState = m.conn.State()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		return m.submit()

	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.feed, cmd = m.feed.Update(msg)
		m.followingFeed = m.feed.AtBottom()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input line as a chat message
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}

	m.input.Reset()
	if err := m.reducer.Submit(text); err != nil {
		m.errorMessage = fmt.Sprintf("Not sent: %v", err)
		return m, nil
	}

	m.errorMessage = ""
	m.followingFeed = true
	return m, nil
}

// applySnapshot refreshes the rendered state and raises mention notifications
// for messages that arrived since the last refresh
func (m *Model) applySnapshot() {
	m.snapshot = m.reducer.Snapshot()

	if m.notified > len(m.snapshot.Messages) {
		m.notified = 0
	}
	if m.options.NotifyMentions {
		self := m.reducer.Username()
		for _, p := range m.snapshot.Messages[m.notified:] {
			if p.From == self || !mentions(p.Message, self) {
				continue
			}
			if err := m.options.Notifier.Notify("Ripplechat: "+p.From, p.Message); err != nil {
				m.logf("Mention notification failed: %v", err)
			}
		}
	}
	m.notified = len(m.snapshot.Messages)

	m.refreshFeed()
}

// resize fits the feed viewport and input to the window
func (m *Model) resize() {
	_, feedWidth := paneWidths(m.width)
	m.feed.Width = max(0, feedWidth-4) // border plus padding
	m.feed.Height = max(0, m.height-headerHeight-footerHeight-inputHeight-paneChrome)
	m.input.Width = max(0, m.width-8)
	m.refreshFeed()
}

func (m *Model) refreshFeed() {
	m.feed.SetContent(renderFeed(m.snapshot, m.reducer.Username(), m.options.ShowImagesInline, m.feed.Width))
	if m.followingFeed {
		m.feed.GotoBottom()
	}
}

// paneWidths splits the window 1:3 between roster and feed
func paneWidths(width int) (roster, feed int) {
	roster = width / 4
	return roster, width - roster
}
