package ui

import (
	"log"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aeolun/ripplechat/pkg/client"
	"github.com/aeolun/ripplechat/pkg/session"
)

// Options configures the terminal UI
type Options struct {
	NotifyMentions   bool
	ShowImagesInline bool
	Notifier         Notifier // nil uses DesktopNotifier
	Logger           *log.Logger
}

// Model is the bubbletea model for the chat window: a roster pane, a message
// feed and an input line.
type Model struct {
	conn    client.ConnectionInterface
	reducer *session.Reducer
	options Options

	// Session state as of the last change signal
	snapshot session.Snapshot
	notified int // messages already considered for notification

	// Connection status
	connState        client.State
	reconnectAttempt int
	shutdown         bool

	// UI state
	width         int
	height        int
	input         textinput.Model
	feed          viewport.Model
	spinner       spinner.Model
	errorMessage  string
	followingFeed bool
}

// NewModel creates the UI for a connection and its session reducer
func NewModel(conn client.ConnectionInterface, reducer *session.Reducer, options Options) Model {
	if options.Notifier == nil {
		options.Notifier = DesktopNotifier{}
	}

	input := textinput.New()
	input.Placeholder = "Say something... (@name to mention, .gif links show as images)"
	input.Prompt = "> "
	input.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	snapshot := reducer.Snapshot()

	return Model{
		conn:          conn,
		reducer:       reducer,
		options:       options,
		snapshot:      snapshot,
		notified:      len(snapshot.Messages),
		connState:     conn.State(),
		input:         input,
		feed:          viewport.New(0, 0),
		spinner:       s,
		followingFeed: true,
	}
}

// SessionChangedMsg is sent when the reducer signals a state change
type SessionChangedMsg struct{}

// ConnectionStateMsg carries a connection state transition
type ConnectionStateMsg client.StateUpdate

// ErrorMsg is sent when the connection reports a failure
type ErrorMsg struct {
	Err error
}

// ShutdownMsg is sent once the connection has been closed locally
type ShutdownMsg struct{}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		waitForSessionChange(m.reducer),
		listenForConnection(m.conn),
	)
}

// waitForSessionChange blocks until the reducer reports new state
func waitForSessionChange(reducer *session.Reducer) tea.Cmd {
	return func() tea.Msg {
		<-reducer.Changes()
		return SessionChangedMsg{}
	}
}

// listenForConnection listens for connection state changes and errors
func listenForConnection(conn client.ConnectionInterface) tea.Cmd {
	return func() tea.Msg {
		select {
		case update := <-conn.StateChanges():
			return ConnectionStateMsg(update)
		case err := <-conn.Errors():
			return ErrorMsg{Err: err}
		case <-conn.Done():
			return ShutdownMsg{}
		}
	}
}

func (m Model) logf(format string, args ...interface{}) {
	if m.options.Logger != nil {
		m.options.Logger.Printf(format, args...)
	}
}
