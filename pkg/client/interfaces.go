package client

// ConnectionInterface is the part of Connection the terminal UI depends on.
// This allows for mocking in tests while the real Connection implements all these methods
type ConnectionInterface interface {
	Send(text string) error
	Close() error
	State() State
	URL() string

	// Channels for receiving connection events
	Errors() <-chan error
	StateChanges() <-chan StateUpdate
	Done() <-chan struct{}
}

var _ ConnectionInterface = (*Connection)(nil)
