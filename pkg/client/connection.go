package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/aeolun/ripplechat/pkg/bus"
	"github.com/aeolun/ripplechat/pkg/protocol"
)

// State is a connection lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// StateUpdate represents a connection state change
type StateUpdate struct {
	State   State
	Attempt int // reconnect attempt, 0 for the initial connect
	Err     error
}

var (
	// ErrUnreachable is returned by Connect when the transport cannot be opened.
	ErrUnreachable = errors.New("server unreachable")
	// ErrClosed is returned by Send when the connection is not open.
	ErrClosed = errors.New("connection closed")
	// ErrQueueFull is returned by Send when the outbound queue is at capacity.
	ErrQueueFull = errors.New("outgoing queue full")
	// ErrAlreadyConnected is returned by Connect on a live connection.
	ErrAlreadyConnected = errors.New("already connected")
)

// DefaultQueueSize is the outbound queue capacity used when none is given.
const DefaultQueueSize = 100

// ReconnectPolicy controls automatic redialling after a transport failure.
// It is disabled unless Enabled is set.
type ReconnectPolicy struct {
	Enabled  bool
	Initial  time.Duration
	MaxDelay time.Duration
}

// Options configures a Connection.
type Options struct {
	// Username is announced with a register envelope every time the
	// connection opens. Empty disables the announcement.
	Username  string
	Bus       *bus.Bus
	Dialer    Dialer
	QueueSize int
	Reconnect ReconnectPolicy
	Metrics   *Metrics
	Logger    *log.Logger
}

// Connection owns one duplex stream to the chat server. Inbound frames are
// published verbatim on the bus; outbound frames go through a bounded FIFO
// queue drained by a single writer.
type Connection struct {
	url       string
	username  string
	bus       *bus.Bus
	dialer    Dialer
	reconnect ReconnectPolicy
	metrics   *Metrics
	logger    *log.Logger

	mu           sync.RWMutex
	state        State
	transport    Transport
	done         chan struct{} // closed when the current transport is torn down
	reconnecting bool

	// Channels for communication
	outgoing    chan string
	errors      chan error
	stateChange chan StateUpdate

	// Shutdown
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConnection creates a connection to url in the Connecting state. Nothing
// is dialled until Connect is called.
func NewConnection(url string, opts Options) *Connection {
	if opts.Bus == nil {
		opts.Bus = bus.New()
	}
	if opts.Dialer == nil {
		opts.Dialer = DefaultWebSocketDialer()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Reconnect.Initial <= 0 {
		opts.Reconnect.Initial = time.Second
	}
	if opts.Reconnect.MaxDelay < opts.Reconnect.Initial {
		opts.Reconnect.MaxDelay = 30 * time.Second
	}

	return &Connection{
		url:         url,
		username:    opts.Username,
		bus:         opts.Bus,
		dialer:      opts.Dialer,
		reconnect:   opts.Reconnect,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		state:       StateConnecting,
		outgoing:    make(chan string, opts.QueueSize),
		errors:      make(chan error, 16),
		stateChange: make(chan StateUpdate, 16),
		shutdown:    make(chan struct{}),
	}
}

// SetLogger sets a logger for debugging connection events
func (c *Connection) SetLogger(logger *log.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// logf logs a message if a logger is set
func (c *Connection) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Connect dials the server and moves the connection to Open, or to Errored
// with an error wrapping ErrUnreachable. It may be called again after the
// connection errored; it fails on an open or closed connection. With
// reconnect enabled, a failed dial keeps retrying in the background unless
// ctx was cancelled.
func (c *Connection) Connect(ctx context.Context) error {
	err := c.connect(ctx, 0)
	if errors.Is(err, ErrUnreachable) && c.reconnect.Enabled && ctx.Err() == nil {
		c.logf("Auto-reconnect enabled, retrying in the background")
		go c.reconnectLoop()
	}
	return err
}

func (c *Connection) connect(ctx context.Context, attempt int) error {
	c.mu.Lock()
	if c.shuttingDown() {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return ErrClosed
	}
	c.setStateLocked(StateConnecting, attempt, nil)
	c.mu.Unlock()

	c.logf("Connecting to %s...", c.url)

	// Dial is cancelled by Close as well as by ctx
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.shutdown:
			cancel()
		case <-dialCtx.Done():
		}
	}()

	t, err := c.dialer.Dial(dialCtx, c.url)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrUnreachable, c.url, err)
		c.logf("Connection failed: %v", err)

		c.mu.Lock()
		if c.state == StateConnecting {
			c.setStateLocked(StateErrored, attempt, err)
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.state != StateConnecting || c.shuttingDown() {
		// Closed while dialling
		c.mu.Unlock()
		t.Close()
		return ErrClosed
	}
	done := make(chan struct{})
	c.transport = t
	c.done = done
	c.setStateLocked(StateOpen, attempt, nil)

	// Register goes into the queue before Open is observable by senders
	if c.username != "" {
		c.enqueueRegisterLocked()
	}

	c.wg.Add(2)
	go c.readLoop(t, done)
	go c.writeLoop(t, done)
	c.mu.Unlock()

	c.logf("Connected successfully to %s", c.url)
	return nil
}

// enqueueRegisterLocked queues the register envelope. Failure is logged and
// does not affect the connection.
func (c *Connection) enqueueRegisterLocked() {
	text, err := protocol.Encode(protocol.NewRegister(c.username))
	if err != nil {
		c.logf("Failed to encode register envelope: %v", err)
		return
	}
	select {
	case c.outgoing <- text:
		c.logf("Queued register for %q", c.username)
	default:
		c.logf("Failed to queue register for %q: %v", c.username, ErrQueueFull)
		c.metrics.sendFailed(ErrQueueFull)
	}
}

// Send enqueues a frame for transmission and returns immediately. It fails
// with ErrClosed unless the connection is open, and with ErrQueueFull when
// the outbound queue is at capacity. Frames are written in call order.
func (c *Connection) Send(text string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateOpen {
		c.metrics.sendFailed(ErrClosed)
		return ErrClosed
	}

	select {
	case c.outgoing <- text:
		return nil
	default:
		c.metrics.sendFailed(ErrQueueFull)
		return ErrQueueFull
	}
}

// Close tears the connection down and waits for its loops to exit. Queued
// frames that were not yet written are discarded. Close is idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.state == StateOpen {
			c.setStateLocked(StateClosing, 0, nil)
		}
		close(c.shutdown)
		t := c.transport
		c.transport = nil
		if c.done != nil {
			close(c.done)
			c.done = nil
		}
		c.mu.Unlock()

		if t != nil {
			c.logf("Disconnecting from %s", c.url)
			err = t.Close()
		}
		c.wg.Wait()
		c.drainOutgoing()

		c.mu.Lock()
		c.setStateLocked(StateClosed, 0, nil)
		c.mu.Unlock()
	})
	return err
}

func (c *Connection) shuttingDown() bool {
	select {
	case <-c.shutdown:
		return true
	default:
		return false
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns whether the connection is open
func (c *Connection) IsConnected() bool {
	return c.State() == StateOpen
}

// URL returns the server URL.
func (c *Connection) URL() string {
	return c.url
}

// Bus returns the bus inbound frames are published on.
func (c *Connection) Bus() *bus.Bus {
	return c.bus
}

// Errors returns the channel on which transport failures are reported
func (c *Connection) Errors() <-chan error {
	return c.errors
}

// StateChanges returns the channel for connection state updates
func (c *Connection) StateChanges() <-chan StateUpdate {
	return c.stateChange
}

// Done is closed once Close has been called.
func (c *Connection) Done() <-chan struct{} {
	return c.shutdown
}

// setStateLocked records a transition and publishes it without blocking.
// c.mu must be held.
func (c *Connection) setStateLocked(s State, attempt int, err error) {
	if c.state == s && s != StateConnecting {
		return
	}
	c.state = s
	c.metrics.stateChanged(s)

	select {
	case c.stateChange <- StateUpdate{State: s, Attempt: attempt, Err: err}:
	default:
		c.logf("State change to %s dropped (listener too slow)", s)
	}
}

func (c *Connection) reportError(err error) {
	select {
	case c.errors <- err:
	default:
		c.logf("Error dropped (listener too slow): %v", err)
	}
}

// readLoop publishes inbound frames on the bus in arrival order
func (c *Connection) readLoop(t Transport, done chan struct{}) {
	defer c.wg.Done()

	for {
		text, err := t.ReadText()
		if err != nil {
			select {
			case <-done:
				// Torn down locally
				return
			default:
			}
			c.handleFailure(t, err)
			return
		}

		c.metrics.frameReceived(len(text))
		c.logf("← RECV: %d bytes", len(text))
		c.bus.Publish(text)
	}
}

// writeLoop sends queued frames to the transport in FIFO order
func (c *Connection) writeLoop(t Transport, done chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case text := <-c.outgoing:
			if err := t.WriteText(text); err != nil {
				select {
				case <-done:
					return
				default:
				}
				c.logf("Write error: %v", err)
				c.handleFailure(t, fmt.Errorf("write error: %w", err))
				return
			}
			c.metrics.frameSent(len(text))
			c.logf("→ SEND: %d bytes", len(text))

		case <-done:
			return
		case <-c.shutdown:
			return
		}
	}
}

// handleFailure tears down transport t after a read or write failure. A clean
// remote close moves the connection to Closed; anything else to Errored.
func (c *Connection) handleFailure(t Transport, err error) {
	c.mu.Lock()
	if c.transport != t || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	close(c.done)
	c.done = nil

	remoteClosed := errors.Is(err, io.EOF)
	if remoteClosed {
		c.logf("Connection closed by server (EOF)")
		err = fmt.Errorf("%w: closed by server", ErrClosed)
		c.setStateLocked(StateClosed, 0, err)
	} else {
		c.logf("Disconnected from server: %v", err)
		c.setStateLocked(StateErrored, 0, err)
	}
	retry := !remoteClosed && c.reconnect.Enabled
	c.mu.Unlock()

	t.Close()
	c.drainOutgoing()
	c.reportError(err)

	if retry {
		c.logf("Auto-reconnect enabled, starting reconnect loop")
		go c.reconnectLoop()
	}
}

// drainOutgoing discards frames queued for a transport that is gone
func (c *Connection) drainOutgoing() {
	for {
		select {
		case <-c.outgoing:
		default:
			return
		}
	}
}

// reconnectLoop attempts to reconnect with exponential backoff
func (c *Connection) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	delay := c.reconnect.Initial
	attempt := 1

	for {
		select {
		case <-c.shutdown:
			c.logf("Reconnect loop cancelled (shutdown)")
			return
		case <-time.After(delay):
			c.logf("Reconnect attempt %d to %s", attempt, c.url)

			err := c.connect(context.Background(), attempt)
			if err == nil {
				c.logf("Reconnected successfully after %d attempts", attempt)
				return
			}
			if errors.Is(err, ErrClosed) || errors.Is(err, ErrAlreadyConnected) {
				return
			}

			c.logf("Reconnect attempt %d failed: %v", attempt, err)

			// Exponential backoff
			delay = delay * 2
			if delay > c.reconnect.MaxDelay {
				delay = c.reconnect.MaxDelay
			}
			c.logf("Next reconnect attempt in %v", delay)
			attempt++
		}
	}
}
