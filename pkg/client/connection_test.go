package client

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aeolun/ripplechat/pkg/bus"
	"github.com/aeolun/ripplechat/pkg/protocol"
)

const (
	defaultWait  = 2 * time.Second
	pollInterval = 5 * time.Millisecond
)

type readResult struct {
	text string
	err  error
}

// fakeTransport is an in-memory Transport driven by the test
type fakeTransport struct {
	incoming chan readResult
	writes   chan string
	gate     chan struct{} // when non-nil, writes block until closed
	writeErr error

	mu      sync.Mutex
	written []string

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan readResult, 64),
		writes:   make(chan string, 1024),
		closed:   make(chan struct{}),
	}
}

func (t *fakeTransport) ReadText() (string, error) {
	select {
	case r := <-t.incoming:
		return r.text, r.err
	case <-t.closed:
		return "", net.ErrClosed
	}
}

func (t *fakeTransport) WriteText(text string) error {
	if t.gate != nil {
		t.writes <- text
		select {
		case <-t.gate:
		case <-t.closed:
			return net.ErrClosed
		}
	}
	if t.writeErr != nil {
		return t.writeErr
	}
	t.mu.Lock()
	t.written = append(t.written, text)
	t.mu.Unlock()
	if t.gate == nil {
		t.writes <- text
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) deliver(text string) {
	t.incoming <- readResult{text: text}
}

func (t *fakeTransport) fail(err error) {
	t.incoming <- readResult{err: err}
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// nextWrite waits for the next frame handed to the transport
func (t *fakeTransport) nextWrite(tb testing.TB) string {
	tb.Helper()
	select {
	case text := <-t.writes:
		return text
	case <-time.After(2 * time.Second):
		tb.Fatal("timed out waiting for write")
		return ""
	}
}

// fakeDialer hands out transports, or errors, in order
type fakeDialer struct {
	mu      sync.Mutex
	results []any // *fakeTransport or error
	dials   int
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	next := d.results[0]
	d.results = d.results[1:]
	switch r := next.(type) {
	case *fakeTransport:
		return r, nil
	case error:
		return nil, r
	}
	panic("unexpected dial result")
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestConnection(t *testing.T, opts Options, results ...any) (*Connection, *fakeDialer) {
	t.Helper()
	dialer := &fakeDialer{results: results}
	opts.Dialer = dialer
	conn := NewConnection("ws://chat.test/ws", opts)
	t.Cleanup(func() { conn.Close() })
	return conn, dialer
}

func waitForState(t *testing.T, conn *Connection, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return conn.State() == want
	}, defaultWait, pollInterval, "state never became %s (is %s)", want, conn.State())
}

func registerFrame(t *testing.T, name string) string {
	t.Helper()
	text, err := protocol.Encode(protocol.NewRegister(name))
	require.NoError(t, err)
	return text
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{StateErrored, "errored"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestSendBeforeConnect(t *testing.T) {
	conn, _ := newTestConnection(t, Options{})

	assert.Equal(t, StateConnecting, conn.State())
	assert.ErrorIs(t, conn.Send("hello"), ErrClosed)
}

func TestConnectSendsRegisterFirst(t *testing.T) {
	transport := newFakeTransport()
	conn, _ := newTestConnection(t, Options{Username: "alice"}, transport)

	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, StateOpen, conn.State())
	assert.True(t, conn.IsConnected())

	require.NoError(t, conn.Send("a"))
	require.NoError(t, conn.Send("b"))

	assert.Equal(t, registerFrame(t, "alice"), transport.nextWrite(t))
	assert.Equal(t, "a", transport.nextWrite(t))
	assert.Equal(t, "b", transport.nextWrite(t))
}

func TestConnectWithoutUsernameSkipsRegister(t *testing.T) {
	transport := newFakeTransport()
	conn, _ := newTestConnection(t, Options{}, transport)

	require.NoError(t, conn.Connect(context.Background()))
	require.NoError(t, conn.Send("first"))
	assert.Equal(t, "first", transport.nextWrite(t))
}

func TestConnectTwice(t *testing.T) {
	conn, _ := newTestConnection(t, Options{}, newFakeTransport())

	require.NoError(t, conn.Connect(context.Background()))
	assert.ErrorIs(t, conn.Connect(context.Background()), ErrAlreadyConnected)
}

func TestStateChangesReported(t *testing.T) {
	conn, _ := newTestConnection(t, Options{}, newFakeTransport())

	require.NoError(t, conn.Connect(context.Background()))
	require.NoError(t, conn.Close())

	var got []State
	for len(conn.StateChanges()) > 0 {
		got = append(got, (<-conn.StateChanges()).State)
	}
	assert.Equal(t, []State{StateConnecting, StateOpen, StateClosing, StateClosed}, got)
}

func TestConnectUnreachable(t *testing.T) {
	refused := errors.New("dial tcp: connection refused")
	transport := newFakeTransport()
	conn, dialer := newTestConnection(t, Options{}, refused, transport)

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "ws://chat.test/ws")
	assert.Equal(t, StateErrored, conn.State())
	assert.ErrorIs(t, conn.Send("x"), ErrClosed)

	// Connect may be retried after an error
	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, StateOpen, conn.State())
	assert.Equal(t, 2, dialer.dialCount())
}

func TestInboundFramesPublishedInOrder(t *testing.T) {
	b := bus.New()
	var mu sync.Mutex
	var received []string
	b.Subscribe(func(frame string) {
		mu.Lock()
		received = append(received, frame)
		mu.Unlock()
	})

	transport := newFakeTransport()
	conn, _ := newTestConnection(t, Options{Bus: b}, transport)
	require.NoError(t, conn.Connect(context.Background()))

	frames := []string{"one", "two", `{"not":"validated"}`}
	for _, f := range frames {
		transport.deliver(f)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == len(frames)
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, frames, received)
	assert.Same(t, b, conn.Bus())
}

func TestRemoteCloseMovesToClosed(t *testing.T) {
	transport := newFakeTransport()
	conn, _ := newTestConnection(t, Options{}, transport)
	require.NoError(t, conn.Connect(context.Background()))

	transport.fail(io.EOF)

	waitForState(t, conn, StateClosed)
	select {
	case err := <-conn.Errors():
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("expected error report")
	}
	assert.ErrorIs(t, conn.Send("late"), ErrClosed)
	assert.True(t, transport.isClosed())
}

func TestReadFailureMovesToErrored(t *testing.T) {
	transport := newFakeTransport()
	conn, _ := newTestConnection(t, Options{}, transport)
	require.NoError(t, conn.Connect(context.Background()))

	reset := errors.New("connection reset by peer")
	transport.fail(reset)

	waitForState(t, conn, StateErrored)
	select {
	case err := <-conn.Errors():
		assert.ErrorIs(t, err, reset)
	case <-time.After(2 * time.Second):
		t.Fatal("expected error report")
	}
	assert.ErrorIs(t, conn.Send("late"), ErrClosed)
}

func TestWriteFailureMovesToErrored(t *testing.T) {
	transport := newFakeTransport()
	transport.writeErr = errors.New("broken pipe")
	conn, _ := newTestConnection(t, Options{}, transport)
	require.NoError(t, conn.Connect(context.Background()))

	require.NoError(t, conn.Send("doomed"))

	waitForState(t, conn, StateErrored)
	err := <-conn.Errors()
	assert.ErrorIs(t, err, transport.writeErr)
}

func TestSendQueueFull(t *testing.T) {
	transport := newFakeTransport()
	transport.gate = make(chan struct{})
	conn, _ := newTestConnection(t, Options{QueueSize: 1}, transport)
	require.NoError(t, conn.Connect(context.Background()))

	require.NoError(t, conn.Send("in flight"))
	// Writer is now blocked on the first frame; the queue has one free slot
	assert.Equal(t, "in flight", transport.nextWrite(t))

	require.NoError(t, conn.Send("queued"))
	assert.ErrorIs(t, conn.Send("overflow"), ErrQueueFull)

	close(transport.gate)
	assert.Equal(t, "queued", transport.nextWrite(t))
}

func TestCloseIsTerminal(t *testing.T) {
	transport := newFakeTransport()
	conn, _ := newTestConnection(t, Options{}, transport)
	require.NoError(t, conn.Connect(context.Background()))

	require.NoError(t, conn.Close())
	assert.Equal(t, StateClosed, conn.State())
	assert.True(t, transport.isClosed())

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}

	assert.ErrorIs(t, conn.Send("x"), ErrClosed)
	assert.ErrorIs(t, conn.Connect(context.Background()), ErrClosed)
	assert.NoError(t, conn.Close())
}

func TestCloseBeforeConnect(t *testing.T) {
	conn, dialer := newTestConnection(t, Options{}, newFakeTransport())

	require.NoError(t, conn.Close())
	assert.Equal(t, StateClosed, conn.State())
	assert.ErrorIs(t, conn.Connect(context.Background()), ErrClosed)
	assert.Zero(t, dialer.dialCount())
}

func TestReconnectAfterFailure(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	conn, dialer := newTestConnection(t, Options{
		Username: "alice",
		Reconnect: ReconnectPolicy{
			Enabled:  true,
			Initial:  5 * time.Millisecond,
			MaxDelay: 20 * time.Millisecond,
		},
	}, first, errors.New("still down"), second)

	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, registerFrame(t, "alice"), first.nextWrite(t))

	first.fail(errors.New("connection reset"))

	// Register is announced again on the new transport
	assert.Equal(t, registerFrame(t, "alice"), second.nextWrite(t))
	waitForState(t, conn, StateOpen)
	assert.Equal(t, 3, dialer.dialCount())

	require.NoError(t, conn.Send("back"))
	assert.Equal(t, "back", second.nextWrite(t))
}

func TestReconnectAfterInitialDialFailure(t *testing.T) {
	transport := newFakeTransport()
	conn, dialer := newTestConnection(t, Options{
		Username:  "alice",
		Reconnect: ReconnectPolicy{Enabled: true, Initial: 5 * time.Millisecond},
	}, errors.New("refused"), transport)

	err := conn.Connect(context.Background())
	require.ErrorIs(t, err, ErrUnreachable)

	assert.Equal(t, registerFrame(t, "alice"), transport.nextWrite(t))
	waitForState(t, conn, StateOpen)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestNoBackgroundRetryWhenConnectCancelled(t *testing.T) {
	conn, dialer := newTestConnection(t, Options{
		Reconnect: ReconnectPolicy{Enabled: true, Initial: time.Millisecond},
	}, errors.New("refused"), newFakeTransport())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, conn.Connect(ctx))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateErrored, conn.State())
	assert.Equal(t, 1, dialer.dialCount())
}

func TestNoReconnectAfterRemoteClose(t *testing.T) {
	transport := newFakeTransport()
	conn, dialer := newTestConnection(t, Options{
		Reconnect: ReconnectPolicy{Enabled: true, Initial: time.Millisecond},
	}, transport, newFakeTransport())

	require.NoError(t, conn.Connect(context.Background()))
	transport.fail(io.EOF)

	waitForState(t, conn, StateClosed)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestCloseStopsReconnect(t *testing.T) {
	transport := newFakeTransport()
	conn, dialer := newTestConnection(t, Options{
		Reconnect: ReconnectPolicy{Enabled: true, Initial: time.Hour, MaxDelay: time.Hour},
	}, transport)

	require.NoError(t, conn.Connect(context.Background()))
	transport.fail(errors.New("boom"))
	waitForState(t, conn, StateErrored)

	require.NoError(t, conn.Close())
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 1, dialer.dialCount())
}

func TestOutboundOrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		frames := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 1, 50).Draw(rt, "frames")

		transport := newFakeTransport()
		conn := NewConnection("ws://chat.test/ws", Options{
			Dialer:    &fakeDialer{results: []any{transport}},
			QueueSize: len(frames),
		})
		defer conn.Close()

		if err := conn.Connect(context.Background()); err != nil {
			rt.Fatalf("connect: %v", err)
		}
		for _, f := range frames {
			if err := conn.Send(f); err != nil {
				rt.Fatalf("send %q: %v", f, err)
			}
		}
		for i, want := range frames {
			select {
			case got := <-transport.writes:
				if got != want {
					rt.Fatalf("frame %d: got %q, want %q", i, got, want)
				}
			case <-time.After(2 * time.Second):
				rt.Fatalf("timed out waiting for frame %d", i)
			}
		}
	})
}
