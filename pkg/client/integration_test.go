package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/ripplechat/pkg/bus"
	"github.com/aeolun/ripplechat/pkg/server"
	"github.com/aeolun/ripplechat/pkg/session"
)

type chatClient struct {
	conn    *Connection
	reducer *session.Reducer
}

// startRelay serves a relay over httptest and returns its ws:// URL
func startRelay(t *testing.T) (*server.Server, string) {
	t.Helper()

	srv, err := server.New(server.DefaultConfig())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func joinRelay(t *testing.T, url, name string) *chatClient {
	t.Helper()

	b := bus.New()
	conn := NewConnection(url, Options{Username: name, Bus: b})
	reducer := session.NewReducer(session.Config{
		Username: name,
		Sender:   conn,
		Avatars:  session.DefaultAvatars(),
	})
	reducer.Attach(b)

	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { conn.Close() })

	return &chatClient{conn: conn, reducer: reducer}
}

func (c *chatClient) waitForUsers(t *testing.T, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, c.userNames())
	}, defaultWait, pollInterval, "roster never became %v", want)
}

func (c *chatClient) userNames() []string {
	var names []string
	for _, u := range c.reducer.Users() {
		names = append(names, u.Name)
	}
	return names
}

func (c *chatClient) waitForMessages(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.reducer.Messages()) == n
	}, defaultWait, pollInterval, "expected %d messages", n)
}

func TestChatOverRelay(t *testing.T) {
	_, url := startRelay(t)

	alice := joinRelay(t, url, "alice")
	alice.waitForUsers(t, "alice")

	bob := joinRelay(t, url, "bob")
	alice.waitForUsers(t, "alice", "bob")
	bob.waitForUsers(t, "alice", "bob")

	require.NoError(t, alice.reducer.Submit("hello bob"))
	bob.waitForMessages(t, 1)
	require.NoError(t, bob.reducer.Submit("party.gif"))

	for _, c := range []*chatClient{alice, bob} {
		c.waitForMessages(t, 2)

		msgs := c.reducer.Messages()
		assert.Equal(t, "alice", msgs[0].From)
		assert.Equal(t, "hello bob", msgs[0].Message)
		assert.Equal(t, "bob", msgs[1].From)
		assert.True(t, msgs[1].IsImage())

		snap := c.reducer.Snapshot()
		avatar, err := snap.Avatar("bob")
		require.NoError(t, err)
		assert.Equal(t, session.DefaultAvatars().URL("bob"), avatar)
		assert.Empty(t, c.reducer.Errors())
	}

	require.NoError(t, bob.conn.Close())
	alice.waitForUsers(t, "alice")
}

func TestRelayStopErrorsConnection(t *testing.T) {
	srv, url := startRelay(t)

	alice := joinRelay(t, url, "alice")
	alice.waitForUsers(t, "alice")

	require.NoError(t, srv.Stop())

	require.Eventually(t, func() bool {
		s := alice.conn.State()
		return s == StateErrored || s == StateClosed
	}, defaultWait, pollInterval)

	select {
	case err := <-alice.conn.Errors():
		assert.Error(t, err)
	case <-time.After(defaultWait):
		t.Fatal("expected transport failure to be reported")
	}
	assert.ErrorIs(t, alice.reducer.Submit("anyone?"), ErrClosed)
}

func TestDialRejectsNonWebSocketScheme(t *testing.T) {
	conn := NewConnection("http://localhost:1/ws", Options{})
	defer conn.Close()

	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Contains(t, err.Error(), "unsupported server scheme")
}

func TestDialHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn := NewConnection("ws://127.0.0.1:1/ws", Options{})
	defer conn.Close()

	err := conn.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, StateErrored, conn.State())
}
