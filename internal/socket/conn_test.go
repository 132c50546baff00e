package socket

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialUpgrader serves u over a throwaway HTTP server and dials it.
func dialUpgrader(t *testing.T, u *Upgrader) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := u.Upgrade(w, r); err != nil {
			t.Errorf("upgrade failed: %v", err)
		}
	}))
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(payload)
}

func TestUpgradeEchoRoundTrip(t *testing.T) {
	u := &Upgrader{Handler: HandlerFuncs{
		Message: func(c *Conn, payload []byte) {
			c.Send(append([]byte("echo:"), payload...))
		},
	}}

	conn := dialUpgrader(t, u)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, "echo:ping", readText(t, conn))
}

func TestUpgradeOpenRunsBeforeMessages(t *testing.T) {
	u := &Upgrader{Handler: HandlerFuncs{
		Open: func(c *Conn) {
			c.Set("counter", 0)
		},
		Message: func(c *Conn, payload []byte) {
			v, ok := c.Get("counter")
			if !ok {
				c.Send([]byte("state missing"))
				return
			}
			n := v.(int) + 1
			c.Set("counter", n)
			if n == 2 {
				c.Send([]byte("second"))
			}
		},
	}}

	conn := dialUpgrader(t, u)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("a")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("b")))
	assert.Equal(t, "second", readText(t, conn))
}

func TestConnStateIsolatedPerConnection(t *testing.T) {
	u := &Upgrader{Handler: HandlerFuncs{
		Message: func(c *Conn, payload []byte) {
			if _, ok := c.Get("name"); ok {
				c.Send([]byte("already named"))
				return
			}
			c.Set("name", string(payload))
			c.Send([]byte("named:" + string(payload)))
		},
	}}

	first := dialUpgrader(t, u)
	second := dialUpgrader(t, u)

	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("alpha")))
	assert.Equal(t, "named:alpha", readText(t, first))

	// The second connection has its own state map and must not see
	// the first connection's name.
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte("beta")))
	assert.Equal(t, "named:beta", readText(t, second))
}

func TestConnOnCloseReportsPeerCode(t *testing.T) {
	type closeEvent struct {
		code   int
		reason string
	}
	events := make(chan closeEvent, 1)

	u := &Upgrader{Handler: HandlerFuncs{
		Close: func(c *Conn, code int, reason string) {
			events <- closeEvent{code: code, reason: reason}
		},
	}}

	conn := dialUpgrader(t, u)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "done")
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, msg))

	select {
	case ev := <-events:
		assert.Equal(t, websocket.CloseGoingAway, ev.code)
		assert.Equal(t, "done", ev.reason)
	case <-time.After(5 * time.Second):
		t.Fatal("OnClose was not invoked")
	}
}

func TestCloseWhileWritePumpBlocked(t *testing.T) {
	conns := make(chan *Conn, 1)
	u := &Upgrader{Handler: HandlerFuncs{
		Open: func(c *Conn) { conns <- c },
	}}

	// The client side never reads, so once the socket buffers fill the
	// write pump blocks inside WriteMessage.
	dialUpgrader(t, u)
	c := <-conns

	payload := bytes.Repeat([]byte("x"), maxMessageSize)
	for i := 0; i < 2*sendBuffer; i++ {
		if err := c.Send(payload); err != nil {
			break
		}
	}

	done := make(chan struct{})
	go func() {
		c.Close(websocket.CloseNormalClosure, "shutting down")
		c.Close(websocket.CloseNormalClosure, "shutting down")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked behind the write pump")
	}

	<-c.closed
	assert.ErrorIs(t, c.Send([]byte("late")), ErrConnClosed)
}

func TestConnSubscribePublish(t *testing.T) {
	broker := NewBroker(nil)
	opened := make(chan struct{}, 2)
	u := &Upgrader{
		Broker: broker,
		Handler: HandlerFuncs{
			Open: func(c *Conn) {
				c.Subscribe("events")
				opened <- struct{}{}
			},
		},
	}

	first := dialUpgrader(t, u)
	second := dialUpgrader(t, u)
	<-opened
	<-opened

	require.Equal(t, 2, broker.Subscribers("events"))
	assert.Equal(t, 2, broker.Publish("events", []byte("broadcast")))
	assert.Equal(t, "broadcast", readText(t, first))
	assert.Equal(t, "broadcast", readText(t, second))
}
