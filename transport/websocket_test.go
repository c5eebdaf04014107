package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

func TestPushListenerReceivesFrames(t *testing.T) {
	frames := make(chan []byte, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ws/myhash", r.URL.Path)
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"to_hash":"myhash"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"to_hash":"myhash","timestamp":2}`))
		// Hold the connection open until the client walks away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	listener := NewPushListener(srv.URL)
	listener.OnFrame = func(raw []byte) { frames <- raw }

	require.NoError(t, listener.Start(context.Background(), "myhash"))
	defer listener.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-frames:
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for frame %d", i+1)
		}
	}
}

func TestPushListenerReconnects(t *testing.T) {
	var dials atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		// Drop the connection immediately to force a reconnect.
		conn.Close()
	}))
	defer srv.Close()

	listener := NewPushListener(srv.URL)
	listener.reconnectDelay = 20 * time.Millisecond

	disconnects := make(chan struct{}, 16)
	listener.OnDisconnect = func(error) { disconnects <- struct{}{} }

	require.NoError(t, listener.Start(context.Background(), "h"))
	defer listener.Stop()

	deadline := time.After(3 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-disconnects:
		case <-deadline:
			t.Fatal("Timed out waiting for reconnect cycles")
		}
	}
	assert.GreaterOrEqual(t, dials.Load(), int32(2))
}

func TestPushListenerStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	listener := NewPushListener(srv.URL)
	require.NoError(t, listener.Start(context.Background(), "h"))

	done := make(chan struct{})
	go func() {
		listener.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not tear down the listener")
	}

	// Stopping twice is a no-op.
	listener.Stop()

	// The listener can be started again after a stop.
	require.NoError(t, listener.Start(context.Background(), "h"))
	listener.Stop()
}

func TestPushListenerDoubleStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	listener := NewPushListener(srv.URL)
	require.NoError(t, listener.Start(context.Background(), "h"))
	defer listener.Stop()

	assert.Error(t, listener.Start(context.Background(), "h"))
}

func TestWsURL(t *testing.T) {
	listener := NewPushListener("http://relay.example:8000")
	u, err := listener.wsURL("abc")
	require.NoError(t, err)
	assert.Equal(t, "ws://relay.example:8000/ws/abc", u)

	listener = NewPushListener("https://relay.example")
	u, err = listener.wsURL("abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example/ws/abc", u)
}
