package feed

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := websocket.Dial(url, "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, s *Server, n int) {
	deadline := time.Now().Add(time.Second)
	for s.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, s.Clients())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBroadcast(t *testing.T) {
	s := New("")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialFeed(t, srv)
	waitClients(t, s, 1)

	s.Broadcast([]byte(`{"status":"ok"}`))

	var got string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, websocket.Message.Receive(conn, &got))
	require.Equal(t, `{"status":"ok"}`, got)
}

func TestBroadcastMultipleClients(t *testing.T) {
	s := New("")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	a := dialFeed(t, srv)
	b := dialFeed(t, srv)
	waitClients(t, s, 2)

	s.Broadcast([]byte("frame"))
	for _, conn := range []*websocket.Conn{a, b} {
		var got string
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		require.NoError(t, websocket.Message.Receive(conn, &got))
		require.Equal(t, "frame", got)
	}
}

func TestClientDisconnect(t *testing.T) {
	s := New("")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialFeed(t, srv)
	waitClients(t, s, 1)
	conn.Close()
	waitClients(t, s, 0)
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	s := New("")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	dialFeed(t, srv)
	waitClients(t, s, 1)

	// Far more frames than the per-client buffer; Broadcast must not
	// stall even though nobody reads.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subBuffer*10; i++ {
			s.Broadcast([]byte("frame"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow client")
	}
}
