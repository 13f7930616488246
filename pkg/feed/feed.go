// Package feed streams telemetry JSON to browser clients over
// websockets.
package feed

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"
)

// Server broadcasts payloads to every connected websocket client.
type Server struct {
	Addr string

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// subBuffer is the per-client backlog; clients that fall further
// behind start losing frames instead of stalling the station.
const subBuffer = 16

// New creates a Server listening on addr.
func New(addr string) *Server {
	return &Server{
		Addr: addr,
		subs: make(map[chan []byte]struct{}),
	}
}

// Broadcast fans a payload out to all clients, dropping frames for
// slow ones.
func (s *Server) Broadcast(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- payload:
		default:
			glog.V(1).Info("feed client lagging, frame dropped")
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Handler returns the websocket handler serving the feed.
func (s *Server) Handler() http.Handler {
	return websocket.Handler(s.serve)
}

// Run implements Runnable, serving until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/telemetry", s.Handler())
	srv := &http.Server{Addr: s.Addr, Handler: mux}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	glog.Infof("telemetry feed on ws://%s/telemetry", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		srv.Close()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) serve(conn *websocket.Conn) {
	ch := s.subscribe()
	defer s.unsubscribe(ch)
	defer conn.Close()

	// Drain the connection so a client hangup is noticed even when
	// no telemetry is flowing.
	gone := make(chan struct{})
	go func() {
		io.Copy(io.Discard, conn)
		close(gone)
	}()

	for {
		select {
		case <-gone:
			return
		case payload := <-ch:
			if err := websocket.Message.Send(conn, string(payload)); err != nil {
				glog.V(1).Infof("feed client gone: %v", err)
				return
			}
		}
	}
}

func (s *Server) subscribe() chan []byte {
	ch := make(chan []byte, subBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}
