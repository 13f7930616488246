package sim

import (
	"context"
	"time"

	"github.com/roverlink/groundstation/pkg/rover"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "receive timeout" }
func (timeoutErr) Timeout() bool { return true }

// Endpoint is one side of an in-memory radio pair. It satisfies the
// link transport interface.
type Endpoint struct {
	peer *Endpoint
	ch   chan []byte
	rssi int16
}

// Pair is two endpoints joined back to back.
type Pair struct {
	a, b Endpoint
}

// NewPair creates a connected radio pair.
func NewPair() *Pair {
	p := &Pair{}
	p.a.ch = make(chan []byte, 4)
	p.b.ch = make(chan []byte, 4)
	p.a.peer, p.b.peer = &p.b, &p.a
	p.a.rssi, p.b.rssi = -60, -60
	return p
}

// Station returns the endpoint for the ground station side.
func (p *Pair) Station() *Endpoint { return &p.a }

// Rover returns the endpoint for the rover side.
func (p *Pair) Rover() *Endpoint { return &p.b }

// Send delivers a frame to the peer. Frames nobody is around to
// receive are dropped, like on air.
func (e *Endpoint) Send(frame []byte) error {
	if len(frame) > e.MaxPayload() {
		return rover.ErrFrameTooLong
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case e.peer.ch <- buf:
	default:
	}
	return nil
}

// Receive waits for a frame within the timeout.
func (e *Endpoint) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	select {
	case frame := <-e.ch:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, timeoutErr{}
	}
}

// LastRSSI reports a fixed link quality.
func (e *Endpoint) LastRSSI() int16 { return e.rssi }

// MaxPayload matches the hardware frame limit.
func (e *Endpoint) MaxPayload() int { return rover.MaxFrameAES }
