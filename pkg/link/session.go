package link

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/roverlink/groundstation/pkg/rover"
)

// Radio is the transport a session runs over. Receive must fail with
// an error recognized by os.IsTimeout when the window elapses without
// a frame.
type Radio interface {
	Send(frame []byte) error
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	LastRSSI() int16
	MaxPayload() int
}

// Config holds session timing.
type Config struct {
	// AckTimeout is how long to wait for a reply to a sent message.
	AckTimeout time.Duration
	// MsgDelay is the Rx to Tx turnaround pause, giving the rover
	// time to switch from transmit to receive.
	MsgDelay time.Duration
	// ReceiveWindow is the length of one telemetry listen.
	ReceiveWindow time.Duration
}

// DefaultConfig returns the timing the rover firmware is built around.
func DefaultConfig() Config {
	return Config{
		AckTimeout:    30 * time.Second,
		MsgDelay:      250 * time.Millisecond,
		ReceiveWindow: 10 * time.Second,
	}
}

// Event is a received telemetry frame plus link quality.
type Event struct {
	Telemetry *rover.Telemetry
	RSSI      int16
	At        time.Time
}

var (
	// ErrSessionClosed fails pending commands when the session stops.
	ErrSessionClosed = errors.New("session closed")
	// ErrNack indicates the rover refused a command chunk.
	ErrNack = errors.New("rover did not acknowledge command")
)

// Result is the outcome of a queued command.
type Result struct {
	Err    error
	Chunks int
}

// Command is a queued command waiting for uplink, resolved through
// its result chan.
type Command struct {
	text     string
	resultCh chan Result
	next     *Command
}

// ResultChan returns the chan delivering the command outcome.
func (c *Command) ResultChan() <-chan Result {
	return c.resultCh
}

// Text returns the queued command string.
func (c *Command) Text() string {
	return c.text
}

// Session is the station side of the link.
type Session struct {
	radio Radio
	cfg   Config

	eventCh chan Event

	cmdsHead *Command
	cmdsTail *Command
	cmdsLock sync.Mutex
}

// NewSession creates a session over a radio.
func NewSession(r Radio, cfg Config) *Session {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}
	if cfg.MsgDelay <= 0 {
		cfg.MsgDelay = 250 * time.Millisecond
	}
	if cfg.ReceiveWindow <= 0 {
		cfg.ReceiveWindow = 10 * time.Second
	}
	return &Session{
		radio:   r,
		cfg:     cfg,
		eventCh: make(chan Event, 16),
	}
}

// Events returns the telemetry event chan.
func (s *Session) Events() <-chan Event {
	return s.eventCh
}

// ChunkSize returns the command payload budget per frame.
func (s *Session) ChunkSize() int {
	// length byte, RadioHead header, type, timestamp, flag, NUL.
	const commandFrameOverhead = 11
	return s.radio.MaxPayload() - commandFrameOverhead
}

// Enqueue queues a command for uplink and returns it as a future.
// The command is validated eagerly so a bad string fails before it
// occupies the queue.
func (s *Session) Enqueue(text string) *Command {
	cmd := &Command{text: text, resultCh: make(chan Result, 1)}
	for i := 0; i < len(text); i++ {
		if text[i] == 0 || text[i] > 0x7f {
			cmd.resultCh <- Result{Err: rover.ErrNotASCII}
			return cmd
		}
	}
	s.cmdsLock.Lock()
	if s.cmdsHead == nil {
		s.cmdsHead = cmd
	} else {
		s.cmdsTail.next = cmd
	}
	s.cmdsTail = cmd
	s.cmdsLock.Unlock()
	return cmd
}

func firstChunk(text string, size int) string {
	if len(text) > size {
		return text[:size]
	}
	return text
}

// Pending reports how many commands wait for uplink.
func (s *Session) Pending() int {
	s.cmdsLock.Lock()
	defer s.cmdsLock.Unlock()
	n := 0
	for c := s.cmdsHead; c != nil; c = c.next {
		n++
	}
	return n
}

// Run listens until ctx is canceled. Receive timeouts are normal; all
// other radio errors are logged and the session keeps listening.
func (s *Session) Run(ctx context.Context) error {
	defer s.failPending(ErrSessionClosed)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := s.radio.Receive(ctx, s.cfg.ReceiveWindow)
		if err != nil {
			if os.IsTimeout(err) {
				glog.V(2).Info("no telemetry in window")
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			glog.Errorf("receive error: %v", err)
			continue
		}
		msg, err := rover.Unmarshal(frame)
		if err != nil {
			glog.Errorf("bad frame: %v", err)
			continue
		}
		switch m := msg.(type) {
		case *rover.Telemetry:
			if err := s.handleTelemetry(ctx, m); err != nil {
				glog.Errorf("telemetry ack: %v", err)
			}
		case *rover.CommandReady:
			s.handleCommandReady(ctx, m)
		default:
			glog.Warningf("unexpected %s message while listening", rover.TypeName(msg.Type()))
		}
	}
}

// handleTelemetry delivers the event and acks, flagging CommandWaiting
// when the uplink queue is non-empty.
func (s *Session) handleTelemetry(ctx context.Context, m *rover.Telemetry) error {
	s.deliver(m)
	ack := &rover.TelemetryAck{
		Timestamp:      rover.Now(),
		Ack:            true,
		CommandWaiting: s.Pending() > 0,
	}
	return s.sendAfterDelay(ctx, ack)
}

func (s *Session) handleCommandReady(ctx context.Context, m *rover.CommandReady) {
	if !m.Ready {
		glog.Warning("rover reported not ready for commands")
		return
	}
	cmd := s.peek()
	if cmd == nil {
		glog.Warning("CommandReady with empty uplink queue")
		return
	}
	res := s.uplink(ctx, cmd)
	if res.Err != nil {
		glog.Errorf("command uplink failed: %v", res.Err)
	}
	s.pop(cmd)
	cmd.resultCh <- res
}

// uplink sends the command in chunks, each acked individually.
func (s *Session) uplink(ctx context.Context, cmd *Command) (res Result) {
	size := s.ChunkSize()
	text := cmd.text
	for len(text) > 0 || res.Chunks == 0 {
		chunk := firstChunk(text, size)
		text = text[len(chunk):]
		msg := &rover.Command{
			Timestamp:        rover.Now(),
			SequenceComplete: len(text) == 0,
			Command:          chunk,
		}
		if err := s.sendAfterDelay(ctx, msg); err != nil {
			res.Err = fmt.Errorf("send chunk %d: %w", res.Chunks, err)
			return
		}
		res.Chunks++
		if err := s.awaitCommandAck(ctx); err != nil {
			res.Err = fmt.Errorf("chunk %d: %w", res.Chunks-1, err)
			return
		}
	}
	return
}

// awaitCommandAck waits for a CommandAck. A Telemetry arriving here is
// still delivered and acked before the mismatch is reported, so the
// downlink never stalls on a confused rover.
func (s *Session) awaitCommandAck(ctx context.Context) error {
	frame, err := s.radio.Receive(ctx, s.cfg.AckTimeout)
	if err != nil {
		return err
	}
	msg, err := rover.Unmarshal(frame)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case *rover.CommandAck:
		if !m.Ack {
			return ErrNack
		}
		return nil
	case *rover.Telemetry:
		s.deliver(m)
		if err := s.sendAfterDelay(ctx, &rover.TelemetryAck{Timestamp: rover.Now(), Ack: true}); err != nil {
			glog.Errorf("telemetry ack: %v", err)
		}
	}
	return &rover.ErrWrongType{Want: rover.TypeCommandAck, Got: msg.Type()}
}

func (s *Session) deliver(m *rover.Telemetry) {
	ev := Event{Telemetry: m, RSSI: s.radio.LastRSSI(), At: time.Now()}
	select {
	case s.eventCh <- ev:
	default:
		glog.Warning("telemetry event dropped, consumer too slow")
	}
}

// sendAfterDelay pauses for the Rx to Tx turnaround, then transmits.
func (s *Session) sendAfterDelay(ctx context.Context, msg rover.Message) error {
	frame, err := rover.Marshal(msg)
	if err != nil {
		return err
	}
	if len(frame) > s.radio.MaxPayload() {
		return rover.ErrFrameTooLong
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.MsgDelay):
	}
	return s.radio.Send(frame)
}

func (s *Session) peek() *Command {
	s.cmdsLock.Lock()
	defer s.cmdsLock.Unlock()
	return s.cmdsHead
}

func (s *Session) pop(cmd *Command) {
	s.cmdsLock.Lock()
	defer s.cmdsLock.Unlock()
	if s.cmdsHead != cmd {
		return
	}
	if s.cmdsHead = cmd.next; s.cmdsHead == nil {
		s.cmdsTail = nil
	}
	cmd.next = nil
}

func (s *Session) failPending(err error) {
	s.cmdsLock.Lock()
	head := s.cmdsHead
	s.cmdsHead, s.cmdsTail = nil, nil
	s.cmdsLock.Unlock()
	for ; head != nil; head = head.next {
		head.resultCh <- Result{Err: err}
	}
}
