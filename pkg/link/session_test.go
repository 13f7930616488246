package link

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roverlink/groundstation/pkg/rover"
)

type fakeTimeout struct{}

func (fakeTimeout) Error() string { return "fake timeout" }
func (fakeTimeout) Timeout() bool { return true }

// fakeRadio is an in-memory rover double. Frames queued on toStation
// are received by the session; frames the session transmits appear on
// sent.
type fakeRadio struct {
	toStation chan []byte
	sent      chan []byte
	rssi      int16
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		toStation: make(chan []byte, 8),
		sent:      make(chan []byte, 8),
		rssi:      -42,
	}
}

func (f *fakeRadio) Send(frame []byte) error {
	f.sent <- frame
	return nil
}

func (f *fakeRadio) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	select {
	case frame := <-f.toStation:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fakeTimeout{}
	}
}

func (f *fakeRadio) LastRSSI() int16 { return f.rssi }
func (f *fakeRadio) MaxPayload() int { return 64 }

type sessionTest struct {
	t      *testing.T
	radio  *fakeRadio
	sess   *Session
	cancel context.CancelFunc
	done   chan error
}

func startSession(t *testing.T, cfg Config) *sessionTest {
	st := &sessionTest{
		t:     t,
		radio: newFakeRadio(),
		done:  make(chan error, 1),
	}
	st.sess = NewSession(st.radio, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	go func() { st.done <- st.sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-st.done:
		case <-time.After(time.Second):
			t.Error("session did not stop")
		}
	})
	return st
}

func testConfig() Config {
	return Config{
		AckTimeout:    200 * time.Millisecond,
		MsgDelay:      time.Millisecond,
		ReceiveWindow: 50 * time.Millisecond,
	}
}

func (st *sessionTest) inject(msg rover.Message) {
	frame, err := rover.Marshal(msg)
	require.NoError(st.t, err)
	st.radio.toStation <- frame
}

func (st *sessionTest) expectSent(wantType byte) rover.Message {
	select {
	case frame := <-st.radio.sent:
		msg, err := rover.Unmarshal(frame)
		require.NoError(st.t, err)
		require.Equal(st.t, rover.TypeName(wantType), rover.TypeName(msg.Type()))
		return msg
	case <-time.After(time.Second):
		st.t.Fatalf("expected %s to be sent", rover.TypeName(wantType))
		return nil
	}
}

func (st *sessionTest) expectEvent() Event {
	select {
	case ev := <-st.sess.Events():
		return ev
	case <-time.After(time.Second):
		st.t.Fatal("expected telemetry event")
		return Event{}
	}
}

func awaitResult(t *testing.T, cmd *Command) Result {
	select {
	case res := <-cmd.ResultChan():
		return res
	case <-time.After(time.Second):
		t.Fatal("command result timeout")
		return Result{}
	}
}

func TestTelemetryFlow(t *testing.T) {
	st := startSession(t, testConfig())
	st.inject(&rover.Telemetry{
		Timestamp: rover.Timestamp{Hour: 10, Minute: 20, Second: 30},
		Location:  rover.Location{Lat: 48.85, Long: 2.35, Sats: 9},
		Status:    "ok",
	})

	ev := st.expectEvent()
	require.Equal(t, "ok", ev.Telemetry.Status)
	require.Equal(t, uint8(9), ev.Telemetry.Location.Sats)
	require.Equal(t, int16(-42), ev.RSSI)

	ack := st.expectSent(rover.TypeTelemetryAck).(*rover.TelemetryAck)
	require.True(t, ack.Ack)
	require.False(t, ack.CommandWaiting)
}

func TestCommandUplink(t *testing.T) {
	st := startSession(t, testConfig())
	cmd := st.sess.Enqueue("fwd 10")
	require.Equal(t, 1, st.sess.Pending())

	st.inject(&rover.Telemetry{Status: "idle"})
	st.expectEvent()
	ack := st.expectSent(rover.TypeTelemetryAck).(*rover.TelemetryAck)
	require.True(t, ack.CommandWaiting)

	st.inject(&rover.CommandReady{Ready: true})
	chunk := st.expectSent(rover.TypeCommand).(*rover.Command)
	require.Equal(t, "fwd 10", chunk.Command)
	require.True(t, chunk.SequenceComplete)

	st.inject(&rover.CommandAck{Ack: true})
	res := awaitResult(t, cmd)
	require.NoError(t, res.Err)
	require.Equal(t, 1, res.Chunks)
	require.Equal(t, 0, st.sess.Pending())
}

func TestCommandChunking(t *testing.T) {
	st := startSession(t, testConfig())
	size := st.sess.ChunkSize()
	require.Equal(t, 53, size)
	text := strings.Repeat("x", size*2+5)
	cmd := st.sess.Enqueue(text)

	st.inject(&rover.CommandReady{Ready: true})
	var got string
	for i := 0; i < 3; i++ {
		chunk := st.expectSent(rover.TypeCommand).(*rover.Command)
		got += chunk.Command
		require.Equal(t, i == 2, chunk.SequenceComplete, "chunk %d", i)
		st.inject(&rover.CommandAck{Ack: true})
	}

	res := awaitResult(t, cmd)
	require.NoError(t, res.Err)
	require.Equal(t, 3, res.Chunks)
	require.Equal(t, text, got)
}

func TestCommandNack(t *testing.T) {
	st := startSession(t, testConfig())
	cmd := st.sess.Enqueue("stop")

	st.inject(&rover.CommandReady{Ready: true})
	st.expectSent(rover.TypeCommand)
	st.inject(&rover.CommandAck{Ack: false})

	res := awaitResult(t, cmd)
	require.ErrorIs(t, res.Err, ErrNack)
	require.Equal(t, 0, st.sess.Pending())
}

func TestCommandAckTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.AckTimeout = 30 * time.Millisecond
	st := startSession(t, cfg)
	cmd := st.sess.Enqueue("fwd 1")

	st.inject(&rover.CommandReady{Ready: true})
	st.expectSent(rover.TypeCommand)
	// No ack.

	res := awaitResult(t, cmd)
	require.Error(t, res.Err)
	require.True(t, os.IsTimeout(res.Err))
}

func TestTelemetryDuringAckWait(t *testing.T) {
	st := startSession(t, testConfig())
	cmd := st.sess.Enqueue("fwd 1")

	st.inject(&rover.CommandReady{Ready: true})
	st.expectSent(rover.TypeCommand)

	// The rover got confused and sent telemetry instead of the ack.
	// It still deserves its ack before the command fails.
	st.inject(&rover.Telemetry{Status: "confused"})
	ev := st.expectEvent()
	require.Equal(t, "confused", ev.Telemetry.Status)
	st.expectSent(rover.TypeTelemetryAck)

	res := awaitResult(t, cmd)
	var wrong *rover.ErrWrongType
	require.ErrorAs(t, res.Err, &wrong)
	require.Equal(t, rover.TypeCommandAck, wrong.Want)
	require.Equal(t, rover.TypeTelemetry, wrong.Got)
}

func TestEnqueueRejectsNonASCII(t *testing.T) {
	st := startSession(t, testConfig())
	cmd := st.sess.Enqueue("caf\xc3\xa9")
	res := awaitResult(t, cmd)
	require.ErrorIs(t, res.Err, rover.ErrNotASCII)
	require.Equal(t, 0, st.sess.Pending())
}

func TestCloseFailsPending(t *testing.T) {
	st := startSession(t, testConfig())
	cmd := st.sess.Enqueue("never sent")
	st.cancel()
	res := awaitResult(t, cmd)
	require.ErrorIs(t, res.Err, ErrSessionClosed)
}

func TestReceiveWindowTimeoutKeepsListening(t *testing.T) {
	cfg := testConfig()
	cfg.ReceiveWindow = 5 * time.Millisecond
	st := startSession(t, cfg)

	// Let several empty windows elapse, then confirm the session is
	// still alive and receiving.
	time.Sleep(30 * time.Millisecond)
	st.inject(&rover.Telemetry{Status: "late"})
	ev := st.expectEvent()
	require.Equal(t, "late", ev.Telemetry.Status)
	st.expectSent(rover.TypeTelemetryAck)
}
