package radio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"
)

func playbackConn(t *testing.T, ops []conntest.IO) spi.Conn {
	p := &spitest.Playback{Playback: conntest.Playback{Ops: ops, DontPanic: true}}
	c, err := p.Connect(2*physic.MegaHertz, spi.Mode0|spi.NoCS, 8)
	require.NoError(t, err)
	return c
}

// bringUpOps is the expected bus traffic for New: version probe, the
// configuration writes, then receive mode.
func bringUpOps(cfg Config) []conntest.IO {
	ops := []conntest.IO{
		{W: []byte{regVersion, 0}, R: []byte{0, version}},
	}
	for _, rv := range bringUp(cfg) {
		ops = append(ops, conntest.IO{W: []byte{rv.reg | 0x80, rv.val}, R: []byte{0, 0}})
	}
	return append(ops, conntest.IO{W: []byte{regOpMode | 0x80, modeRx}, R: []byte{0, 0}})
}

func newTestDevice(t *testing.T, extra ...conntest.IO) *Device {
	cfg := DefaultConfig()
	cfg.ListenDelay = time.Millisecond
	conn := playbackConn(t, append(bringUpOps(cfg), extra...))
	d, err := New(conn, &gpiotest.Pin{N: "CS"}, &gpiotest.Pin{N: "RST"}, cfg)
	require.NoError(t, err)
	return d
}

func TestNewChecksVersion(t *testing.T) {
	conn := playbackConn(t, []conntest.IO{
		{W: []byte{regVersion, 0}, R: []byte{0, 0x12}},
	})
	_, err := New(conn, &gpiotest.Pin{N: "CS"}, &gpiotest.Pin{N: "RST"}, DefaultConfig())
	require.ErrorIs(t, err, ErrBadVersion)
}

func TestSend(t *testing.T) {
	frame := []byte{7, 0xff, 0xff, 0, 0, 1, 0}
	fifoW := append([]byte{regFifo | 0x80}, frame...)
	d := newTestDevice(t,
		conntest.IO{W: []byte{regOpMode | 0x80, modeStandby}, R: []byte{0, 0}},
		conntest.IO{W: []byte{regIrqFlags1, 0}, R: []byte{0, irq1ModeReady}},
		conntest.IO{W: fifoW, R: make([]byte, len(fifoW))},
		conntest.IO{W: []byte{regOpMode | 0x80, modeTx}, R: []byte{0, 0}},
		conntest.IO{W: []byte{regIrqFlags2, 0}, R: []byte{0, irq2PacketSent}},
		conntest.IO{W: []byte{regOpMode | 0x80, modeRx}, R: []byte{0, 0}},
	)
	require.NoError(t, d.Send(frame))
}

func TestSendRejectsOversizedFrame(t *testing.T) {
	d := newTestDevice(t)
	require.Error(t, d.Send(make([]byte, 80)))
}

func TestReceive(t *testing.T) {
	frame := []byte{7, 0xff, 0xff, 0, 0, 4, 1}
	fifoR := make([]byte, 65)
	copy(fifoR[1:], frame)
	fifoW := make([]byte, 65)
	fifoW[0] = regFifo
	d := newTestDevice(t,
		conntest.IO{W: []byte{regIrqFlags2, 0}, R: []byte{0, irq2PayloadReady}},
		conntest.IO{W: []byte{regOpMode | 0x80, modeStandby}, R: []byte{0, 0}},
		conntest.IO{W: fifoW, R: fifoR},
		conntest.IO{W: []byte{regRssiValue, 0}, R: []byte{0, 108}}, // -54 dBm
		conntest.IO{W: []byte{regOpMode | 0x80, modeRx}, R: []byte{0, 0}},
	)
	got, err := d.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, frame, got[:len(frame)])
	require.Equal(t, int16(-54), d.LastRSSI())
}

func TestFrequency(t *testing.T) {
	d := newTestDevice(t,
		conntest.IO{W: []byte{regFrfMsb, 0}, R: []byte{0, 0xd9}},
		conntest.IO{W: []byte{regFrfMid, 0}, R: []byte{0, 0x00}},
		conntest.IO{W: []byte{regFrfLsb, 0}, R: []byte{0, 0x00}},
	)
	hz, err := d.Frequency()
	require.NoError(t, err)
	require.Equal(t, uint32(868_000_000), hz)
}

func TestReceiveTimeout(t *testing.T) {
	// Payload never ready; the poll loop must give up on its own.
	d := newTestDevice(t,
		conntest.IO{W: []byte{regIrqFlags2, 0}, R: []byte{0, 0}},
		conntest.IO{W: []byte{regIrqFlags2, 0}, R: []byte{0, 0}},
	)
	_, err := d.Receive(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestReceiveHonorsContext(t *testing.T) {
	ops := make([]conntest.IO, 0, 64)
	for i := 0; i < 64; i++ {
		ops = append(ops, conntest.IO{W: []byte{regIrqFlags2, 0}, R: []byte{0, 0}})
	}
	d := newTestDevice(t, ops...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Receive(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
