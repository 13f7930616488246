package rover

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalTelemetryAck(t *testing.T) {
	frame, err := Marshal(&TelemetryAck{
		Timestamp:      Timestamp{Hour: 12, Minute: 34, Second: 56},
		Ack:            true,
		CommandWaiting: false,
	})
	require.NoError(t, err)
	require.Equal(t, []byte{
		11, 0xff, 0xff, 0x00, 0x00, // length + RadioHead header
		TypeTelemetryAck,
		12, 34, 56,
		1, 0,
	}, frame)
}

func TestMarshalCommand(t *testing.T) {
	frame, err := Marshal(&Command{
		Timestamp:        Timestamp{Hour: 1, Minute: 2, Second: 3},
		SequenceComplete: true,
		Command:          "fwd 10",
	})
	require.NoError(t, err)
	require.Equal(t, []byte{
		17, 0xff, 0xff, 0x00, 0x00,
		TypeCommand,
		1, 2, 3,
		1,
		'f', 'w', 'd', ' ', '1', '0', 0,
	}, frame)
}

func TestMarshalRejectsNonASCII(t *testing.T) {
	_, err := Marshal(&Command{Command: "fwd \xc3\xa9"})
	require.ErrorIs(t, err, ErrNotASCII)
	_, err = Marshal(&Telemetry{Status: "ok\x00bad"})
	require.ErrorIs(t, err, ErrNotASCII)
}

func TestMarshalRejectsTooLong(t *testing.T) {
	_, err := Marshal(&Command{Command: strings.Repeat("x", 300)})
	require.ErrorIs(t, err, ErrFrameTooLong)
}

func TestUnmarshalTelemetry(t *testing.T) {
	// Hand-built frame the way the rover firmware packs it.
	frame := []byte{
		0, 0xff, 0xff, 0x00, 0x00,
		TypeTelemetry,
		14, 30, 45,
		0x3b, 0x6d, 0x49, 0x42, // lat 50.3568
		0x2f, 0x9d, 0xe9, 0x3f, // long 1.8251
		0x00, 0x00, 0x10, 0x41, // alt 9.0
		0x00, 0x00, 0x00, 0x00, // speed 0.0
		7,          // sats
		0x2c, 0x01, // heading 300
		0xca, 0xff, // rssi -54
		0x10, 0x27, // free mem 10000
		'r', 'o', 'a', 'm', 'i', 'n', 'g', 0,
	}
	frame[0] = byte(len(frame))

	msg, err := Unmarshal(frame)
	require.NoError(t, err)
	tm, ok := msg.(*Telemetry)
	require.True(t, ok)
	require.Equal(t, Timestamp{Hour: 14, Minute: 30, Second: 45}, tm.Timestamp)
	require.InDelta(t, 50.3568, tm.Location.Lat, 0.001)
	require.InDelta(t, 1.8251, tm.Location.Long, 0.001)
	require.Equal(t, float32(9.0), tm.Location.Alt)
	require.Equal(t, uint8(7), tm.Location.Sats)
	require.Equal(t, uint16(300), tm.Location.Heading)
	require.Equal(t, int16(-54), tm.SignalStrength)
	require.Equal(t, uint16(10000), tm.FreeMemory)
	require.Equal(t, "roaming", tm.Status)
}

func TestUnmarshalIgnoresTrailingBytes(t *testing.T) {
	// Receive buffers come back fixed-size with garbage past the
	// declared length.
	buf := make([]byte, MaxFrameAES)
	frame, err := Marshal(&CommandReady{
		Timestamp: Timestamp{Hour: 3, Minute: 4, Second: 5},
		Ready:     true,
	})
	require.NoError(t, err)
	copy(buf, frame)
	for i := len(frame); i < len(buf); i++ {
		buf[i] = 0xa5
	}

	msg, err := Unmarshal(buf)
	require.NoError(t, err)
	ready, ok := msg.(*CommandReady)
	require.True(t, ok)
	require.True(t, ready.Ready)
}

func TestUnmarshalStatusWithoutTerminator(t *testing.T) {
	frame, err := Marshal(&Telemetry{Status: "edge"})
	require.NoError(t, err)
	// Drop the NUL and fix up the length byte.
	frame = frame[:len(frame)-1]
	frame[0] = byte(len(frame))

	msg, err := Unmarshal(frame)
	require.NoError(t, err)
	require.Equal(t, "edge", msg.(*Telemetry).Status)
}

func TestUnmarshalErrors(t *testing.T) {
	testCases := []struct {
		name  string
		frame []byte
		check func(*testing.T, error)
	}{
		{
			name:  "empty",
			frame: nil,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrShortFrame)
			},
		},
		{
			name:  "declared length beyond buffer",
			frame: []byte{20, 0xff, 0xff, 0, 0, TypeCommandAck, 1, 2, 3, 1},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrShortFrame)
			},
		},
		{
			name:  "truncated ack body",
			frame: []byte{8, 0xff, 0xff, 0, 0, TypeTelemetryAck, 1, 2},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrShortFrame)
			},
		},
		{
			name:  "unknown type",
			frame: []byte{10, 0xff, 0xff, 0, 0, 9, 1, 2, 3, 1},
			check: func(t *testing.T, err error) {
				var unknown *ErrUnknownType
				require.ErrorAs(t, err, &unknown)
				require.Equal(t, byte(9), unknown.TypeByte)
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal(tc.frame)
			tc.check(t, err)
		})
	}
}
