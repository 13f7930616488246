package rover

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Frame size limits. The RFM69 hardware AES pipeline caps packets at 64
// bytes; without encryption the length byte allows up to 255.
const (
	MaxFrameAES = 64
	MaxFrame    = 255
)

// headerLen covers the length byte plus the RadioHead routing header
// (TO, FROM, ID, FLAGS). The rover firmware consumes these invisibly;
// on this end they are carried verbatim.
const headerLen = 5

// Routing header values the rover firmware expects.
const (
	headerTo    byte = 0xff
	headerFrom  byte = 0xff
	headerID    byte = 0x00
	headerFlags byte = 0x00
)

var (
	// ErrFrameTooLong indicates the marshalled frame exceeds the wire limit.
	ErrFrameTooLong = errors.New("frame too long")
	// ErrShortFrame indicates the buffer is too short for the declared frame.
	ErrShortFrame = errors.New("short frame")
	// ErrNotASCII indicates a string field contains non-ASCII bytes.
	ErrNotASCII = errors.New("string is not ASCII")
)

// ErrUnknownType indicates an unrecognized message type byte.
type ErrUnknownType struct {
	TypeByte byte
}

// Error implements error.
func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown message type %d", e.TypeByte)
}

// ErrWrongType indicates a message of an unexpected type was received.
type ErrWrongType struct {
	Want byte
	Got  byte
}

// Error implements error.
func (e *ErrWrongType) Error() string {
	return fmt.Sprintf("wrong message type: expected %s, got %s",
		TypeName(e.Want), TypeName(e.Got))
}

// Marshal encodes a message into a wire frame.
func Marshal(msg Message) ([]byte, error) {
	buf := make([]byte, headerLen, headerLen+32)
	buf[1], buf[2], buf[3], buf[4] = headerTo, headerFrom, headerID, headerFlags
	buf = append(buf, msg.Type())
	var err error
	switch m := msg.(type) {
	case *Telemetry:
		buf = appendTimestamp(buf, m.Timestamp)
		buf = appendLocation(buf, m.Location)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(m.SignalStrength))
		buf = binary.LittleEndian.AppendUint16(buf, m.FreeMemory)
		buf, err = appendString(buf, m.Status)
	case *TelemetryAck:
		buf = appendTimestamp(buf, m.Timestamp)
		buf = append(buf, boolByte(m.Ack), boolByte(m.CommandWaiting))
	case *CommandReady:
		buf = appendTimestamp(buf, m.Timestamp)
		buf = append(buf, boolByte(m.Ready))
	case *Command:
		buf = appendTimestamp(buf, m.Timestamp)
		buf = append(buf, boolByte(m.SequenceComplete))
		buf, err = appendString(buf, m.Command)
	case *CommandAck:
		buf = appendTimestamp(buf, m.Timestamp)
		buf = append(buf, boolByte(m.Ack))
	default:
		return nil, &ErrUnknownType{TypeByte: msg.Type()}
	}
	if err != nil {
		return nil, err
	}
	if len(buf) > MaxFrame {
		return nil, ErrFrameTooLong
	}
	buf[0] = byte(len(buf))
	return buf, nil
}

// Unmarshal decodes a wire frame. The buffer may be longer than the
// declared frame; trailing bytes are ignored.
func Unmarshal(buf []byte) (Message, error) {
	if len(buf) < headerLen+1 {
		return nil, ErrShortFrame
	}
	frameLen := int(buf[0])
	if frameLen < headerLen+1 || frameLen > len(buf) {
		return nil, ErrShortFrame
	}
	body := buf[headerLen+1 : frameLen]
	switch buf[headerLen] {
	case TypeTelemetry:
		return unmarshalTelemetry(body)
	case TypeTelemetryAck:
		if len(body) < 5 {
			return nil, ErrShortFrame
		}
		return &TelemetryAck{
			Timestamp:      timestampAt(body),
			Ack:            body[3] != 0,
			CommandWaiting: body[4] != 0,
		}, nil
	case TypeCommandReady:
		if len(body) < 4 {
			return nil, ErrShortFrame
		}
		return &CommandReady{
			Timestamp: timestampAt(body),
			Ready:     body[3] != 0,
		}, nil
	case TypeCommand:
		if len(body) < 4 {
			return nil, ErrShortFrame
		}
		return &Command{
			Timestamp:        timestampAt(body),
			SequenceComplete: body[3] != 0,
			Command:          stringAt(body[4:]),
		}, nil
	case TypeCommandAck:
		if len(body) < 4 {
			return nil, ErrShortFrame
		}
		return &CommandAck{
			Timestamp: timestampAt(body),
			Ack:       body[3] != 0,
		}, nil
	}
	return nil, &ErrUnknownType{TypeByte: buf[headerLen]}
}

func unmarshalTelemetry(body []byte) (*Telemetry, error) {
	if len(body) < 26 {
		return nil, ErrShortFrame
	}
	loc := body[3:22]
	return &Telemetry{
		Timestamp: timestampAt(body),
		Location: Location{
			Lat:     float32At(loc, 0),
			Long:    float32At(loc, 4),
			Alt:     float32At(loc, 8),
			Speed:   float32At(loc, 12),
			Sats:    loc[16],
			Heading: binary.LittleEndian.Uint16(loc[17:]),
		},
		SignalStrength: int16(binary.LittleEndian.Uint16(body[22:])),
		FreeMemory:     binary.LittleEndian.Uint16(body[24:]),
		Status:         stringAt(body[26:]),
	}, nil
}

func appendTimestamp(buf []byte, ts Timestamp) []byte {
	return append(buf, ts.Hour, ts.Minute, ts.Second)
}

func timestampAt(b []byte) Timestamp {
	return Timestamp{Hour: b[0], Minute: b[1], Second: b[2]}
}

func appendLocation(buf []byte, loc Location) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(loc.Lat))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(loc.Long))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(loc.Alt))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(loc.Speed))
	buf = append(buf, loc.Sats)
	return binary.LittleEndian.AppendUint16(buf, loc.Heading)
}

func float32At(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

// appendString appends a NUL-terminated ASCII string. The rover parses
// byte-wise, so anything outside 7-bit ASCII is rejected here.
func appendString(buf []byte, s string) ([]byte, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 || s[i] > 0x7f {
			return nil, ErrNotASCII
		}
	}
	buf = append(buf, s...)
	return append(buf, 0), nil
}

// stringAt reads up to a NUL terminator or the end of the body.
func stringAt(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
