package rover

import "time"

// Message type bytes on the wire.
const (
	TypeTelemetry    byte = 0
	TypeTelemetryAck byte = 1
	TypeCommandReady byte = 2
	TypeCommand      byte = 3
	TypeCommandAck   byte = 4
)

// TypeName returns a friendly name for a message type byte.
func TypeName(t byte) string {
	switch t {
	case TypeTelemetry:
		return "Telemetry"
	case TypeTelemetryAck:
		return "TelemetryAck"
	case TypeCommandReady:
		return "CommandReady"
	case TypeCommand:
		return "Command"
	case TypeCommandAck:
		return "CommandAck"
	}
	return "Unknown"
}

// Message is a rover protocol message.
type Message interface {
	// Type returns the wire type byte.
	Type() byte
}

// Timestamp is a wall-clock time of day, 3 bytes on the wire.
// The rover has no calendar, only an uptime-synced clock.
type Timestamp struct {
	Hour   uint8
	Minute uint8
	Second uint8
}

// Now creates a Timestamp from the local wall clock.
func Now() Timestamp {
	t := time.Now()
	return Timestamp{
		Hour:   uint8(t.Hour()),
		Minute: uint8(t.Minute()),
		Second: uint8(t.Second()),
	}
}

// Location is the rover GPS fix plus magnetometer heading, 19 bytes
// on the wire.
type Location struct {
	Lat     float32
	Long    float32
	Alt     float32
	Speed   float32
	Sats    uint8
	Heading uint16
}

// Telemetry is sent by the rover to report location and status.
type Telemetry struct {
	Timestamp      Timestamp
	Location       Location
	SignalStrength int16
	FreeMemory     uint16
	Status         string
}

// Type implements Message.
func (*Telemetry) Type() byte { return TypeTelemetry }

// TelemetryAck is sent by the station to acknowledge a Telemetry and
// possibly tell the rover to switch to command mode.
type TelemetryAck struct {
	Timestamp      Timestamp
	Ack            bool
	CommandWaiting bool
}

// Type implements Message.
func (*TelemetryAck) Type() byte { return TypeTelemetryAck }

// CommandReady is sent by the rover to indicate it is ready to receive
// a command sequence.
type CommandReady struct {
	Timestamp Timestamp
	Ready     bool
}

// Type implements Message.
func (*CommandReady) Type() byte { return TypeCommandReady }

// Command is sent by the station to carry one chunk of a command
// sequence. SequenceComplete marks the last chunk.
type Command struct {
	Timestamp        Timestamp
	SequenceComplete bool
	Command          string
}

// Type implements Message.
func (*Command) Type() byte { return TypeCommand }

// CommandAck is sent by the rover to acknowledge a Command chunk.
type CommandAck struct {
	Timestamp Timestamp
	Ack       bool
}

// Type implements Message.
func (*CommandAck) Type() byte { return TypeCommandAck }
