package sim

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/roverlink/groundstation/pkg/link"
	"github.com/roverlink/groundstation/pkg/rover"
)

// Config tunes the simulated rover.
type Config struct {
	// Interval between telemetry reports.
	Interval time.Duration
	// AckWait is how long to wait for a station reply.
	AckWait time.Duration
	// MsgDelay is the Rx to Tx turnaround pause.
	MsgDelay time.Duration
	// Start is the initial fix.
	Start Fix
	// StepDegrees is how far the rover moves per telemetry cycle when
	// it has a target.
	StepDegrees float64
	// Status is the initial status text.
	Status string
}

// DefaultConfig returns timing close to the real firmware, scaled for
// an impatient operator.
func DefaultConfig() Config {
	return Config{
		Interval:    3 * time.Second,
		AckWait:     10 * time.Second,
		MsgDelay:    250 * time.Millisecond,
		Start:       Fix{Lat: 48.85, Long: 2.35},
		StepDegrees: 0.0005,
		Status:      "idle",
	}
}

// Rover simulates the firmware side of the link: report telemetry,
// poll for commands when the station flags one, execute what it
// understands.
type Rover struct {
	cfg   Config
	radio link.Radio

	lock     sync.Mutex
	pos      Fix
	target   *Fix
	heading  Angle
	status   string
	executed []string
}

// NewRover creates a simulated rover on one end of a radio.
func NewRover(r link.Radio, cfg Config) *Rover {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 10 * time.Second
	}
	return &Rover{
		cfg:    cfg,
		radio:  r,
		pos:    cfg.Start,
		status: cfg.Status,
	}
}

// Position returns the current fix.
func (r *Rover) Position() Fix {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.pos
}

// Status returns the current status text.
func (r *Rover) Status() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.status
}

// Executed returns commands applied so far.
func (r *Rover) Executed() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.executed...)
}

// Run drives the report cycle until ctx is canceled.
func (r *Rover) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.Interval):
		}
		ack, err := r.report(ctx)
		if err != nil {
			glog.V(2).Infof("sim rover: report unanswered: %v", err)
			continue
		}
		if ack.CommandWaiting {
			text, err := r.fetchCommand(ctx)
			if err != nil {
				glog.V(1).Infof("sim rover: command fetch: %v", err)
				continue
			}
			r.apply(text)
		}
		r.advance()
	}
}

// report sends one telemetry frame and waits for the ack.
func (r *Rover) report(ctx context.Context) (*rover.TelemetryAck, error) {
	if err := r.send(ctx, r.telemetry()); err != nil {
		return nil, err
	}
	msg, err := r.receive(ctx)
	if err != nil {
		return nil, err
	}
	ack, ok := msg.(*rover.TelemetryAck)
	if !ok {
		return nil, &rover.ErrWrongType{Want: rover.TypeTelemetryAck, Got: msg.Type()}
	}
	return ack, nil
}

// fetchCommand announces readiness and collects command chunks until
// the sequence completes.
func (r *Rover) fetchCommand(ctx context.Context) (string, error) {
	if err := r.send(ctx, &rover.CommandReady{Timestamp: rover.Now(), Ready: true}); err != nil {
		return "", err
	}
	var text strings.Builder
	for {
		msg, err := r.receive(ctx)
		if err != nil {
			return "", err
		}
		cmd, ok := msg.(*rover.Command)
		if !ok {
			return "", &rover.ErrWrongType{Want: rover.TypeCommand, Got: msg.Type()}
		}
		text.WriteString(cmd.Command)
		if err := r.send(ctx, &rover.CommandAck{Timestamp: rover.Now(), Ack: true}); err != nil {
			return "", err
		}
		if cmd.SequenceComplete {
			return text.String(), nil
		}
	}
}

// apply executes a command line.
func (r *Rover) apply(text string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.executed = append(r.executed, text)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "goto":
		if len(fields) != 3 {
			r.status = "bad goto"
			return
		}
		lat, err1 := strconv.ParseFloat(fields[1], 64)
		long, err2 := strconv.ParseFloat(fields[2], 64)
		if err1 != nil || err2 != nil {
			r.status = "bad goto"
			return
		}
		r.target = &Fix{Lat: lat, Long: long}
		r.status = "moving"
	case "stop":
		r.target = nil
		r.status = "idle"
	case "status":
		r.status = strings.Join(fields[1:], " ")
	default:
		r.status = fmt.Sprintf("unknown cmd %s", fields[0])
	}
}

// advance moves one step toward the target.
func (r *Rover) advance() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.target == nil {
		return
	}
	r.heading = Bearing(r.pos, *r.target)
	r.pos = StepToward(r.pos, *r.target, r.cfg.StepDegrees)
	if r.pos == *r.target {
		r.target = nil
		r.status = "arrived"
	}
}

func (r *Rover) telemetry() *rover.Telemetry {
	r.lock.Lock()
	defer r.lock.Unlock()
	speed := float32(0)
	if r.target != nil {
		speed = 1.5
	}
	return &rover.Telemetry{
		Timestamp: rover.Now(),
		Location: rover.Location{
			Lat:     float32(r.pos.Lat),
			Long:    float32(r.pos.Long),
			Alt:     35,
			Speed:   speed,
			Sats:    7,
			Heading: r.heading.Heading(),
		},
		SignalStrength: r.radio.LastRSSI(),
		FreeMemory:     1820,
		Status:         r.status,
	}
}

// send marshals and transmits after the turnaround pause.
func (r *Rover) send(ctx context.Context, msg rover.Message) error {
	frame, err := rover.Marshal(msg)
	if err != nil {
		return err
	}
	if r.cfg.MsgDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.MsgDelay):
		}
	}
	return r.radio.Send(frame)
}

func (r *Rover) receive(ctx context.Context) (rover.Message, error) {
	frame, err := r.radio.Receive(ctx, r.cfg.AckWait)
	if err != nil {
		return nil, err
	}
	return rover.Unmarshal(frame)
}
