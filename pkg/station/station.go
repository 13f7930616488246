// Package station assembles radio, link, bus, display and feed into a
// running ground station.
package station

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/roverlink/groundstation/pkg/bus"
	"github.com/roverlink/groundstation/pkg/display"
	"github.com/roverlink/groundstation/pkg/feed"
	fx "github.com/roverlink/groundstation/pkg/framework"
	"github.com/roverlink/groundstation/pkg/link"
	"github.com/roverlink/groundstation/pkg/radio"
	"github.com/roverlink/groundstation/pkg/rover"
)

// Version is reported on the splash screen.
const Version = "0.3"

const statusInterval = 15 * time.Second

// Station owns the control loop and every ground station component.
type Station struct {
	Config  *Config
	Session *link.Session
	Queue   *bus.Queue
	Panel   display.Panel
	Feed    *feed.Server

	loop        *fx.Loop
	radioCloser io.Closer

	// outbox and the dirty flags are touched from controllers only,
	// which the loop runs single-threaded.
	outbox     []link.Event
	panelDirty bool

	lock         sync.Mutex
	lastEvent    *link.Event
	lastHeard    time.Time
	lastStatusAt time.Time
}

// telemetryMsg carries a link event into the loop.
type telemetryMsg struct {
	event link.Event
}

// NewMessage implements fx.Message.
func (*telemetryMsg) NewMessage() fx.Message { return &telemetryMsg{} }

// commandMsg carries an operator command submission into the loop.
type commandMsg struct {
	req bus.CommandRequest
}

// NewMessage implements fx.Message.
func (*commandMsg) NewMessage() fx.Message { return &commandMsg{} }

type runFunc func(context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }

// New opens the radio and wires up a Station from a Config.
func New(conf *Config) (*Station, error) {
	dev, err := radio.Open(conf.Radio)
	if err != nil {
		return nil, fmt.Errorf("radio: %w", err)
	}
	s, err := NewWithRadio(conf, dev, dev)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return s, nil
}

// NewWithRadio wires up a Station over an already open radio. closer,
// if non-nil, is closed on shutdown.
func NewWithRadio(conf *Config, r link.Radio, closer io.Closer) (*Station, error) {
	opts, prefix, err := bus.ClientOptionsFromURL(conf.MQTTURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(prefix+bus.StatusTopic(conf.ID), nil, 0, true)
	if opts.ClientID == "" {
		opts.SetClientID("ground-" + conf.ID)
	}

	s := &Station{
		Config:      conf,
		Session:     link.NewSession(r, conf.Link),
		Queue:       bus.NewQueue(opts, prefix),
		Panel:       display.Nop{},
		radioCloser: closer,
	}
	if conf.UseOLED {
		panel, err := display.OpenOLED()
		if err != nil {
			return nil, fmt.Errorf("display: %w", err)
		}
		s.Panel = panel
	}
	if conf.FeedAddr != "" {
		s.Feed = feed.New(conf.FeedAddr)
	}
	s.Queue.OnConnect = func(*bus.Queue) { s.publishStatus() }
	return s, nil
}

// Run drives the station until ctx is canceled.
func (s *Station) Run(ctx context.Context) error {
	loop := fx.NewLoop()
	s.loop = loop
	loop.AddRunnable(fx.NamedRun("link", s.Session))
	loop.AddRunnable(fx.NamedRun("events", runFunc(s.pumpEvents)))
	if s.Feed != nil {
		loop.AddRunnable(fx.NamedRun("feed", s.Feed))
	}
	loop.AddController(fx.PrLvProcess, fx.ControlFunc(s.process))
	loop.AddController(fx.PrLvPublish, fx.ControlFunc(s.publish))
	loop.AddController(fx.PrLvDisplay, fx.ControlFunc(s.updatePanel))
	loop.AddController(fx.PrLvIdle, fx.ControlFunc(s.statusTick))

	if err := s.Panel.WriteLines(splashLines()...); err != nil {
		glog.Warningf("display: %v", err)
	}

	token := s.Queue.Connect()
	if token.Wait(); token.Error() != nil {
		return fmt.Errorf("broker: %w", token.Error())
	}
	sub := s.Queue.Sub(bus.CommandTopic(s.Config.ID), s.handleCommand)
	defer s.shutdown(sub)

	glog.Infof("station %s listening at %d Hz", s.Config.ID, s.Config.Radio.FrequencyHz)
	return loop.Run(ctx)
}

// pumpEvents moves telemetry from the session into loop messages.
func (s *Station) pumpEvents(ctx context.Context) error {
	ctl := fx.LoopCtlFrom(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.Session.Events():
			ctl.PostMessage(&telemetryMsg{event: ev})
			ctl.TriggerNext()
		}
	}
}

func (s *Station) handleCommand(topic string, payload []byte) {
	req, err := decodeCommand(payload)
	if err != nil {
		glog.Errorf("bad command request: %v", err)
		return
	}
	s.loop.PostMessage(&commandMsg{req: req})
	s.loop.TriggerNext()
}

func (s *Station) process(cc fx.ControlContext) error {
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mc fx.MessageProcessingContext) {
		switch m := mc.CurrentMessage().(type) {
		case *telemetryMsg:
			s.lock.Lock()
			ev := m.event
			s.lastEvent = &ev
			s.lastHeard = m.event.At
			s.lock.Unlock()
			s.outbox = append(s.outbox, m.event)
			mc.MessageTaken()
		case *commandMsg:
			s.submit(m.req)
			mc.MessageTaken()
		}
	}))
	return nil
}

func (s *Station) publish(fx.ControlContext) error {
	if len(s.outbox) == 0 {
		return nil
	}
	var errs fx.AggregatedError
	for _, ev := range s.outbox {
		payload, err := json.Marshal(eventPayload(s.Config.ID, ev))
		if err != nil {
			errs.Add(err)
			continue
		}
		s.Queue.Pub(bus.TelemetryTopic(s.Config.ID), payload)
		if s.Feed != nil {
			s.Feed.Broadcast(payload)
		}
	}
	s.outbox = s.outbox[:0]
	s.panelDirty = true
	return errs.Aggregate()
}

func (s *Station) updatePanel(fx.ControlContext) error {
	if !s.panelDirty {
		return nil
	}
	s.panelDirty = false
	s.lock.Lock()
	ev := s.lastEvent
	s.lock.Unlock()
	return s.Panel.WriteLines(panelLines(ev, s.Session.Pending())...)
}

func (s *Station) statusTick(cc fx.ControlContext) error {
	s.lock.Lock()
	due := cc.Time().Sub(s.lastStatusAt) >= statusInterval
	s.lock.Unlock()
	if due {
		s.publishStatus()
	}
	return nil
}

// publishStatus publishes the retained status document. Also called
// from the broker connect handler, hence the locking.
func (s *Station) publishStatus() {
	now := time.Now()
	s.lock.Lock()
	status := bus.StationStatus{
		Station:     s.Config.ID,
		Online:      true,
		FrequencyHz: s.Config.Radio.FrequencyHz,
		Pending:     s.Session.Pending(),
		At:          now,
	}
	if !s.lastHeard.IsZero() {
		heard := s.lastHeard
		status.LastHeard = &heard
	}
	s.lastStatusAt = now
	s.lock.Unlock()
	payload, err := json.Marshal(&status)
	if err != nil {
		glog.Errorf("status marshal: %v", err)
		return
	}
	s.Queue.PubWith(bus.StatusTopic(s.Config.ID), payload, 0, true)
}

// submit queues a command on the session and reports the outcome on
// the result topic once the rover picks it up.
func (s *Station) submit(req bus.CommandRequest) {
	glog.Infof("command %s: %q", req.ID, req.Command)
	cmd := s.Session.Enqueue(req.Command)
	s.panelDirty = true
	go func() {
		res := <-cmd.ResultChan()
		result := bus.CommandResult{
			ID:     req.ID,
			OK:     res.Err == nil,
			Chunks: res.Chunks,
			At:     time.Now(),
		}
		if res.Err != nil {
			result.Error = res.Err.Error()
		}
		payload, err := json.Marshal(&result)
		if err != nil {
			glog.Errorf("result marshal: %v", err)
			return
		}
		s.Queue.Pub(bus.CommandResultTopic(s.Config.ID), payload)
	}()
}

// shutdown clears the retained status so watchers see the station go.
func (s *Station) shutdown(sub *bus.Subscription) {
	sub.Close()
	token := s.Queue.PubWith(bus.StatusTopic(s.Config.ID), nil, 0, true)
	token.WaitTimeout(time.Second)
	s.Queue.Close()
	if err := s.Panel.Close(); err != nil {
		glog.Warningf("display close: %v", err)
	}
	if s.radioCloser != nil {
		if err := s.radioCloser.Close(); err != nil {
			glog.Warningf("radio close: %v", err)
		}
	}
}

func decodeCommand(payload []byte) (bus.CommandRequest, error) {
	var req bus.CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, err
	}
	if req.Command == "" {
		return req, errors.New("empty command")
	}
	return req, nil
}

func clockString(ts rover.Timestamp) string {
	return fmt.Sprintf("%02d:%02d:%02d", ts.Hour, ts.Minute, ts.Second)
}

// eventPayload builds the telemetry document published on the bus.
func eventPayload(station string, ev link.Event) bus.TelemetryEvent {
	t := ev.Telemetry
	return bus.TelemetryEvent{
		Station:    station,
		At:         ev.At,
		Clock:      clockString(t.Timestamp),
		Lat:        t.Location.Lat,
		Long:       t.Location.Long,
		Alt:        t.Location.Alt,
		Speed:      t.Location.Speed,
		Sats:       t.Location.Sats,
		Heading:    t.Location.Heading,
		RSSI:       ev.RSSI,
		RoverRSSI:  t.SignalStrength,
		FreeMemory: t.FreeMemory,
		Status:     t.Status,
	}
}

func splashLines() []string {
	return []string{"rover ground " + Version, "waiting for rover"}
}

// panelLines fits the latest fix on the bonnet display.
func panelLines(ev *link.Event, pending int) []string {
	if ev == nil {
		return []string{"no rover yet", fmt.Sprintf("queued %d", pending)}
	}
	t := ev.Telemetry
	return []string{
		fmt.Sprintf("%s r%d q%d", clockString(t.Timestamp), ev.RSSI, pending),
		fmt.Sprintf("%+.3f %+.3f", t.Location.Lat, t.Location.Long),
	}
}
