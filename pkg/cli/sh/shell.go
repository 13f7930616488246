// Package sh provides the ishell backed operator shell.
package sh

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/roverlink/groundstation/pkg/bus"
)

// Shell provides ishell backed interactive shell talking to ground
// stations over the broker.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell   *ishell.Shell
	MQTTURL string

	lock     sync.Mutex
	queue    *bus.Queue
	station  string
	lastEv   *bus.TelemetryEvent
	watchers map[chan bus.TelemetryEvent]struct{}
	results  map[string]chan bus.CommandResult
	telSub   *bus.Subscription
	resSub   *bus.Subscription
	idSeq    uint32
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "

	// discoverWait leaves time for retained statuses to arrive after
	// the subscribe.
	discoverWait = 500 * time.Millisecond

	// SendTimeout bounds a command round trip. The rover polls for
	// commands once per telemetry cycle, so this is generous.
	SendTimeout = 90 * time.Second
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	mqttURL    = "mqtt://localhost:1883/rover/"
	stationID  string

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	if val := os.Getenv("GROUND_MQTT_URL"); val != "" {
		mqttURL = val
	}
	if val := os.Getenv("GROUND_STATION_ID"); val != "" {
		stationID = val
	}
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&stationID, "station", stationID, "Station to connect on startup.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New() *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		MQTTURL:     mqttURL,

		Shell: ishell.New(),
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connected station.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Station() == "" {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Queue connects the broker on first use.
func (s *Shell) Queue() (*bus.Queue, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.queue != nil {
		return s.queue, nil
	}
	q, err := bus.NewQueueFromURL(s.MQTTURL)
	if err != nil {
		return nil, err
	}
	token := q.Connect()
	if token.Wait(); token.Error() != nil {
		return nil, token.Error()
	}
	s.queue = q
	return q, nil
}

// Discover collects retained station statuses from the broker.
func (s *Shell) Discover() ([]bus.StationStatus, error) {
	q, err := s.Queue()
	if err != nil {
		return nil, err
	}
	var lock sync.Mutex
	seen := make(map[string]bus.StationStatus)
	sub := q.Sub(bus.TopicDiscover, func(topic string, payload []byte) {
		// the LWT clears the payload when a station goes
		if len(payload) == 0 {
			return
		}
		var st bus.StationStatus
		if err := json.Unmarshal(payload, &st); err != nil {
			return
		}
		if st.Station == "" {
			st.Station = bus.StationFromTopic(topic)
		}
		lock.Lock()
		seen[st.Station] = st
		lock.Unlock()
	})
	if sub.Token != nil {
		sub.Token.Wait()
	}
	time.Sleep(discoverWait)
	sub.Close()

	lock.Lock()
	defer lock.Unlock()
	list := make([]bus.StationStatus, 0, len(seen))
	for _, st := range seen {
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Station < list[j].Station })
	return list, nil
}

// SelectStation discovers stations and asks for a choice.
func (s *Shell) SelectStation() (*bus.StationStatus, error) {
	list, err := s.Discover()
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	var index int
	if len(list) > 1 {
		if !s.Interactive {
			return nil, fmt.Errorf("more than 1 stations discovered in non-interactive mode")
		}
		items := make([]string, len(list))
		for n, st := range list {
			items[n] = FormatStatus(st)
		}
		index = s.Shell.MultiChoice(items, "Which one to connect?")
	}
	return &list[index], nil
}

// Connect subscribes telemetry and command results of a station.
func (s *Shell) Connect(station string) error {
	q, err := s.Queue()
	if err != nil {
		return err
	}
	s.Disconnect()
	s.lock.Lock()
	s.station = station
	s.lastEv = nil
	s.watchers = make(map[chan bus.TelemetryEvent]struct{})
	s.results = make(map[string]chan bus.CommandResult)
	s.lock.Unlock()
	s.telSub = q.Sub(bus.TelemetryTopic(station), s.onTelemetry)
	s.resSub = q.Sub(bus.CommandResultTopic(station), s.onResult)
	s.Shell.SetPrompt(station + " > ")
	return nil
}

// Disconnect drops the station subscriptions.
func (s *Shell) Disconnect() {
	if s.telSub != nil {
		s.telSub.Close()
		s.telSub = nil
	}
	if s.resSub != nil {
		s.resSub.Close()
		s.resSub = nil
	}
	s.lock.Lock()
	s.station = ""
	s.watchers = nil
	s.results = nil
	s.lock.Unlock()
	s.Shell.SetPrompt(unconnectedPrompt)
}

// Station returns the connected station ID, or "".
func (s *Shell) Station() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.station
}

// Last returns the latest telemetry seen since connect.
func (s *Shell) Last() *bus.TelemetryEvent {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastEv
}

// Watch delivers count telemetry events to each as they arrive.
func (s *Shell) Watch(count int, frameTimeout time.Duration, each func(bus.TelemetryEvent)) error {
	ch := make(chan bus.TelemetryEvent, 4)
	s.lock.Lock()
	if s.watchers == nil {
		s.lock.Unlock()
		return fmt.Errorf("not connected")
	}
	s.watchers[ch] = struct{}{}
	s.lock.Unlock()
	defer func() {
		s.lock.Lock()
		delete(s.watchers, ch)
		s.lock.Unlock()
	}()
	for n := 0; n < count; n++ {
		select {
		case ev := <-ch:
			each(ev)
		case <-time.After(frameTimeout):
			return fmt.Errorf("no telemetry after %v", frameTimeout)
		}
	}
	return nil
}

// Send publishes a command request and waits for its result.
func (s *Shell) Send(command string, timeout time.Duration) (bus.CommandResult, error) {
	var res bus.CommandResult
	s.lock.Lock()
	station := s.station
	if station == "" {
		s.lock.Unlock()
		return res, fmt.Errorf("not connected")
	}
	s.idSeq++
	req := bus.CommandRequest{
		ID:      fmt.Sprintf("%x-%d", time.Now().UnixNano(), s.idSeq),
		Command: command,
	}
	ch := make(chan bus.CommandResult, 1)
	s.results[req.ID] = ch
	s.lock.Unlock()
	defer func() {
		s.lock.Lock()
		delete(s.results, req.ID)
		s.lock.Unlock()
	}()

	q, err := s.Queue()
	if err != nil {
		return res, err
	}
	payload, err := json.Marshal(&req)
	if err != nil {
		return res, err
	}
	token := q.Pub(bus.CommandTopic(station), payload)
	if token.Wait(); token.Error() != nil {
		return res, token.Error()
	}
	select {
	case res = <-ch:
		return res, nil
	case <-time.After(timeout):
		return res, fmt.Errorf("no result after %v", timeout)
	}
}

func (s *Shell) onTelemetry(topic string, payload []byte) {
	var ev bus.TelemetryEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	s.lock.Lock()
	s.lastEv = &ev
	for ch := range s.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
	s.lock.Unlock()
}

func (s *Shell) onResult(topic string, payload []byte) {
	var res bus.CommandResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return
	}
	s.lock.Lock()
	ch := s.results[res.ID]
	s.lock.Unlock()
	if ch != nil {
		select {
		case ch <- res:
		default:
		}
	}
}

// FormatStatus prints a StationStatus into friendly string for display.
func FormatStatus(st bus.StationStatus) string {
	line := fmt.Sprintf("%s: %.3f MHz", st.Station, float64(st.FrequencyHz)/1e6)
	if st.LastHeard != nil {
		line += fmt.Sprintf(", rover heard %s", st.LastHeard.Format(time.RFC3339))
	} else {
		line += ", rover never heard"
	}
	if st.Pending > 0 {
		line += fmt.Sprintf(", %d queued", st.Pending)
	}
	return line
}

// FormatTelemetry prints a TelemetryEvent into friendly string for
// display.
func FormatTelemetry(ev bus.TelemetryEvent) string {
	return fmt.Sprintf("%s %+.5f %+.5f alt %.1f spd %.1f sats %d hdg %d rssi %d mem %d %s",
		ev.Clock, ev.Lat, ev.Long, ev.Alt, ev.Speed, ev.Sats, ev.Heading,
		ev.RSSI, ev.FreeMemory, ev.Status)
}

// PrintJSON marshals v onto the shell output.
func PrintJSON(c *ishell.Context, v interface{}) error {
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return err
	}
	c.Println(string(out))
	return nil
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect {
		station := stationID
		if station == "" {
			st, err := s.SelectStation()
			if err != nil {
				log.Fatalln(err)
			}
			if st != nil {
				station = st.Station
			}
		}
		if station != "" {
			if s.Interactive {
				s.Shell.Printf("Connecting %s ...\n", station)
			}
			if err := s.Connect(station); err != nil {
				log.Fatalf("connect %q failed: %v", station, err)
			}
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// DiscoverCmd discovers stations.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			list, err := s.Discover()
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if list == nil {
					list = []bus.StationStatus{}
				}
				PrintJSON(c, list)
				return
			}
			if len(list) == 0 {
				c.Println("No stations found")
				return
			}
			for _, st := range list {
				c.Println(FormatStatus(st))
			}
		},
	}

	// ConnectCmd connects a station.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[STATION]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var station string
			if len(c.Args) >= 1 {
				station = c.Args[0]
			} else {
				st, err := s.SelectStation()
				if err != nil {
					c.Err(err)
					return
				}
				if st == nil {
					c.Err(fmt.Errorf("no station discovered"))
					return
				}
				station = st.Station
			}
			if err := s.Connect(station); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current station.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New().WithAutoConnect(true).Run(flag.Args()...)
}
