// Package rover provides shell commands for talking to the rover
// through a connected station.
package rover

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/roverlink/groundstation/pkg/bus"
	"github.com/roverlink/groundstation/pkg/cli/sh"
)

var (
	// SendCmd uplinks a command line to the rover.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "COMMAND [ARGS...]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("COMMAND required"))
				return
			}
			s := sh.ShellFrom(c)
			res, err := s.Send(strings.Join(c.Args, " "), sh.SendTimeout)
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				sh.PrintJSON(c, &res)
				return
			}
			if res.OK {
				c.Printf("OK (%d chunks)\n", res.Chunks)
				return
			}
			c.Err(fmt.Errorf("rejected: %s", res.Error))
		}),
	}

	// LastCmd prints the latest telemetry received since connect.
	LastCmd = ishell.Cmd{
		Name: "last",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			s := sh.ShellFrom(c)
			ev := s.Last()
			if ev == nil {
				c.Err(fmt.Errorf("no telemetry yet"))
				return
			}
			if s.OutputJSON {
				sh.PrintJSON(c, ev)
				return
			}
			c.Println(sh.FormatTelemetry(*ev))
		}),
	}

	// WatchCmd streams telemetry as it arrives.
	WatchCmd = ishell.Cmd{
		Name:    "watch",
		Aliases: []string{"w"},
		Help:    "[COUNT]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			count := 5
			if len(c.Args) >= 1 {
				val, err := strconv.Atoi(c.Args[0])
				if err != nil || val < 1 {
					c.Err(fmt.Errorf("invalid COUNT: %q", c.Args[0]))
					return
				}
				count = val
			}
			s := sh.ShellFrom(c)
			err := s.Watch(count, time.Minute, func(ev bus.TelemetryEvent) {
				if s.OutputJSON {
					sh.PrintJSON(c, &ev)
					return
				}
				c.Println(sh.FormatTelemetry(ev))
			})
			if err != nil {
				c.Err(err)
			}
		}),
	}

	// StatusCmd prints the retained status of the connected station.
	StatusCmd = ishell.Cmd{
		Name: "status",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			s := sh.ShellFrom(c)
			list, err := s.Discover()
			if err != nil {
				c.Err(err)
				return
			}
			for _, st := range list {
				if st.Station != s.Station() {
					continue
				}
				if s.OutputJSON {
					sh.PrintJSON(c, &st)
				} else {
					c.Println(sh.FormatStatus(st))
				}
				return
			}
			c.Err(fmt.Errorf("station %q has no retained status", s.Station()))
		}),
	}
)

func init() {
	sh.AddCmds(
		&SendCmd,
		&LastCmd,
		&WatchCmd,
		&StatusCmd,
	)
}
