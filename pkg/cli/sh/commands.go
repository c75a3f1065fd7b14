package sh

import (
	"fmt"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/modemmux/pkg/mux"
)

var commands = []*ishell.Cmd{
	&DiscoverCmd,
	&ConnectCmd,
	&AttachCmd,
	&DetachCmd,
	&OpenCmd,
	&CloseCmd,
	&SendCmd,
	&ATCmd,
	&ReadCmd,
	&DTRCmd,
	&RTSCmd,
	&LinesCmd,
	&StateCmd,
	&StatsCmd,
	&ChatCmd,
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

func lineCmd(name string, set func(Port, bool) error) ishell.Cmd {
	return ishell.Cmd{
		Name: name,
		Help: "CHANNEL on|off",
		Func: WithPort(func(c *ishell.Context, port Port, args []string) {
			if len(args) < 1 {
				c.Err(fmt.Errorf("on|off required"))
				return
			}
			on, err := ParseOnOff(args[0])
			if err != nil {
				c.Err(err)
				return
			}
			if err := set(port, on); err != nil {
				c.Err(err)
			}
		}),
	}
}

var (
	// DiscoverCmd lists bridged devices.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			devices, err := s.Discover()
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				s.printJSON(c, devices)
				return
			}
			if len(devices) == 0 {
				c.Println("No devices found")
				return
			}
			for _, dev := range devices {
				c.Printf("%s: %s %s [%s]\n", dev.ID, dev.Meta.Device, dev.Meta.Protocol, strings.Join(dev.Meta.Channels, ", "))
			}
		},
	}

	// ConnectCmd attaches to a bridged device.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "DEVICE-ID",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("DEVICE-ID required"))
				return
			}
			if err := ShellFrom(c).Connect(c.Args[0]); err != nil {
				c.Err(err)
			}
		},
	}

	// AttachCmd opens the local serial device.
	AttachCmd = ishell.Cmd{
		Name: "attach",
		Help: "[DEVICE]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) > 0 {
				s.Config.Device = c.Args[0]
			}
			if err := s.Attach(); err != nil {
				c.Err(err)
			}
		},
	}

	// DetachCmd closes the current session.
	DetachCmd = ishell.Cmd{
		Name:    "detach",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Detach()
		},
	}

	// OpenCmd opens a channel.
	OpenCmd = ishell.Cmd{
		Name: "open",
		Help: "CHANNEL",
		Func: WithPort(func(c *ishell.Context, port Port, _ []string) {
			if err := port.Open(); err != nil {
				c.Err(err)
			}
		}),
	}

	// CloseCmd closes a channel.
	CloseCmd = ishell.Cmd{
		Name: "close",
		Help: "CHANNEL",
		Func: WithPort(func(c *ishell.Context, port Port, _ []string) {
			if err := port.Close(); err != nil {
				c.Err(err)
			}
		}),
	}

	// SendCmd writes text with escapes to a channel.
	SendCmd = ishell.Cmd{
		Name: "send",
		Help: `CHANNEL TEXT, e.g. send data "\x10\x03"`,
		Func: WithPort(func(c *ishell.Context, port Port, args []string) {
			data, err := Unescape(strings.Join(args, " "))
			if err != nil {
				c.Err(err)
				return
			}
			if _, err := port.Write(data); err != nil {
				c.Err(err)
			}
		}),
	}

	// ATCmd sends an AT command on the command channel and prints the response.
	ATCmd = ishell.Cmd{
		Name: "at",
		Help: "COMMAND, e.g. at +CSQ",
		Func: MustBeAttached(func(c *ishell.Context, s *Session) {
			port, err := s.Port(mux.NamePrimary)
			if err != nil {
				c.Err(err)
				return
			}
			cmd := "AT" + strings.Join(c.Args, " ") + "\r"
			if _, err := port.Write([]byte(cmd)); err != nil {
				c.Err(err)
				return
			}
			out, err := readSettled(port)
			c.Print(string(out))
			if err != nil {
				c.Err(err)
			}
		}),
	}

	// ReadCmd prints what a channel received.
	ReadCmd = ishell.Cmd{
		Name: "read",
		Help: "CHANNEL",
		Func: WithPort(func(c *ishell.Context, port Port, _ []string) {
			out, err := readSettled(port)
			if ShellFrom(c).OutputJSON {
				ShellFrom(c).printJSON(c, string(out))
			} else {
				c.Printf("%q\n", out)
			}
			if err != nil {
				c.Err(err)
			}
		}),
	}

	// DTRCmd sets DTR.
	DTRCmd = lineCmd("dtr", Port.SetDTR)

	// RTSCmd sets RTS.
	RTSCmd = lineCmd("rts", Port.SetRTS)

	// LinesCmd prints control lines.
	LinesCmd = ishell.Cmd{
		Name: "lines",
		Help: "CHANNEL",
		Func: MustBeLocal(func(c *ishell.Context, m *mux.Multiplexer) {
			name := mux.NamePrimary
			if len(c.Args) > 0 {
				name = c.Args[0]
			}
			ch, err := m.Channel(name)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(FormatLines(ch))
		}),
	}

	// StateCmd prints the mode.
	StateCmd = ishell.Cmd{
		Name: "state",
		Help: "",
		Func: MustBeLocal(func(c *ishell.Context, m *mux.Multiplexer) {
			c.Printf("%s %s\n", m.Variant(), m.State())
		}),
	}

	// StatsCmd prints counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "",
		Func: MustBeLocal(func(c *ishell.Context, m *mux.Multiplexer) {
			if ShellFrom(c).OutputJSON {
				ShellFrom(c).printJSON(c, m.Stats())
				return
			}
			c.Println(FormatStats(m.Stats()))
		}),
	}

	// ChatCmd issues a raw AT command on the link and waits for its result.
	ChatCmd = ishell.Cmd{
		Name: "chat",
		Help: "COMMAND, e.g. chat AT+CFUN=1",
		Func: MustBeLocal(func(c *ishell.Context, m *mux.Multiplexer) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("COMMAND required"))
				return
			}
			if err := m.Chat(strings.Join(c.Args, " ")); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}
)
