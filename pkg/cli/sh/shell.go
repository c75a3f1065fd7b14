package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/modemmux/pkg/bridge/mqtt"
	"github.com/robotalks/modemmux/pkg/env"
	"github.com/robotalks/modemmux/pkg/mux"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	// Remote is the device ID to connect to over MQTT instead of the
	// local serial device.
	Remote string

	Shell   *ishell.Shell
	Config  *env.Config
	Session *Session
}

const (
	shellKey         = "$shell"
	detachedPrompt   = "[none] > "
	readSettleTime   = 200 * time.Millisecond
	readPollInterval = 20 * time.Millisecond
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	remote     string
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.StringVar(&remote, "remote", remote, "Connect to the device ID over MQTT.")
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Remote:      remote,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(detachedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeAttached wraps command func requiring a session.
func MustBeAttached(fn func(c *ishell.Context, s *Session)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		session := ShellFrom(c).Session
		if session == nil {
			c.Err(fmt.Errorf("not attached"))
			return
		}
		fn(c, session)
	}
}

// MustBeLocal wraps command func requiring a local multiplexer.
func MustBeLocal(fn func(c *ishell.Context, m *mux.Multiplexer)) func(c *ishell.Context) {
	return MustBeAttached(func(c *ishell.Context, s *Session) {
		if s.Mux == nil {
			c.Err(fmt.Errorf("only available on a local device"))
			return
		}
		fn(c, s.Mux)
	})
}

// WithPort wraps command func taking a channel name as first argument.
func WithPort(fn func(c *ishell.Context, port Port, args []string)) func(c *ishell.Context) {
	return MustBeAttached(func(c *ishell.Context, s *Session) {
		if len(c.Args) < 1 {
			c.Err(fmt.Errorf("CHANNEL required: %s", strings.Join(s.PortNames(), ", ")))
			return
		}
		port, err := s.Port(c.Args[0])
		if err != nil {
			c.Err(err)
			return
		}
		fn(c, port, c.Args[1:])
	})
}

func (s *Shell) printEvent(text string) {
	if s.Interactive {
		s.Shell.Println("* " + text)
	}
}

func (s *Shell) setSession(session *Session) {
	s.Detach()
	s.Session = session
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", session.Name))
}

// Attach opens the local serial device.
func (s *Shell) Attach() error {
	m, err := s.Config.Open()
	if err != nil {
		return err
	}
	session := NewLocalSession(s.Config.Device, m, func(ev mux.Event) {
		if ev.Kind != mux.EventReadyRead {
			s.printEvent(FormatEvent(ev))
		}
	})
	if s.Config.Start {
		if err := m.Start(); err != nil {
			session.Close()
			return fmt.Errorf("start %s: %w", m.Variant(), err)
		}
	}
	s.setSession(session)
	return nil
}

func (s *Shell) connectQueue() (*mqtt.Queue, error) {
	if s.Config.MQTTBrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is not configured")
	}
	q, err := mqtt.NewQueueFromURL(s.Config.MQTTBrokerURL)
	if err != nil {
		return nil, err
	}
	if err := q.Connect(); err != nil {
		return nil, err
	}
	return q, nil
}

// Discover lists bridged devices.
func (s *Shell) Discover() ([]mqtt.DeviceInfo, error) {
	q, err := s.connectQueue()
	if err != nil {
		return nil, err
	}
	defer q.Close()
	return mqtt.Discover(context.TODO(), q, mqtt.DefaultDiscoverTimeout)
}

// Connect attaches to a bridged device.
func (s *Shell) Connect(deviceID string) error {
	q, err := s.connectQueue()
	if err != nil {
		return err
	}
	devices, err := mqtt.Discover(context.TODO(), q, mqtt.DefaultDiscoverTimeout)
	if err != nil {
		q.Close()
		return err
	}
	info := mqtt.DeviceInfo{ID: deviceID}
	for _, dev := range devices {
		if dev.ID == deviceID {
			info = dev
		}
	}
	s.setSession(NewRemoteSession(q, info, s.printEvent))
	return nil
}

// Detach closes the current session.
func (s *Shell) Detach() {
	if s.Session != nil {
		s.Session.Close()
		s.Session = nil
		s.Shell.SetPrompt(detachedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	var err error
	if s.Remote != "" {
		err = s.Connect(s.Remote)
	} else if s.Config.Device != "" {
		err = s.Attach()
	}
	if err != nil {
		log.Fatalln(err)
	}
	defer s.Detach()

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

func (s *Shell) printJSON(c *ishell.Context, v interface{}) {
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}

// readSettled reads until nothing arrives for readSettleTime.
func readSettled(port Port) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	idle := time.Now()
	for time.Since(idle) < readSettleTime {
		n, err := port.ReadAvailable(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			idle = time.Now()
		}
		if err != nil {
			return out, err
		}
		if n == 0 {
			time.Sleep(readPollInterval)
		}
	}
	return out, nil
}

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.NewConfig()).Run(flag.Args()...)
}
