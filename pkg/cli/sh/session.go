package sh

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/robotalks/modemmux/pkg/bridge/mqtt"
	"github.com/robotalks/modemmux/pkg/msgs"
	"github.com/robotalks/modemmux/pkg/mux"
	"github.com/robotalks/modemmux/pkg/transport"
)

// Port is a channel as seen from the shell, local or remote.
type Port interface {
	io.Writer
	ReadAvailable([]byte) (int, error)
	Open() error
	Close() error
	SetDTR(bool) error
	SetRTS(bool) error
	Discard()
}

// Session is an attached multiplexer.
type Session struct {
	Name  string
	Ports map[string]Port
	// Mux is nil for remote sessions.
	Mux *mux.Multiplexer

	cancel func()
	done   chan error
	closer io.Closer
}

// NewLocalSession runs m in background and exposes its channels.
func NewLocalSession(name string, m *mux.Multiplexer, onEvent func(mux.Event)) *Session {
	s := &Session{Name: name, Ports: make(map[string]Port), Mux: m, closer: m, done: make(chan error, 1)}
	for _, ch := range m.Channels() {
		s.Ports[ch.Name()] = ch
		if onEvent != nil {
			ch.Subscribe(mux.HandleEventFunc(onEvent))
		}
	}
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	go func() { s.done <- m.Run(ctx) }()
	return s
}

// NewRemoteSession exposes the channels of a bridged device.
func NewRemoteSession(q *mqtt.Queue, info mqtt.DeviceInfo, onEvent func(string)) *Session {
	s := &Session{Name: info.ID, Ports: make(map[string]Port), closer: q}
	channels := info.Meta.Channels
	if len(channels) == 0 {
		channels = []string{mux.NamePrimary, mux.NameData}
	}
	for _, name := range channels {
		port := mqtt.NewRemoteChannel(q, info.ID, name)
		if onEvent != nil {
			port.OnEvent = func(ev *msgs.ChannelEvent) { onEvent(formatRemoteEvent(ev)) }
		}
		s.Ports[name] = port
	}
	return s
}

// Port finds a port by name, resolving channel aliases for local sessions.
func (s *Session) Port(name string) (Port, error) {
	if s.Mux != nil {
		ch, err := s.Mux.Channel(name)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	if port, ok := s.Ports[name]; ok {
		return port, nil
	}
	return nil, fmt.Errorf("%w: %q", mux.ErrUnknownChannel, name)
}

// PortNames returns the sorted port names.
func (s *Session) PortNames() []string {
	names := make([]string, 0, len(s.Ports))
	for name := range s.Ports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close detaches the session.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.closer.Close()
	if s.done != nil {
		<-s.done
	}
	return err
}

// ParseOnOff parses a line state argument.
func ParseOnOff(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "1", "true", "high":
		return true, nil
	case "off", "0", "false", "low":
		return false, nil
	}
	return false, fmt.Errorf("invalid line state %q, expect on or off", arg)
}

// Unescape interprets Go escapes like \r, \n and \x10 in text.
func Unescape(text string) ([]byte, error) {
	str, err := strconv.Unquote(`"` + strings.Replace(text, `"`, `\"`, -1) + `"`)
	if err != nil {
		return nil, fmt.Errorf("invalid escapes in %q", text)
	}
	return []byte(str), nil
}

// FormatLines prints control lines of a channel.
func FormatLines(ch *mux.Channel) string {
	return fmt.Sprintf("%s (ready=%v enabled=%v open=%v)", ch.Lines(), ch.Ready(), ch.Enabled(), ch.IsOpen())
}

// FormatStats prints counters.
func FormatStats(stats mux.Stats) string {
	return fmt.Sprintf("read=%d written=%d frames=%d checksum-errors=%d unknown-frames=%d resync=%d dropped=%d",
		stats.BytesRead, stats.BytesWritten, stats.Frames,
		stats.ChecksumErrors, stats.UnknownFrames, stats.ResyncBytes, stats.DroppedBytes)
}

// FormatEvent prints a channel event.
func FormatEvent(ev mux.Event) string {
	switch ev.Kind {
	case mux.EventDSRChanged, mux.EventCTSChanged, mux.EventCarrierChanged:
		return fmt.Sprintf("%s: %s %v", ev.Channel.Name(), ev.Kind, ev.Value)
	case mux.EventClosed:
		if ev.Err != nil {
			return fmt.Sprintf("%s: %s: %v", ev.Channel.Name(), ev.Kind, ev.Err)
		}
	}
	return fmt.Sprintf("%s: %s", ev.Channel.Name(), ev.Kind)
}

func formatRemoteEvent(ev *msgs.ChannelEvent) string {
	switch {
	case ev.Error != "":
		return fmt.Sprintf("%s: %s: %s", ev.Channel, ev.Kind, ev.Error)
	case ev.Kind == msgs.EventKind_READY_READ:
		return fmt.Sprintf("%s: %s", ev.Channel, ev.Kind)
	}
	return fmt.Sprintf("%s: %s %v [%s]", ev.Channel, ev.Kind, ev.Value, transport.Lines(ev.Lines))
}
