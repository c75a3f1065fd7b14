package mux

import (
	"container/list"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/modemmux/pkg/transport"
)

// EventKind identifies a channel notification.
type EventKind int

// Channel events.
const (
	// EventReadyRead means inbound data was queued.
	EventReadyRead EventKind = iota
	// EventDSRChanged reports a DSR change, Value is the new state.
	EventDSRChanged
	// EventCTSChanged reports a CTS change.
	EventCTSChanged
	// EventCarrierChanged reports a DCD change.
	EventCarrierChanged
	// EventReady means the data channel may be opened.
	EventReady
	// EventClosed means the channel was closed, Err is set when the
	// transport failed.
	EventClosed
)

var eventKindNames = []string{"ReadyRead", "DSRChanged", "CTSChanged", "CarrierChanged", "Ready", "Closed"}

// String implements fmt.Stringer.
func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "Unknown"
}

// Event is a channel notification.
type Event struct {
	Kind    EventKind
	Channel *Channel
	Value   bool
	Err     error
}

// EventHandler receives channel events.
type EventHandler interface {
	HandleEvent(Event)
}

// HandleEventFunc is func form of EventHandler.
type HandleEventFunc func(Event)

// HandleEvent implements EventHandler.
func (f HandleEventFunc) HandleEvent(ev Event) {
	f(ev)
}

// Subscription is a registered EventHandler.
type Subscription struct {
	channel *Channel
	elm     *list.Element
}

// Close unregisters the handler.
func (s *Subscription) Close() error {
	s.channel.subsLock.Lock()
	if s.elm != nil {
		s.channel.subs.Remove(s.elm)
		s.elm = nil
	}
	s.channel.subsLock.Unlock()
	return nil
}

// Channel is a logical serial endpoint multiplexed over the link.
type Channel struct {
	mux   *Multiplexer
	kind  ChannelKind
	lines lineMode

	lock     sync.Mutex
	open     bool
	enabled  bool
	ready    bool
	queue    []byte
	incoming transport.Lines
	outgoing transport.Lines
	closeErr error
	owner    string

	subsLock sync.Mutex
	subs     list.List
}

func newChannel(m *Multiplexer, kind ChannelKind, lines lineMode) *Channel {
	return &Channel{
		mux:      m,
		kind:     kind,
		lines:    lines,
		enabled:  true,
		incoming: transport.LineDSR | transport.LineCTS,
		outgoing: transport.LineDTR | transport.LineRTS,
	}
}

// Name returns the canonical name of the channel.
func (c *Channel) Name() string {
	return c.kind.String()
}

// Kind returns the channel kind.
func (c *Channel) Kind() ChannelKind {
	return c.kind
}

// Claim reserves the channel for owner. Consumers sharing a multiplexer
// claim a channel before opening it and only read, write or close the
// channels they hold. Claiming a channel already held by owner succeeds.
func (c *Channel) Claim(owner string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.owner != "" && c.owner != owner {
		return fmt.Errorf("%s held by %s: %w", c.Name(), c.owner, ErrChannelBusy)
	}
	c.owner = owner
	return nil
}

// Release gives up a claim made by owner. It reports whether owner held it.
func (c *Channel) Release(owner string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.owner != owner || owner == "" {
		return false
	}
	c.owner = ""
	return true
}

// Owner returns the current claim, empty when unclaimed.
func (c *Channel) Owner() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.owner
}

// Open starts queueing inbound data. Opening the data channel switches
// the modem into data mode when the protocol has a voice mode.
func (c *Channel) Open() error {
	if err := c.mux.closedErr(); err != nil {
		return err
	}
	c.lock.Lock()
	wasOpen := c.open
	c.open, c.closeErr = true, nil
	c.lock.Unlock()
	if wasOpen || c.kind != DataChannel {
		return nil
	}
	if err := c.mux.coordinator.DataOpened(); err != nil {
		c.lock.Lock()
		c.open, c.queue = false, nil
		c.lock.Unlock()
		return err
	}
	return nil
}

// Close stops queueing and drops anything unread. Closing the data
// channel returns the modem to voice/command mode.
func (c *Channel) Close() error {
	c.lock.Lock()
	wasOpen := c.open
	c.open, c.queue = false, nil
	c.lock.Unlock()
	c.mux.broadcast()
	if !wasOpen {
		return nil
	}
	c.emit(Event{Kind: EventClosed})
	if c.kind == DataChannel {
		return c.mux.coordinator.DataClosed()
	}
	return nil
}

// IsOpen tells whether the channel is open.
func (c *Channel) IsOpen() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.open
}

// Enabled tells whether inbound data is accepted, which also requires
// the channel to be open.
func (c *Channel) Enabled() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.enabled
}

// Ready tells whether the modem signaled the data channel can be opened.
func (c *Channel) Ready() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ready
}

// Err returns the error that closed the channel, if any.
func (c *Channel) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closeErr
}

// BytesAvailable returns the number of queued inbound bytes.
func (c *Channel) BytesAvailable() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.queue)
}

// Discard drops queued inbound bytes.
func (c *Channel) Discard() {
	c.lock.Lock()
	c.queue = nil
	c.lock.Unlock()
}

// ReadAvailable drains queued bytes without blocking. A channel that is
// not open returns io.EOF, or the transport error that closed it.
func (c *Channel) ReadAvailable(p []byte) (int, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if len(c.queue) > 0 {
		n := copy(p, c.queue)
		if c.queue = c.queue[n:]; len(c.queue) == 0 {
			c.queue = nil
		}
		return n, nil
	}
	if !c.open {
		if c.closeErr != nil {
			return 0, c.closeErr
		}
		return 0, io.EOF
	}
	return 0, nil
}

// Read implements io.Reader, blocking until data is queued or the
// channel closes.
func (c *Channel) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := c.ReadAvailable(p)
		if n > 0 || err != nil {
			return n, err
		}
		c.mux.waitFor(-1, c.readable)
	}
}

// WaitForData waits until inbound data is queued. A negative timeout
// waits forever.
func (c *Channel) WaitForData(timeout time.Duration) bool {
	return c.mux.waitFor(timeout, c.readable) && c.BytesAvailable() > 0
}

func (c *Channel) readable() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.queue) > 0 || !c.open
}

// Write implements io.Writer through the protocol encoder.
func (c *Channel) Write(p []byte) (int, error) {
	c.lock.Lock()
	accept := c.open && c.enabled
	c.lock.Unlock()
	if !accept {
		glog.V(2).Infof("%s: discard %d bytes written while disabled", c.Name(), len(p))
		return c.mux.proto.discarded(p)
	}
	return c.mux.write(c.kind, p)
}

// DTR returns the outgoing DTR state.
func (c *Channel) DTR() bool { return c.outgoingLines().Has(transport.LineDTR) }

// RTS returns the outgoing RTS state.
func (c *Channel) RTS() bool { return c.outgoingLines().Has(transport.LineRTS) }

// DSR returns the incoming DSR state.
func (c *Channel) DSR() bool { return c.incomingLines().Has(transport.LineDSR) }

// CTS returns the incoming CTS state.
func (c *Channel) CTS() bool { return c.incomingLines().Has(transport.LineCTS) }

// Carrier returns the incoming DCD state.
func (c *Channel) Carrier() bool { return c.incomingLines().Has(transport.LineDCD) }

// Lines returns all control lines.
func (c *Channel) Lines() transport.Lines {
	return c.outgoingLines() | c.incomingLines()
}

func (c *Channel) outgoingLines() transport.Lines {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.outgoing
}

func (c *Channel) incomingLines() transport.Lines {
	if c.lines == linesPassThrough {
		if lines, err := c.mux.lines.ModemLines(); err == nil {
			return lines
		}
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.incoming
}

// SetDTR sets the outgoing DTR line.
func (c *Channel) SetDTR(on bool) error {
	return c.setOutgoing(transport.LineDTR, on)
}

// SetRTS sets the outgoing RTS line.
func (c *Channel) SetRTS(on bool) error {
	return c.setOutgoing(transport.LineRTS, on)
}

func (c *Channel) setOutgoing(line transport.Lines, on bool) error {
	c.lock.Lock()
	prev := c.outgoing
	c.outgoing = c.outgoing.With(line, on)
	lines := c.outgoing
	c.lock.Unlock()
	if prev == lines {
		return nil
	}
	switch c.lines {
	case linesInBand:
		return c.mux.writeLines(lines.Has(transport.LineDTR), lines.Has(transport.LineRTS))
	case linesPassThrough:
		if line == transport.LineDTR {
			return c.mux.lines.SetDTR(on)
		}
		return c.mux.lines.SetRTS(on)
	}
	return nil
}

// Subscribe registers an event handler.
func (c *Channel) Subscribe(h EventHandler) *Subscription {
	c.subsLock.Lock()
	defer c.subsLock.Unlock()
	return &Subscription{channel: c, elm: c.subs.PushBack(h)}
}

func (c *Channel) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	c.subsLock.Lock()
	handlers := make([]EventHandler, 0, c.subs.Len())
	for elm := c.subs.Front(); elm != nil; elm = elm.Next() {
		handlers = append(handlers, elm.Value.(EventHandler))
	}
	c.subsLock.Unlock()
	for _, ev := range events {
		ev.Channel = c
		for _, h := range handlers {
			h.HandleEvent(ev)
		}
	}
}

// add queues inbound bytes, returns false if they were dropped.
func (c *Channel) add(p []byte) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.open || !c.enabled {
		return false
	}
	c.queue = append(c.queue, p...)
	return true
}

func (c *Channel) setEnabled(enabled bool) {
	c.lock.Lock()
	c.enabled = enabled
	if !enabled {
		c.queue = nil
	}
	c.lock.Unlock()
}

// setIncoming updates DSR, CTS and DCD and returns the change events.
func (c *Channel) setIncoming(lines transport.Lines) []Event {
	lines &= transport.LineDSR | transport.LineCTS | transport.LineDCD
	c.lock.Lock()
	changed := c.incoming ^ lines
	c.incoming = lines
	c.lock.Unlock()
	var events []Event
	if changed.Has(transport.LineDSR) {
		events = append(events, Event{Kind: EventDSRChanged, Value: lines.Has(transport.LineDSR)})
	}
	if changed.Has(transport.LineDCD) {
		events = append(events, Event{Kind: EventCarrierChanged, Value: lines.Has(transport.LineDCD)})
	}
	if changed.Has(transport.LineCTS) {
		events = append(events, Event{Kind: EventCTSChanged, Value: lines.Has(transport.LineCTS)})
	}
	return events
}

func (c *Channel) dropCarrier() []Event {
	c.lock.Lock()
	lines := c.incoming &^ transport.LineDCD
	c.lock.Unlock()
	return c.setIncoming(lines)
}

// markReady records the modem reset handshake that raised DTR and RTS.
func (c *Channel) markReady() []Event {
	c.lock.Lock()
	c.ready = true
	c.outgoing |= transport.LineDTR | transport.LineRTS
	c.lock.Unlock()
	return []Event{{Kind: EventReady, Value: true}}
}

// fail closes the channel because the transport failed.
func (c *Channel) fail(err error) []Event {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closeErr = err
	if !c.open {
		return nil
	}
	c.open = false
	return []Event{{Kind: EventClosed, Err: err}}
}
