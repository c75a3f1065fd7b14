package mux

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/modemmux/pkg/framework"
	"github.com/robotalks/modemmux/pkg/transport"
)

// Defaults of a Multiplexer.
const (
	DefaultChatTimeout  = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond

	readBufSize = 4096
)

// Stats are counters of a Multiplexer.
type Stats struct {
	BytesRead      uint64
	BytesWritten   uint64
	Frames         uint64
	ChecksumErrors uint64
	UnknownFrames  uint64
	ResyncBytes    uint64
	DroppedBytes   uint64
}

// Multiplexer is the sole reader of a Transport, splitting the byte
// stream into a command channel and a data channel.
type Multiplexer struct {
	// ChatTimeout bounds the wait for the final result of a command.
	ChatTimeout time.Duration
	// PollInterval is how often Run polls the transport and its lines.
	PollInterval time.Duration

	transport   transport.Transport
	lines       transport.ControlLines
	proto       protocol
	coordinator *ModeSwitchCoordinator
	loop        *fx.Loop
	command     *Channel
	data        *Channel

	lock     sync.Mutex
	buf      ReassemblyBuffer
	readBuf  []byte
	inPass   bool
	rerun    bool
	running  bool
	closed   bool
	closeErr error
	wake     chan struct{}
	capture  *chatCapture
	stats    Stats

	bytesWritten uint64

	wmu      sync.Mutex
	chatLock sync.Mutex
}

// New creates a Multiplexer over t speaking variant v. If t implements
// transport.ControlLines, channels without in-band line signalling use
// the real lines.
func New(t transport.Transport, v Variant) (*Multiplexer, error) {
	proto, err := newProtocol(v)
	if err != nil {
		return nil, err
	}
	m := &Multiplexer{
		ChatTimeout:  DefaultChatTimeout,
		PollInterval: DefaultPollInterval,
		transport:    t,
		proto:        proto,
		loop:         fx.NewLoop(),
		readBuf:      make([]byte, readBufSize),
		wake:         make(chan struct{}),
	}
	if lines, ok := t.(transport.ControlLines); ok {
		m.lines = lines
	}
	m.command = newChannel(m, CommandChannel, proto.lineMode(CommandChannel, m.lines != nil))
	m.data = newChannel(m, DataChannel, proto.lineMode(DataChannel, m.lines != nil))
	m.coordinator = newModeSwitchCoordinator(m)
	if m.lines != nil {
		if lines, err := m.lines.ModemLines(); err == nil {
			for _, c := range m.Channels() {
				if c.lines == linesPassThrough {
					c.setIncoming(lines)
				}
			}
		}
	}
	return m, nil
}

// Variant returns the protocol variant.
func (m *Multiplexer) Variant() Variant {
	return m.proto.variant()
}

// Channel looks up a channel by name.
func (m *Multiplexer) Channel(name string) (*Channel, error) {
	kind, ok := m.proto.channelKind(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return m.channelOf(kind), nil
}

// Channels returns the command and the data channel.
func (m *Multiplexer) Channels() []*Channel {
	return []*Channel{m.command, m.data}
}

func (m *Multiplexer) channelOf(kind ChannelKind) *Channel {
	if kind == DataChannel {
		return m.data
	}
	return m.command
}

// Coordinator returns the mode switch coordinator.
func (m *Multiplexer) Coordinator() *ModeSwitchCoordinator {
	return m.coordinator
}

// State returns the current mode.
func (m *Multiplexer) State() Mode {
	return m.coordinator.State()
}

// Stats returns a snapshot of the counters.
func (m *Multiplexer) Stats() Stats {
	m.lock.Lock()
	stats := m.stats
	m.lock.Unlock()
	stats.BytesWritten = atomic.LoadUint64(&m.bytesWritten)
	return stats
}

// Err returns the error which closed the multiplexer.
func (m *Multiplexer) Err() error {
	return m.closedErr()
}

func (m *Multiplexer) closedErr() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return m.closeErr
	}
	return nil
}

// Start puts the modem into the mode expected by the protocol.
func (m *Multiplexer) Start() error {
	return m.Chat(m.proto.modeEntry())
}

// Close closes all channels and the transport.
func (m *Multiplexer) Close() error {
	m.fail(ErrClosed)
	return m.transport.Close()
}

// Dispatch runs the notifications scheduled so far. It is only needed
// when Run is not used.
func (m *Multiplexer) Dispatch() int {
	return m.loop.RunTurn()
}

// Run reads the transport and delivers notifications until ctx is done
// or the transport fails.
func (m *Multiplexer) Run(ctx context.Context) error {
	m.lock.Lock()
	if m.running {
		m.lock.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.lock.Unlock()
	defer func() {
		m.lock.Lock()
		m.running = false
		m.broadcastLocked()
		m.lock.Unlock()
	}()
	m.loop.Interval = m.pollInterval()
	return fx.NewRunnerWith(ctx).Go(
		fx.NamedRun("mux-reader", fx.RunFunc(m.readLoop)),
		fx.NamedRun("mux-dispatch", m.loop),
	).Wait()
}

func (m *Multiplexer) pollInterval() time.Duration {
	if m.PollInterval > 0 {
		return m.PollInterval
	}
	return DefaultPollInterval
}

func (m *Multiplexer) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.closedErr(); err != nil {
			if err == ErrClosed {
				return nil
			}
			return err
		}
		if m.transport.WaitForReadyRead(m.pollInterval()) {
			m.ReadyRead()
		}
		m.pollLines()
	}
}

func (m *Multiplexer) pollLines() {
	if m.lines == nil {
		return
	}
	lines, err := m.lines.ModemLines()
	if err != nil {
		glog.V(2).Infof("read modem lines: %v", err)
		return
	}
	for _, c := range m.Channels() {
		if c.lines == linesPassThrough {
			c.emit(c.setIncoming(lines)...)
		}
	}
}

// ReadyRead tells the multiplexer the transport has bytes available.
// Passes never nest: a call made while a pass is running, from another
// goroutine or from an event handler, makes the running pass read again.
func (m *Multiplexer) ReadyRead() {
	m.readyRead()
}

func (m *Multiplexer) readyRead() bool {
	m.loop.RunTurn()
	m.lock.Lock()
	if m.inPass {
		m.rerun = true
		m.lock.Unlock()
		return false
	}
	m.inPass = true
	for {
		m.rerun = false
		pending, err := m.readOnce()
		m.broadcastLocked()
		m.lock.Unlock()
		pending.fire()
		if err != nil {
			m.fail(err)
		}
		m.lock.Lock()
		if !m.rerun || m.closed {
			m.inPass = false
			m.lock.Unlock()
			return true
		}
	}
}

// readOnce reads what the transport has, decodes and dispatches it.
// It must be called with m.lock held.
func (m *Multiplexer) readOnce() (notices, error) {
	if m.closed {
		return nil, nil
	}
	n, err := m.transport.ReadAvailable(m.readBuf)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	if glog.V(2) {
		glog.Infof("%s rx % x", m.proto.variant(), m.readBuf[:n])
	}
	m.stats.BytesRead += uint64(n)
	m.buf.Append(m.readBuf[:n])
	frames := m.decodePass()
	m.buf.Compact()
	return m.dispatch(frames)
}

func (m *Multiplexer) decodePass() []Frame {
	if m.capture != nil && m.capture.raw() {
		return m.decodeChat()
	}
	if m.coordinator.rawData() {
		data := m.buf.Remaining()
		if len(data) == 0 {
			return nil
		}
		m.buf.Consume(len(data))
		return []Frame{{Kind: FrameData, Data: append([]byte(nil), data...)}}
	}
	return m.proto.decode(&m.buf, &m.stats)
}

type notice struct {
	channel *Channel
	events  []Event
}

type notices []notice

func (n notices) add(c *Channel, events ...Event) notices {
	if len(events) == 0 {
		return n
	}
	return append(n, notice{channel: c, events: events})
}

func (n notices) fire() {
	for _, item := range n {
		item.channel.emit(item.events...)
	}
}

func (m *Multiplexer) dispatch(frames []Frame) (out notices, err error) {
	readyRead := make(map[*Channel]bool)
	deliver := func(c *Channel, data []byte) {
		if len(data) == 0 {
			return
		}
		if c == m.command && m.capture != nil && m.capture.onOK == nil {
			other, rest := m.capture.write(data)
			if data = append(other, rest...); len(data) == 0 {
				return
			}
		}
		if !c.add(data) {
			m.stats.DroppedBytes += uint64(len(data))
			return
		}
		if !readyRead[c] {
			readyRead[c] = true
			out = out.add(c, Event{Kind: EventReadyRead})
		}
	}
	for _, f := range frames {
		if f.Kind != FramePassthrough {
			m.stats.Frames++
		}
		switch f.Kind {
		case FramePassthrough, FrameControlNotification, FrameCommandData:
			deliver(m.command, f.Data)
		case FrameData:
			deliver(m.data, f.Data)
		case FrameStatusBits:
			if len(f.Data) > 0 {
				out = out.add(m.data, m.data.setIncoming(f.Lines)...)
			}
		case FrameReset:
			glog.V(1).Infof("%s: modem reset", m.proto.variant())
			if err = m.proto.writeLines(m, true, true); err != nil {
				return
			}
			out = out.add(m.data, m.data.markReady()...)
		case FrameBusy:
			out = out.add(m.data, m.data.dropCarrier()...)
		}
	}
	return
}

func (m *Multiplexer) broadcast() {
	m.lock.Lock()
	m.broadcastLocked()
	m.lock.Unlock()
}

func (m *Multiplexer) broadcastLocked() {
	close(m.wake)
	m.wake = make(chan struct{})
}

// waitFor blocks until cond is true or timeout. A negative timeout
// waits forever. When Run is active it relies on its passes, otherwise
// it polls the transport and runs the passes itself.
func (m *Multiplexer) waitFor(timeout time.Duration, cond func() bool) bool {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		m.lock.Lock()
		running, closed, wake := m.running, m.closed, m.wake
		m.lock.Unlock()
		if cond() {
			return true
		}
		if closed {
			return false
		}
		remaining := time.Duration(-1)
		if timeout >= 0 {
			if remaining = time.Until(deadline); remaining <= 0 {
				return false
			}
		}
		if running {
			if !waitWake(wake, remaining) {
				return cond()
			}
			continue
		}
		wait := m.pollInterval()
		if remaining >= 0 && remaining < wait {
			wait = remaining
		}
		if m.transport.WaitForReadyRead(wait) && !m.readyRead() {
			// called from inside a pass, which can't progress until we return.
			return cond()
		}
	}
}

func waitWake(wake <-chan struct{}, timeout time.Duration) bool {
	if timeout < 0 {
		<-wake
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-wake:
		return true
	case <-timer.C:
		return false
	}
}

func (m *Multiplexer) write(kind ChannelKind, p []byte) (n int, err error) {
	if kind == DataChannel {
		n, err = m.proto.writeData(m, p)
	} else {
		n, err = m.proto.writeCommand(m, p)
	}
	if err != nil && !isChatError(err) {
		m.fail(err)
	}
	return
}

func (m *Multiplexer) writeLines(dtr, rts bool) error {
	err := m.proto.writeLines(m, dtr, rts)
	if err != nil {
		m.fail(err)
	}
	return err
}

// writeWire implements link.
func (m *Multiplexer) writeWire(p []byte) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	if glog.V(2) {
		glog.Infof("%s tx % x", m.proto.variant(), p)
	}
	n, err := m.transport.Write(p)
	atomic.AddUint64(&m.bytesWritten, uint64(n))
	return err
}

// injectCommand implements link.
func (m *Multiplexer) injectCommand(p []byte) {
	c := m.command
	if !c.add(p) {
		m.lock.Lock()
		m.stats.DroppedBytes += uint64(len(p))
		m.lock.Unlock()
		return
	}
	m.loop.Post(func() {
		c.emit(Event{Kind: EventReadyRead})
	})
	m.broadcast()
}

// chat implements link.
func (m *Multiplexer) chat(cmd string) error {
	return m.chatThen(cmd, nil)
}

// Chat writes cmd terminated by CR to the link and waits for its final
// result. The echo and the final result line are consumed. Other lines
// received meanwhile, and anything after the final result, are queued on
// the command channel.
func (m *Multiplexer) Chat(cmd string) error {
	return m.chatThen(cmd, nil)
}

// chatThen runs a chat. When onOK is set the response is matched on the
// raw bytes ahead of the decoder, and onOK runs inside the pass that sees
// OK, before the bytes following it are decoded.
func (m *Multiplexer) chatThen(cmd string, onOK func()) error {
	m.chatLock.Lock()
	defer m.chatLock.Unlock()

	capture := &chatCapture{cmd: cmd, onOK: onOK}
	m.lock.Lock()
	if m.closed {
		err := m.closeErr
		m.lock.Unlock()
		return err
	}
	m.capture = capture
	m.lock.Unlock()
	defer func() {
		m.lock.Lock()
		m.capture = nil
		leftover := capture.flush()
		m.lock.Unlock()
		if len(leftover) > 0 {
			m.injectCommand(leftover)
		}
	}()

	glog.V(1).Infof("chat: %s", cmd)
	if err := m.writeWire([]byte(cmd + "\r")); err != nil {
		m.fail(err)
		return err
	}
	timeout := m.ChatTimeout
	if timeout <= 0 {
		timeout = DefaultChatTimeout
	}
	m.waitFor(timeout, func() bool {
		m.lock.Lock()
		defer m.lock.Unlock()
		return capture.result != "" || m.closed
	})

	m.lock.Lock()
	result, closed, closeErr := capture.result, m.closed, m.closeErr
	m.lock.Unlock()
	switch {
	case result == "OK":
		glog.V(1).Infof("chat: %s: OK", cmd)
		return nil
	case result != "":
		return &ChatError{Command: cmd, Result: result}
	case closed:
		return closeErr
	}
	return fmt.Errorf("%s: %w", cmd, ErrChatTimeout)
}

// decodeChat feeds the buffered bytes to a raw chat capture. Bytes after
// the final result stay in the buffer for the regular decode.
// It must be called with m.lock held.
func (m *Multiplexer) decodeChat() []Frame {
	data := m.buf.Remaining()
	if len(data) == 0 {
		return nil
	}
	other, rest := m.capture.write(data)
	m.buf.Consume(len(data) - len(rest))
	var frames []Frame
	if len(other) > 0 {
		frames = append(frames, Frame{Kind: FramePassthrough, Data: other})
	}
	if m.capture.result == "" {
		return frames
	}
	if m.capture.result == "OK" {
		m.capture.onOK()
	}
	return append(frames, m.decodePass()...)
}

// fail closes all channels with err.
func (m *Multiplexer) fail(err error) {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return
	}
	m.closed, m.closeErr = true, err
	m.broadcastLocked()
	m.lock.Unlock()
	if err != ErrClosed {
		glog.Errorf("%s: link failed: %v", m.proto.variant(), err)
	}
	for _, c := range m.Channels() {
		c.emit(c.fail(err)...)
	}
}

// chatCapture collects the response of a chat until a final result.
type chatCapture struct {
	cmd    string
	onOK   func()
	buf    bytes.Buffer
	blank  []byte
	result string
}

var finalResultPrefixes = []string{"+CME ERROR:", "+CMS ERROR:"}

// raw tells whether the capture sees bytes before the decoder.
func (c *chatCapture) raw() bool {
	return c.onOK != nil && c.result == ""
}

// write consumes the response lines in p. It returns the lines that do
// not belong to the response and the bytes following the final result.
// Blank lines are kept with the line that follows them.
func (c *chatCapture) write(p []byte) (other, rest []byte) {
	if c.result != "" {
		return nil, append([]byte(nil), p...)
	}
	c.buf.Write(p)
	for {
		data := c.buf.Bytes()
		pos := bytes.IndexByte(data, '\n')
		if pos < 0 {
			return
		}
		raw := data[:pos+1]
		line := string(bytes.TrimSpace(raw))
		switch {
		case line == "":
			c.blank = append(c.blank, raw...)
		case isFinalResult(line):
			c.result, c.blank = line, nil
			c.buf.Next(pos + 1)
			if c.buf.Len() > 0 {
				rest = append([]byte(nil), c.buf.Bytes()...)
			}
			c.buf.Reset()
			return
		case line == c.cmd:
			c.blank = nil
		default:
			other = append(other, c.blank...)
			other = append(other, raw...)
			c.blank = nil
		}
		c.buf.Next(pos + 1)
	}
}

// flush returns what the capture holds without a complete line.
func (c *chatCapture) flush() []byte {
	if c.result != "" || len(c.blank)+c.buf.Len() == 0 {
		return nil
	}
	p := append(c.blank, c.buf.Bytes()...)
	c.blank = nil
	c.buf.Reset()
	return p
}

func isFinalResult(line string) bool {
	switch line {
	case "OK", "ERROR", "NO CARRIER":
		return true
	}
	for _, prefix := range finalResultPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
