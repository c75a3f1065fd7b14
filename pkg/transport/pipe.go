package transport

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// Pipe is an in-memory Transport. The device side injects input with
// Inject and collects what the host wrote with Written.
type Pipe struct {
	// OnWrite, if set, is called with every host write after it is recorded.
	OnWrite func(p []byte)

	lock   sync.Mutex
	in     []byte
	out    bytes.Buffer
	err    error
	closed bool
	signal chan struct{}
}

// NewPipe creates a Pipe.
func NewPipe() *Pipe {
	return &Pipe{signal: make(chan struct{}, 1)}
}

func (p *Pipe) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Inject queues bytes as if received from the device.
func (p *Pipe) Inject(b []byte) {
	p.lock.Lock()
	p.in = append(p.in, b...)
	p.lock.Unlock()
	p.notify()
}

// Fail makes subsequent reads and writes return err.
func (p *Pipe) Fail(err error) {
	p.lock.Lock()
	p.err = err
	p.lock.Unlock()
	p.notify()
}

// Written drains and returns the bytes written by the host.
func (p *Pipe) Written() []byte {
	p.lock.Lock()
	defer p.lock.Unlock()
	b := append([]byte(nil), p.out.Bytes()...)
	p.out.Reset()
	return b
}

// Write implements Transport.
func (p *Pipe) Write(b []byte) (int, error) {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return 0, io.ErrClosedPipe
	}
	if err := p.err; err != nil {
		p.lock.Unlock()
		return 0, err
	}
	p.out.Write(b)
	onWrite := p.OnWrite
	p.lock.Unlock()
	if onWrite != nil {
		onWrite(append([]byte(nil), b...))
	}
	return len(b), nil
}

// ReadAvailable implements Transport.
func (p *Pipe) ReadAvailable(b []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.in) > 0 {
		n := copy(b, p.in)
		p.in = p.in[n:]
		return n, nil
	}
	if p.closed {
		return 0, io.EOF
	}
	return 0, p.err
}

// WaitForReadyRead implements Transport.
func (p *Pipe) WaitForReadyRead(timeout time.Duration) bool {
	var expire <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expire = timer.C
	}
	for {
		p.lock.Lock()
		ready := len(p.in) > 0 || p.err != nil || p.closed
		p.lock.Unlock()
		if ready {
			return true
		}
		select {
		case <-p.signal:
		case <-expire:
			return false
		}
	}
}

// Close implements Transport.
func (p *Pipe) Close() error {
	p.lock.Lock()
	p.closed = true
	p.lock.Unlock()
	p.notify()
	return nil
}

// LinePipe is a Pipe with emulated modem control lines.
type LinePipe struct {
	*Pipe

	lineLock sync.Mutex
	lines    Lines
}

// NewLinePipe creates a LinePipe with DSR and CTS raised.
func NewLinePipe() *LinePipe {
	return &LinePipe{Pipe: NewPipe(), lines: LineDSR | LineCTS}
}

// SetDTR implements ControlLines.
func (p *LinePipe) SetDTR(on bool) error {
	p.lineLock.Lock()
	p.lines = p.lines.With(LineDTR, on)
	p.lineLock.Unlock()
	return nil
}

// SetRTS implements ControlLines.
func (p *LinePipe) SetRTS(on bool) error {
	p.lineLock.Lock()
	p.lines = p.lines.With(LineRTS, on)
	p.lineLock.Unlock()
	return nil
}

// ModemLines implements ControlLines.
func (p *LinePipe) ModemLines() (Lines, error) {
	p.lineLock.Lock()
	defer p.lineLock.Unlock()
	return p.lines & (LineDSR | LineCTS | LineDCD), nil
}

// Lines returns all lines including the host driven DTR and RTS.
func (p *LinePipe) Lines() Lines {
	p.lineLock.Lock()
	defer p.lineLock.Unlock()
	return p.lines
}

// SetModemLines sets the device driven lines.
func (p *LinePipe) SetModemLines(lines Lines) {
	p.lineLock.Lock()
	p.lines = p.lines&(LineDTR|LineRTS) | lines&(LineDSR|LineCTS|LineDCD)
	p.lineLock.Unlock()
	p.notify()
}
