package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialConfig describes a UART.
type SerialConfig struct {
	Device   string
	BaudRate int
}

// Serial is a Transport over a UART.
type Serial struct {
	Config SerialConfig

	port    serial.Port
	readMu  sync.Mutex
	pending []byte
	buf     []byte
	err     error
}

// OpenSerial opens the UART. DTR and RTS are raised on open.
func OpenSerial(conf SerialConfig) (*Serial, error) {
	if conf.Device == "" {
		return nil, fmt.Errorf("serial device is required")
	}
	if conf.BaudRate == 0 {
		conf.BaudRate = 115200
	}
	port, err := serial.Open(conf.Device, &serial.Mode{
		BaudRate: conf.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", conf.Device, err)
	}
	s := &Serial{Config: conf, port: port, buf: make([]byte, 4096)}
	if err = port.SetDTR(true); err == nil {
		err = port.SetRTS(true)
	}
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("raise DTR/RTS on %q: %w", conf.Device, err)
	}
	return s, nil
}

// Write implements Transport.
func (s *Serial) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// Close implements Transport.
func (s *Serial) Close() error {
	return s.port.Close()
}

// WaitForReadyRead implements Transport.
func (s *Serial) WaitForReadyRead(timeout time.Duration) bool {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if len(s.pending) > 0 || s.err != nil {
		return true
	}
	if timeout < 0 {
		timeout = serial.NoTimeout
	}
	if err := s.port.SetReadTimeout(timeout); err != nil {
		s.err = err
		return true
	}
	n, err := s.port.Read(s.buf)
	if err != nil {
		s.err = err
		return true
	}
	s.pending = append(s.pending, s.buf[:n]...)
	return n > 0
}

// ReadAvailable implements Transport.
func (s *Serial) ReadAvailable(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[:copy(s.pending, s.pending[n:])]
		return n, nil
	}
	if s.err != nil {
		return 0, s.err
	}
	if err := s.port.SetReadTimeout(0); err != nil {
		return 0, err
	}
	return s.port.Read(p)
}

// SetDTR implements ControlLines.
func (s *Serial) SetDTR(on bool) error {
	return s.port.SetDTR(on)
}

// SetRTS implements ControlLines.
func (s *Serial) SetRTS(on bool) error {
	return s.port.SetRTS(on)
}

// ModemLines implements ControlLines.
func (s *Serial) ModemLines() (Lines, error) {
	bits, err := s.port.GetModemStatusBits()
	if err != nil {
		return 0, err
	}
	var lines Lines
	lines = lines.With(LineDSR, bits.DSR)
	lines = lines.With(LineCTS, bits.CTS)
	lines = lines.With(LineDCD, bits.DCD)
	return lines, nil
}
