// Package transport provides the physical links a multiplexer runs on.
package transport

import (
	"io"
	"strings"
	"time"
)

// Transport is the physical link carrying the multiplexed byte stream.
type Transport interface {
	io.Writer
	io.Closer
	// ReadAvailable reads input already received without blocking.
	// It returns 0, nil when nothing is available.
	ReadAvailable(p []byte) (int, error)
	// WaitForReadyRead blocks until input (or an error) is available or
	// timeout expires. A negative timeout waits forever.
	WaitForReadyRead(timeout time.Duration) bool
}

// Lines is a set of RS-232 control lines.
type Lines uint8

// Control lines.
const (
	LineDTR Lines = 1 << iota
	LineRTS
	LineDSR
	LineCTS
	LineDCD
)

// Has tests if all lines in l are set.
func (s Lines) Has(l Lines) bool {
	return s&l == l
}

// With sets or clears l.
func (s Lines) With(l Lines, on bool) Lines {
	if on {
		return s | l
	}
	return s &^ l
}

// String implements fmt.Stringer.
func (s Lines) String() string {
	names := []string{"DTR", "RTS", "DSR", "CTS", "DCD"}
	var set []string
	for n, name := range names {
		if s&(1<<uint(n)) != 0 {
			set = append(set, name)
		}
	}
	if len(set) == 0 {
		return "none"
	}
	return strings.Join(set, "|")
}

// ControlLines is implemented by transports exposing real modem signals.
type ControlLines interface {
	SetDTR(bool) error
	SetRTS(bool) error
	// ModemLines reports the incoming DSR, CTS and DCD lines.
	ModemLines() (Lines, error)
}
