package mux

import (
	"fmt"

	"github.com/robotalks/modemmux/pkg/transport"
)

// FrameKind tags a decoded Frame.
type FrameKind int

// Frame kinds.
const (
	// FramePassthrough is unframed bytes for the command channel.
	FramePassthrough FrameKind = iota
	// FrameControlNotification is an in-band notification rendered as
	// text for the command channel.
	FrameControlNotification
	// FrameCommandData is framed command channel payload.
	FrameCommandData
	// FrameData is data channel payload.
	FrameData
	// FrameStatusBits carries the incoming modem lines of the data channel.
	FrameStatusBits
	// FrameReset indicates the modem (re)entered multiplexing mode.
	FrameReset
	// FrameBusy indicates the data connection was dropped.
	FrameBusy
)

var frameKindNames = []string{
	"Passthrough",
	"ControlNotification",
	"CommandData",
	"Data",
	"StatusBits",
	"Reset",
	"Busy",
}

// String implements fmt.Stringer.
func (k FrameKind) String() string {
	if k >= 0 && int(k) < len(frameKindNames) {
		return frameKindNames[k]
	}
	return fmt.Sprintf("FrameKind(%d)", int(k))
}

// Frame is one decoded unit of the inbound stream.
type Frame struct {
	Kind FrameKind
	// Code is the notification code of a FrameControlNotification.
	Code byte
	// Data is the payload routed to a channel.
	Data []byte
	// Lines is the decoded line state of a FrameStatusBits.
	Lines transport.Lines
}

// Target returns the channel the frame payload is delivered to.
func (f Frame) Target() (ChannelKind, bool) {
	switch f.Kind {
	case FramePassthrough, FrameControlNotification, FrameCommandData:
		return CommandChannel, true
	case FrameData:
		return DataChannel, true
	}
	return 0, false
}

func passthroughFrame(data []byte) Frame {
	return Frame{Kind: FramePassthrough, Data: append([]byte(nil), data...)}
}
