package msgs

import (
	"fmt"

	"github.com/golang/protobuf/proto"

	"github.com/robotalks/modemmux/pkg/mux"
)

// EventKind mirrors mux.EventKind on the wire.
type EventKind int32

// Event kinds.
const (
	EventKind_READY_READ      EventKind = 0
	EventKind_DSR_CHANGED     EventKind = 1
	EventKind_CTS_CHANGED     EventKind = 2
	EventKind_CARRIER_CHANGED EventKind = 3
	EventKind_READY           EventKind = 4
	EventKind_CLOSED          EventKind = 5
)

var eventKindName = map[int32]string{
	0: "READY_READ",
	1: "DSR_CHANGED",
	2: "CTS_CHANGED",
	3: "CARRIER_CHANGED",
	4: "READY",
	5: "CLOSED",
}

// String implements fmt.Stringer.
func (x EventKind) String() string {
	return proto.EnumName(eventKindName, int32(x))
}

// ChannelEvent reports a channel event.
type ChannelEvent struct {
	Channel string    `protobuf:"bytes,1,opt,name=channel,proto3" json:"channel,omitempty"`
	Kind    EventKind `protobuf:"varint,2,opt,name=kind,proto3,enum=modemmux.v1.EventKind" json:"kind,omitempty"`
	Value   bool      `protobuf:"varint,3,opt,name=value,proto3" json:"value,omitempty"`
	Error   string    `protobuf:"bytes,4,opt,name=error,proto3" json:"error,omitempty"`
	Lines   uint32    `protobuf:"varint,5,opt,name=lines,proto3" json:"lines,omitempty"`
}

// Reset implements proto.Message.
func (m *ChannelEvent) Reset() { *m = ChannelEvent{} }

// String implements proto.Message.
func (m *ChannelEvent) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*ChannelEvent) ProtoMessage() {}

// NewChannelEvent converts a mux.Event.
func NewChannelEvent(ev mux.Event) *ChannelEvent {
	msg := &ChannelEvent{Kind: EventKind(ev.Kind), Value: ev.Value}
	if ev.Channel != nil {
		msg.Channel = ev.Channel.Name()
		msg.Lines = uint32(ev.Channel.Lines())
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

// ControlOp is the operation of a ChannelControl.
type ControlOp int32

// Control operations.
const (
	ControlOp_OPEN    ControlOp = 0
	ControlOp_CLOSE   ControlOp = 1
	ControlOp_SET_DTR ControlOp = 2
	ControlOp_SET_RTS ControlOp = 3
	ControlOp_DISCARD ControlOp = 4
)

var controlOpName = map[int32]string{
	0: "OPEN",
	1: "CLOSE",
	2: "SET_DTR",
	3: "SET_RTS",
	4: "DISCARD",
}

// String implements fmt.Stringer.
func (x ControlOp) String() string {
	return proto.EnumName(controlOpName, int32(x))
}

// ChannelControl requests an operation on a channel.
type ChannelControl struct {
	Op    ControlOp `protobuf:"varint,1,opt,name=op,proto3,enum=modemmux.v1.ControlOp" json:"op,omitempty"`
	Value bool      `protobuf:"varint,2,opt,name=value,proto3" json:"value,omitempty"`
}

// Reset implements proto.Message.
func (m *ChannelControl) Reset() { *m = ChannelControl{} }

// String implements proto.Message.
func (m *ChannelControl) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*ChannelControl) ProtoMessage() {}

// Port is what a ChannelControl operates on.
type Port interface {
	Open() error
	Close() error
	SetDTR(bool) error
	SetRTS(bool) error
	Discard()
}

// Apply performs the operation on p.
func (m *ChannelControl) Apply(p Port) error {
	switch m.Op {
	case ControlOp_OPEN:
		return p.Open()
	case ControlOp_CLOSE:
		return p.Close()
	case ControlOp_SET_DTR:
		return p.SetDTR(m.Value)
	case ControlOp_SET_RTS:
		return p.SetRTS(m.Value)
	case ControlOp_DISCARD:
		p.Discard()
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnknownOp, m.Op)
}

// Encode marshals a message.
func Encode(msg proto.Message) ([]byte, error) {
	return proto.Marshal(msg)
}

// DecodeChannelEvent unmarshals a ChannelEvent.
func DecodeChannelEvent(data []byte) (*ChannelEvent, error) {
	var msg ChannelEvent
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeChannelControl unmarshals a ChannelControl.
func DecodeChannelControl(data []byte) (*ChannelControl, error) {
	var msg ChannelControl
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
