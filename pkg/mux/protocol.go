package mux

import (
	"fmt"
	"strings"
)

// Variant selects the framing protocol of a Multiplexer.
type Variant int

// Protocol variants.
const (
	// VariantDLE is the V.253 DLE escape protocol.
	VariantDLE Variant = iota
	// VariantWavecom is the length/checksum framed binary protocol.
	VariantWavecom
)

// String implements fmt.Stringer.
func (v Variant) String() string {
	switch v {
	case VariantDLE:
		return "dle"
	case VariantWavecom:
		return "wavecom"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// ParseVariant parses the name of a Variant.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(name) {
	case "dle", "v253", "v.253":
		return VariantDLE, nil
	case "wavecom", "binary":
		return VariantWavecom, nil
	}
	return 0, fmt.Errorf("unknown protocol variant %q", name)
}

// ChannelKind identifies one of the logical channels.
type ChannelKind int

// Channel kinds.
const (
	CommandChannel ChannelKind = iota
	DataChannel
)

// String implements fmt.Stringer.
func (k ChannelKind) String() string {
	if k == DataChannel {
		return "data"
	}
	return "primary"
}

// Channel names understood by Multiplexer.Channel.
const (
	NamePrimary   = "primary"
	NameSecondary = "secondary"
	NameData      = "data"
	NameDataSetup = "datasetup"
)

// link is what a protocol sees of its multiplexer.
type link interface {
	// writeWire writes encoded bytes to the transport.
	writeWire(p []byte) error
	// injectCommand queues a synthesized response on the command channel.
	// Its ready-read notification is delivered on the next loop turn.
	injectCommand(p []byte)
	// chat issues a raw AT command and waits for its final result.
	chat(cmd string) error
}

// lineMode tells how a channel handles its control lines.
type lineMode int

const (
	linesEmulated lineMode = iota
	linesInBand
	linesPassThrough
)

// protocol is implemented by each Variant. The set is closed; a
// Multiplexer picks one at construction time.
type protocol interface {
	variant() Variant
	// decode consumes complete frames from b. Incomplete frames stay.
	decode(b *ReassemblyBuffer, stats *Stats) []Frame
	writeCommand(l link, p []byte) (int, error)
	writeData(l link, p []byte) (int, error)
	// writeLines sends the outgoing DTR/RTS of the data channel in-band.
	writeLines(l link, dtr, rts bool) error
	// discarded is the result of a write to a closed or disabled channel.
	discarded(p []byte) (int, error)
	// channelKind maps a channel name.
	channelKind(name string) (ChannelKind, bool)
	// lineMode tells how lines are handled on a channel when the
	// transport does (or does not) expose real signals.
	lineMode(kind ChannelKind, hasLines bool) lineMode
	// modeEntry is the command putting the modem into the mode this
	// protocol expects.
	modeEntry() string
	// voiceCommands returns the commands entering and leaving voice mode.
	voiceCommands() (enter, leave string, ok bool)
}

func newProtocol(v Variant) (protocol, error) {
	switch v {
	case VariantDLE:
		return &dleProtocol{}, nil
	case VariantWavecom:
		return &wavecomProtocol{}, nil
	}
	return nil, fmt.Errorf("unsupported protocol variant %v", v)
}

func defaultChannelKind(name string) (ChannelKind, bool) {
	switch name {
	case NamePrimary, NameSecondary, NameDataSetup:
		return CommandChannel, true
	case NameData:
		return DataChannel, true
	}
	return 0, false
}
