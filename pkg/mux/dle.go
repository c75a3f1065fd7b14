package mux

import (
	"bytes"
)

// DLE protocol bytes.
const (
	DLE byte = 0x10
	SUB byte = 0x1a

	dleExtended   byte = 'X'
	dleTerminator byte = '.'
)

const (
	dleVoiceMode = "AT+FCLASS=8"
	dleDataMode  = "AT+FCLASS=0"
)

var (
	dleCommandPrefix  = []byte("AT+DLE=")
	dleNotifyPrefix   = []byte("\r\n+DLE: ")
	dleNotifySuffix   = []byte("\r\n")
	dleSyntheticReply = []byte("OK\r\n")
	dleEnd            = []byte{DLE, dleTerminator}
)

type dleProtocol struct{}

func (p *dleProtocol) variant() Variant { return VariantDLE }

func (p *dleProtocol) decode(b *ReassemblyBuffer, stats *Stats) (frames []Frame) {
	for {
		data := b.Remaining()
		if len(data) == 0 {
			return
		}
		pos := bytes.IndexByte(data, DLE)
		if pos < 0 {
			pos = len(data)
		}
		if pos > 0 {
			frames = append(frames, passthroughFrame(data[:pos]))
			b.Consume(pos)
			continue
		}
		if len(data) < 2 {
			// a lone DLE, wait for its code.
			return
		}
		switch code := data[1]; code {
		case DLE:
			frames = append(frames, passthroughFrame([]byte{DLE}))
			b.Consume(2)
		case SUB:
			frames = append(frames, passthroughFrame([]byte{DLE, DLE}))
			b.Consume(2)
		case dleExtended:
			end := bytes.Index(data[2:], dleEnd)
			if end < 0 {
				return
			}
			frames = append(frames, dleNotification(code, data[2:2+end]))
			b.Consume(end + 4)
		default:
			frames = append(frames, dleNotification(code, data[1:2]))
			b.Consume(2)
		}
	}
}

func dleNotification(code byte, payload []byte) Frame {
	text := make([]byte, 0, len(dleNotifyPrefix)+len(payload)+len(dleNotifySuffix))
	text = append(text, dleNotifyPrefix...)
	text = append(text, payload...)
	text = append(text, dleNotifySuffix...)
	return Frame{Kind: FrameControlNotification, Code: code, Data: text}
}

// EncodeDLESequence encodes a notification payload as sent on the wire:
// DLE <b> for a single byte, DLE 'X' <payload> DLE '.' otherwise.
func EncodeDLESequence(payload []byte) []byte {
	if len(payload) == 1 {
		return []byte{DLE, payload[0]}
	}
	seq := make([]byte, 0, len(payload)+4)
	seq = append(seq, DLE, dleExtended)
	seq = append(seq, payload...)
	return append(seq, dleEnd...)
}

// EscapeDLE shields data so every byte decodes as passthrough.
func EscapeDLE(data []byte) []byte {
	out := make([]byte, 0, len(data)+bytes.Count(data, []byte{DLE}))
	for _, c := range data {
		if c == DLE {
			out = append(out, DLE)
		}
		out = append(out, c)
	}
	return out
}

// parseDLECommand extracts <bytes> from "AT+DLE=<bytes>\r".
func parseDLECommand(p []byte) ([]byte, bool) {
	if !bytes.HasPrefix(p, dleCommandPrefix) || p[len(p)-1] != '\r' {
		return nil, false
	}
	payload := p[len(dleCommandPrefix) : len(p)-1]
	if len(payload) == 0 {
		return nil, false
	}
	return payload, true
}

func (p *dleProtocol) writeCommand(l link, data []byte) (int, error) {
	if payload, ok := parseDLECommand(data); ok {
		if err := l.writeWire(EncodeDLESequence(payload)); err != nil {
			return 0, err
		}
		// the modem never acknowledges the translated command.
		l.injectCommand(dleSyntheticReply)
		return len(data), nil
	}
	if err := l.writeWire(data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (p *dleProtocol) writeData(l link, data []byte) (int, error) {
	if err := l.writeWire(data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (p *dleProtocol) writeLines(link, bool, bool) error {
	return nil
}

func (p *dleProtocol) discarded([]byte) (int, error) {
	return 0, ErrChannelDisabled
}

func (p *dleProtocol) channelKind(name string) (ChannelKind, bool) {
	return defaultChannelKind(name)
}

func (p *dleProtocol) lineMode(_ ChannelKind, hasLines bool) lineMode {
	if hasLines {
		return linesPassThrough
	}
	return linesEmulated
}

func (p *dleProtocol) modeEntry() string {
	return dleVoiceMode
}

func (p *dleProtocol) voiceCommands() (string, string, bool) {
	return dleVoiceMode, dleDataMode, true
}
