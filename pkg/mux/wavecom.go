package mux

import (
	"bytes"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/modemmux/pkg/transport"
)

// Wavecom lead bytes.
const (
	WavecomLeadCommand byte = 0xaa
	WavecomLeadControl byte = 0xdd
)

// Wavecom frame types.
const (
	WavecomTypeCommand byte = 0x1d // with WavecomLeadCommand
	WavecomTypeData    byte = 0x00 // with WavecomLeadControl
	WavecomTypeStatus  byte = 0x01
	WavecomTypeReset   byte = 0x02
	WavecomTypeBusy    byte = 0x03
)

const (
	// WavecomMaxBlock is the largest payload written in one frame.
	WavecomMaxBlock = 1024
	// WavecomMaxLength is the largest payload a frame header can express.
	WavecomMaxLength = 0x7ff

	wavecomHeaderLen = 3
	wavecomModeEntry = "AT+WMUX=1"
)

// status bits carried by (0xDD, 0x01) frames.
const (
	wavecomOutDTR byte = 0x80
	wavecomOutRTS byte = 0x40
	wavecomInDSR  byte = 0x80
	wavecomInDCD  byte = 0x40
	wavecomInCTS  byte = 0x20
)

var wavecomRestartPrefix = []byte("AT+CFUN=1")

func isWavecomLead(b byte) bool {
	return b == WavecomLeadCommand || b == WavecomLeadControl
}

// WavecomChecksum is the low byte of the sum of header and payload.
func WavecomChecksum(headerAndPayload []byte) byte {
	var sum byte
	for _, b := range headerAndPayload {
		sum += b
	}
	return sum
}

// AppendWavecomFrame appends one frame. len(payload) must not exceed
// WavecomMaxLength.
func AppendWavecomFrame(dst []byte, lead, typ byte, payload []byte) []byte {
	if len(payload) > WavecomMaxLength {
		panic("mux: wavecom payload too large")
	}
	start := len(dst)
	dst = append(dst, lead, byte(len(payload)), byte(len(payload)>>8)&0x07|typ<<3)
	dst = append(dst, payload...)
	return append(dst, WavecomChecksum(dst[start:]))
}

// EncodeWavecomBlock splits data into frames of at most WavecomMaxBlock
// bytes. Empty data still produces one zero-length frame.
func EncodeWavecomBlock(lead, typ byte, data []byte) []byte {
	frames := (len(data) + WavecomMaxBlock - 1) / WavecomMaxBlock
	if frames == 0 {
		frames = 1
	}
	out := make([]byte, 0, len(data)+frames*(wavecomHeaderLen+1))
	for {
		n := len(data)
		if n > WavecomMaxBlock {
			n = WavecomMaxBlock
		}
		out = AppendWavecomFrame(out, lead, typ, data[:n])
		if data = data[n:]; len(data) == 0 {
			return out
		}
	}
}

type wavecomProtocol struct {
	lock         sync.Mutex
	needsRestart bool
}

func (p *wavecomProtocol) variant() Variant { return VariantWavecom }

func (p *wavecomProtocol) decode(b *ReassemblyBuffer, stats *Stats) (frames []Frame) {
	for {
		data := b.Remaining()
		if len(data) == 0 {
			return
		}
		if !isWavecomLead(data[0]) {
			n := 1
			for n < len(data) && !isWavecomLead(data[n]) {
				n++
			}
			frames = append(frames, passthroughFrame(data[:n]))
			stats.ResyncBytes += uint64(n)
			b.Consume(n)
			continue
		}
		if len(data) < wavecomHeaderLen {
			return
		}
		length := int(data[1]) | int(data[2]&0x07)<<8
		typ := (data[2] & 0xf8) >> 3
		size := length + wavecomHeaderLen + 1
		if len(data) < size {
			return
		}
		if sum := WavecomChecksum(data[:size-1]); sum != data[size-1] {
			glog.Warningf("wavecom: checksum mismatch lead=%02x type=%02x len=%d: got %02x, want %02x",
				data[0], typ, length, data[size-1], sum)
			stats.ChecksumErrors++
			b.Consume(size)
			continue
		}
		if frame, ok := wavecomFrame(data[0], typ, data[wavecomHeaderLen:size-1]); ok {
			frames = append(frames, frame)
		} else {
			glog.Warningf("wavecom: unknown frame lead=%02x type=%02x len=%d", data[0], typ, length)
			stats.UnknownFrames++
		}
		b.Consume(size)
	}
}

func wavecomFrame(lead, typ byte, payload []byte) (Frame, bool) {
	switch {
	case lead == WavecomLeadCommand && typ == WavecomTypeCommand:
		return Frame{Kind: FrameCommandData, Data: append([]byte(nil), payload...)}, true
	case lead != WavecomLeadControl:
		return Frame{}, false
	}
	switch typ {
	case WavecomTypeData:
		return Frame{Kind: FrameData, Data: append([]byte(nil), payload...)}, true
	case WavecomTypeReset:
		return Frame{Kind: FrameReset}, true
	case WavecomTypeBusy:
		return Frame{Kind: FrameBusy}, true
	case WavecomTypeStatus:
		frame := Frame{Kind: FrameStatusBits, Data: append([]byte(nil), payload...)}
		if len(payload) > 0 {
			frame.Lines = wavecomIncomingLines(payload[0])
		}
		return frame, true
	}
	return Frame{}, false
}

func wavecomIncomingLines(bits byte) (lines transport.Lines) {
	lines = lines.With(transport.LineDSR, bits&wavecomInDSR != 0)
	lines = lines.With(transport.LineDCD, bits&wavecomInDCD != 0)
	lines = lines.With(transport.LineCTS, bits&wavecomInCTS != 0)
	return
}

func (p *wavecomProtocol) writeCommand(l link, data []byte) (int, error) {
	p.lock.Lock()
	restart := p.needsRestart
	p.needsRestart = false
	p.lock.Unlock()
	if restart {
		if err := l.chat(wavecomModeEntry); err != nil {
			p.armRestart()
			return 0, err
		}
	}
	if err := l.writeWire(EncodeWavecomBlock(WavecomLeadCommand, WavecomTypeCommand, data)); err != nil {
		return 0, err
	}
	if bytes.HasPrefix(data, wavecomRestartPrefix) {
		// the modem leaves multiplexing mode on AT+CFUN=1.
		p.armRestart()
	}
	return len(data), nil
}

func (p *wavecomProtocol) armRestart() {
	p.lock.Lock()
	p.needsRestart = true
	p.lock.Unlock()
}

func (p *wavecomProtocol) restartArmed() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.needsRestart
}

func (p *wavecomProtocol) writeData(l link, data []byte) (int, error) {
	if err := l.writeWire(EncodeWavecomBlock(WavecomLeadControl, WavecomTypeData, data)); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (p *wavecomProtocol) writeLines(l link, dtr, rts bool) error {
	var bits byte
	if dtr {
		bits |= wavecomOutDTR
	}
	if rts {
		bits |= wavecomOutRTS
	}
	return l.writeWire(AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeStatus, []byte{bits}))
}

func (p *wavecomProtocol) discarded(data []byte) (int, error) {
	return len(data), nil
}

func (p *wavecomProtocol) channelKind(name string) (ChannelKind, bool) {
	return defaultChannelKind(name)
}

func (p *wavecomProtocol) lineMode(kind ChannelKind, _ bool) lineMode {
	if kind == DataChannel {
		return linesInBand
	}
	return linesEmulated
}

func (p *wavecomProtocol) modeEntry() string {
	return wavecomModeEntry
}

func (p *wavecomProtocol) voiceCommands() (string, string, bool) {
	return "", "", false
}
