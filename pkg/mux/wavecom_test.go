package mux

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWavecomHelloFrame(t *testing.T) {
	hello := []byte{0xaa, 0x05, 0xe8, 'H', 'e', 'l', 'l', 'o', 0x8b}
	require.Equal(t, hello, AppendWavecomFrame(nil, WavecomLeadCommand, WavecomTypeCommand, []byte("Hello")))

	frames, buf, stats := decodeChunks(&wavecomProtocol{}, hello)
	require.Len(t, frames, 1)
	require.Equal(t, FrameCommandData, frames[0].Kind)
	require.Equal(t, "Hello", string(frames[0].Data))
	require.Zero(t, buf.Len())
	require.Zero(t, stats.ChecksumErrors)
}

func TestWavecomBadChecksum(t *testing.T) {
	bad := []byte{0xaa, 0x05, 0xe8, 'H', 'e', 'l', 'l', 'o', 0x8c}
	good := AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeData, []byte("next"))
	frames, buf, stats := decodeChunks(&wavecomProtocol{}, append(bad, good...))
	require.Len(t, frames, 1)
	require.Equal(t, FrameData, frames[0].Kind)
	require.Equal(t, "next", string(frames[0].Data))
	require.Zero(t, buf.Len())
	require.EqualValues(t, 1, stats.ChecksumErrors)
}

func TestWavecomAckFrame(t *testing.T) {
	require.Equal(t, []byte{0xdd, 0x01, 0x08, 0xc0, 0xa6},
		AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeStatus, []byte{0xc0}))
}

func TestWavecomBlockSplit(t *testing.T) {
	data := make([]byte, 1200)
	for n := range data {
		data[n] = byte(n)
	}
	wire := EncodeWavecomBlock(WavecomLeadControl, WavecomTypeData, data)
	require.Len(t, wire, 1200+2*4)
	require.Equal(t, []byte{0xdd, 0x00, 0x04}, wire[:3])
	require.Equal(t, []byte{0xdd, 0xb0, 0x00}, wire[1028:1031])

	frames, _, _ := decodeChunks(&wavecomProtocol{}, wire)
	require.Len(t, frames, 2)
	require.Len(t, frames[0].Data, 1024)
	require.Len(t, frames[1].Data, 176)
	require.Equal(t, data, append(frames[0].Data, frames[1].Data...))
}

func TestWavecomEmptyBlock(t *testing.T) {
	wire := EncodeWavecomBlock(WavecomLeadCommand, WavecomTypeCommand, nil)
	require.Equal(t, []byte{0xaa, 0x00, 0xe8, 0x92}, wire)
	frames, _, _ := decodeChunks(&wavecomProtocol{}, wire)
	require.Len(t, frames, 1)
	require.Equal(t, FrameCommandData, frames[0].Kind)
	require.Empty(t, frames[0].Data)
}

func TestWavecomRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	for i := 0; i < 20; i++ {
		data := make([]byte, rnd.Intn(3000))
		rnd.Read(data)
		lead, typ, kind := WavecomLeadControl, WavecomTypeData, FrameData
		if i%2 == 1 {
			lead, typ, kind = WavecomLeadCommand, WavecomTypeCommand, FrameCommandData
		}
		wire := EncodeWavecomBlock(lead, typ, data)
		for _, chunks := range [][][]byte{{wire}, byteChunks(wire)} {
			frames, buf, stats := decodeChunks(&wavecomProtocol{}, chunks...)
			var got []byte
			for _, f := range frames {
				require.Equal(t, kind, f.Kind)
				got = append(got, f.Data...)
			}
			require.True(t, bytes.Equal(data, got))
			require.Zero(t, buf.Len())
			require.Zero(t, stats.ChecksumErrors)
		}
	}
}

func TestWavecomResync(t *testing.T) {
	frame := AppendWavecomFrame(nil, WavecomLeadCommand, WavecomTypeCommand, []byte("AT"))
	frames, _, stats := decodeChunks(&wavecomProtocol{}, append([]byte("\r\nOK\r\n"), frame...))
	require.Len(t, frames, 2)
	require.Equal(t, FramePassthrough, frames[0].Kind)
	require.Equal(t, "\r\nOK\r\n", string(frames[0].Data))
	require.Equal(t, "AT", string(frames[1].Data))
	require.EqualValues(t, 6, stats.ResyncBytes)
}

func TestWavecomIncomplete(t *testing.T) {
	frame := AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeData, []byte("abc"))
	frames, buf, _ := decodeChunks(&wavecomProtocol{}, frame[:2])
	require.Empty(t, frames)
	require.Equal(t, 2, buf.Len())

	frames, buf, _ = decodeChunks(&wavecomProtocol{}, frame[:len(frame)-1])
	require.Empty(t, frames)
	require.Equal(t, len(frame)-1, buf.Len())
}

func TestWavecomFrameKinds(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		kind  FrameKind
	}{
		{"reset", AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeReset, nil), FrameReset},
		{"busy", AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeBusy, nil), FrameBusy},
		{"status", AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeStatus, []byte{0xa0}), FrameStatusBits},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			frames, _, _ := decodeChunks(&wavecomProtocol{}, test.frame)
			require.Len(t, frames, 1)
			require.Equal(t, test.kind, frames[0].Kind)
		})
	}
}

func TestWavecomUnknownFrame(t *testing.T) {
	unknown := AppendWavecomFrame(nil, WavecomLeadControl, 0x05, []byte("x"))
	wrongLead := AppendWavecomFrame(nil, WavecomLeadCommand, WavecomTypeData, []byte("y"))
	good := AppendWavecomFrame(nil, WavecomLeadCommand, WavecomTypeCommand, []byte("z"))
	frames, _, stats := decodeChunks(&wavecomProtocol{}, unknown, wrongLead, good)
	require.Len(t, frames, 1)
	require.Equal(t, "z", string(frames[0].Data))
	require.EqualValues(t, 2, stats.UnknownFrames)
}

func TestWavecomCorruptionIsolated(t *testing.T) {
	first := AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeData, []byte("one"))
	second := AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeData, []byte("two"))
	third := AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeData, []byte("three"))
	second[len(second)-1] ^= 0xff
	stream := bytes.Join([][]byte{first, second, third}, nil)
	frames, _, stats := decodeChunks(&wavecomProtocol{}, byteChunks(stream)...)
	require.Len(t, frames, 2)
	require.Equal(t, "one", string(frames[0].Data))
	require.Equal(t, "three", string(frames[1].Data))
	require.EqualValues(t, 1, stats.ChecksumErrors)
}

func TestWavecomResetAck(t *testing.T) {
	pipe, m := newTestMux(t, VariantWavecom)
	data, err := m.Channel(NameData)
	require.NoError(t, err)
	log := subscribe(data)
	pipe.Inject(AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeReset, nil))
	m.ReadyRead()
	require.Equal(t, []byte{0xdd, 0x01, 0x08, 0xc0, 0xa6}, pipe.Written())
	require.True(t, data.Ready())
	require.True(t, data.DTR())
	require.True(t, data.RTS())
	require.Equal(t, []EventKind{EventReady}, log.kinds())
}

func TestWavecomStatusBits(t *testing.T) {
	pipe, m := newTestMux(t, VariantWavecom)
	data := openChannel(t, m, NameData)
	log := subscribe(data)

	pipe.Inject(AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeStatus, []byte{0x80 | 0x40}))
	m.ReadyRead()
	events := log.take()
	require.Len(t, events, 2)
	require.Equal(t, EventCarrierChanged, events[0].Kind)
	require.True(t, events[0].Value)
	require.Equal(t, EventCTSChanged, events[1].Kind)
	require.False(t, events[1].Value)
	require.True(t, data.DSR())
	require.True(t, data.Carrier())
	require.False(t, data.CTS())

	// unchanged bits are not reported again.
	pipe.Inject(AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeStatus, []byte{0x80 | 0x40}))
	m.ReadyRead()
	require.Empty(t, log.take())

	pipe.Inject(AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeBusy, nil))
	m.ReadyRead()
	events = log.take()
	require.Len(t, events, 1)
	require.Equal(t, EventCarrierChanged, events[0].Kind)
	require.False(t, events[0].Value)
	require.False(t, data.Carrier())
}

func TestWavecomEmptyStatusBits(t *testing.T) {
	pipe, m := newTestMux(t, VariantWavecom)
	data := openChannel(t, m, NameData)
	pipe.Inject(AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeStatus, []byte{0x80 | 0x40}))
	m.ReadyRead()
	log := subscribe(data)

	pipe.Inject(AppendWavecomFrame(nil, WavecomLeadControl, WavecomTypeStatus, nil))
	m.ReadyRead()
	require.Empty(t, log.take())
	require.True(t, data.DSR())
	require.True(t, data.Carrier())
	require.False(t, data.CTS())
	require.Zero(t, data.BytesAvailable())
	require.EqualValues(t, 2, m.Stats().Frames)
}

func TestWavecomDataLines(t *testing.T) {
	pipe, m := newTestMux(t, VariantWavecom)
	data := openChannel(t, m, NameData)
	require.NoError(t, data.SetDTR(false))
	require.Equal(t, []byte{0xdd, 0x01, 0x08, 0x40, 0x26}, pipe.Written())
	// setting the same state again sends nothing.
	require.NoError(t, data.SetDTR(false))
	require.Empty(t, pipe.Written())

	command := openChannel(t, m, NamePrimary)
	require.NoError(t, command.SetRTS(false))
	require.False(t, command.RTS())
	require.Empty(t, pipe.Written())
}

func TestWavecomWrite(t *testing.T) {
	pipe, m := newTestMux(t, VariantWavecom)
	command := openChannel(t, m, NamePrimary)
	data := openChannel(t, m, NameData)

	n, err := command.Write([]byte("AT\r"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, EncodeWavecomBlock(WavecomLeadCommand, WavecomTypeCommand, []byte("AT\r")), pipe.Written())

	n, err = data.Write([]byte("payload"))
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, EncodeWavecomBlock(WavecomLeadControl, WavecomTypeData, []byte("payload")), pipe.Written())

	pipe.Inject(EncodeWavecomBlock(WavecomLeadControl, WavecomTypeData, []byte("reply")))
	pipe.Inject(EncodeWavecomBlock(WavecomLeadCommand, WavecomTypeCommand, []byte("\r\nOK\r\n")))
	m.ReadyRead()
	require.Equal(t, "reply", readString(t, data))
	require.Equal(t, "\r\nOK\r\n", readString(t, command))
}

func TestWavecomDisabledWrite(t *testing.T) {
	pipe, m := newTestMux(t, VariantWavecom)
	data, err := m.Channel(NameData)
	require.NoError(t, err)
	n, err := data.Write([]byte("lost"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Empty(t, pipe.Written())
}

func TestWavecomRestart(t *testing.T) {
	pipe, m := newTestMux(t, VariantWavecom)
	respond(pipe, "AT+WMUX=1", "\r\nOK\r\n")
	command := openChannel(t, m, NamePrimary)
	proto := m.proto.(*wavecomProtocol)

	_, err := command.Write([]byte("AT+CFUN=1\r"))
	require.NoError(t, err)
	require.True(t, proto.restartArmed())
	require.Equal(t, EncodeWavecomBlock(WavecomLeadCommand, WavecomTypeCommand, []byte("AT+CFUN=1\r")), pipe.Written())

	_, err = command.Write([]byte("AT\r"))
	require.NoError(t, err)
	require.False(t, proto.restartArmed())
	expected := append([]byte("AT+WMUX=1\r"), EncodeWavecomBlock(WavecomLeadCommand, WavecomTypeCommand, []byte("AT\r"))...)
	require.Equal(t, expected, pipe.Written())
	// the mode entry response is consumed by the chat.
	require.Zero(t, command.BytesAvailable())
}

func TestWavecomRestartKeepsCommandData(t *testing.T) {
	pipe, m := newTestMux(t, VariantWavecom)
	reply := append([]byte("\r\nOK\r\n"),
		AppendWavecomFrame(nil, WavecomLeadCommand, WavecomTypeCommand, []byte("\r\n+CREG: 1\r\n"))...)
	pipe.OnWrite = func(p []byte) {
		if bytes.HasPrefix(p, []byte("AT+WMUX=1")) {
			pipe.Inject(reply)
		}
	}
	command := openChannel(t, m, NamePrimary)
	m.proto.(*wavecomProtocol).armRestart()

	_, err := command.Write([]byte("AT\r"))
	require.NoError(t, err)
	require.Equal(t, "\r\n+CREG: 1\r\n", readString(t, command))
}

func TestWavecomRestartFailure(t *testing.T) {
	pipe, m := newTestMux(t, VariantWavecom)
	m.ChatTimeout = 20 * time.Millisecond
	command := openChannel(t, m, NamePrimary)
	proto := m.proto.(*wavecomProtocol)
	proto.armRestart()

	_, err := command.Write([]byte("AT\r"))
	require.True(t, errors.Is(err, ErrChatTimeout))
	require.True(t, proto.restartArmed())
	require.Equal(t, "AT+WMUX=1\r", string(pipe.Written()))
	// a failed chat leaves the link usable.
	require.True(t, command.IsOpen())
}
