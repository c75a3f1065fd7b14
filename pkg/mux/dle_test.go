package mux

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// decodeChunks feeds chunks through one buffer the way passes do.
func decodeChunks(p protocol, chunks ...[]byte) ([]Frame, *ReassemblyBuffer, *Stats) {
	var (
		buf    ReassemblyBuffer
		stats  Stats
		frames []Frame
	)
	for _, chunk := range chunks {
		buf.Append(chunk)
		frames = append(frames, p.decode(&buf, &stats)...)
		buf.Compact()
	}
	return frames, &buf, &stats
}

func commandBytes(frames []Frame) []byte {
	var out []byte
	for _, f := range frames {
		if target, ok := f.Target(); ok && target == CommandChannel {
			out = append(out, f.Data...)
		}
	}
	return out
}

func byteChunks(p []byte) [][]byte {
	chunks := make([][]byte, len(p))
	for n := range p {
		chunks[n] = p[n : n+1]
	}
	return chunks
}

func TestDLEDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		command string
		remain  int
	}{
		{"plain", []byte("AT\r\nOK\r\n"), "AT\r\nOK\r\n", 0},
		{"notification", []byte{0x10, 0x41}, "\r\n+DLE: A\r\n", 0},
		{"mixed", []byte{'R', 0x10, 'b', 'S'}, "R\r\n+DLE: b\r\nS", 0},
		{"escaped DLE", []byte{0x10, 0x10}, "\x10", 0},
		{"SUB", []byte{0x10, 0x1a}, "\x10\x10", 0},
		{"extended", []byte{0x10, 'X', 'a', 'b', 0x10, '.'}, "\r\n+DLE: ab\r\n", 0},
		{"trailing DLE", []byte{'a', 0x10}, "a", 1},
		{"unterminated extended", []byte{0x10, 'X', 'a', 'b'}, "", 4},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			frames, buf, _ := decodeChunks(&dleProtocol{}, test.input)
			require.Equal(t, test.command, string(commandBytes(frames)))
			require.Equal(t, test.remain, buf.Len())
		})
	}
}

func TestDLENotificationFrame(t *testing.T) {
	frames, _, _ := decodeChunks(&dleProtocol{}, []byte{0x10, 0x41})
	require.Len(t, frames, 1)
	require.Equal(t, FrameControlNotification, frames[0].Kind)
	require.Equal(t, byte('A'), frames[0].Code)
	require.Equal(t, "\r\n+DLE: A\r\n", string(frames[0].Data))
}

func TestDLEEscapeRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		data := make([]byte, rnd.Intn(64))
		for n := range data {
			// bias toward the interesting bytes.
			switch rnd.Intn(4) {
			case 0:
				data[n] = DLE
			case 1:
				data[n] = SUB
			default:
				data[n] = byte(rnd.Intn(256))
			}
		}
		escaped := EscapeDLE(data)
		frames, buf, _ := decodeChunks(&dleProtocol{}, escaped)
		require.Equal(t, data, append([]byte{}, commandBytes(frames)...))
		require.Zero(t, buf.Len())

		chunked, _, _ := decodeChunks(&dleProtocol{}, byteChunks(escaped)...)
		require.Equal(t, commandBytes(frames), commandBytes(chunked))
	}
}

func TestDLEChunkIndependence(t *testing.T) {
	stream := bytes.Join([][]byte{
		[]byte("\r\nRING\r\n"),
		{0x10, 'b'},
		{0x10, 'X', '1', '2', '3', 0x10, '.'},
		{0x10, 0x10, 0x10, 0x1a},
		[]byte("tail"),
	}, nil)
	whole, _, _ := decodeChunks(&dleProtocol{}, stream)
	split, _, _ := decodeChunks(&dleProtocol{}, byteChunks(stream)...)
	require.Equal(t, commandBytes(whole), commandBytes(split))
}

func TestEncodeDLESequence(t *testing.T) {
	require.Equal(t, []byte{0x10, 'A'}, EncodeDLESequence([]byte("A")))
	require.Equal(t, []byte{0x10, 'X', 'a', 'b', 0x10, '.'}, EncodeDLESequence([]byte("ab")))
}

func TestDLEWriteCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		wire    []byte
		reply   string
	}{
		{"single", "AT+DLE=A\r", []byte{0x10, 'A'}, "OK\r\n"},
		{"extended", "AT+DLE=ab\r", []byte{0x10, 'X', 'a', 'b', 0x10, '.'}, "OK\r\n"},
		{"empty", "AT+DLE=\r", []byte("AT+DLE=\r"), ""},
		{"no CR", "AT+DLE=A", []byte("AT+DLE=A"), ""},
		{"other", "ATZ\r", []byte("ATZ\r"), ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			pipe, m := newTestMux(t, VariantDLE)
			command := openChannel(t, m, NamePrimary)
			log := subscribe(command)

			n, err := command.Write([]byte(test.command))
			require.NoError(t, err)
			require.Equal(t, len(test.command), n)
			require.Equal(t, test.wire, pipe.Written())
			require.Equal(t, len(test.reply), command.BytesAvailable())
			// the notification arrives on the next loop turn.
			require.Empty(t, log.kinds())
			m.Dispatch()
			if test.reply != "" {
				require.Equal(t, []EventKind{EventReadyRead}, log.kinds())
				require.Equal(t, test.reply, readString(t, command))
			} else {
				require.Empty(t, log.kinds())
			}
		})
	}
}

func TestDLEDisabledWrite(t *testing.T) {
	pipe, m := newTestMux(t, VariantDLE)
	command, err := m.Channel(NamePrimary)
	require.NoError(t, err)
	n, err := command.Write([]byte("AT\r"))
	require.Equal(t, ErrChannelDisabled, err)
	require.Zero(t, n)
	require.Empty(t, pipe.Written())
}
