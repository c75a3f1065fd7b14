package mux

// ReassemblyBuffer accumulates inbound bytes. Bytes before the cursor
// have been decoded; bytes from the cursor on are a possibly incomplete
// frame kept verbatim for the next pass.
type ReassemblyBuffer struct {
	data   []byte
	cursor int
}

// Append adds bytes at the tail.
func (b *ReassemblyBuffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Remaining returns the undecoded bytes. The slice is only valid until
// the next Append or Compact.
func (b *ReassemblyBuffer) Remaining() []byte {
	return b.data[b.cursor:]
}

// Len returns the number of undecoded bytes.
func (b *ReassemblyBuffer) Len() int {
	return len(b.data) - b.cursor
}

// Consume marks n bytes as decoded.
func (b *ReassemblyBuffer) Consume(n int) {
	if n < 0 || n > b.Len() {
		panic("mux: consume beyond buffered data")
	}
	b.cursor += n
}

// Compact moves the undecoded tail to offset 0.
func (b *ReassemblyBuffer) Compact() {
	if b.cursor == 0 {
		return
	}
	n := copy(b.data, b.data[b.cursor:])
	b.data, b.cursor = b.data[:n], 0
}

// Reset drops everything.
func (b *ReassemblyBuffer) Reset() {
	b.data, b.cursor = b.data[:0], 0
}
