package protocol

import (
	"bytes"
	"encoding/binary"
)

// PacketBuilder constructs little-endian logical packet bodies.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// WriteString16 writes a string prefixed with its uint16 length.
// Strings longer than 65535 bytes are truncated.
func (b *PacketBuilder) WriteString16(data []byte) *PacketBuilder {
	if len(data) > 0xFFFF {
		data = data[:0xFFFF]
	}
	b.WriteUint16(uint16(len(data)))
	b.buf.Write(data)
	return b
}

// WriteFooter appends the seq/ack footer.
func (b *PacketBuilder) WriteFooter(seq, ack uint32) *PacketBuilder {
	return b.WriteUint32(seq).WriteUint32(ack)
}

// Len returns the number of bytes written so far.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// Build returns a copy of the accumulated bytes.
func (b *PacketBuilder) Build() []byte {
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}
