package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// FrameBuffer reassembles the payloads of raw packets read from r into a
// single logical stream. It is owned by exactly one reader goroutine.
type FrameBuffer struct {
	r    io.Reader
	buf  bytes.Buffer
	dump DumpSink

	packets uint64
}

// NewFrameBuffer creates a FrameBuffer reading raw packets from r.
// dump may be nil.
func NewFrameBuffer(r io.Reader, dump DumpSink) *FrameBuffer {
	return &FrameBuffer{
		r:    r,
		dump: dump,
	}
}

// Read removes and returns the next n bytes of the logical stream,
// blocking until they are available.
func (b *FrameBuffer) Read(n int) ([]byte, error) {
	if err := b.prepare(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.buf.Next(n))
	return out, nil
}

// Peek returns the next n bytes of the logical stream without consuming them.
func (b *FrameBuffer) Peek(n int) ([]byte, error) {
	if err := b.prepare(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.buf.Bytes()[:n])
	return out, nil
}

// Buffered returns the number of logical bytes received but not yet read.
func (b *FrameBuffer) Buffered() int {
	return b.buf.Len()
}

// Packets returns the number of raw packets received so far.
func (b *FrameBuffer) Packets() uint64 {
	return b.packets
}

// prepare receives raw packets until at least n logical bytes are buffered.
func (b *FrameBuffer) prepare(n int) error {
	if n < 0 {
		return fmt.Errorf("invalid read length %d", n)
	}
	for b.buf.Len() < n {
		if err := b.receive(); err != nil {
			return err
		}
	}
	return nil
}

// receive reads one raw packet and appends its payload to the logical stream.
// Packet format: [2-byte LE length][payload...], length 0 means DefaultPayloadLength.
func (b *FrameBuffer) receive() error {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(b.r, prefix[:]); err != nil {
		return fmt.Errorf("%w: reading packet length: %w", ErrConnectionClosed, err)
	}

	size := int(binary.LittleEndian.Uint16(prefix[:]))
	if size == 0 {
		size = DefaultPayloadLength
	}

	raw := make([]byte, LengthPrefixSize+size)
	copy(raw, prefix[:])
	if got, err := io.ReadFull(b.r, raw[LengthPrefixSize:]); err != nil {
		return fmt.Errorf("%w: received %d bytes, expected %d: %w", ErrTruncatedPacket, got, size, err)
	}

	if b.dump != nil {
		b.dump.Dump(DumpTagClient, raw)
	}

	b.buf.Write(raw[LengthPrefixSize:])
	b.packets++
	return nil
}
