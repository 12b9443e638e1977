package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WritePackets splits body into raw packets of at most DefaultPayloadLength
// bytes, each preceded by its 2-byte LE length, and writes them to w.
// Lengths are always written explicitly, never as the zero sentinel.
func WritePackets(w io.Writer, body []byte) error {
	var prefix [LengthPrefixSize]byte
	for len(body) > 0 {
		n := min(len(body), DefaultPayloadLength)
		binary.LittleEndian.PutUint16(prefix[:], uint16(n))
		if _, err := w.Write(prefix[:]); err != nil {
			return fmt.Errorf("failed to write packet length: %w", err)
		}
		if _, err := w.Write(body[:n]); err != nil {
			return fmt.Errorf("failed to write packet data: %w", err)
		}
		body = body[n:]
	}
	return nil
}

// FramedSize returns the number of bytes WritePackets emits for a body
// of n bytes.
func FramedSize(n int) int {
	if n <= 0 {
		return 0
	}
	packets := (n + DefaultPayloadLength - 1) / DefaultPayloadLength
	return n + packets*LengthPrefixSize
}
