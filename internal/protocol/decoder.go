package protocol

import (
	"encoding/binary"
	"fmt"
)

// Decoder turns the logical stream into Messages.
type Decoder struct {
	stream  StreamReader
	objects ObjectDecoder
	count   int
}

// NewDecoder creates a Decoder that reads objectsPerPacket objects per
// packet using objects. A non-positive count falls back to
// DefaultObjectsPerPacket.
func NewDecoder(stream StreamReader, objects ObjectDecoder, objectsPerPacket int) *Decoder {
	if objectsPerPacket <= 0 {
		objectsPerPacket = DefaultObjectsPerPacket
	}
	return &Decoder{
		stream:  stream,
		objects: objects,
		count:   objectsPerPacket,
	}
}

// HasFooter reports whether a packet whose first two bytes are lead
// carries a seq/ack footer. The protocol has no explicit discriminant;
// packets starting with NoFooterMarker are the only ones without one.
func HasFooter(lead []byte) bool {
	if len(lead) < 2 {
		return true
	}
	return binary.LittleEndian.Uint16(lead) != NoFooterMarker
}

// Decode reads one logical packet. Any error leaves the stream
// desynchronized and must be treated as fatal by the caller.
func (d *Decoder) Decode() (*Message, error) {
	lead, err := d.stream.Peek(2)
	if err != nil {
		return nil, err
	}
	footer := HasFooter(lead)

	msg := &Message{Objects: make([]Object, 0, d.count)}
	for i := 0; i < d.count; i++ {
		obj, err := d.objects.DecodeObject(d.stream)
		if err != nil {
			return nil, asParseError(err)
		}
		msg.Objects = append(msg.Objects, obj)
	}

	if footer {
		seq, _, err := d.readFooter()
		if err != nil {
			return nil, err
		}
		msg.Sequence = &seq
	}

	return msg, nil
}

// readFooter reads the trailing [seq:4][ack:4] pair.
func (d *Decoder) readFooter() (seq, ack uint32, err error) {
	data, err := d.stream.Read(FooterSize)
	if err != nil {
		return 0, 0, fmt.Errorf("reading seq/ack footer: %w", err)
	}
	return binary.LittleEndian.Uint32(data[0:4]), binary.LittleEndian.Uint32(data[4:8]), nil
}
