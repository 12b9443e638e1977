// Package protocol implements the client login protocol framing: raw
// length-prefixed packets, the logical stream reassembled from their
// payloads, and the decoder that turns that stream into messages.
// All integers on the wire are little-endian.
package protocol

// Raw packet framing.
const (
	// LengthPrefixSize is the size of the raw packet length prefix in bytes.
	LengthPrefixSize = 2

	// DefaultPayloadLength is the payload size implied by a zero length prefix.
	// It is also the largest chunk the writer puts in a single raw packet.
	DefaultPayloadLength = 1450
)

// Logical packet layout.
const (
	// NoFooterMarker is the leading uint16 of packets that carry no
	// sequence/acknowledgement footer (bytes BC 01 on the wire).
	NoFooterMarker uint16 = 0x01BC

	// FooterSize is the size of the trailing seq/ack pair.
	FooterSize = 8

	// DefaultObjectsPerPacket is the number of objects decoded per packet.
	DefaultObjectsPerPacket = 1
)

// Tags for the diagnostic dump.
const (
	// DumpTagClient marks raw packets received from a client.
	DumpTagClient = "client"
	// DumpTagServer marks logical packets written to a client.
	DumpTagServer = "server"
)

// Object is a single decoded application object.
type Object interface {
	// ID returns the identifier of the object's top-level block.
	ID() uint16
}

// Message is the result of one decode pass over the logical stream.
type Message struct {
	// Sequence is nil for packets without a footer.
	Sequence *uint32
	Objects  []Object
}

// StreamReader is the view of the logical stream handed to object decoders.
type StreamReader interface {
	Read(n int) ([]byte, error)
	Peek(n int) ([]byte, error)
}

// ObjectDecoder decodes exactly one application object from the logical stream.
type ObjectDecoder interface {
	DecodeObject(r StreamReader) (Object, error)
}

// ObjectDecoderFunc adapts a function to the ObjectDecoder interface.
type ObjectDecoderFunc func(r StreamReader) (Object, error)

// DecodeObject calls f(r).
func (f ObjectDecoderFunc) DecodeObject(r StreamReader) (Object, error) {
	return f(r)
}

// DumpSink receives a copy of every raw packet read from a client.
// Implementations must not block.
type DumpSink interface {
	Dump(tag string, data []byte)
}
