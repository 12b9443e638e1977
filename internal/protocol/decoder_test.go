package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasFooter(t *testing.T) {
	assert.False(t, HasFooter([]byte{0xBC, 0x01}))
	assert.True(t, HasFooter([]byte{0x01, 0xBC}))
	assert.True(t, HasFooter([]byte{0x00, 0x00}))
}

func testCodec() *EnumBlockCodec {
	return NewEnumBlockCodec(map[uint16]FieldWidth{0x0010: WidthString})
}

func encodeBlock(t *testing.T, block *EnumBlockArray) []byte {
	t.Helper()
	data, err := testCodec().Encode(block)
	require.NoError(t, err)
	return data
}

func TestDecoder_WithFooter(t *testing.T) {
	block := &EnumBlockArray{
		BlockID: 0x0033,
		Fields: []EnumField{
			{ID: 0x0001, Value: []byte{1, 0, 0, 0}},
			{ID: 0x0010, Value: []byte("griffon")},
		},
	}
	body := NewPacketBuilder().WriteBytes(encodeBlock(t, block)).WriteFooter(42, 7).Build()

	// Split the body across raw packets to exercise reassembly.
	wire := append(rawPacket(body[:3]), rawPacket(body[3:])...)
	dec := NewDecoder(NewFrameBuffer(bytes.NewReader(wire), nil), testCodec(), 1)

	msg, err := dec.Decode()
	require.NoError(t, err)
	require.NotNil(t, msg.Sequence)
	assert.Equal(t, uint32(42), *msg.Sequence)
	require.Len(t, msg.Objects, 1)
	assert.Equal(t, block, msg.Objects[0])
}

func TestDecoder_NoFooterMarker(t *testing.T) {
	block := &EnumBlockArray{BlockID: NoFooterMarker, Fields: []EnumField{{ID: 2, Value: []byte{5, 0, 0, 0}}}}
	first := encodeBlock(t, block)
	second := NewPacketBuilder().WriteBytes(encodeBlock(t, &EnumBlockArray{BlockID: 0x0050})).WriteFooter(3, 0).Build()

	fb := NewFrameBuffer(bytes.NewReader(rawPacket(append(first, second...))), nil)
	dec := NewDecoder(fb, testCodec(), 1)

	msg, err := dec.Decode()
	require.NoError(t, err)
	assert.Nil(t, msg.Sequence)
	assert.Equal(t, NoFooterMarker, msg.Objects[0].ID())

	msg, err = dec.Decode()
	require.NoError(t, err)
	require.NotNil(t, msg.Sequence)
	assert.Equal(t, uint32(3), *msg.Sequence)
	assert.Equal(t, 0, fb.Buffered())
}

func TestDecoder_ObjectCountLoop(t *testing.T) {
	body := NewPacketBuilder().
		WriteBytes(encodeBlock(t, &EnumBlockArray{BlockID: 1})).
		WriteBytes(encodeBlock(t, &EnumBlockArray{BlockID: 2})).
		WriteFooter(9, 9).
		Build()

	dec := NewDecoder(NewFrameBuffer(bytes.NewReader(rawPacket(body)), nil), testCodec(), 2)
	msg, err := dec.Decode()
	require.NoError(t, err)
	require.Len(t, msg.Objects, 2)
	assert.Equal(t, uint16(1), msg.Objects[0].ID())
	assert.Equal(t, uint16(2), msg.Objects[1].ID())
}

func TestDecoder_DefaultObjectCount(t *testing.T) {
	dec := NewDecoder(nil, testCodec(), 0)
	assert.Equal(t, DefaultObjectsPerPacket, dec.count)
}

func TestDecoder_ParseFailureIsWrapped(t *testing.T) {
	reject := errors.New("unknown block")
	objects := ObjectDecoderFunc(func(r StreamReader) (Object, error) {
		return nil, reject
	})

	dec := NewDecoder(NewFrameBuffer(bytes.NewReader(rawPacket([]byte{1, 2})), nil), objects, 1)
	_, err := dec.Decode()

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, reject)
	assert.Equal(t, "parse_failure", ErrorKind(err))
}

func TestDecoder_TruncationIsNotAParseFailure(t *testing.T) {
	// Declares 10 bytes, delivers 3.
	wire := []byte{10, 0, 0x33, 0x00, 0x01}
	dec := NewDecoder(NewFrameBuffer(bytes.NewReader(wire), nil), testCodec(), 1)

	_, err := dec.Decode()
	assert.ErrorIs(t, err, ErrTruncatedPacket)
	var pe *ParseError
	assert.False(t, errors.As(err, &pe))
	assert.Equal(t, "truncated_packet", ErrorKind(err))
}

func TestDecoder_MissingFooter(t *testing.T) {
	body := encodeBlock(t, &EnumBlockArray{BlockID: 0x0033})
	dec := NewDecoder(NewFrameBuffer(bytes.NewReader(rawPacket(body)), nil), testCodec(), 1)

	_, err := dec.Decode()
	assert.ErrorIs(t, err, ErrConnectionClosed)
}
