package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumBlockCodec_Decode(t *testing.T) {
	wire := []byte{
		0x33, 0x00, // block id
		0x02, 0x00, // field count
		0x01, 0x00, 0x2A, 0x00, 0x00, 0x00, // field 1: uint32 42
		0x10, 0x00, 0x03, 0x00, 'a', 'b', 'c', // field 0x10: string "abc"
	}

	obj, err := testCodec().DecodeObject(NewFrameBuffer(bytes.NewReader(rawPacket(wire)), nil))
	require.NoError(t, err)

	block := obj.(*EnumBlockArray)
	assert.Equal(t, uint16(0x33), block.ID())
	v, ok := block.Uint32(0x01)
	assert.True(t, ok)
	assert.Equal(t, uint32(42), v)
	s, ok := block.Field(0x10)
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), s)
	_, ok = block.Field(0x99)
	assert.False(t, ok)
}

func TestEnumBlockCodec_TooManyFields(t *testing.T) {
	wire := []byte{0x01, 0x00, 0xFF, 0xFF}
	_, err := testCodec().DecodeObject(NewFrameBuffer(bytes.NewReader(rawPacket(wire)), nil))
	assert.Error(t, err)
}

func TestEnumBlockCodec_EncodeRejectsWidthMismatch(t *testing.T) {
	_, err := testCodec().Encode(&EnumBlockArray{
		BlockID: 1,
		Fields:  []EnumField{{ID: 0x01, Value: []byte{1, 2}}},
	})
	assert.ErrorIs(t, err, errFieldWidth)
}

func TestWritePackets_RoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte{0x5A}, DefaultPayloadLength*2+17)

	var wire bytes.Buffer
	require.NoError(t, WritePackets(&wire, body))
	assert.Equal(t, len(body)+3*LengthPrefixSize, wire.Len())

	fb := NewFrameBuffer(&wire, nil)
	got, err := fb.Read(len(body))
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Equal(t, uint64(3), fb.Packets())
}

func TestWritePackets_Empty(t *testing.T) {
	var wire bytes.Buffer
	require.NoError(t, WritePackets(&wire, nil))
	assert.Zero(t, wire.Len())
}

func TestFramedSize(t *testing.T) {
	assert.Equal(t, 0, FramedSize(0))
	assert.Equal(t, 12, FramedSize(10))
	assert.Equal(t, DefaultPayloadLength+2, FramedSize(DefaultPayloadLength))
	assert.Equal(t, DefaultPayloadLength+1+4, FramedSize(DefaultPayloadLength+1))
}
