package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FieldWidth is the encoded size of an enum block field value.
type FieldWidth int

const (
	// WidthString marks a field whose value is prefixed with its uint16 length.
	WidthString FieldWidth = -1

	// DefaultFieldWidth is used for field IDs missing from the width table.
	DefaultFieldWidth FieldWidth = 4

	// MaxEnumFields bounds the field count of a single block.
	MaxEnumFields = 1024
)

var errFieldWidth = errors.New("field value does not match its width")

// EnumField is one (field id, value) entry of an enum block array.
type EnumField struct {
	ID    uint16 `json:"id"`
	Value []byte `json:"value"`
}

// EnumBlockArray is a block identifier followed by a list of fields.
// Layout: [id:2][count:2] then count * ([field id:2][value]).
type EnumBlockArray struct {
	BlockID uint16      `json:"block_id"`
	Fields  []EnumField `json:"fields"`
}

// ID returns the block identifier.
func (a *EnumBlockArray) ID() uint16 {
	return a.BlockID
}

// Field returns the value of the first field with the given id.
func (a *EnumBlockArray) Field(id uint16) ([]byte, bool) {
	for _, f := range a.Fields {
		if f.ID == id {
			return f.Value, true
		}
	}
	return nil, false
}

// Uint32 returns a 4-byte field as an integer.
func (a *EnumBlockArray) Uint32(id uint16) (uint32, bool) {
	v, ok := a.Field(id)
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v), true
}

// EnumBlockCodec decodes and encodes enum block arrays. Field value widths
// are looked up by field id.
type EnumBlockCodec struct {
	widths map[uint16]FieldWidth
}

// NewEnumBlockCodec creates a codec with the given width table.
func NewEnumBlockCodec(widths map[uint16]FieldWidth) *EnumBlockCodec {
	table := make(map[uint16]FieldWidth, len(widths))
	for id, w := range widths {
		table[id] = w
	}
	return &EnumBlockCodec{widths: table}
}

func (c *EnumBlockCodec) width(id uint16) FieldWidth {
	if w, ok := c.widths[id]; ok {
		return w
	}
	return DefaultFieldWidth
}

// DecodeObject implements ObjectDecoder.
func (c *EnumBlockCodec) DecodeObject(r StreamReader) (Object, error) {
	header, err := r.Read(4)
	if err != nil {
		return nil, err
	}

	block := &EnumBlockArray{BlockID: binary.LittleEndian.Uint16(header[0:2])}
	count := int(binary.LittleEndian.Uint16(header[2:4]))
	if count > MaxEnumFields {
		return nil, fmt.Errorf("block 0x%04X declares %d fields (max %d)", block.BlockID, count, MaxEnumFields)
	}

	block.Fields = make([]EnumField, 0, count)
	for i := 0; i < count; i++ {
		field, err := c.decodeField(r)
		if err != nil {
			return nil, fmt.Errorf("block 0x%04X field %d: %w", block.BlockID, i, err)
		}
		block.Fields = append(block.Fields, field)
	}

	return block, nil
}

func (c *EnumBlockCodec) decodeField(r StreamReader) (EnumField, error) {
	idBytes, err := r.Read(2)
	if err != nil {
		return EnumField{}, err
	}
	field := EnumField{ID: binary.LittleEndian.Uint16(idBytes)}

	size := int(c.width(field.ID))
	if size == int(WidthString) {
		lenBytes, err := r.Read(2)
		if err != nil {
			return EnumField{}, err
		}
		size = int(binary.LittleEndian.Uint16(lenBytes))
	}

	if field.Value, err = r.Read(size); err != nil {
		return EnumField{}, err
	}
	return field, nil
}

// Encode serializes a block using the codec's width table.
func (c *EnumBlockCodec) Encode(a *EnumBlockArray) ([]byte, error) {
	if len(a.Fields) > MaxEnumFields {
		return nil, fmt.Errorf("block 0x%04X has %d fields (max %d)", a.BlockID, len(a.Fields), MaxEnumFields)
	}

	b := NewPacketBuilder()
	b.WriteUint16(a.BlockID).WriteUint16(uint16(len(a.Fields)))
	for _, f := range a.Fields {
		b.WriteUint16(f.ID)
		w := c.width(f.ID)
		if w == WidthString {
			b.WriteString16(f.Value)
			continue
		}
		if len(f.Value) != int(w) {
			return nil, fmt.Errorf("field 0x%04X: %w (%d != %d)", f.ID, errFieldWidth, len(f.Value), w)
		}
		b.WriteBytes(f.Value)
	}
	return b.Build(), nil
}
