package inventory

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/danmuck/gclink/internal/protocol/wire"
)

// Wire field numbers of an economy object.
const (
	fieldID         uint32 = 1
	fieldAccount    uint32 = 2
	fieldPosition   uint32 = 3
	fieldDefIndex   uint32 = 4
	fieldQuantity   uint32 = 5
	fieldLevel      uint32 = 6
	fieldQuality    uint32 = 7
	fieldFlags      uint32 = 8
	fieldOrigin     uint32 = 9
	fieldCustomName uint32 = 10
	fieldCustomDesc uint32 = 11
	fieldAttribute  uint32 = 12

	fieldAttrDef        uint32 = 1
	fieldAttrValue      uint32 = 2
	fieldAttrValueBytes uint32 = 3
)

// FieldSet records which fields an Object carried. Merges only copy those.
type FieldSet uint16

const (
	HasAccount FieldSet = 1 << iota
	HasPosition
	HasDefIndex
	HasQuantity
	HasLevel
	HasQuality
	HasFlags
	HasOrigin
	HasCustomName
	HasCustomDesc
	HasAttributes

	HasAll = HasAccount | HasPosition | HasDefIndex | HasQuantity | HasLevel |
		HasQuality | HasFlags | HasOrigin | HasCustomName | HasCustomDesc | HasAttributes
)

// Attribute is one definition-indexed value. Most values arrive as a 4-byte
// little-endian ValueBytes; older encodings use Value.
type Attribute struct {
	Def        uint32 `json:"def_index"`
	Value      uint32 `json:"value,omitempty"`
	ValueBytes []byte `json:"value_bytes,omitempty"`
}

func (a Attribute) Uint32() uint32 {
	if len(a.ValueBytes) >= 4 {
		return binary.LittleEndian.Uint32(a.ValueBytes)
	}
	return a.Value
}

func (a Attribute) Float32() float32 {
	return math.Float32frombits(a.Uint32())
}

// Uint32Attribute builds an attribute carrying v as little-endian bytes.
func Uint32Attribute(def, v uint32) Attribute {
	return Attribute{Def: def, ValueBytes: binary.LittleEndian.AppendUint32(nil, v)}
}

// Object is one decoded wire or snapshot object, before it enters the mirror.
type Object struct {
	ID         uint64      `json:"id,string"`
	TypeID     uint32      `json:"type_id,omitempty"`
	AccountID  uint32      `json:"account_id,omitempty"`
	Position   uint32      `json:"inventory,omitempty"`
	DefIndex   uint32      `json:"def_index"`
	Quantity   uint32      `json:"quantity,omitempty"`
	Level      uint32      `json:"level,omitempty"`
	Quality    uint32      `json:"quality,omitempty"`
	Flags      uint32      `json:"flags,omitempty"`
	Origin     uint32      `json:"origin,omitempty"`
	CustomName string      `json:"custom_name,omitempty"`
	CustomDesc string      `json:"custom_desc,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`

	// Present is zero for complete objects such as snapshot entries.
	Present FieldSet `json:"-"`
}

func (o Object) fields() FieldSet {
	if o.Present == 0 {
		return HasAll
	}
	return o.Present
}

func (o Object) Attribute(def uint32) (Attribute, bool) {
	for _, a := range o.Attributes {
		if a.Def == def {
			return a, true
		}
	}
	return Attribute{}, false
}

func (o Object) clone() Object {
	out := o
	if o.Attributes != nil {
		out.Attributes = make([]Attribute, len(o.Attributes))
		for i, a := range o.Attributes {
			out.Attributes[i] = a
			if a.ValueBytes != nil {
				out.Attributes[i].ValueBytes = append([]byte(nil), a.ValueBytes...)
			}
		}
	}
	return out
}

// DecodeObject decodes an economy object payload. Unknown fields are ignored.
func DecodeObject(typeID uint32, data []byte) (Object, error) {
	fields, err := wire.Decode(data)
	if err != nil {
		return Object{}, err
	}
	o := Object{TypeID: typeID}
	if o.ID, err = fields.Uint64(fieldID); err != nil {
		return Object{}, err
	}
	if o.ID == 0 {
		return Object{}, fmt.Errorf("inventory: object without id")
	}
	for _, f := range []struct {
		num uint32
		has FieldSet
		dst *uint32
	}{
		{fieldAccount, HasAccount, &o.AccountID},
		{fieldPosition, HasPosition, &o.Position},
		{fieldDefIndex, HasDefIndex, &o.DefIndex},
		{fieldQuantity, HasQuantity, &o.Quantity},
		{fieldLevel, HasLevel, &o.Level},
		{fieldQuality, HasQuality, &o.Quality},
		{fieldFlags, HasFlags, &o.Flags},
		{fieldOrigin, HasOrigin, &o.Origin},
	} {
		if !fields.Has(f.num) {
			continue
		}
		if *f.dst, err = fields.Uint32(f.num); err != nil {
			return Object{}, err
		}
		o.Present |= f.has
	}
	if fields.Has(fieldCustomName) {
		if o.CustomName, err = fields.String(fieldCustomName); err != nil {
			return Object{}, err
		}
		o.Present |= HasCustomName
	}
	if fields.Has(fieldCustomDesc) {
		if o.CustomDesc, err = fields.String(fieldCustomDesc); err != nil {
			return Object{}, err
		}
		o.Present |= HasCustomDesc
	}
	attrs, err := fields.Messages(fieldAttribute)
	if err != nil {
		return Object{}, err
	}
	if len(attrs) > 0 {
		o.Present |= HasAttributes
	}
	for _, af := range attrs {
		var a Attribute
		if a.Def, err = af.Uint32(fieldAttrDef); err != nil {
			return Object{}, err
		}
		if a.Value, err = af.Uint32(fieldAttrValue); err != nil {
			return Object{}, err
		}
		if a.ValueBytes, err = af.Bytes(fieldAttrValueBytes); err != nil {
			return Object{}, err
		}
		o.Attributes = append(o.Attributes, a)
	}
	return o, nil
}

// EncodeObject encodes the fields present on o.
func EncodeObject(o Object) []byte {
	has := o.fields()
	b := wire.NewBuilder().Uint64(fieldID, o.ID)
	for _, f := range []struct {
		num uint32
		has FieldSet
		v   uint32
	}{
		{fieldAccount, HasAccount, o.AccountID},
		{fieldPosition, HasPosition, o.Position},
		{fieldDefIndex, HasDefIndex, o.DefIndex},
		{fieldQuantity, HasQuantity, o.Quantity},
		{fieldLevel, HasLevel, o.Level},
		{fieldQuality, HasQuality, o.Quality},
		{fieldFlags, HasFlags, o.Flags},
		{fieldOrigin, HasOrigin, o.Origin},
	} {
		if has&f.has != 0 {
			b.Uint32(f.num, f.v)
		}
	}
	if has&HasCustomName != 0 {
		b.String(fieldCustomName, o.CustomName)
	}
	if has&HasCustomDesc != 0 {
		b.String(fieldCustomDesc, o.CustomDesc)
	}
	if has&HasAttributes != 0 {
		for _, a := range o.Attributes {
			ab := wire.NewBuilder().Uint32(fieldAttrDef, a.Def)
			if a.Value != 0 {
				ab.Uint32(fieldAttrValue, a.Value)
			}
			if a.ValueBytes != nil {
				ab.Bytes(fieldAttrValueBytes, a.ValueBytes)
			}
			b.Message(fieldAttribute, ab)
		}
	}
	return b.Encode()
}
