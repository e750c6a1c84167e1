// Package wire encodes and decodes field-number-tagged payloads.
//
// Payloads use the protobuf wire format so that fields added by the server in
// later revisions are skipped (and preserved) rather than rejected.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrTypeMismatch = errors.New("wire: field type mismatch")
	ErrGroup        = errors.New("wire: group fields are not supported")
)

// Type is the wire type of one field.
type Type = protowire.Type

const (
	TypeVarint  = protowire.VarintType
	TypeFixed32 = protowire.Fixed32Type
	TypeFixed64 = protowire.Fixed64Type
	TypeBytes   = protowire.BytesType
)

// Field is one decoded field. Only the value matching Type is populated.
type Field struct {
	Num   uint32
	Type  Type
	Int   uint64
	Bytes []byte
}

// Fields keeps decoded fields in wire order; repeated fields appear once per value.
type Fields []Field

// Decode parses a payload into fields.
func Decode(b []byte) (Fields, error) {
	fields := make(Fields, 0, 8)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		f := Field{Num: uint32(num), Type: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("wire: field %d: %w", num, protowire.ParseError(m))
			}
			f.Int, n = v, m
		case protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return nil, fmt.Errorf("wire: field %d: %w", num, protowire.ParseError(m))
			}
			f.Int, n = uint64(v), m
		case protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return nil, fmt.Errorf("wire: field %d: %w", num, protowire.ParseError(m))
			}
			f.Int, n = v, m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("wire: field %d: %w", num, protowire.ParseError(m))
			}
			f.Bytes, n = append([]byte(nil), v...), m
		default:
			return nil, fmt.Errorf("%w: field %d", ErrGroup, num)
		}
		b = b[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

// Get returns the last occurrence of num, matching protobuf "last one wins" for scalars.
func (fs Fields) Get(num uint32) (Field, bool) {
	for i := len(fs) - 1; i >= 0; i-- {
		if fs[i].Num == num {
			return fs[i], true
		}
	}
	return Field{}, false
}

func (fs Fields) Has(num uint32) bool {
	_, ok := fs.Get(num)
	return ok
}

// All returns every occurrence of num in wire order.
func (fs Fields) All(num uint32) []Field {
	var out []Field
	for _, f := range fs {
		if f.Num == num {
			out = append(out, f)
		}
	}
	return out
}

func (fs Fields) Uint64(num uint32) (uint64, error) {
	f, ok := fs.Get(num)
	if !ok {
		return 0, nil
	}
	if f.Type == TypeBytes {
		return 0, fmt.Errorf("%w: field %d", ErrTypeMismatch, num)
	}
	return f.Int, nil
}

func (fs Fields) Uint32(num uint32) (uint32, error) {
	v, err := fs.Uint64(num)
	return uint32(v), err
}

func (fs Fields) Int32(num uint32) (int32, error) {
	v, err := fs.Uint64(num)
	return int32(v), err
}

func (fs Fields) Bool(num uint32) (bool, error) {
	v, err := fs.Uint64(num)
	return v != 0, err
}

func (fs Fields) Bytes(num uint32) ([]byte, error) {
	f, ok := fs.Get(num)
	if !ok {
		return nil, nil
	}
	if f.Type != TypeBytes {
		return nil, fmt.Errorf("%w: field %d", ErrTypeMismatch, num)
	}
	return f.Bytes, nil
}

func (fs Fields) String(num uint32) (string, error) {
	b, err := fs.Bytes(num)
	return string(b), err
}

// Message decodes a nested message field.
func (fs Fields) Message(num uint32) (Fields, error) {
	b, err := fs.Bytes(num)
	if err != nil || b == nil {
		return nil, err
	}
	return Decode(b)
}

// Messages decodes every occurrence of a repeated nested message field.
func (fs Fields) Messages(num uint32) ([]Fields, error) {
	all := fs.All(num)
	out := make([]Fields, 0, len(all))
	for _, f := range all {
		if f.Type != TypeBytes {
			return nil, fmt.Errorf("%w: field %d", ErrTypeMismatch, num)
		}
		sub, err := Decode(f.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// Builder appends fields in call order.
type Builder struct {
	buf []byte
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Uint64(num uint32, v uint64) *Builder {
	b.buf = protowire.AppendTag(b.buf, protowire.Number(num), protowire.VarintType)
	b.buf = protowire.AppendVarint(b.buf, v)
	return b
}

func (b *Builder) Uint32(num uint32, v uint32) *Builder {
	return b.Uint64(num, uint64(v))
}

func (b *Builder) Int32(num uint32, v int32) *Builder {
	return b.Uint64(num, uint64(int64(v)))
}

func (b *Builder) Bool(num uint32, v bool) *Builder {
	return b.Uint64(num, protowire.EncodeBool(v))
}

func (b *Builder) Fixed32(num uint32, v uint32) *Builder {
	b.buf = protowire.AppendTag(b.buf, protowire.Number(num), protowire.Fixed32Type)
	b.buf = protowire.AppendFixed32(b.buf, v)
	return b
}

func (b *Builder) Fixed64(num uint32, v uint64) *Builder {
	b.buf = protowire.AppendTag(b.buf, protowire.Number(num), protowire.Fixed64Type)
	b.buf = protowire.AppendFixed64(b.buf, v)
	return b
}

func (b *Builder) Bytes(num uint32, v []byte) *Builder {
	b.buf = protowire.AppendTag(b.buf, protowire.Number(num), protowire.BytesType)
	b.buf = protowire.AppendBytes(b.buf, v)
	return b
}

func (b *Builder) String(num uint32, v string) *Builder {
	b.buf = protowire.AppendTag(b.buf, protowire.Number(num), protowire.BytesType)
	b.buf = protowire.AppendString(b.buf, v)
	return b
}

func (b *Builder) Message(num uint32, sub *Builder) *Builder {
	return b.Bytes(num, sub.Encode())
}

// Encode returns a copy of the encoded payload.
func (b *Builder) Encode() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}
