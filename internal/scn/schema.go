// Package scn maps SCN coding blocks between named field values and the
// exact byte layout the TCU stores.
//
// Fields are addressed by bit offset and width. Bit b of a block lives in
// byte b/8 at bit position b%8 (LSB first), and a field's value bits are
// laid out from its offset upwards, so byte-aligned fields come out
// little-endian.
package scn

import (
	"errors"
	"fmt"
)

// FieldType is the semantic type of a field
type FieldType uint8

const (
	TypeInteger FieldType = iota
	TypeEnum
	TypeBitflag
)

func (t FieldType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeEnum:
		return "enum"
	case TypeBitflag:
		return "bitflag"
	default:
		return fmt.Sprintf("FieldType(%d)", uint8(t))
	}
}

// EnumValue is one member of an enumerated field
type EnumValue struct {
	Value int64
	Name  string
}

// Field describes one value inside a block
type Field struct {
	Name   string
	Offset uint // bit offset from the start of the block
	Width  uint // bit width, 1..32
	Type   FieldType
	Signed bool

	// Min and Max bound integer fields, inclusive. When both are zero the
	// field accepts anything representable in Width bits.
	Min, Max int64

	// Enum lists the accepted values of an enum field
	Enum []EnumValue

	// Mask lists the bits a bitflag field may set; zero means every bit of Width
	Mask uint32
}

// Values holds decoded or to-be-encoded field values by name
type Values map[string]int64

// Schema is an immutable block description
type Schema struct {
	Name   string
	Size   int // block size in bytes
	fields []Field
	index  map[string]int
}

var errInvalidSchema = errors.New("scn: invalid schema")

// NewSchema validates the field list and builds a schema
func NewSchema(name string, size int, fields []Field) (*Schema, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w %s: size %d", errInvalidSchema, name, size)
	}

	s := &Schema{
		Name:   name,
		Size:   size,
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	used := make([]bool, size*8)

	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w %s: field %d has no name", errInvalidSchema, name, i)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("%w %s: duplicate field %q", errInvalidSchema, name, f.Name)
		}
		if f.Width == 0 || f.Width > 32 {
			return nil, fmt.Errorf("%w %s: field %q width %d", errInvalidSchema, name, f.Name, f.Width)
		}
		if int(f.Offset+f.Width) > size*8 {
			return nil, fmt.Errorf("%w %s: field %q exceeds %d bytes", errInvalidSchema, name, f.Name, size)
		}
		for b := f.Offset; b < f.Offset+f.Width; b++ {
			if used[b] {
				return nil, fmt.Errorf("%w %s: field %q overlaps bit %d", errInvalidSchema, name, f.Name, b)
			}
			used[b] = true
		}
		switch f.Type {
		case TypeEnum:
			if len(f.Enum) == 0 {
				return nil, fmt.Errorf("%w %s: enum %q has no members", errInvalidSchema, name, f.Name)
			}
		case TypeBitflag:
			if f.Signed {
				return nil, fmt.Errorf("%w %s: bitflag %q cannot be signed", errInvalidSchema, name, f.Name)
			}
		}
		if f.Min > f.Max {
			return nil, fmt.Errorf("%w %s: field %q min %d > max %d", errInvalidSchema, name, f.Name, f.Min, f.Max)
		}

		f.Enum = append([]EnumValue(nil), f.Enum...)
		s.fields[i] = f
		s.index[f.Name] = i
	}

	return s, nil
}

// MustSchema is NewSchema for package-level schema literals
func MustSchema(name string, size int, fields []Field) *Schema {
	s, err := NewSchema(name, size, fields)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns a copy of the ordered field list
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a field by name
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// bounds returns the representable range of the field's bits
func (f Field) bounds() (int64, int64) {
	if f.Signed {
		return -(int64(1) << (f.Width - 1)), int64(1)<<(f.Width-1) - 1
	}
	return 0, int64(1)<<f.Width - 1
}

// EnumName returns the member name for v, or "" when v is not a member
func (f Field) EnumName(v int64) string {
	for _, e := range f.Enum {
		if e.Value == v {
			return e.Name
		}
	}
	return ""
}
