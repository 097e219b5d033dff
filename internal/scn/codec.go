package scn

import (
	"fmt"
	"sort"
)

// Encode validates values against the schema and packs them into a block
// of exactly s.Size bytes. Nothing is packed unless every field is valid.
func Encode(s *Schema, values Values) ([]byte, error) {
	for _, f := range s.fields {
		v, ok := values[f.Name]
		if !ok {
			return nil, &ValidationError{Field: f.Name, Reason: "missing value"}
		}
		if err := validate(f, v); err != nil {
			return nil, err
		}
	}
	if len(values) > len(s.fields) {
		unknown := make([]string, 0, len(values)-len(s.fields))
		for name := range values {
			if _, ok := s.index[name]; !ok {
				unknown = append(unknown, name)
			}
		}
		sort.Strings(unknown)
		return nil, &ValidationError{Field: unknown[0], Value: values[unknown[0]], Reason: "not in schema " + s.Name}
	}

	block := make([]byte, s.Size)
	for _, f := range s.fields {
		putBits(block, f.Offset, f.Width, uint64(values[f.Name]))
	}
	return block, nil
}

// Decode unpacks a block. A block whose length is not s.Size is rejected
// whole with a *SizeMismatchError.
func Decode(s *Schema, block []byte) (Values, error) {
	if len(block) != s.Size {
		return nil, &SizeMismatchError{Schema: s.Name, Want: s.Size, Got: len(block)}
	}

	values := make(Values, len(s.fields))
	for _, f := range s.fields {
		raw := getBits(block, f.Offset, f.Width)
		if f.Signed && raw&(uint64(1)<<(f.Width-1)) != 0 {
			raw |= ^uint64(0) << f.Width
		}
		values[f.Name] = int64(raw)
	}
	return values, nil
}

func validate(f Field, v int64) error {
	lo, hi := f.bounds()
	if v < lo || v > hi {
		return &ValidationError{Field: f.Name, Value: v, Reason: fmt.Sprintf("value %d does not fit %d bits", v, f.Width)}
	}

	switch f.Type {
	case TypeInteger:
		if (f.Min != 0 || f.Max != 0) && (v < f.Min || v > f.Max) {
			return &ValidationError{Field: f.Name, Value: v, Reason: fmt.Sprintf("value %d outside [%d, %d]", v, f.Min, f.Max)}
		}
	case TypeEnum:
		if f.EnumName(v) == "" {
			return &ValidationError{Field: f.Name, Value: v, Reason: fmt.Sprintf("value %d is not a member", v)}
		}
	case TypeBitflag:
		if f.Mask != 0 && uint64(v)&^uint64(f.Mask) != 0 {
			return &ValidationError{Field: f.Name, Value: v, Reason: fmt.Sprintf("flags 0x%X outside mask 0x%X", v, f.Mask)}
		}
	}
	return nil
}

func putBits(block []byte, offset, width uint, v uint64) {
	for i := uint(0); i < width; i++ {
		bit := offset + i
		if v&(uint64(1)<<i) != 0 {
			block[bit/8] |= 1 << (bit % 8)
		} else {
			block[bit/8] &^= 1 << (bit % 8)
		}
	}
}

func getBits(block []byte, offset, width uint) uint64 {
	var v uint64
	for i := uint(0); i < width; i++ {
		bit := offset + i
		if block[bit/8]&(1<<(bit%8)) != 0 {
			v |= uint64(1) << i
		}
	}
	return v
}
