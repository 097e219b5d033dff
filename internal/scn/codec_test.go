package scn

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var packedSchema = MustSchema("packed", 4, []Field{
	{Name: "mode", Offset: 0, Width: 3, Type: TypeEnum, Enum: []EnumValue{{0, "off"}, {1, "eco"}, {5, "sport"}}},
	{Name: "flags", Offset: 3, Width: 5, Type: TypeBitflag, Mask: 0b10110},
	{Name: "trim", Offset: 8, Width: 10, Type: TypeInteger, Signed: true, Min: -300, Max: 300},
	{Name: "gain", Offset: 18, Width: 12, Type: TypeInteger},
})

func randomValues(r *rand.Rand, s *Schema) Values {
	v := Values{}
	for _, f := range s.Fields() {
		switch f.Type {
		case TypeEnum:
			v[f.Name] = f.Enum[r.Intn(len(f.Enum))].Value
		case TypeBitflag:
			mask := int64(f.Mask)
			if mask == 0 {
				_, mask = f.bounds()
			}
			v[f.Name] = r.Int63n(mask+1) & mask
		default:
			lo, hi := f.bounds()
			if f.Min != 0 || f.Max != 0 {
				lo, hi = f.Min, f.Max
			}
			v[f.Name] = lo + r.Int63n(hi-lo+1)
		}
	}
	return v
}

func TestRoundTripRandomValues(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for _, s := range []*Schema{packedSchema, TCMCoreSchema, EfuseSchema} {
		for i := 0; i < 500; i++ {
			in := randomValues(r, s)
			block, err := Encode(s, in)
			require.NoError(t, err, s.Name)
			require.Len(t, block, s.Size)

			out, err := Decode(s, block)
			require.NoError(t, err)
			require.Equal(t, in, out, s.Name)
		}
	}
}

func TestEncodeByteAlignedFieldsAreLittleEndian(t *testing.T) {
	s := MustSchema("le", 3, []Field{
		{Name: "a", Offset: 0, Width: 8, Type: TypeInteger},
		{Name: "b", Offset: 8, Width: 16, Type: TypeInteger},
	})
	block, err := Encode(s, Values{"a": 0x12, "b": 0xBEEF})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0xEF, 0xBE}, block)
}

func TestEncodePacksSubByteFields(t *testing.T) {
	block, err := Encode(packedSchema, Values{"mode": 5, "flags": 0b00110, "trim": -1, "gain": 0})
	require.NoError(t, err)
	// mode=101, flags=00110 -> 0b00110_101; trim=-1 fills 10 bits
	assert.Equal(t, []byte{0x35, 0xFF, 0x03, 0x00}, block)
}

func TestEncodeValidationNamesField(t *testing.T) {
	cases := []struct {
		name   string
		values Values
		field  string
	}{
		{"out of range", Values{"mode": 0, "flags": 0, "trim": 301, "gain": 0}, "trim"},
		{"not enum member", Values{"mode": 2, "flags": 0, "trim": 0, "gain": 0}, "mode"},
		{"flag outside mask", Values{"mode": 0, "flags": 1, "trim": 0, "gain": 0}, "flags"},
		{"exceeds width", Values{"mode": 0, "flags": 0, "trim": 0, "gain": 4096}, "gain"},
		{"missing", Values{"mode": 0, "flags": 0, "trim": 0}, "gain"},
		{"unknown", Values{"mode": 0, "flags": 0, "trim": 0, "gain": 0, "boost": 1}, "boost"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			block, err := Encode(packedSchema, tc.values)
			assert.Nil(t, block)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestEncodeReportsFirstViolationInSchemaOrder(t *testing.T) {
	_, err := Encode(packedSchema, Values{"mode": 7, "flags": 0, "trim": 999, "gain": 0})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "mode", verr.Field)
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	for _, n := range []int{0, 1, 27, 29, 64} {
		values, err := Decode(TCMCoreSchema, make([]byte, n))
		assert.Nil(t, values)
		require.ErrorIs(t, err, ErrSizeMismatch)

		var serr *SizeMismatchError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, 28, serr.Want)
		assert.Equal(t, n, serr.Got)
	}
}

func TestDecodeSignExtends(t *testing.T) {
	values, err := Decode(packedSchema, []byte{0x00, 0xD4, 0x02, 0x00})
	require.NoError(t, err)
	// trim bits = 0b10_1101_0100 = -300
	assert.Equal(t, int64(-300), values["trim"])
}

func TestNewSchemaRejectsBadLayouts(t *testing.T) {
	_, err := NewSchema("overlap", 2, []Field{
		{Name: "a", Offset: 0, Width: 8},
		{Name: "b", Offset: 4, Width: 8},
	})
	assert.ErrorContains(t, err, "overlaps")

	_, err = NewSchema("overflow", 1, []Field{{Name: "a", Offset: 4, Width: 8}})
	assert.ErrorContains(t, err, "exceeds")

	_, err = NewSchema("dup", 2, []Field{{Name: "a", Width: 8}, {Name: "a", Offset: 8, Width: 8}})
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewSchema("enum", 1, []Field{{Name: "e", Width: 8, Type: TypeEnum}})
	assert.ErrorContains(t, err, "no members")
}

func TestTCMCoreSchemaLayout(t *testing.T) {
	assert.Equal(t, 28, TCMCoreSchema.Size)
	f, ok := TCMCoreSchema.Field("jeep_chrysler")
	require.True(t, ok)
	assert.Equal(t, uint(27*8), f.Offset)

	f, ok = TCMCoreSchema.Field("egs_can_type")
	require.True(t, ok)
	assert.Equal(t, "EGS52", f.EnumName(2))
}
