package kwp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, []byte{0x21, 0x20}, Encode(SIDReadDataByLocalIdentifier, []byte{0x20}))
	assert.Equal(t, []byte{0x3E}, Encode(SIDTesterPresent, nil))
}

func TestDecodeClassifiesFrames(t *testing.T) {
	req := Encode(SIDReadDataByLocalIdentifier, []byte{0x20})
	expect := Expectation{Echo: 1, Length: 3}

	cases := []struct {
		name  string
		frame []byte
		kind  Kind
	}{
		{"positive", []byte{0x61, 0x20, 0xAA, 0xBB}, KindPositive},
		{"pending", []byte{0x7F, 0x21, 0x78}, KindPending},
		{"negative", []byte{0x7F, 0x21, 0x22}, KindNegative},
		{"negative for other service", []byte{0x7F, 0x3B, 0x22}, KindUnrelated},
		{"truncated negative", []byte{0x7F, 0x21}, KindMalformed},
		{"short positive", []byte{0x61, 0x20, 0xAA}, KindMalformed},
		{"echo of another identifier", []byte{0x61, 0x21, 0xAA, 0xBB}, KindUnrelated},
		{"other positive", []byte{0x7E}, KindUnrelated},
		{"empty", nil, KindUnrelated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := Decode(req, tc.frame, expect)
			assert.Equal(t, tc.kind, resp.Kind, resp.Reason)
		})
	}
}

func TestDecodePositiveStripsSID(t *testing.T) {
	req := Encode(SIDReadDataByLocalIdentifier, []byte{0x20})
	resp := Decode(req, []byte{0x61, 0x20, 0x01, 0x02}, Expectation{Echo: 1})
	require.Equal(t, KindPositive, resp.Kind)
	assert.Equal(t, []byte{0x20, 0x01, 0x02}, resp.Data)
}

func TestDecodeNegativeCarriesCode(t *testing.T) {
	resp := Decode([]byte{0x3B, 0xFE}, []byte{0x7F, 0x3B, 0x31}, Expectation{})
	require.Equal(t, KindNegative, resp.Kind)
	assert.Equal(t, NRCRequestOutOfRange, resp.Code)
	assert.Equal(t, "0x31 requestOutOfRange", resp.Code.String())
}

func TestAnnotate(t *testing.T) {
	assert.Equal(t, "ReadDataByLocalIdentifier 0x20 (0 bytes)", Annotate([]byte{0x21, 0x20}))
	assert.Equal(t, "+ReadDataByLocalIdentifier 0x20 (2 bytes)", Annotate([]byte{0x61, 0x20, 0x01, 0x02}))
	assert.Equal(t, "NegativeResponse TesterPresent: 0x78 responsePending", Annotate([]byte{0x7F, 0x3E, 0x78}))
	assert.Equal(t, "+TesterPresent (0 bytes)", Annotate([]byte{0x7E}))
	assert.Equal(t, "empty", Annotate(nil))
}
