package firmware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() []byte {
	b := make([]byte, HeaderSize)
	copy(b, headerMagic)
	b[4] = 3
	copy(b[16:], "1.2.0")
	copy(b[48:], "ultimate-nag52")
	copy(b[80:], "12:30:00")
	copy(b[96:], "Mar 14 2023")
	copy(b[112:], "v4.4.4")
	for i := 144; i < 176; i++ {
		b[i] = 0xAB
	}
	return b
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader(testHeader())
	require.NoError(t, err)

	assert.Equal(t, uint32(3), h.SecureVersion)
	assert.Equal(t, "1.2.0", h.Version)
	assert.Equal(t, "ultimate-nag52", h.ProjectName)
	assert.Equal(t, "12:30:00", h.Time)
	assert.Equal(t, "Mar 14 2023", h.Date)
	assert.Equal(t, "v4.4.4", h.IDFVersion)
	assert.Len(t, h.ELFSHA256, 64)
	assert.Equal(t, "abab", h.ELFSHA256[:4])
}

func TestParseHeaderRejects(t *testing.T) {
	_, err := ParseHeader(testHeader()[:100])
	assert.ErrorIs(t, err, ErrInvalidImage)

	bad := testHeader()
	bad[0] = 0
	_, err = ParseHeader(bad)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestLoadImageFindsOffsetHeader(t *testing.T) {
	raw := append(make([]byte, 32), testHeader()...)
	raw = append(raw, 0xDE, 0xAD)

	img, err := LoadImage(raw)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", img.Header.Version)
	assert.Len(t, img.Raw, 32+HeaderSize+2)
}

func TestLoadImageRejects(t *testing.T) {
	tests := map[string][]byte{
		"empty":     nil,
		"no magic":  make([]byte, 1024),
		"too deep":  append(make([]byte, 51), testHeader()...),
		"truncated": testHeader()[:HeaderSize-1],
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadImage(raw)
			assert.ErrorIs(t, err, ErrInvalidImage)
		})
	}
}
