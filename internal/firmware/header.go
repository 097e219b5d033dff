// Package firmware reads the application header embedded in TCU images.
package firmware

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// HeaderSize is the length of the application header
const HeaderSize = 256

// the header is found within this many bytes of the image start
const maxHeaderOffset = 50

var headerMagic = []byte{0x32, 0x54, 0xCD, 0xAB}

// ErrInvalidImage is returned for images without a readable header
var ErrInvalidImage = errors.New("firmware: invalid image")

// Header describes a firmware build
type Header struct {
	SecureVersion uint32 `json:"secure_version"`
	Version       string `json:"version"`
	ProjectName   string `json:"project_name"`
	Time          string `json:"time"`
	Date          string `json:"date"`
	IDFVersion    string `json:"idf_version"`
	ELFSHA256     string `json:"elf_sha256"`
}

// ParseHeader decodes a header from exactly HeaderSize bytes
func ParseHeader(b []byte) (*Header, error) {
	if len(b) != HeaderSize {
		return nil, fmt.Errorf("%w: header is %d bytes, want %d", ErrInvalidImage, len(b), HeaderSize)
	}
	if !bytes.Equal(b[:4], headerMagic) {
		return nil, fmt.Errorf("%w: bad header magic % X", ErrInvalidImage, b[:4])
	}
	return &Header{
		SecureVersion: binary.LittleEndian.Uint32(b[4:8]),
		Version:       cstring(b[16:48]),
		ProjectName:   cstring(b[48:80]),
		Time:          cstring(b[80:96]),
		Date:          cstring(b[96:112]),
		IDFVersion:    cstring(b[112:144]),
		ELFSHA256:     hex.EncodeToString(b[144:176]),
	}, nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Image is a firmware binary ready to flash
type Image struct {
	Raw    []byte
	Header *Header
}

// LoadImage locates and decodes the header of a raw image
func LoadImage(raw []byte) (*Image, error) {
	for off := 0; off <= maxHeaderOffset && off+len(headerMagic) <= len(raw); off++ {
		if !bytes.Equal(raw[off:off+len(headerMagic)], headerMagic) {
			continue
		}
		if len(raw)-off < HeaderSize {
			break
		}
		h, err := ParseHeader(raw[off : off+HeaderSize])
		if err != nil {
			return nil, err
		}
		return &Image{Raw: raw, Header: h}, nil
	}
	return nil, fmt.Errorf("%w: no header in the first %d bytes", ErrInvalidImage, maxHeaderOffset)
}
