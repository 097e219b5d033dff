package models

import (
	"encoding/hex"
	"strings"
	"time"
)

// Direction tells whether a frame left the tester or arrived from the ECU
type Direction uint8

const (
	DirectionSent Direction = iota
	DirectionReceived
)

func (d Direction) String() string {
	if d == DirectionSent {
		return "sent"
	}
	return "received"
}

// MarshalText lets Direction appear as "sent"/"received" in JSON
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Frame is one diagnostic message unit as seen on the transport
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// Hex returns the frame payload as an uppercase hex string
func (f Frame) Hex() string {
	return hexUpper(f.Data)
}

func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
