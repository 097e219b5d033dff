package diag

import (
	"context"
	"fmt"

	"tcu-diag/internal/kwp"
)

// EgsMode is the gearbox controller variant the TCU is emulating
type EgsMode uint16

const (
	EgsModeEGS51 EgsMode = 0x0251
	EgsModeEGS52 EgsMode = 0x0252
	EgsModeEGS53 EgsMode = 0x0253
)

func (m EgsMode) String() string {
	switch m {
	case EgsModeEGS51:
		return "EGS51"
	case EgsModeEGS52:
		return "EGS52"
	case EgsModeEGS53:
		return "EGS53"
	default:
		return fmt.Sprintf("Unknown(0x%04X)", uint16(m))
	}
}

// MarshalText implements encoding.TextMarshaler
func (m EgsMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Identification is the decoded Daimler identification record
type Identification struct {
	PartNumber string  `json:"part_number"`
	EgsMode    EgsMode `json:"egs_mode"`
	Board      string  `json:"board"`
	Supplier   uint8   `json:"supplier"`

	HardwareWeek int `json:"hw_week"`
	HardwareYear int `json:"hw_year"`
	SoftwareWeek int `json:"sw_week"`
	SoftwareYear int `json:"sw_year"`

	ProductionDay   int `json:"manf_day"`
	ProductionMonth int `json:"manf_month"`
	ProductionYear  int `json:"manf_year"`
}

// identification record length after the echoed 0x86
const identLength = 16

// ReadIdentification reads ReadECUIdentification 0x86
func (e *Executor) ReadIdentification(ctx context.Context) (*Identification, error) {
	req := NewRequest(kwp.SIDReadECUIdentification, []byte{kwp.IdentificationDaimler},
		kwp.Expectation{Echo: 1, Length: identLength + 1})
	data, err := e.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return parseIdentification(data[1:])
}

func parseIdentification(b []byte) (*Identification, error) {
	if len(b) != identLength {
		return nil, malformed(kwp.SIDReadECUIdentification, fmt.Sprintf("identification is %d bytes, want %d", len(b), identLength))
	}

	id := &Identification{
		PartNumber:      fmt.Sprintf("%X", b[0:5]),
		HardwareWeek:    bcd(b[5]),
		HardwareYear:    bcd(b[6]),
		SoftwareWeek:    bcd(b[7]),
		SoftwareYear:    bcd(b[8]),
		Supplier:        b[9],
		EgsMode:         EgsMode(uint16(b[10])<<8 | uint16(b[11])),
		ProductionYear:  bcd(b[13]),
		ProductionMonth: bcd(b[14]),
		ProductionDay:   bcd(b[15]),
	}
	id.Board = boardFromBuildDate(id.HardwareWeek, id.HardwareYear)
	return id, nil
}

func bcd(v byte) int {
	return 10*int(v>>4) + int(v&0x0F)
}

func boardFromBuildDate(week, year int) string {
	switch {
	case week == 49 && year == 21:
		return "V1.1"
	case week == 27 && year == 22:
		return "V1.2"
	case week == 49 && year == 22:
		return "V1.3"
	default:
		return "V_NDEF"
	}
}
