package models

import "time"

// TraceEntry is one frame captured by the trace recorder
type TraceEntry struct {
	Seq        uint64    `json:"seq" cbor:"1,keyasint"`
	Timestamp  time.Time `json:"timestamp" cbor:"2,keyasint"`
	Direction  Direction `json:"direction" cbor:"3,keyasint"`
	Data       []byte    `json:"data" cbor:"4,keyasint"`
	Annotation string    `json:"annotation" cbor:"5,keyasint"`
}

// TraceEntryResponse represents a trace entry in API responses
type TraceEntryResponse struct {
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	Direction  string    `json:"direction"`
	DataHex    string    `json:"data_hex"`
	Length     int       `json:"length"`
	Annotation string    `json:"annotation"`
}

// Response converts the entry to its API shape
func (e TraceEntry) Response() TraceEntryResponse {
	return TraceEntryResponse{
		Seq:        e.Seq,
		Timestamp:  e.Timestamp,
		Direction:  e.Direction.String(),
		DataHex:    hexUpper(e.Data),
		Length:     len(e.Data),
		Annotation: e.Annotation,
	}
}

// ArchivedTraceEntry is a trace entry read back from the archive
type ArchivedTraceEntry struct {
	RunID string `json:"run_id"`
	TraceEntryResponse
}

// TraceQuery filters archived trace entries
type TraceQuery struct {
	RunID     string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
