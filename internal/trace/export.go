package trace

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"tcu-diag/internal/models"
)

// Export is the serialized form of a trace snapshot
type Export struct {
	Count   int                 `json:"count" cbor:"1,keyasint"`
	Total   uint64              `json:"total" cbor:"2,keyasint"`
	Entries []models.TraceEntry `json:"entries" cbor:"3,keyasint"`
}

var cborEnc = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// Export snapshots the recorder
func (r *Recorder) Export() Export {
	return r.export(r.Snapshot())
}

// ExportLast snapshots the newest n entries
func (r *Recorder) ExportLast(n int) Export {
	return r.export(r.Last(n))
}

func (r *Recorder) export(entries []models.TraceEntry) Export {
	return Export{Count: len(entries), Total: r.Total(), Entries: entries}
}

// WriteCBOR writes the export as a single CBOR item
func (x Export) WriteCBOR(w io.Writer) error {
	if err := cborEnc.NewEncoder(w).Encode(x); err != nil {
		return fmt.Errorf("trace: encode cbor: %w", err)
	}
	return nil
}

// ReadCBOR decodes an export produced by WriteCBOR
func ReadCBOR(rd io.Reader) (Export, error) {
	var e Export
	if err := cbor.NewDecoder(rd).Decode(&e); err != nil {
		return Export{}, fmt.Errorf("trace: decode cbor: %w", err)
	}
	return e, nil
}
