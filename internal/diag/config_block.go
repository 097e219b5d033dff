package diag

import (
	"context"

	"tcu-diag/internal/kwp"
	"tcu-diag/internal/scn"
)

// ReadConfigBlock reads the block at local identifier id and decodes it.
// A block of the wrong length fails with scn.ErrSizeMismatch.
func (e *Executor) ReadConfigBlock(ctx context.Context, id uint8, schema *scn.Schema) (scn.Values, error) {
	req := NewRequest(kwp.SIDReadDataByLocalIdentifier, []byte{id}, kwp.Expectation{Echo: 1})
	data, err := e.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return scn.Decode(schema, data[1:])
}

// WriteConfigBlock validates and encodes values, then writes the block.
// Nothing is sent when validation fails.
func (e *Executor) WriteConfigBlock(ctx context.Context, id uint8, schema *scn.Schema, values scn.Values) error {
	block, err := scn.Encode(schema, values)
	if err != nil {
		return err
	}

	params := make([]byte, 0, len(block)+1)
	params = append(params, id)
	params = append(params, block...)

	req := NewRequest(kwp.SIDWriteDataByLocalIdentifier, params, kwp.Expectation{Echo: 1, Length: 1})
	_, err = e.Do(ctx, req)
	return err
}
