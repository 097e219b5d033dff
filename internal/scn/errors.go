package scn

import (
	"errors"
	"fmt"
)

// ErrSizeMismatch matches every *SizeMismatchError
var ErrSizeMismatch = errors.New("scn: block size mismatch")

// SizeMismatchError reports a block whose length differs from the schema
type SizeMismatchError struct {
	Schema string
	Want   int
	Got    int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("scn: %s block is %d bytes, want %d", e.Schema, e.Got, e.Want)
}

func (e *SizeMismatchError) Is(target error) bool {
	return target == ErrSizeMismatch
}

// ValidationError names the field that rejected a value before encoding
type ValidationError struct {
	Field  string
	Value  int64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scn: field %q: %s", e.Field, e.Reason)
}
