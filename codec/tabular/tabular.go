// Package tabular implements the "tabular" codec: column-oriented record
// batches, CBOR-encoded. Each column is named and holds a homogeneous
// slice of scalar values; this covers the common case of small
// evaluation tables and feature frames bundled alongside a model.
package tabular

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/forestrie/go-verifiable-artifact/apperr"
)

// Name is the registry key for this codec.
const Name = "tabular"

// Table is a column-oriented record batch. All columns must have the
// same length; Codec.Serialize enforces this.
type Table struct {
	Columns []string         `cbor:"columns"`
	Rows    map[string][]any `cbor:"rows"`
}

// NumRows returns the row count, or 0 for an empty table.
func (t *Table) NumRows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Rows[t.Columns[0]])
}

// Codec implements codec.Codec for Table values.
type Codec struct{}

// New returns a ready-to-register tabular codec.
func New() Codec { return Codec{} }

func (Codec) Name() string { return Name }

func (Codec) Serialize(value any, sink io.Writer) error {
	t, ok := value.(*Table)
	if !ok {
		if v, ok := value.(Table); ok {
			t = &v
		} else {
			return fmt.Errorf("%w: tabular codec requires *tabular.Table, got %T", apperr.DecodeError, value)
		}
	}

	n := t.NumRows()
	for _, col := range t.Columns {
		if len(t.Rows[col]) != n {
			return fmt.Errorf("%w: tabular column %q has %d rows, want %d", apperr.DecodeError, col, len(t.Rows[col]), n)
		}
	}

	enc := cbor.NewEncoder(sink)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("%w: tabular encode: %v", apperr.DecodeError, err)
	}
	return nil
}

func (Codec) Deserialize(source io.Reader) (any, error) {
	data, err := io.ReadAll(source)
	if err != nil {
		return nil, fmt.Errorf("%w: tabular read: %v", apperr.DecodeError, err)
	}
	var t Table
	dec := cbor.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: tabular decode: %v", apperr.DecodeError, err)
	}
	if n := dec.NumBytesRead(); n != len(data) {
		return nil, fmt.Errorf("%w: tabular entry has %d trailing byte(s)", apperr.DecodeError, len(data)-n)
	}
	return &t, nil
}
