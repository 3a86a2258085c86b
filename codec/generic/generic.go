// Package generic implements the "generic-object" codec: a schema-driven
// CBOR encoding used both for plain struct-shaped attributes and for the
// skeleton entry. CBOR is chosen per the design note in spec.md §9: it
// decodes only into predeclared Go types (maps, slices, scalars, or a
// caller-supplied destination struct), never into arbitrary constructed
// types the way a native object-pickle format would.
package generic

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/forestrie/go-verifiable-artifact/apperr"
)

// Name is the registry key for this codec.
const Name = "generic-object"

// Codec encodes/decodes any CBOR-marshalable Go value. Serialize accepts
// the value as-is; Deserialize decodes into a new map[string]any unless
// the caller supplies a destination via DeserializeInto.
type Codec struct{}

// New returns a ready-to-register generic-object codec.
func New() Codec { return Codec{} }

func (Codec) Name() string { return Name }

func (Codec) Serialize(value any, sink io.Writer) error {
	enc := cbor.NewEncoder(sink)
	if err := enc.Encode(value); err != nil {
		return fmt.Errorf("%w: generic-object encode: %v", apperr.DecodeError, err)
	}
	return nil
}

// Deserialize decodes the entire source into a map[string]any, failing
// with DecodeError if any bytes remain after the first well-formed CBOR
// value (spec.md §4.2: "trailing bytes indicate a corrupt entry").
func (c Codec) Deserialize(source io.Reader) (any, error) {
	var v map[string]any
	if _, err := c.decodeExact(source, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DeserializeInto decodes the entire source into dst, a pointer to the
// caller's schema-driven destination type (typically the Loadable's
// skeleton struct), failing with DecodeError on trailing bytes.
func (c Codec) DeserializeInto(source io.Reader, dst any) error {
	_, err := c.decodeExact(source, dst)
	return err
}

func (Codec) decodeExact(source io.Reader, dst any) (int, error) {
	data, err := io.ReadAll(source)
	if err != nil {
		return 0, fmt.Errorf("%w: generic-object read: %v", apperr.DecodeError, err)
	}
	dec := cbor.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(dst); err != nil {
		return 0, fmt.Errorf("%w: generic-object decode: %v", apperr.DecodeError, err)
	}
	n := dec.NumBytesRead()
	if n != len(data) {
		return n, fmt.Errorf("%w: generic-object entry has %d trailing byte(s)", apperr.DecodeError, len(data)-n)
	}
	return n, nil
}
