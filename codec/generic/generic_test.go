package generic

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-verifiable-artifact/apperr"
)

type sample struct {
	A string `cbor:"a"`
	B int64  `cbor:"b"`
}

func TestRoundTripStruct(t *testing.T) {
	c := New()
	var buf bytes.Buffer
	in := sample{A: "hi", B: 42}
	require.NoError(t, c.Serialize(in, &buf))

	var out sample
	require.NoError(t, c.DeserializeInto(&buf, &out))
	require.Equal(t, in, out)
}

func TestRoundTripMap(t *testing.T) {
	c := New()
	var buf bytes.Buffer
	in := map[string]any{"x": int64(1), "y": "z"}
	require.NoError(t, c.Serialize(in, &buf))

	v, err := c.Deserialize(&buf)
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "z", m["y"])
}

func TestTrailingBytesFailWithDecodeError(t *testing.T) {
	c := New()
	var buf bytes.Buffer
	require.NoError(t, cbor.NewEncoder(&buf).Encode(sample{A: "hi", B: 1}))
	buf.Write([]byte{0xFF, 0xFF})

	var out sample
	err := c.DeserializeInto(&buf, &out)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.DecodeError))
}
