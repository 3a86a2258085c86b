// Package tensor implements the "tensor" codec: a dense float64
// n-dimensional array encoded as a small header followed by fixed-width
// entries. The fixed-width entry layout is grounded on the teacher's
// log-format convention of a uniform ValueBytes-width record (see
// logformat.go) so a stream's length alone bounds its rank and element
// count without needing to decode the payload first.
package tensor

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/forestrie/go-verifiable-artifact/apperr"
)

// Name is the registry key for this codec.
const Name = "tensor"

// ValueBytes is the fixed width of every element: an IEEE-754 float64.
const ValueBytes = 8

// Tensor is a dense, row-major, float64 n-dimensional array.
type Tensor struct {
	Shape []int
	Data  []float64
}

// Codec implements codec.Codec for Tensor values.
type Codec struct{}

// New returns a ready-to-register tensor codec.
func New() Codec { return Codec{} }

func (Codec) Name() string { return Name }

// Serialize writes: uint32 rank, rank*uint32 dims, then
// len(Data)*ValueBytes bytes of little-endian float64 elements.
func (Codec) Serialize(value any, sink io.Writer) error {
	t, ok := value.(*Tensor)
	if !ok {
		if v, ok := value.(Tensor); ok {
			t = &v
		} else {
			return fmt.Errorf("%w: tensor codec requires *tensor.Tensor, got %T", apperr.DecodeError, value)
		}
	}

	want := 1
	for _, d := range t.Shape {
		want *= d
	}
	if want != len(t.Data) {
		return fmt.Errorf("%w: tensor shape %v implies %d elements, got %d", apperr.DecodeError, t.Shape, want, len(t.Data))
	}

	header := make([]byte, 4+4*len(t.Shape))
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(t.Shape)))
	for i, d := range t.Shape {
		binary.LittleEndian.PutUint32(header[4+4*i:8+4*i], uint32(d))
	}
	if _, err := sink.Write(header); err != nil {
		return fmt.Errorf("%w: tensor header write: %v", apperr.DecodeError, err)
	}

	buf := make([]byte, ValueBytes*len(t.Data))
	for i, f := range t.Data {
		binary.LittleEndian.PutUint64(buf[i*ValueBytes:(i+1)*ValueBytes], math.Float64bits(f))
	}
	if _, err := sink.Write(buf); err != nil {
		return fmt.Errorf("%w: tensor data write: %v", apperr.DecodeError, err)
	}
	return nil
}

func (Codec) Deserialize(source io.Reader) (any, error) {
	data, err := io.ReadAll(source)
	if err != nil {
		return nil, fmt.Errorf("%w: tensor read: %v", apperr.DecodeError, err)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: tensor entry shorter than header", apperr.DecodeError)
	}
	rank := int(binary.LittleEndian.Uint32(data[0:4]))
	headerLen := 4 + 4*rank
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: tensor entry too short for declared rank %d", apperr.DecodeError, rank)
	}

	shape := make([]int, rank)
	want := 1
	for i := 0; i < rank; i++ {
		d := int(binary.LittleEndian.Uint32(data[4+4*i : 8+4*i]))
		shape[i] = d
		want *= d
	}

	payload := data[headerLen:]
	if len(payload) != want*ValueBytes {
		return nil, fmt.Errorf("%w: tensor entry has %d trailing/missing byte(s) for shape %v", apperr.DecodeError, len(payload)-want*ValueBytes, shape)
	}

	out := make([]float64, want)
	for i := range out {
		bits := binary.LittleEndian.Uint64(payload[i*ValueBytes : (i+1)*ValueBytes])
		out[i] = math.Float64frombits(bits)
	}
	return &Tensor{Shape: shape, Data: out}, nil
}

