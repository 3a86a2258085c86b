// Package stream implements VerifiableStream: a byte sink/source that
// accumulates a keyed MAC over everything written to it, and that
// refuses to yield a single byte back to a reader until it has been
// finalized. This is the primitive the save and load pipelines build on
// to guarantee that no codec ever sees a byte before it is authenticated.
package stream

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/forestrie/go-verifiable-artifact/apperr"
)

// HMACAlgorithm names a keyed-hash construction. The manifest carries this
// name so a verifier recomputes with the same algorithm the writer used.
type HMACAlgorithm string

const (
	// HMACSHA256 is the only algorithm this build implements: HMAC over
	// SHA-256, a 32-byte tag.
	HMACSHA256 HMACAlgorithm = "HMAC-SHA256"
)

var (
	// ErrUnknownAlgorithm is returned by NewStream for an HMACAlgorithm
	// this build does not implement.
	ErrUnknownAlgorithm = errors.New("stream: unknown hmac algorithm")
)

func newMAC(algo HMACAlgorithm, key []byte) (hash.Hash, error) {
	switch algo {
	case HMACSHA256:
		return hmac.New(sha256.New, key), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
}

// State is one of the two VerifiableStream states.
type State int

const (
	// Open accepts writes and rejects reads.
	Open State = iota
	// Finalized rejects writes and accepts replayable reads.
	Finalized
)

func (s State) String() string {
	if s == Finalized {
		return "FINALIZED"
	}
	return "OPEN"
}

// Stream is a single-writer-then-single-reader authenticated byte
// container. Zero value is not usable; construct with NewStream.
type Stream struct {
	algo  HMACAlgorithm
	mac   hash.Hash
	buf   []byte
	tag   []byte
	state State
	off   int
}

// NewStream constructs a Stream in the Open state, keyed with key and
// authenticating with algo.
func NewStream(key []byte, algo HMACAlgorithm) (*Stream, error) {
	mac, err := newMAC(algo, key)
	if err != nil {
		return nil, err
	}
	return &Stream{algo: algo, mac: mac, state: Open}, nil
}

// Write appends p to the backing buffer and to the running MAC. Legal
// only while Open; a zero-length write is legal and a no-op on the MAC
// but still succeeds.
func (s *Stream) Write(p []byte) (int, error) {
	if s.state != Open {
		return 0, fmt.Errorf("%w: write on %s stream", apperr.StateError, s.state)
	}
	if len(p) == 0 {
		return 0, nil
	}
	s.mac.Write(p)
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Finalize transitions Open -> Finalized and returns the authentication
// tag. It is idempotent: a second call returns the same tag without
// mutating state further.
func (s *Stream) Finalize() []byte {
	if s.state == Finalized {
		return s.tag
	}
	s.tag = s.mac.Sum(nil)
	s.state = Finalized
	return s.tag
}

// State reports the current state.
func (s *Stream) State() State { return s.state }

// Len reports the number of bytes written so far (or, once finalized,
// the total entry length).
func (s *Stream) Len() int { return len(s.buf) }

// Read fills p from the stored bytes starting at the current read
// cursor, like io.Reader. Legal only once Finalized. Reads past the end
// of the stored bytes return io.EOF, not an error distinct from normal
// end-of-stream.
func (s *Stream) Read(p []byte) (int, error) {
	if s.state != Finalized {
		return 0, fmt.Errorf("%w: read on %s stream", apperr.StateError, s.state)
	}
	if s.off >= len(s.buf) {
		return 0, io.EOF
	}
	n := copy(p, s.buf[s.off:])
	s.off += n
	return n, nil
}

// ReadAll returns a copy of every byte written to the stream, replayed
// from offset 0. It does not disturb the Read cursor used by Read.
func (s *Stream) ReadAll() ([]byte, error) {
	if s.state != Finalized {
		return nil, fmt.Errorf("%w: read on %s stream", apperr.StateError, s.state)
	}
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

// Seek resets the read cursor to the given absolute offset. Legal only
// once Finalized.
func (s *Stream) Seek(offset int) error {
	if s.state != Finalized {
		return fmt.Errorf("%w: seek on %s stream", apperr.StateError, s.state)
	}
	if offset < 0 || offset > len(s.buf) {
		return fmt.Errorf("stream: seek offset %d out of range [0,%d]", offset, len(s.buf))
	}
	s.off = offset
	return nil
}

// VerifyAgainst reports, in constant time, whether the finalized tag
// equals expected. Legal only once Finalized.
func (s *Stream) VerifyAgainst(expected []byte) (bool, error) {
	if s.state != Finalized {
		return false, fmt.Errorf("%w: verify on %s stream", apperr.StateError, s.state)
	}
	return hmac.Equal(s.tag, expected), nil
}
