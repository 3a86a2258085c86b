// Package kvtext implements the "text-structured" codec: line-oriented
// key=value text, for small human-diffable side-artifacts such as label
// maps or tokenizer vocabulary fragments bundled with a model.
package kvtext

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/forestrie/go-verifiable-artifact/apperr"
)

// Name is the registry key for this codec.
const Name = "text-structured"

// Codec implements codec.Codec for map[string]string values.
type Codec struct{}

// New returns a ready-to-register kvtext codec.
func New() Codec { return Codec{} }

func (Codec) Name() string { return Name }

// Serialize writes one "key=value\n" line per map entry, sorted by key
// so the byte stream (and therefore the tag) is stable across runs with
// the same content.
func (Codec) Serialize(value any, sink io.Writer) error {
	m, ok := value.(map[string]string)
	if !ok {
		return fmt.Errorf("%w: text-structured codec requires map[string]string, got %T", apperr.DecodeError, value)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.ContainsAny(k, "=\n") {
			return fmt.Errorf("%w: text-structured key %q contains '=' or newline", apperr.DecodeError, k)
		}
		if strings.Contains(m[k], "\n") {
			return fmt.Errorf("%w: text-structured value for key %q contains a newline", apperr.DecodeError, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := bufio.NewWriter(sink)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s=%s\n", k, m[k]); err != nil {
			return fmt.Errorf("%w: text-structured write: %v", apperr.DecodeError, err)
		}
	}
	return w.Flush()
}

func (Codec) Deserialize(source io.Reader) (any, error) {
	data, err := io.ReadAll(source)
	if err != nil {
		return nil, fmt.Errorf("%w: text-structured read: %v", apperr.DecodeError, err)
	}

	out := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, fmt.Errorf("%w: text-structured line %q is missing '='", apperr.DecodeError, line)
		}
		out[line[:idx]] = line[idx+1:]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: text-structured scan: %v", apperr.DecodeError, err)
	}
	return out, nil
}
