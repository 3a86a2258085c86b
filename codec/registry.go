package codec

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/forestrie/go-verifiable-artifact/apperr"
)

// Registry is a process-scoped name -> Codec mapping. Registration is
// expected at process start; the registry freezes on first use by a save
// or load pipeline, after which Register fails fast.
type Registry struct {
	mu     sync.Mutex
	codecs map[string]Codec
	frozen atomic.Bool
}

// NewRegistry returns an empty, unfrozen Registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// Register adds codec under its own Name(). Fails with ConfigError if the
// registry is frozen or the name is already registered.
func (r *Registry) Register(c Codec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return fmt.Errorf("%w: registry is frozen, cannot register %q", apperr.ConfigError, c.Name())
	}
	if _, exists := r.codecs[c.Name()]; exists {
		return fmt.Errorf("%w: codec %q already registered", apperr.ConfigError, c.Name())
	}
	r.codecs[c.Name()] = c
	return nil
}

// Freeze marks the registry immutable to further Register calls. Safe to
// call more than once.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup resolves name to a Codec, freezing the registry as a side
// effect (per spec: the registry freezes on first save or load use).
func (r *Registry) Lookup(name string) (Codec, error) {
	r.Freeze()
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: no codec registered under name %q", apperr.ManifestError, name)
	}
	return c, nil
}

// Names returns the registered codec names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		out = append(out, name)
	}
	return out
}
