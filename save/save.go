// Package save implements the Save Pipeline: the ordered procedure that
// turns a live artifact.Model into a signed, authenticated archive.Bundle.
// Every attribute is serialized and authenticated independently before
// the skeleton is built, so a corrupt or oversized attribute never
// delays detection past its own entry.
package save

import (
	"crypto/rand"
	"fmt"
	"reflect"
	"time"

	"github.com/forestrie/go-verifiable-artifact/apperr"
	"github.com/forestrie/go-verifiable-artifact/archive"
	"github.com/forestrie/go-verifiable-artifact/artifact"
	"github.com/forestrie/go-verifiable-artifact/codec"
	"github.com/forestrie/go-verifiable-artifact/codec/generic"
	"github.com/forestrie/go-verifiable-artifact/internal/logger"
	"github.com/forestrie/go-verifiable-artifact/manifest"
	"github.com/forestrie/go-verifiable-artifact/sign"
	"github.com/forestrie/go-verifiable-artifact/stream"
)

// State is one stage of the Save Pipeline's one-way progression.
type State int

const (
	Idle State = iota
	Serializing
	Skeleton
	Signing
	Archiving
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Serializing:
		return "SERIALIZING"
	case Skeleton:
		return "SKELETON"
	case Signing:
		return "SIGNING"
	case Archiving:
		return "ARCHIVING"
	case Done:
		return "DONE"
	case Aborted:
		return "ABORTED"
	default:
		return "IDLE"
	}
}

// Config configures one Pipeline.
type Config struct {
	HMACAlgorithm stream.HMACAlgorithm
	KeyGen        func(size int) ([]byte, error)
}

// Pipeline runs the Save procedure against a codec Registry and a
// Signer, producing archive.Bundle values ready for a Sink.
type Pipeline struct {
	cfg      Config
	log      logger.Logger
	registry *codec.Registry
	signer   *sign.Signer
	state    State
	now      func() time.Time
}

// NewPipeline constructs a save Pipeline.
func NewPipeline(cfg Config, log logger.Logger, registry *codec.Registry, signer *sign.Signer) *Pipeline {
	if cfg.HMACAlgorithm == "" {
		cfg.HMACAlgorithm = stream.HMACSHA256
	}
	if cfg.KeyGen == nil {
		cfg.KeyGen = randomKey
	}
	return &Pipeline{
		cfg:      cfg,
		log:      log,
		registry: registry,
		signer:   signer,
		state:    Idle,
		now:      time.Now,
	}
}

// State reports the pipeline's current stage. A Pipeline is single-use;
// Save may only be called once per instance.
func (p *Pipeline) State() State { return p.state }

// Save runs the full nine-step save procedure against model and returns
// the resulting signed bundle.
func (p *Pipeline) Save(model artifact.Model) (*archive.Bundle, error) {
	if p.state != Idle {
		return nil, fmt.Errorf("%w: save pipeline already used, state %s", apperr.StateError, p.state)
	}

	bundle, err := p.run(model)
	if err != nil {
		p.state = Aborted
		p.log.Errorf("save pipeline aborted: %v", err)
		return nil, err
	}
	p.state = Done
	return bundle, nil
}

func (p *Pipeline) run(model artifact.Model) (*archive.Bundle, error) {
	declared := model.Attributes()

	key, err := p.cfg.KeyGen(32)
	if err != nil {
		return nil, fmt.Errorf("%w: generating archive hmac key: %v", apperr.IoError, err)
	}

	p.state = Serializing
	var blobs []archive.Blob
	builder := manifest.NewBuilder(model.Name(), key, p.cfg.HMACAlgorithm, p.now())

	for attrName, decl := range declared {
		value, err := model.Attribute(attrName)
		if err != nil {
			return nil, fmt.Errorf("%w: reading attribute %q: %v", apperr.ModelError, attrName, err)
		}
		c, err := p.registry.Lookup(decl.Codec)
		if err != nil {
			return nil, err
		}

		tag, data, err := serializeAuthenticated(c, value, key, p.cfg.HMACAlgorithm)
		if err != nil {
			return nil, fmt.Errorf("%w: serializing attribute %q: %v", apperr.DecodeError, attrName, err)
		}

		builder.AddAttributeEntry(decl.Entry, decl.Codec, attrName, tag)
		blobs = append(blobs, archive.Blob{Name: decl.Entry, Data: data})
		p.log.Debugf("serialized attribute %q via codec %q (%d bytes)", attrName, decl.Codec, len(data))
	}

	p.state = Skeleton
	skeleton, err := model.Skeleton()
	if err != nil {
		return nil, fmt.Errorf("%w: building skeleton: %v", apperr.ModelError, err)
	}
	if err := checkSentinels(skeleton, declared); err != nil {
		return nil, err
	}

	genericCodec := generic.New()
	skeletonTag, skeletonData, err := serializeAuthenticated(genericCodec, skeleton, key, p.cfg.HMACAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: serializing skeleton: %v", apperr.DecodeError, err)
	}
	const skeletonEntryName = "skeleton.bin"
	builder.AddSkeletonEntry(skeletonEntryName, generic.Name, skeletonTag)
	blobs = append(blobs, archive.Blob{Name: skeletonEntryName, Data: skeletonData})

	m, err := builder.Build()
	if err != nil {
		return nil, err
	}
	canonical, err := m.Canonical()
	if err != nil {
		return nil, err
	}

	p.state = Signing
	sig, err := p.signer.Sign(canonical)
	if err != nil {
		return nil, err
	}

	p.state = Archiving
	bundle := &archive.Bundle{
		Manifest:  canonical,
		Signature: sig,
		Entries:   blobs,
	}

	// HMAC key material lived only in this function's locals and in the
	// manifest; zero the local copy now that every entry has been tagged.
	for i := range key {
		key[i] = 0
	}

	return bundle, nil
}

// serializeAuthenticated runs a codec's output through a VerifiableStream
// so the returned tag covers exactly the bytes the codec produced.
func serializeAuthenticated(c codec.Codec, value any, key []byte, algo stream.HMACAlgorithm) ([]byte, []byte, error) {
	s, err := stream.NewStream(key, algo)
	if err != nil {
		return nil, nil, err
	}
	if err := c.Serialize(value, streamWriter{s}); err != nil {
		return nil, nil, err
	}
	tag := s.Finalize()
	data, err := s.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	return tag, data, nil
}

// streamWriter adapts *stream.Stream's Write to io.Writer without
// exposing Finalize/Read to codec implementations mid-write.
type streamWriter struct{ s *stream.Stream }

func (w streamWriter) Write(p []byte) (int, error) { return w.s.Write(p) }

// checkSentinels confirms the skeleton carries exactly one sentinel per
// declared attribute, so a Save never silently drops an attribute the
// caller declared.
func checkSentinels(skeleton any, declared map[string]artifact.Declaration) error {
	found := collectSentinels(skeleton)
	for attrName := range declared {
		if _, ok := found[attrName]; !ok {
			return fmt.Errorf("%w: skeleton has no sentinel for declared attribute %q", apperr.ModelError, attrName)
		}
	}
	return nil
}

// collectSentinels walks skeleton by reflection looking for
// artifact.Sentinel values, regardless of whether the skeleton is a
// struct, a map, or a slice of either.
func collectSentinels(skeleton any) map[string]artifact.Sentinel {
	out := make(map[string]artifact.Sentinel)
	walkSentinels(reflect.ValueOf(skeleton), out)
	return out
}

func walkSentinels(v reflect.Value, out map[string]artifact.Sentinel) {
	if !v.IsValid() {
		return
	}
	if v.Type() == reflect.TypeOf(artifact.Sentinel{}) {
		s := v.Interface().(artifact.Sentinel)
		out[s.Attribute] = s
		return
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if !v.IsNil() {
			walkSentinels(v.Elem(), out)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Field(i).CanInterface() {
				walkSentinels(v.Field(i), out)
			}
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			walkSentinels(v.MapIndex(key), out)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walkSentinels(v.Index(i), out)
		}
	}
}

func randomKey(size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: generating hmac key: %v", apperr.IoError, err)
	}
	return key, nil
}
