// Package load implements the Load Pipeline: the procedure that turns a
// signed archive.Bundle back into a live artifact.Loadable. Its defining
// property is ordering, not speed: the manifest signature is checked
// before anything else touches the bundle, every entry's HMAC tag is
// checked before its bytes are decoded, and the skeleton is decoded and
// cross-checked against declared attributes before any attribute codec
// runs. No step here may be reordered without breaking the
// verify-before-decode guarantee the whole package exists to provide.
package load

import (
	"bytes"
	"fmt"

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

// State is one stage of the Load Pipeline's one-way progression.
type State int

const (
	Idle State = iota
	VerifyingSignature
	ParsingManifest
	VerifyingEntries
	DecodingSkeleton
	BindingAttributes
	PostLoad
	Validating
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case VerifyingSignature:
		return "VERIFYING_SIGNATURE"
	case ParsingManifest:
		return "PARSING_MANIFEST"
	case VerifyingEntries:
		return "VERIFYING_ENTRIES"
	case DecodingSkeleton:
		return "DECODING_SKELETON"
	case BindingAttributes:
		return "BINDING_ATTRIBUTES"
	case PostLoad:
		return "POST_LOAD"
	case Validating:
		return "VALIDATING"
	case Done:
		return "DONE"
	case Aborted:
		return "ABORTED"
	default:
		return "IDLE"
	}
}

// Pipeline runs the Load procedure against a codec Registry and a
// Verifier, reconstituting a artifact.Loadable from a signed bundle.
type Pipeline struct {
	registry *codec.Registry
	verifier *sign.Verifier
	log      logger.Logger
	state    State
}

// NewPipeline constructs a load Pipeline.
func NewPipeline(log logger.Logger, registry *codec.Registry, verifier *sign.Verifier) *Pipeline {
	return &Pipeline{registry: registry, verifier: verifier, log: log, state: Idle}
}

// State reports the pipeline's current stage. A Pipeline is single-use;
// Load may only be called once per instance.
func (p *Pipeline) State() State { return p.state }

// Load runs the full load procedure against bundle, populating a fresh
// instance from factory.
func (p *Pipeline) Load(bundle *archive.Bundle, factory artifact.Factory) (artifact.Loadable, error) {
	if p.state != Idle {
		return nil, fmt.Errorf("%w: load pipeline already used, state %s", apperr.StateError, p.state)
	}

	model, err := p.run(bundle, factory)
	if err != nil {
		p.state = Aborted
		p.log.Errorf("load pipeline aborted: %v", err)
		return nil, err
	}
	p.state = Done
	return model, nil
}

func (p *Pipeline) run(bundle *archive.Bundle, factory artifact.Factory) (artifact.Loadable, error) {
	p.state = VerifyingSignature
	if err := p.verifier.CheckManifest(bundle.Manifest, bundle.Signature); err != nil {
		return nil, err
	}
	p.log.Debugf("manifest signature verified")

	p.state = ParsingManifest
	m, err := manifest.Parse(bundle.Manifest)
	if err != nil {
		return nil, err
	}

	p.state = VerifyingEntries
	verified, err := VerifyEntries(m, bundle)
	if err != nil {
		return nil, err
	}
	p.log.Debugf("verified %d entries against manifest tags", len(verified))

	p.state = DecodingSkeleton
	model := factory()
	skeletonEntry, ok := m.SkeletonEntryRecord()
	if !ok {
		return nil, fmt.Errorf("%w: manifest has no skeleton entry", apperr.ManifestError)
	}
	skeletonData, ok := verified[skeletonEntry.Name]
	if !ok {
		return nil, fmt.Errorf("%w: skeleton entry %q missing from archive", apperr.IntegrityError, skeletonEntry.Name)
	}

	skeleton := model.NewSkeleton()
	genericCodec := generic.New()
	if err := genericCodec.DeserializeInto(bytes.NewReader(skeletonData), skeleton); err != nil {
		return nil, err
	}

	sentinels, err := model.BindSkeleton(skeleton)
	if err != nil {
		return nil, fmt.Errorf("%w: binding skeleton: %v", apperr.ModelError, err)
	}

	p.state = BindingAttributes
	declared := model.Attributes()
	type pending struct {
		attribute, codec string
		data             []byte
	}
	toBind := make([]pending, 0, len(declared))
	for attrName, decl := range declared {
		entry, ok := m.AttributeEntry(attrName)
		if !ok {
			return nil, fmt.Errorf("%w: manifest has no entry for declared attribute %q", apperr.IntegrityError, attrName)
		}
		if entry.Codec != decl.Codec {
			return nil, fmt.Errorf("%w: attribute %q declares codec %q but manifest says %q", apperr.IntegrityError, attrName, decl.Codec, entry.Codec)
		}

		sentinel, ok := sentinels[attrName]
		if !ok {
			return nil, fmt.Errorf("%w: skeleton has no sentinel for declared attribute %q", apperr.IntegrityError, attrName)
		}
		if sentinel.Entry != entry.Name || sentinel.Codec != entry.Codec || sentinel.Attribute != attrName {
			return nil, fmt.Errorf("%w: sentinel for attribute %q disagrees with manifest entry", apperr.IntegrityError, attrName)
		}

		data, ok := verified[entry.Name]
		if !ok {
			return nil, fmt.Errorf("%w: attribute entry %q missing from archive", apperr.IntegrityError, entry.Name)
		}
		toBind = append(toBind, pending{attribute: attrName, codec: entry.Codec, data: data})
	}

	for _, b := range toBind {
		c, err := p.registry.Lookup(b.codec)
		if err != nil {
			return nil, err
		}
		value, err := c.Deserialize(bytes.NewReader(b.data))
		if err != nil {
			return nil, err
		}
		if err := model.BindAttribute(b.attribute, value); err != nil {
			return nil, fmt.Errorf("%w: binding attribute %q: %v", apperr.ModelError, b.attribute, err)
		}
	}

	if hook, ok := model.(artifact.PostLoadHook); ok {
		p.state = PostLoad
		if err := hook.PostLoad(); err != nil {
			return nil, fmt.Errorf("%w: post-load hook: %v", apperr.ValidationError, err)
		}
	}

	p.state = Validating
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ValidationError, err)
	}

	return model, nil
}

// VerifyEntries recomputes each manifest entry's HMAC tag over the
// matching archive blob, in manifest order, before any entry's bytes are
// handed to a codec. Exported so callers that only need the
// verify-before-decode guarantee (e.g. an integrity-check CLI command)
// don't need to run the rest of the pipeline.
func VerifyEntries(m *manifest.Manifest, bundle *archive.Bundle) (map[string][]byte, error) {
	known := make(map[string]struct{}, len(m.Entries))
	out := make(map[string][]byte, len(m.Entries))
	for _, e := range m.Entries {
		known[e.Name] = struct{}{}

		data, ok := bundle.EntryData(e.Name)
		if !ok {
			return nil, fmt.Errorf("%w: manifest entry %q missing from archive", apperr.IntegrityError, e.Name)
		}

		s, err := stream.NewStream(m.HMACKey, m.HMACAlgorithm)
		if err != nil {
			return nil, err
		}
		if _, err := s.Write(data); err != nil {
			return nil, err
		}
		s.Finalize()
		ok, err = s.VerifyAgainst(e.Tag)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: entry %q failed hmac verification", apperr.IntegrityError, e.Name)
		}
		out[e.Name] = data
	}

	for _, blob := range bundle.Entries {
		if blob.Name == archive.ManifestBlobName || blob.Name == archive.SignatureBlobName {
			continue
		}
		if _, ok := known[blob.Name]; !ok {
			return nil, fmt.Errorf("%w: archive entry %q absent from manifest", apperr.IntegrityError, blob.Name)
		}
	}

	return out, nil
}
