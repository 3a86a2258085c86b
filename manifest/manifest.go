// Package manifest builds, canonicalizes, parses and validates the
// Manifest record: the signed description of a saved artifact (signing
// itself is done by package sign). Canonical
// encoding uses canonicaljson-go so the bytes signed and the bytes
// verified are always byte-identical regardless of map iteration order.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"

	"github.com/forestrie/go-verifiable-artifact/apperr"
	"github.com/forestrie/go-verifiable-artifact/stream"
)

// CurrentFormatVersion is the format_version this build writes. A reader
// refuses any version it does not explicitly recognize.
const CurrentFormatVersion = 1

// Entry describes one authenticated blob in the archive.
type Entry struct {
	Name      string `json:"name"`
	Codec     string `json:"codec"`
	Attribute string `json:"attribute,omitempty"`
	Tag       []byte `json:"tag"`
}

// IsSkeleton reports whether this entry is the skeleton entry (the one
// entry with no declared attribute name).
func (e Entry) IsSkeleton() bool { return e.Attribute == "" }

// Manifest is the canonical, signable description of a saved artifact.
type Manifest struct {
	FormatVersion int                  `json:"format_version"`
	ArtifactName  string               `json:"artifact_name"`
	SkeletonEntry string               `json:"skeleton_entry"`
	HMACKey       []byte               `json:"hmac_key"`
	HMACAlgorithm stream.HMACAlgorithm `json:"hmac_algorithm"`
	Entries       []Entry              `json:"entries"`
	CreatedAt     time.Time            `json:"created_at"`
}

// Builder assembles a Manifest incrementally, enforcing the invariants
// from spec.md §4.3 at Build time rather than letting a malformed
// Manifest escape into the signer.
type Builder struct {
	artifactName  string
	skeletonEntry string
	hmacKey       []byte
	hmacAlgorithm stream.HMACAlgorithm
	entries       []Entry
	now           time.Time
}

// NewBuilder starts a Manifest build for the named artifact.
func NewBuilder(artifactName string, hmacKey []byte, algo stream.HMACAlgorithm, now time.Time) *Builder {
	return &Builder{
		artifactName:  artifactName,
		hmacKey:       hmacKey,
		hmacAlgorithm: algo,
		now:           now,
	}
}

// AddSkeletonEntry records the entry holding the codec'd skeleton.
func (b *Builder) AddSkeletonEntry(name, codecName string, tag []byte) {
	b.skeletonEntry = name
	b.entries = append(b.entries, Entry{Name: name, Codec: codecName, Tag: tag})
}

// AddAttributeEntry records one declared attribute's entry.
func (b *Builder) AddAttributeEntry(name, codecName, attribute string, tag []byte) {
	b.entries = append(b.entries, Entry{Name: name, Codec: codecName, Attribute: attribute, Tag: tag})
}

// Build validates and emits the Manifest. It enforces: exactly one
// skeleton entry, matching skeleton_entry; all other entries carry
// distinct non-empty attribute names; all entry names are unique.
func (b *Builder) Build() (*Manifest, error) {
	if b.skeletonEntry == "" {
		return nil, fmt.Errorf("%w: manifest has no skeleton entry", apperr.ManifestError)
	}

	seenNames := make(map[string]bool, len(b.entries))
	seenAttrs := make(map[string]bool, len(b.entries))
	skeletonCount := 0
	for _, e := range b.entries {
		if seenNames[e.Name] {
			return nil, fmt.Errorf("%w: duplicate entry name %q", apperr.ManifestError, e.Name)
		}
		seenNames[e.Name] = true

		if e.IsSkeleton() {
			skeletonCount++
			if e.Name != b.skeletonEntry {
				return nil, fmt.Errorf("%w: skeleton entry mismatch: %q vs declared %q", apperr.ManifestError, e.Name, b.skeletonEntry)
			}
			continue
		}
		if seenAttrs[e.Attribute] {
			return nil, fmt.Errorf("%w: duplicate attribute name %q", apperr.ManifestError, e.Attribute)
		}
		seenAttrs[e.Attribute] = true
	}
	if skeletonCount != 1 {
		return nil, fmt.Errorf("%w: expected exactly one skeleton entry, found %d", apperr.ManifestError, skeletonCount)
	}

	sorted := append([]Entry(nil), b.entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	return &Manifest{
		FormatVersion: CurrentFormatVersion,
		ArtifactName:  b.artifactName,
		SkeletonEntry: b.skeletonEntry,
		HMACKey:       b.hmacKey,
		HMACAlgorithm: b.hmacAlgorithm,
		Entries:       sorted,
		CreatedAt:     b.now,
	}, nil
}

// Canonical returns the byte-stable encoding signed and verified. Sorted
// keys and no insignificant whitespace are canonicaljson-go's job; the
// Entries slice is already sorted by name at Build time.
func (m *Manifest) Canonical() ([]byte, error) {
	b, err := canonicaljson.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest canonicalization: %v", apperr.ManifestError, err)
	}
	return b, nil
}

// Parse decodes canonical manifest bytes and validates format
// compatibility and the structural invariants Build enforces. Unknown
// top-level fields are rejected for forward-incompatible safety, per
// spec.md §4.3; ParseAllowUnknownFields exists for the explicit
// compatibility override.
func Parse(data []byte) (*Manifest, error) {
	return parse(data, false)
}

// ParseAllowUnknownFields is the explicit compatibility-flag override: it
// tolerates unrecognized top-level manifest fields instead of rejecting
// them outright.
func ParseAllowUnknownFields(data []byte) (*Manifest, error) {
	return parse(data, true)
}

func parse(data []byte, allowUnknownFields bool) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if !allowUnknownFields {
		dec.DisallowUnknownFields()
	}
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: manifest parse: %v", apperr.ManifestError, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate re-checks the structural invariants against an already
// constructed Manifest (used after Parse, since Parse bypasses Builder).
func (m *Manifest) Validate() error {
	if m.FormatVersion != CurrentFormatVersion {
		return fmt.Errorf("%w: unsupported format_version %d, this build supports %d", apperr.ManifestError, m.FormatVersion, CurrentFormatVersion)
	}
	if m.SkeletonEntry == "" {
		return fmt.Errorf("%w: manifest has no skeleton_entry", apperr.ManifestError)
	}

	seenNames := make(map[string]bool, len(m.Entries))
	seenAttrs := make(map[string]bool, len(m.Entries))
	skeletonCount := 0
	for _, e := range m.Entries {
		if seenNames[e.Name] {
			return fmt.Errorf("%w: duplicate entry name %q", apperr.ManifestError, e.Name)
		}
		seenNames[e.Name] = true

		if e.IsSkeleton() {
			skeletonCount++
			if e.Name != m.SkeletonEntry {
				return fmt.Errorf("%w: skeleton entry mismatch: %q vs declared %q", apperr.ManifestError, e.Name, m.SkeletonEntry)
			}
			continue
		}
		if seenAttrs[e.Attribute] {
			return fmt.Errorf("%w: duplicate attribute name %q", apperr.ManifestError, e.Attribute)
		}
		seenAttrs[e.Attribute] = true
	}
	if skeletonCount != 1 {
		return fmt.Errorf("%w: expected exactly one skeleton entry, found %d", apperr.ManifestError, skeletonCount)
	}
	return nil
}

// AttributeEntry returns the entry declared for attribute, if any.
func (m *Manifest) AttributeEntry(attribute string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Attribute == attribute {
			return e, true
		}
	}
	return Entry{}, false
}

// SkeletonEntryRecord returns the skeleton entry.
func (m *Manifest) SkeletonEntryRecord() (Entry, bool) {
	for _, e := range m.Entries {
		if e.IsSkeleton() {
			return e, true
		}
	}
	return Entry{}, false
}
