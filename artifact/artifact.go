// Package artifact declares the Composite Model Protocol: the minimal
// capability set a Go value must satisfy to be saved and loaded by this
// module. The core does not prescribe an object system (spec.md §4.7);
// it only requires a stable name, a declarative attribute map, a way to
// carve the value into a skeleton plus attribute blobs, and a way to
// reassemble it the other direction.
package artifact

// Declaration names the codec and entry a single declared attribute is
// serialized with.
type Declaration struct {
	Codec string
	Entry string
}

// Sentinel is the placeholder a skeleton carries in place of each
// declared attribute. It is ordinary data, never a back-reference, so
// the skeleton never forms a cycle with the live object.
type Sentinel struct {
	Attribute string `cbor:"attribute"`
	Codec     string `cbor:"codec"`
	Entry     string `cbor:"entry"`
}

// Model is the save-side capability set.
type Model interface {
	// Name is the artifact's stable identifier, carried in the manifest.
	Name() string

	// Attributes declares, for every attribute this Model wants carved
	// out into its own codec'd entry, the codec and entry name to use.
	// Every key here must be an attribute Attribute(name) can resolve.
	Attributes() map[string]Declaration

	// Skeleton returns a CBOR-encodable value holding every non-declared
	// field of the Model, with each declared attribute's current field
	// replaced by an artifact.Sentinel. Implementers typically return a
	// pointer to a struct that mirrors the Model's own shape.
	Skeleton() (any, error)

	// Attribute returns the current live value stored under name.
	Attribute(name string) (any, error)
}

// PostLoadHook is implemented by Models that need a hook run once
// binding completes and before the validation callback runs.
type PostLoadHook interface {
	PostLoad() error
}

// Validator is the mandatory validation callback: it raises on
// statistical or structural disagreement with the reconstituted
// artifact, e.g. by re-running the model against an embedded
// ground-truth attribute.
type Validator interface {
	Validate() error
}

// Loadable is the load-side capability set. A type satisfying Loadable
// can be populated by the load pipeline from a verified skeleton plus
// verified, individually-decoded attribute values.
type Loadable interface {
	Model
	Validator

	// NewSkeleton returns a pointer to a zero value of the same concrete
	// type Skeleton() would produce, giving the loader a schema-driven
	// decode target rather than an untyped blob.
	NewSkeleton() any

	// BindSkeleton installs a decoded skeleton (the same concrete value
	// NewSkeleton returned, now populated by the generic-object codec)
	// as the Model's non-attribute state, and returns the sentinel found
	// at each declared attribute position so the loader can cross-check
	// it against the manifest before trusting it.
	BindSkeleton(skeleton any) (map[string]Sentinel, error)

	// BindAttribute installs the decoded value for declared attribute
	// name, replacing its sentinel.
	BindAttribute(name string, value any) error
}

// Factory constructs a blank Loadable instance for the load pipeline to
// populate. Callers supply one per artifact type; the pipeline has no
// other way to know which concrete type a manifest's artifact_name maps
// to.
type Factory func() Loadable
