package save

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/forestrie/go-verifiable-artifact/apperr"
	"github.com/forestrie/go-verifiable-artifact/artifact"
	"github.com/forestrie/go-verifiable-artifact/codec"
	"github.com/forestrie/go-verifiable-artifact/codec/generic"
	"github.com/forestrie/go-verifiable-artifact/codec/tensor"
	"github.com/forestrie/go-verifiable-artifact/internal/logger"
	"github.com/forestrie/go-verifiable-artifact/manifest"
	"github.com/forestrie/go-verifiable-artifact/sign"
)

// greeterSkeleton is the non-attribute state of testModel, with a
// Sentinel standing in for the classifier attribute.
type greeterSkeleton struct {
	Greeting   string            `cbor:"greeting"`
	Classifier artifact.Sentinel `cbor:"classifier"`
}

// testModel is a minimal artifact.Loadable used by the save tests (the
// load tests declare their own copy): one declared "classifier" tensor attribute plus an undeclared
// greeting string carried in the skeleton.
type testModel struct {
	greeting   string
	classifier *tensor.Tensor
}

func (m *testModel) Name() string { return "greeter-v1" }

func (m *testModel) Attributes() map[string]artifact.Declaration {
	return map[string]artifact.Declaration{
		"classifier": {Codec: tensor.Name, Entry: "classifier.bin"},
	}
}

func (m *testModel) Skeleton() (any, error) {
	return &greeterSkeleton{
		Greeting:   m.greeting,
		Classifier: artifact.Sentinel{Attribute: "classifier", Codec: tensor.Name, Entry: "classifier.bin"},
	}, nil
}

func (m *testModel) Attribute(name string) (any, error) {
	if name == "classifier" {
		return *m.classifier, nil
	}
	return nil, apperr.ModelError
}

func (m *testModel) NewSkeleton() any { return &greeterSkeleton{} }

func (m *testModel) BindSkeleton(skeleton any) (map[string]artifact.Sentinel, error) {
	sk, ok := skeleton.(*greeterSkeleton)
	if !ok {
		return nil, apperr.ModelError
	}
	m.greeting = sk.Greeting
	return map[string]artifact.Sentinel{"classifier": sk.Classifier}, nil
}

func (m *testModel) BindAttribute(name string, value any) error {
	if name != "classifier" {
		return apperr.ModelError
	}
	t, ok := value.(*tensor.Tensor)
	if !ok {
		return apperr.ModelError
	}
	m.classifier = t
	return nil
}

func (m *testModel) Validate() error {
	if m.greeting == "" {
		return apperr.ValidationError
	}
	return nil
}

func newTestModel() *testModel {
	return &testModel{
		greeting:   "hello",
		classifier: &tensor.Tensor{Shape: []int{2}, Data: []float64{1, 2}},
	}
}

func testRegistry() *codec.Registry {
	r := codec.NewRegistry()
	_ = r.Register(generic.New())
	_ = r.Register(tensor.New())
	return r
}

func newTestSigner(t *testing.T) *sign.Signer {
	t.Helper()
	entity, err := openpgp.NewEntity("save-pipeline-test", "", "save@example.test", nil)
	require.NoError(t, err)
	for _, id := range entity.Identities {
		require.NoError(t, id.SelfSignature.SignUserId(id.UserId.Id, entity.PrimaryKey, entity.PrivateKey, nil))
	}

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())

	signer, err := sign.NewSigner(bytes.NewReader(buf.Bytes()), nil)
	require.NoError(t, err)
	return signer
}

func TestSaveProducesVerifiableBundle(t *testing.T) {
	signer := newTestSigner(t)
	pipeline := NewPipeline(Config{}, logger.New("NOOP"), testRegistry(), signer)

	bundle, err := pipeline.Save(newTestModel())
	require.NoError(t, err)
	require.Equal(t, Done, pipeline.State())

	m, err := manifest.Parse(bundle.Manifest)
	require.NoError(t, err)
	require.Len(t, m.Entries, 2)

	_, ok := bundle.EntryData("classifier.bin")
	require.True(t, ok)
	_, ok = bundle.EntryData("skeleton.bin")
	require.True(t, ok)
}

func TestSaveFailsWhenSkeletonOmitsDeclaredSentinel(t *testing.T) {
	signer := newTestSigner(t)
	pipeline := NewPipeline(Config{}, logger.New("NOOP"), testRegistry(), signer)

	model := &brokenSkeletonModel{testModel: newTestModel()}
	_, err := pipeline.Save(model)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.ModelError))
}

type brokenSkeletonModel struct {
	*testModel
}

func (m *brokenSkeletonModel) Skeleton() (any, error) {
	return &struct {
		Greeting string `cbor:"greeting"`
	}{Greeting: m.greeting}, nil
}

func TestSavePipelineIsSingleUse(t *testing.T) {
	signer := newTestSigner(t)
	pipeline := NewPipeline(Config{}, logger.New("NOOP"), testRegistry(), signer)

	_, err := pipeline.Save(newTestModel())
	require.NoError(t, err)

	_, err = pipeline.Save(newTestModel())
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.StateError))
}
