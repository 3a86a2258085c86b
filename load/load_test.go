package load

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-verifiable-artifact/apperr"
	"github.com/forestrie/go-verifiable-artifact/archive"
	"github.com/forestrie/go-verifiable-artifact/artifact"
	"github.com/forestrie/go-verifiable-artifact/codec"
	"github.com/forestrie/go-verifiable-artifact/codec/generic"
	"github.com/forestrie/go-verifiable-artifact/codec/tensor"
	"github.com/forestrie/go-verifiable-artifact/internal/logger"
	"github.com/forestrie/go-verifiable-artifact/manifest"
	"github.com/forestrie/go-verifiable-artifact/save"
	"github.com/forestrie/go-verifiable-artifact/sign"
	"github.com/forestrie/go-verifiable-artifact/stream"
)

type greeterSkeleton struct {
	Greeting   string            `cbor:"greeting"`
	Classifier artifact.Sentinel `cbor:"classifier"`
}

type testModel struct {
	greeting     string
	classifier   *tensor.Tensor
	postLoaded   bool
	validateFail bool
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

func (m *testModel) PostLoad() error {
	m.postLoaded = true
	return nil
}

func (m *testModel) Validate() error {
	if m.validateFail {
		return apperr.ValidationError
	}
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

type fixture struct {
	signer   *sign.Signer
	verifier *sign.Verifier
	bundle   *archive.Bundle
}

func buildFixture(t *testing.T, trust sign.TrustLevel) fixture {
	t.Helper()

	entity, err := openpgp.NewEntity("load-pipeline-test", "", "load@example.test", nil)
	require.NoError(t, err)
	for _, id := range entity.Identities {
		require.NoError(t, id.SelfSignature.SignUserId(id.UserId.Id, entity.PrimaryKey, entity.PrivateKey, nil))
	}

	var privBuf bytes.Buffer
	w, err := armor.Encode(&privBuf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())

	signer, err := sign.NewSigner(bytes.NewReader(privBuf.Bytes()), nil)
	require.NoError(t, err)

	pipeline := save.NewPipeline(save.Config{}, logger.New("NOOP"), testRegistry(), signer)
	bundle, err := pipeline.Save(newTestModel())
	require.NoError(t, err)

	dir := t.TempDir()
	var pubBuf bytes.Buffer
	pw, err := armor.Encode(&pubBuf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(pw))
	require.NoError(t, pw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pubring.asc"), pubBuf.Bytes(), 0o644))

	trustWord := map[sign.TrustLevel]string{
		sign.TrustNever:    "never",
		sign.TrustMarginal: "marginal",
		sign.TrustUltimate: "ultimate",
	}[trust]
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trustdb"), []byte(signer.Fingerprint()+" "+trustWord+"\n"), 0o644))

	keyring, err := sign.LoadKeyring(dir)
	require.NoError(t, err)
	verifier := sign.NewVerifier(keyring)

	return fixture{signer: signer, verifier: verifier, bundle: bundle}
}

func TestLoadRoundTrip(t *testing.T) {
	f := buildFixture(t, sign.TrustUltimate)

	pipeline := NewPipeline(logger.New("NOOP"), testRegistry(), f.verifier)
	loaded, err := pipeline.Load(f.bundle, func() artifact.Loadable { return &testModel{} })
	require.NoError(t, err)
	require.Equal(t, Done, pipeline.State())

	m := loaded.(*testModel)
	require.Equal(t, "hello", m.greeting)
	require.Equal(t, []float64{1, 2}, m.classifier.Data)
	require.True(t, m.postLoaded)
}

func TestLoadRejectsUntrustedSigner(t *testing.T) {
	f := buildFixture(t, sign.TrustNever)

	pipeline := NewPipeline(logger.New("NOOP"), testRegistry(), f.verifier)
	_, err := pipeline.Load(f.bundle, func() artifact.Loadable { return &testModel{} })
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.TrustError))
	require.Equal(t, Aborted, pipeline.State())
}

func TestLoadRejectsTamperedEntry(t *testing.T) {
	f := buildFixture(t, sign.TrustUltimate)

	for i, e := range f.bundle.Entries {
		if e.Name == "classifier.bin" {
			tampered := append([]byte(nil), e.Data...)
			tampered[0] ^= 0xFF
			f.bundle.Entries[i].Data = tampered
		}
	}

	pipeline := NewPipeline(logger.New("NOOP"), testRegistry(), f.verifier)
	_, err := pipeline.Load(f.bundle, func() artifact.Loadable { return &testModel{} })
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.IntegrityError))
}

func TestLoadRejectsArchiveEntryAbsentFromManifest(t *testing.T) {
	f := buildFixture(t, sign.TrustUltimate)
	f.bundle.Entries = append(f.bundle.Entries, archive.Blob{Name: "stowaway.bin", Data: []byte("not in manifest")})

	pipeline := NewPipeline(logger.New("NOOP"), testRegistry(), f.verifier)
	_, err := pipeline.Load(f.bundle, func() artifact.Loadable { return &testModel{} })
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.IntegrityError))
}

// TestLoadRejectsSentinelAttributeMismatch simulates an attacker who holds
// the signing key and re-signs a bundle whose skeleton sentinel has been
// repointed at a different attribute name than the manifest entry it
// otherwise matches on codec and entry name.
func TestLoadRejectsSentinelAttributeMismatch(t *testing.T) {
	f := buildFixture(t, sign.TrustUltimate)

	m, err := manifest.Parse(f.bundle.Manifest)
	require.NoError(t, err)

	skeletonData, ok := f.bundle.EntryData(m.SkeletonEntry)
	require.True(t, ok)

	g := generic.New()
	var sk greeterSkeleton
	require.NoError(t, g.DeserializeInto(bytes.NewReader(skeletonData), &sk))
	sk.Classifier.Attribute = "not-classifier"

	var data bytes.Buffer
	require.NoError(t, g.Serialize(&sk, &data))

	s, err := stream.NewStream(m.HMACKey, m.HMACAlgorithm)
	require.NoError(t, err)
	_, err = s.Write(data.Bytes())
	require.NoError(t, err)
	tag := s.Finalize()

	for i, e := range f.bundle.Entries {
		if e.Name == m.SkeletonEntry {
			f.bundle.Entries[i].Data = data.Bytes()
		}
	}
	for i, e := range m.Entries {
		if e.Name == m.SkeletonEntry {
			m.Entries[i].Tag = tag
		}
	}

	canon, err := m.Canonical()
	require.NoError(t, err)
	sig, err := f.signer.Sign(canon)
	require.NoError(t, err)
	f.bundle.Manifest = canon
	f.bundle.Signature = sig

	pipeline := NewPipeline(logger.New("NOOP"), testRegistry(), f.verifier)
	_, err = pipeline.Load(f.bundle, func() artifact.Loadable { return &testModel{} })
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.IntegrityError))
}

func TestLoadRejectsTamperedManifestSignature(t *testing.T) {
	f := buildFixture(t, sign.TrustUltimate)
	f.bundle.Manifest = append(f.bundle.Manifest, ' ')

	pipeline := NewPipeline(logger.New("NOOP"), testRegistry(), f.verifier)
	_, err := pipeline.Load(f.bundle, func() artifact.Loadable { return &testModel{} })
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.SignatureError))
}

func TestLoadRejectsValidationFailure(t *testing.T) {
	f := buildFixture(t, sign.TrustUltimate)

	pipeline := NewPipeline(logger.New("NOOP"), testRegistry(), f.verifier)
	_, err := pipeline.Load(f.bundle, func() artifact.Loadable { return &testModel{validateFail: true} })
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.ValidationError))
}

func TestLoadPipelineIsSingleUse(t *testing.T) {
	f := buildFixture(t, sign.TrustUltimate)

	pipeline := NewPipeline(logger.New("NOOP"), testRegistry(), f.verifier)
	_, err := pipeline.Load(f.bundle, func() artifact.Loadable { return &testModel{} })
	require.NoError(t, err)

	_, err = pipeline.Load(f.bundle, func() artifact.Loadable { return &testModel{} })
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.StateError))
}
