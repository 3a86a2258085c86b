package sign

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/forestrie/go-verifiable-artifact/apperr"
)

// epoch is handed to go-crypto as the signature check's "current time" so
// its own built-in key-expiry rejection never fires; keyExpiry below makes
// that call against the real clock instead, after trust is established, so
// WithAllowExpiredSigningKey has somewhere to take effect.
var epoch = func() time.Time { return time.Unix(0, 0) }

// VerifierOption configures a Verifier constructed by NewVerifier.
type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	allowExpiredSigningKey bool
	minTrust               TrustLevel
}

// WithAllowExpiredSigningKey overrides the default refusal of signatures
// made by (or checked against) an expired key. Off by default per
// spec.md §4.4's "refuse by default" policy.
func WithAllowExpiredSigningKey(allow bool) VerifierOption {
	return func(o *verifierOptions) { o.allowExpiredSigningKey = allow }
}

// WithMinimumTrustLevel sets the minimum Keyring trust level a signer's
// key must carry for CheckManifest to succeed. Defaults to TrustMarginal.
func WithMinimumTrustLevel(level TrustLevel) VerifierOption {
	return func(o *verifierOptions) { o.minTrust = level }
}

// Verifier checks a manifest's detached signature against a trusted
// Keyring, enforcing both the trust-level and expiry policy before the
// caller is allowed to treat the manifest bytes as authentic.
type Verifier struct {
	keyring *Keyring
	opts    verifierOptions
}

// NewVerifier binds a Verifier to keyring.
func NewVerifier(keyring *Keyring, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keyring: keyring,
		opts:    verifierOptions{minTrust: TrustMarginal},
	}
	for _, opt := range opts {
		opt(&v.opts)
	}
	return v
}

// CheckManifest verifies sig as a detached OpenPGP signature over data,
// enforcing trust level and key expiry. This MUST be the first check
// performed against archive bytes; spec.md §4.6 forbids any other
// decode happening-before this one succeeds.
func (v *Verifier) CheckManifest(data, sig []byte) error {
	cfg := &packet.Config{Time: epoch}
	signer, err := openpgp.CheckArmoredDetachedSignature(v.keyring.Entities(), bytes.NewReader(data), bytes.NewReader(sig), cfg)
	if err != nil {
		return fmt.Errorf("%w: signature check failed: %v", apperr.SignatureError, err)
	}
	if signer == nil {
		return fmt.Errorf("%w: signature check returned no signer", apperr.SignatureError)
	}

	fp := fingerprintHex(signer.PrimaryKey.Fingerprint)
	level := v.keyring.TrustLevelFor(fp)
	if level < v.opts.minTrust {
		return fmt.Errorf("%w: signer %s has trust level %d, require at least %d", apperr.TrustError, fp, level, v.opts.minTrust)
	}

	if expired, at := keyExpiry(signer); expired && !v.opts.allowExpiredSigningKey {
		return fmt.Errorf("%w: signer %s key expired at %s", apperr.ExpiredKeyError, fp, at)
	}

	return nil
}
