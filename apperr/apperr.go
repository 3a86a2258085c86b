// Package apperr declares the error taxonomy shared by every package in
// this module. A Kind is a comparable sentinel: call sites wrap it with
// fmt.Errorf("...: %w", kind) so callers can still errors.Is against the
// kind while getting a specific message.
package apperr

import "errors"

// Kind is a comparable error sentinel. It satisfies the error interface so
// it can be returned directly when no extra context is available.
type Kind struct {
	msg string
}

func (k *Kind) Error() string { return k.msg }

func newKind(msg string) *Kind { return &Kind{msg: msg} }

var (
	// ConfigError reports registry or configuration misuse by the caller.
	ConfigError = newKind("config error")
	// ModelError reports that an artifact's attribute map disagrees with
	// its live attributes.
	ModelError = newKind("model error")
	// SignError reports a signer backend failure (unknown key, bad
	// passphrase, expired key at sign time).
	SignError = newKind("sign error")
	// SignatureError reports that a signature failed to verify.
	SignatureError = newKind("signature error")
	// TrustError reports that a signature verified but the signer is not
	// trusted by the keyring.
	TrustError = newKind("trust error")
	// ExpiredKeyError reports that the signing key was expired at
	// verification time and the caller did not override that policy.
	ExpiredKeyError = newKind("expired key error")
	// ManifestError reports a malformed or incompatible manifest.
	ManifestError = newKind("manifest error")
	// IntegrityError reports a hash mismatch, a missing or extra entry,
	// or a sentinel disagreement.
	IntegrityError = newKind("integrity error")
	// DecodeError reports a codec failure or trailing bytes in an entry.
	DecodeError = newKind("decode error")
	// StateError reports VerifiableStream misuse (write-after-finalize,
	// read-before-finalize).
	StateError = newKind("state error")
	// ValidationError reports that the user validation callback rejected
	// the reconstituted artifact.
	ValidationError = newKind("validation error")
	// IoError reports an archive transport failure.
	IoError = newKind("io error")
)

// Is reports whether err ultimately wraps kind. It is a thin convenience
// over errors.Is so callers don't need to import both packages.
func Is(err error, kind *Kind) bool {
	return errors.Is(err, kind)
}
