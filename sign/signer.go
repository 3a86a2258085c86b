// Package sign wraps an OpenPGP-compatible backend (ProtonMail/go-crypto,
// a maintained fork of golang.org/x/crypto/openpgp) to produce and verify
// detached signatures over canonical manifest bytes, per spec.md §4.4.
// The core treats the manifest bytes as opaque; this package never
// inspects them.
package sign

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/forestrie/go-verifiable-artifact/apperr"
)

// Signer produces detached signatures with one unlocked private key.
type Signer struct {
	entity *openpgp.Entity
}

// NewSigner reads an armored private key (optionally passphrase
// protected) and returns a Signer bound to it. If the key's private
// material (or any subkey's) is encrypted, passphrase decrypts it.
func NewSigner(armoredPrivateKey io.Reader, passphrase []byte) (*Signer, error) {
	entities, err := openpgp.ReadArmoredKeyRing(armoredPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: reading private key: %v", apperr.SignError, err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: key material contained no entities", apperr.SignError)
	}
	entity := entities[0]
	if entity.PrivateKey == nil {
		return nil, fmt.Errorf("%w: key material has no private key", apperr.SignError)
	}

	if entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
			return nil, fmt.Errorf("%w: wrong passphrase for signing key: %v", apperr.SignError, err)
		}
	}
	for _, sk := range entity.Subkeys {
		if sk.PrivateKey != nil && sk.PrivateKey.Encrypted {
			if err := sk.PrivateKey.Decrypt(passphrase); err != nil {
				return nil, fmt.Errorf("%w: wrong passphrase for subkey: %v", apperr.SignError, err)
			}
		}
	}

	if expired, at := keyExpiry(entity); expired {
		return nil, fmt.Errorf("%w: signing key expired at %s", apperr.SignError, at)
	}

	return &Signer{entity: entity}, nil
}

// Fingerprint returns the signing key's fingerprint, hex encoded.
func (s *Signer) Fingerprint() string {
	return fingerprintHex(s.entity.PrimaryKey.Fingerprint)
}

// Sign produces an armored, detached OpenPGP signature over data.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, s.entity, bytes.NewReader(data), nil); err != nil {
		return nil, fmt.Errorf("%w: detach sign: %v", apperr.SignError, err)
	}
	return buf.Bytes(), nil
}
