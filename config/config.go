// Package config declares the process-wide configuration surface:
// where trusted keys live, whether an expired signing key is tolerated,
// and which HMAC algorithm new archives are written with. Values are
// validated with go-playground/validator tags the same way this
// codebase's other services validate inbound config structs.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/forestrie/go-verifiable-artifact/apperr"
	"github.com/forestrie/go-verifiable-artifact/stream"
)

// Config is the full set of tunables the save and load pipelines need
// at process start.
type Config struct {
	// TrustedKeysDir points at a sign.Keyring directory (pubring.asc,
	// trustdb, names).
	TrustedKeysDir string `validate:"required,dir"`

	// AllowExpiredSigningKey overrides the default refusal of an expired
	// signing/verification key. Off unless explicitly set.
	AllowExpiredSigningKey bool

	// HMACAlgorithm is the algorithm newly written archives use.
	HMACAlgorithm stream.HMACAlgorithm `validate:"required,oneof=HMAC-SHA256"`

	// FormatVersion is the manifest format_version this process writes.
	FormatVersion int `validate:"required,gte=1"`
}

// Default returns a Config with every field at its documented default
// except TrustedKeysDir, which the caller must still supply.
func Default(trustedKeysDir string) Config {
	return Config{
		TrustedKeysDir: trustedKeysDir,
		HMACAlgorithm:  stream.HMACSHA256,
		FormatVersion:  1,
	}
}

var validate = validator.New()

// Validate checks c against its struct tags, wrapping any failure in
// apperr.ConfigError.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", apperr.ConfigError, err)
	}
	return nil
}

// FromEnv builds a Config from the process environment, falling back to
// Default's values for anything unset.
func FromEnv() (Config, error) {
	dir := os.Getenv("ARTIFACT_TRUSTED_KEYS_DIR")
	cfg := Default(dir)
	if os.Getenv("ARTIFACT_ALLOW_EXPIRED_SIGNING_KEY") == "true" {
		cfg.AllowExpiredSigningKey = true
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
