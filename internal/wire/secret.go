package wire

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// MinSecretLen is the minimum accepted shared-secret length in bytes.
	MinSecretLen = 16

	// EnvSecretHex is the preferred secret source (hex-encoded).
	EnvSecretHex = "LATTICE_SECRET_HEX"
	// EnvSecret is the raw-bytes fallback source.
	EnvSecret = "LATTICE_SECRET"
)

// ErrSecretMissing is returned when no usable secret can be sourced.
var ErrSecretMissing = errors.New("secret missing: set " + EnvSecretHex + " (hex) or " + EnvSecret + " (raw)")

// ParseSecret decodes a secret string. Valid even-length hex is decoded;
// anything else is taken as raw bytes.
func ParseSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrSecretMissing
	}
	secret := []byte(s)
	if len(s)%2 == 0 {
		if decoded, err := hex.DecodeString(s); err == nil {
			secret = decoded
		}
	}
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("secret too short: %d bytes, need >= %d", len(secret), MinSecretLen)
	}
	return secret, nil
}

// SecretFromEnv sources the shared secret from the environment,
// preferring the hex variable.
func SecretFromEnv() ([]byte, error) {
	if v := os.Getenv(EnvSecretHex); v != "" {
		return ParseSecret(v)
	}
	if v := os.Getenv(EnvSecret); v != "" {
		return ParseSecret(v)
	}
	return nil, ErrSecretMissing
}
