// Package apikey issues and verifies tenant API keys.
package apikey

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PrefixLen is the number of leading characters stored in clear for lookup.
const PrefixLen = 8

const rawPrefix = "cg_"

var ErrMalformed = errors.New("malformed api key")

// Issued is a freshly generated key. Raw must be shown to the caller once and
// never stored.
type Issued struct {
	Raw    string
	Prefix string
	Hash   string
}

// Generate creates a new random key and its bcrypt hash.
func Generate() (Issued, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return Issued{}, fmt.Errorf("read random: %w", err)
	}
	return FromRaw(rawPrefix + base64.RawURLEncoding.EncodeToString(buf))
}

// FromRaw hashes an existing raw key, e.g. one supplied through bootstrap config.
func FromRaw(raw string) (Issued, error) {
	prefix, err := Prefix(raw)
	if err != nil {
		return Issued{}, err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return Issued{}, fmt.Errorf("hash api key: %w", err)
	}
	return Issued{Raw: raw, Prefix: prefix, Hash: string(h)}, nil
}

// Prefix returns the lookup prefix of raw.
func Prefix(raw string) (string, error) {
	if len(raw) < PrefixLen {
		return "", ErrMalformed
	}
	return raw[:PrefixLen], nil
}

// Matches reports whether raw hashes to hash.
func Matches(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
