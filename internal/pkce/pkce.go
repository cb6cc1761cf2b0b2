// Package pkce generates Proof Key for Code Exchange verifiers and their S256
// challenges (RFC 7636).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Method is the only challenge method this client sends.
const Method = "S256"

// verifierBytes yields a 43 character verifier once base64url encoded.
const verifierBytes = 32

// ErrEntropy is returned when the secure randomness source fails.
var ErrEntropy = errors.New("pkce: secure randomness unavailable")

// Reader is the randomness source. It is only replaced in tests.
var Reader io.Reader = rand.Reader

// GenerateVerifier returns a fresh high-entropy verifier. It never falls back
// to a weaker source: a read failure is returned as ErrEntropy.
func GenerateVerifier() (string, error) {
	b := make([]byte, verifierBytes)
	if _, err := io.ReadFull(Reader, b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DeriveChallenge returns base64url(SHA-256(verifier)) without padding.
func DeriveChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// Pair is a verifier together with the challenge derived from it.
type Pair struct {
	Verifier  string
	Challenge string
}

// NewPair generates a verifier and derives its challenge.
func NewPair() (Pair, error) {
	verifier, err := GenerateVerifier()
	if err != nil {
		return Pair{}, err
	}
	return Pair{Verifier: verifier, Challenge: DeriveChallenge(verifier)}, nil
}
