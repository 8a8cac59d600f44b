package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// SignaturePrefix is prepended to every signature string this package emits,
// matching the manifest's "ed25519:<hex>" encoding.
const SignaturePrefix = "ed25519:"

// Verifier checks Ed25519 signatures against a set of trusted public keys.
// Adapted from the marketplace package's verify-against-all-trusted-keys
// pattern: any one matching key is sufficient.
type Verifier struct {
	trustedKeys map[string]ed25519.PublicKey
}

// NewVerifier creates a Verifier with no trusted keys. Use AddTrustedKey to
// register the embedded team public key (and any overrides).
func NewVerifier() *Verifier {
	return &Verifier{trustedKeys: make(map[string]ed25519.PublicKey)}
}

// AddTrustedKey registers a named trusted public key.
func (v *Verifier) AddTrustedKey(name string, key ed25519.PublicKey) {
	v.trustedKeys[name] = key
}

// HasTrustedKeys reports whether any trusted keys are registered.
func (v *Verifier) HasTrustedKeys() bool {
	return len(v.trustedKeys) > 0
}

// Verify checks data against a signature string (with or without the
// "ed25519:" prefix) using every trusted key. It returns the name of the key
// that matched, or an error if none did.
func (v *Verifier) Verify(data []byte, signature string) (string, error) {
	sig := trimSignaturePrefix(signature)
	if sig == "" {
		return "", fmt.Errorf("no signature provided")
	}
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(raw) != ed25519.SignatureSize {
		return "", fmt.Errorf("invalid signature size: %d", len(raw))
	}
	for name, key := range v.trustedKeys {
		if ed25519.Verify(key, data, raw) {
			return name, nil
		}
	}
	return "", fmt.Errorf("signature verification failed: no trusted key matched")
}

func trimSignaturePrefix(s string) string {
	if len(s) > len(SignaturePrefix) && s[:len(SignaturePrefix)] == SignaturePrefix {
		return s[len(SignaturePrefix):]
	}
	return s
}

// Sign signs data with an Ed25519 private key, returning the prefixed hex
// signature string used throughout the manifest.
func Sign(data []byte, privateKey ed25519.PrivateKey) string {
	sig := ed25519.Sign(privateKey, data)
	return SignaturePrefix + hex.EncodeToString(sig)
}

// GenerateKeyPair generates a new Ed25519 key pair.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key pair: %w", err)
	}
	return pub, priv, nil
}

// DecodePublicKeyHex decodes a hex-encoded (optionally "ed25519:"-prefixed)
// public key, used for the ROVE_TEAM_PUBLIC_KEY environment override.
func DecodePublicKeyHex(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(trimSignaturePrefix(s))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
