package crypto

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
)

// PluginEntry describes one WASM plugin declared in the signed manifest.
type PluginEntry struct {
	Name    string `json:"name"`
	Hash    string `json:"hash"` // "blake3:<hex>"
	Version string `json:"version"`
}

// CoreToolEntry describes one native dynamic-library tool declared in the
// signed manifest.
type CoreToolEntry struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Path      string `json:"path"`
	Hash      string `json:"hash"`      // "sha256:<hex>" or "blake3:<hex>"
	Signature string `json:"signature"` // "ed25519:<hex>", per-entry (gate G4)
	Platform  string `json:"platform"`  // "<os>-<arch>"
}

// Manifest is the signed catalog of plugin and native-tool extension
// artifacts read once at daemon startup. The top-level Signature covers a
// canonical serialization of the document with Signature itself omitted.
type Manifest struct {
	Plugins   []PluginEntry   `json:"plugins"`
	CoreTools []CoreToolEntry `json:"core_tools"`
	Signature string          `json:"signature"`
}

// ParseManifest decodes a manifest document from JSON bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// canonicalBytes returns the manifest serialized with Signature zeroed, the
// exact bytes the whole-document signature is computed and verified over.
func (m Manifest) canonicalBytes() ([]byte, error) {
	m.Signature = ""
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("serialize manifest: %w", err)
	}
	return data, nil
}

// Sign computes the whole-document signature and returns a copy of the
// manifest with Signature populated.
func (m Manifest) Sign(privateKey ed25519.PrivateKey) (Manifest, error) {
	data, err := m.canonicalBytes()
	if err != nil {
		return m, err
	}
	m.Signature = Sign(data, privateKey)
	return m, nil
}

// VerifySignature checks the manifest's whole-document Ed25519 signature
// (gate G3) against v's trusted keys. It zeroes Signature and re-marshals
// before verifying, directly adapting the marketplace package's
// VerifyManifest pattern.
func (m *Manifest) VerifySignature(v *Verifier) (string, error) {
	if m.Signature == "" {
		return "", fmt.Errorf("manifest has no signature")
	}
	data, err := m.canonicalBytes()
	if err != nil {
		return "", err
	}
	return v.Verify(data, m.Signature)
}

// FindPlugin returns the manifest entry for a named plugin (gate G1 lookup).
func (m *Manifest) FindPlugin(name string) (PluginEntry, bool) {
	for _, p := range m.Plugins {
		if p.Name == name {
			return p, true
		}
	}
	return PluginEntry{}, false
}

// FindCoreTool returns the manifest entry for a named native tool (gate G1 lookup).
func (m *Manifest) FindCoreTool(name string) (CoreToolEntry, bool) {
	for _, t := range m.CoreTools {
		if t.Name == name {
			return t, true
		}
	}
	return CoreToolEntry{}, false
}

// VerifyEntrySignature checks a single core tool's individual Ed25519
// signature (gate G4). The signed payload is the entry's canonical JSON with
// Signature zeroed, mirroring the manifest-level scheme at entry granularity.
func (m *Manifest) VerifyEntrySignature(v *Verifier, entry CoreToolEntry) (string, error) {
	sig := entry.Signature
	entry.Signature = ""
	data, err := entryCanonicalBytes(entry)
	if err != nil {
		return "", err
	}
	return v.Verify(data, sig)
}

// entryCanonicalBytes serializes a core tool entry (with whatever Signature
// value it currently carries) to the canonical JSON bytes a per-entry
// signature is computed and verified over.
func entryCanonicalBytes(entry CoreToolEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("serialize core tool entry: %w", err)
	}
	return data, nil
}
