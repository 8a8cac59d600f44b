// Package native loads native (.so/.dylib/.dll) tool plugins through the
// standard library's plugin package, gating every load behind four checks:
// declared in the manifest (G1), content hash matches (G2), manifest's
// whole-document signature verifies (G3), and the entry's own signature
// verifies (G4).
package native

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/OvrisHQ/rove/internal/crypto"
)

var (
	ErrGateG1NotDeclared      = errors.New("core tool not declared in manifest")
	ErrGateG2HashMismatch     = errors.New("core tool artifact hash mismatch")
	ErrGateG3ManifestUnsigned = errors.New("manifest signature verification failed")
	ErrGateG4EntryUnsigned    = errors.New("core tool entry signature verification failed")
)

// Handler is the fixed lifecycle every native plugin must implement.
type Handler interface {
	Start(ctx context.Context) error
	Handle(ctx context.Context, input []byte) ([]byte, error)
	Stop(ctx context.Context) error
}

// Plugin wraps a loaded native handler with its manifest entry.
type Plugin struct {
	Name    string
	Entry   crypto.CoreToolEntry
	Handler Handler
}

// Load runs all four gates then loads the native library via the
// platform-specific loadHandler and starts it.
func Load(ctx context.Context, path string, manifest *crypto.Manifest, verifier *crypto.Verifier) (*Plugin, error) {
	name := pluginNameFromPath(path)

	entry, ok := manifest.FindCoreTool(name)
	if !ok {
		removeArtifact(path)
		return nil, fmt.Errorf("%w: %s", ErrGateG1NotDeclared, name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if !crypto.VerifyHash(data, entry.Hash) {
		removeArtifact(path)
		return nil, fmt.Errorf("%w: %s", ErrGateG2HashMismatch, name)
	}

	if _, err := manifest.VerifySignature(verifier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateG3ManifestUnsigned, err)
	}

	if _, err := manifest.VerifyEntrySignature(verifier, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateG4EntryUnsigned, err)
	}

	handler, err := loadHandler(path)
	if err != nil {
		return nil, fmt.Errorf("load native handler %s: %w", name, err)
	}
	if err := handler.Start(ctx); err != nil {
		return nil, fmt.Errorf("start native handler %s: %w", name, err)
	}

	return &Plugin{Name: name, Entry: entry, Handler: handler}, nil
}

// Handle delegates to the loaded handler.
func (p *Plugin) Handle(ctx context.Context, input []byte) ([]byte, error) {
	return p.Handler.Handle(ctx, input)
}

// Stop delegates to the loaded handler.
func (p *Plugin) Stop(ctx context.Context) error {
	return p.Handler.Stop(ctx)
}

func removeArtifact(path string) {
	_ = os.Remove(path)
}

func pluginNameFromPath(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			base = path[i+1:]
			break
		}
	}
	for i := 0; i < len(base); i++ {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}
