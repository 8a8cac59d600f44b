// Package security implements the layered gates every tool invocation
// passes through before touching the filesystem, a subprocess, or the
// outside world: path guard, injection detector, risk assessor, and secret
// scrubber.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathDenied is returned for any guard failure; Cause distinguishes which
// step rejected the path.
var ErrPathDenied = errors.New("path denied")

// DenyCause identifies which guard step produced ErrPathDenied.
type DenyCause string

const (
	CauseDenyListPreCanonical  DenyCause = "deny_list_pre_canonical"
	CauseDenyListPostCanonical DenyCause = "deny_list_post_canonical"
	CauseWorkspaceBoundary     DenyCause = "workspace_boundary"
	CauseUnresolvable          DenyCause = "unresolvable"
)

// denyComponents are path components that are never permitted, regardless of
// case, checked both before and after symlink canonicalization.
var denyComponents = []string{
	".ssh", ".env", "credentials", ".aws", ".gnupg",
	"id_rsa", "id_ed25519", ".keychain",
}

// PathDeniedError carries the cause code alongside the sentinel error so
// callers can log or branch on it.
type PathDeniedError struct {
	Path  string
	Cause DenyCause
}

func (e *PathDeniedError) Error() string {
	return fmt.Sprintf("path denied (%s): %s", e.Cause, e.Path)
}

func (e *PathDeniedError) Unwrap() error { return ErrPathDenied }

// Guard validates filesystem paths against a deny list and a workspace
// boundary, canonicalizing twice to defeat symlink-based bypasses.
type Guard struct {
	WorkspaceRoot string
}

// NewGuard creates a Guard rooted at the given workspace directory.
func NewGuard(workspaceRoot string) *Guard {
	return &Guard{WorkspaceRoot: workspaceRoot}
}

// Validate runs the four-step check and returns the canonicalized absolute
// path on success.
func (g *Guard) Validate(path string) (string, error) {
	if err := checkDenyList(path, CauseDenyListPreCanonical); err != nil {
		return "", err
	}

	rootAbs, err := filepath.Abs(g.WorkspaceRoot)
	if err != nil {
		return "", &PathDeniedError{Path: path, Cause: CauseUnresolvable}
	}

	var target string
	if filepath.IsAbs(path) {
		target = filepath.Clean(path)
	} else {
		target = filepath.Join(rootAbs, path)
	}

	resolved, err := canonicalize(target)
	if err != nil {
		return "", &PathDeniedError{Path: path, Cause: CauseUnresolvable}
	}

	if err := checkDenyList(resolved, CauseDenyListPostCanonical); err != nil {
		return "", err
	}

	resolvedRoot, err := canonicalize(rootAbs)
	if err != nil {
		return "", &PathDeniedError{Path: path, Cause: CauseUnresolvable}
	}

	rel, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", &PathDeniedError{Path: path, Cause: CauseWorkspaceBoundary}
	}

	return resolved, nil
}

// canonicalize resolves symlinks against the real filesystem. If the target
// does not yet exist (e.g. a file about to be created), it canonicalizes the
// deepest existing ancestor and rejoins the remainder.
func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir, base := filepath.Split(path)
	dir = filepath.Clean(dir)
	if dir == path {
		return "", err
	}
	resolvedDir, dirErr := canonicalize(dir)
	if dirErr != nil {
		return "", dirErr
	}
	return filepath.Join(resolvedDir, base), nil
}

func checkDenyList(path string, cause DenyCause) error {
	lower := strings.ToLower(path)
	for _, part := range splitPathComponents(lower) {
		for _, denied := range denyComponents {
			if part == denied {
				return &PathDeniedError{Path: path, Cause: cause}
			}
		}
	}
	return nil
}

func splitPathComponents(path string) []string {
	normalized := strings.ReplaceAll(path, "\\", "/")
	parts := strings.Split(normalized, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
