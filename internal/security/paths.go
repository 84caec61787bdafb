package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Confinement failures are distinguished so callers can classify results
// without string matching.
var (
	ErrPathEscape    = errors.New("path escapes project root")
	ErrSensitivePath = errors.New("path matches a sensitive pattern")
)

// defaultSensitivePatterns flag credential-bearing files regardless of
// where they sit inside the root.
var defaultSensitivePatterns = []string{
	".ssh",
	".aws",
	".env",
	"id_rsa",
	"id_ed25519",
	".git/config",
	".npmrc",
	".pypirc",
}

// Guard confines file actions to a single project root. Zero value is not
// usable; construct with NewGuard.
type Guard struct {
	root              string
	sensitivePatterns []string
}

// NewGuard creates a Guard rooted at root. The root is resolved through
// symlinks once so later containment checks compare against a stable base.
func NewGuard(root string) (*Guard, error) {
	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	return &Guard{root: resolved, sensitivePatterns: defaultSensitivePatterns}, nil
}

// Root returns the resolved project root.
func (g *Guard) Root() string { return g.root }

// Resolve maps a model-supplied target to an absolute path inside the
// root. Traversal segments, absolute targets pointing elsewhere, and
// symlinks leading out of the root all fail with ErrPathEscape.
func (g *Guard) Resolve(target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.Contains(target, "\x00") {
		return "", fmt.Errorf("null byte in path")
	}

	clean := filepath.Clean(target)
	abs := clean
	if !filepath.IsAbs(clean) {
		abs = filepath.Join(g.root, clean)
	}

	resolved, err := g.evalWithParentFallback(abs)
	if err != nil {
		return "", err
	}

	if !g.within(resolved) {
		return "", fmt.Errorf("%q: %w", target, ErrPathEscape)
	}

	if pat := g.sensitiveMatch(target, resolved); pat != "" {
		return "", fmt.Errorf("%q contains %q: %w", target, pat, ErrSensitivePath)
	}

	return resolved, nil
}

// Rel returns target relative to the root, for display.
func (g *Guard) Rel(target string) string {
	rel, err := filepath.Rel(g.root, target)
	if err != nil {
		return target
	}
	return rel
}

// evalWithParentFallback resolves symlinks. For paths that do not exist
// yet (new files) the nearest existing ancestor is resolved instead, so a
// symlinked parent cannot smuggle a write outside the root.
func (g *Guard) evalWithParentFallback(abs string) (string, error) {
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("resolve %q: %w", abs, err)
	}

	dir := abs
	var tail []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
		dir = parent

		resolvedParent, perr := filepath.EvalSymlinks(dir)
		if perr == nil {
			return filepath.Join(append([]string{resolvedParent}, tail...)...), nil
		}
		if !os.IsNotExist(perr) {
			return "", fmt.Errorf("resolve %q: %w", abs, perr)
		}
	}
}

// within reports whether target sits at or below the root.
func (g *Guard) within(target string) bool {
	rel, err := filepath.Rel(g.root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// sensitiveMatch checks both the raw target as the model wrote it and the
// root-relative resolved path, since either form can name a credential file.
func (g *Guard) sensitiveMatch(raw, resolved string) string {
	rel, err := filepath.Rel(g.root, resolved)
	if err != nil {
		rel = resolved
	}
	for _, candidate := range []string{filepath.ToSlash(raw), filepath.ToSlash(rel)} {
		for _, pat := range g.sensitivePatterns {
			if strings.Contains(candidate, pat) {
				return pat
			}
		}
	}
	return ""
}
