// Package fileguard confines file access to a root directory.
//
// Two guards are used by the service: one for finished downloads (flat
// directory, sanitized basenames) and one for the static site (nested paths,
// extension allow-list).
package fileguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/mediagate/internal/metrics"
	"github.com/JakeFAU/mediagate/internal/validate"
)

var (
	// ErrTraversal reports a request that would escape the root.
	ErrTraversal = errors.New("path escapes root")
	// ErrDisallowedType reports an extension outside the allow-list.
	ErrDisallowedType = errors.New("file type not allowed")
	// ErrNotFound reports a missing or non-regular file.
	ErrNotFound = errors.New("file not found")
)

// StaticExtensions is the allow-list for the static site.
var StaticExtensions = []string{
	".html", ".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico",
	".woff", ".woff2", ".ttf",
}

// Config captures the parameters for a Guard.
type Config struct {
	// Name labels metrics and logs, e.g. "downloads" or "static".
	Name string
	// Root is the directory files are served from.
	Root string
	// Nested allows requests containing "/" separators.
	Nested bool
	// Extensions, when non-empty, is the set of servable extensions.
	Extensions []string
	// Create makes Root if it is missing and checks it is writable.
	Create bool
}

// Guard resolves request paths against a root directory.
type Guard struct {
	name       string
	root       string
	nested     bool
	extensions map[string]struct{}
}

// New creates a Guard. The root is canonicalized once here.
func New(cfg Config) (*Guard, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("%s root directory is required", cfg.Name)
	}
	if cfg.Create {
		if err := ensureWritableDir(cfg.Root); err != nil {
			return nil, fmt.Errorf("%s root: %w", cfg.Name, err)
		}
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s root: %w", cfg.Name, err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	var exts map[string]struct{}
	if len(cfg.Extensions) > 0 {
		exts = make(map[string]struct{}, len(cfg.Extensions))
		for _, e := range cfg.Extensions {
			exts[strings.ToLower(e)] = struct{}{}
		}
	}
	return &Guard{name: cfg.Name, root: root, nested: cfg.Nested, extensions: exts}, nil
}

// Root returns the canonical root directory.
func (g *Guard) Root() string {
	return g.root
}

// Resolve maps a request path to a file under the root. Errors are checked
// in order: ErrTraversal, ErrDisallowedType, ErrNotFound.
func (g *Guard) Resolve(requested string) (string, error) {
	path, err := g.resolve(requested)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrTraversal):
		outcome = "traversal"
	case errors.Is(err, ErrDisallowedType):
		outcome = "disallowed"
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	}
	metrics.ObserveFileServe(g.name, outcome)
	return path, err
}

func (g *Guard) resolve(requested string) (string, error) {
	rel, err := g.clean(requested)
	if err != nil {
		return "", err
	}

	candidate := filepath.Join(g.root, rel)
	canonical := candidate
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		canonical = resolved
	}
	if !within(g.root, canonical) {
		return "", ErrTraversal
	}

	if g.extensions != nil {
		if _, ok := g.extensions[strings.ToLower(filepath.Ext(canonical))]; !ok {
			return "", ErrDisallowedType
		}
	}

	info, err := os.Stat(canonical)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return canonical, nil
}

// clean rejects traversal syntax and returns a root-relative path.
func (g *Guard) clean(requested string) (string, error) {
	if requested == "" || strings.ContainsRune(requested, 0) {
		return "", ErrNotFound
	}
	if strings.Contains(requested, `\`) {
		return "", ErrTraversal
	}

	if !g.nested {
		if strings.Contains(requested, "/") || requested == "." || requested == ".." {
			return "", ErrTraversal
		}
		name := validate.SanitizeFilename(requested)
		if name == "" || name == "." || name == ".." {
			return "", ErrNotFound
		}
		return name, nil
	}

	trimmed := strings.TrimPrefix(requested, "/")
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == ".." || seg == "." {
			return "", ErrTraversal
		}
	}
	if trimmed == "" {
		return "", ErrNotFound
	}
	return filepath.FromSlash(trimmed), nil
}

// within reports whether path lies strictly below root.
func within(root, path string) bool {
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return len(path) > len(prefix) && strings.HasPrefix(path, prefix)
}

func ensureWritableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat directory: %w", err)
		}
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("failed to create directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return fmt.Errorf("path is not a directory")
	}

	marker := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(marker, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %w", err)
	}
	if err := os.Remove(marker); err != nil {
		return fmt.Errorf("failed to clean up marker file: %w", err)
	}
	return nil
}
