// Package datadir keeps destructive file operations inside the veil data
// directory. Profile ids become directory names, so every path derived
// from one is checked before it is removed.
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Guard confines paths to a root directory.
type Guard struct {
	root string // absolute, symlinks evaluated
}

// NewGuard creates a guard for root, creating the directory if needed.
func NewGuard(root string) (*Guard, error) {
	if root == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	absPath, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// /var -> /private/var on macOS
	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate data directory symlinks: %w", err)
	}
	return &Guard{root: evalPath}, nil
}

// Root returns the guarded directory.
func (g *Guard) Root() string {
	return g.root
}

// Resolve returns the absolute, symlink-free form of path. Relative paths
// are taken relative to the root. The path does not need to exist.
func (g *Guard) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) {
		clean = filepath.Join(g.root, clean)
	}
	return resolveSymlinks(clean), nil
}

// Contains reports whether path is the root or lies below it.
func (g *Guard) Contains(path string) bool {
	resolved, err := g.Resolve(path)
	if err != nil {
		return false
	}
	return resolved == g.root || strings.HasPrefix(resolved, g.root+string(filepath.Separator))
}

// Validate returns an error unless path lies strictly below the root.
func (g *Guard) Validate(path string) error {
	resolved, err := g.Resolve(path)
	if err != nil {
		return err
	}
	if resolved == g.root {
		return fmt.Errorf("path '%s' is the data directory itself", path)
	}
	if !g.Contains(resolved) {
		return fmt.Errorf("path '%s' is outside the data directory", path)
	}
	return nil
}

// RemoveAll deletes path and everything below it after validating it.
// A missing path is not an error.
func (g *Guard) RemoveAll(path string) error {
	if err := g.Validate(path); err != nil {
		return err
	}
	resolved, err := g.Resolve(path)
	if err != nil {
		return err
	}
	return os.RemoveAll(resolved)
}

// resolveSymlinks evaluates symlinks in path. For paths that do not exist
// it resolves the nearest existing ancestor and re-appends the rest.
func resolveSymlinks(path string) string {
	var components []string
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			for i := len(components) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, components[i])
			}
			return resolved
		}

		dir := filepath.Dir(current)
		if dir == current {
			return path
		}
		components = append(components, filepath.Base(current))
		current = dir
	}
}
