// Package security validates file paths supplied on the command line before
// the transmitter writes captures or ledgers to them.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path resolves outside every allowed directory.
var ErrPathEscape = errors.New("path escapes allowed directories")

// canonical resolves symlinks in the longest existing prefix of path and
// rejoins the remainder, so files that do not exist yet are still checked
// against the real location of their parent.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	existing := abs
	for {
		if resolved, err := filepath.EvalSymlinks(existing); err == nil {
			rel, err := filepath.Rel(existing, abs)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, rel), nil
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		existing = parent
	}
}

// within reports whether path lies inside dir once both are canonical.
func within(path, dir string) (bool, error) {
	p, err := canonical(path)
	if err != nil {
		return false, err
	}
	d, err := canonical(dir)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(d, p)
	if err != nil {
		return false, nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return false, nil
	}
	return true, nil
}

// ValidateOutputPath checks that path resolves inside one of allowedDirs.
// With no directories given, the temp directory and the working directory
// are allowed.
func ValidateOutputPath(path string, allowedDirs ...string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrPathEscape)
	}
	if len(allowedDirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		allowedDirs = []string{os.TempDir(), cwd}
	}

	for _, dir := range allowedDirs {
		ok, err := within(path, dir)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be within one of %v", ErrPathEscape, path, allowedDirs)
}
