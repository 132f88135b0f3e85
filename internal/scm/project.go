// Package scm derives a project identifier from the surrounding
// version-control checkout.
package scm

import (
	"os"
	"path/filepath"
)

// ProjectName walks from dir toward the filesystem root looking for a .git
// directory and returns the name of the directory containing it. fallback is
// returned when no enclosing checkout exists or dir cannot be resolved.
func ProjectName(dir, fallback string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fallback
	}
	for {
		if info, err := os.Stat(filepath.Join(abs, ".git")); err == nil && info.IsDir() {
			return filepath.Base(abs)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return fallback
		}
		abs = parent
	}
}
