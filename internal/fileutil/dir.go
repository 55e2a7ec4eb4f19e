package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDirs creates every directory in paths with its parents, mode 0755.
// Existing directories are fine. All paths are attempted and the failures
// are joined.
func EnsureDirs(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("create directory %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// EnsureDirForFile creates the parent directory of filePath.
func EnsureDirForFile(filePath string) error {
	return EnsureDirs(filepath.Dir(filePath))
}
