package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// RemoveAllExcept removes root and everything below it, except the paths
// listed in keep and the directories leading to them. Entries of keep are
// absolute paths; entries outside root are ignored. A missing root is not an
// error.
//
// Directories that still hold a kept path are left in place, everything else
// is removed with os.RemoveAll. Errors from individual entries are joined so
// one unremovable file does not stop the rest of the sweep.
func RemoveAllExcept(root string, keep []string) error {
	root = filepath.Clean(root)
	if _, err := os.Lstat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", root, err)
	}

	kept := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		if k == "" {
			continue
		}
		kept[filepath.Clean(k)] = struct{}{}
	}

	if _, err := removeExcept(root, kept); err != nil {
		return fmt.Errorf("remove %s: %w", root, err)
	}
	return nil
}

// removeExcept reports whether anything under path was retained.
func removeExcept(path string, kept map[string]struct{}) (bool, error) {
	if _, ok := kept[path]; ok {
		return true, nil
	}
	if !holdsKept(path, kept) {
		return false, os.RemoveAll(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return true, err
	}

	var errs []error
	retained := false
	for _, e := range entries {
		r, err := removeExcept(filepath.Join(path, e.Name()), kept)
		if err != nil {
			errs = append(errs, err)
		}
		retained = retained || r
	}
	if !retained && len(errs) == 0 {
		// Every kept path below this directory was already gone.
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return retained, errors.Join(errs...)
}

// holdsKept reports whether any kept path lies strictly below dir.
func holdsKept(dir string, kept map[string]struct{}) bool {
	prefix := dir + string(filepath.Separator)
	for k := range kept {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}
