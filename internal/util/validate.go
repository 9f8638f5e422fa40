package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// IsConfigured reports whether all provided values are non-empty.
func IsConfigured(values ...string) bool {
	return !slices.Contains(values, "")
}

// ErrPathTraversal is returned for paths with a ".." element.
var ErrPathTraversal = errors.New("path cannot contain '..'")

// ValidatePath rejects empty paths and paths that climb out of their base
// with a ".." element. field names the setting in the returned error.
func ValidatePath(field, path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%s: is required", field)
	}
	if slices.Contains(strings.Split(filepath.ToSlash(path), "/"), "..") {
		return fmt.Errorf("%s: %w", field, ErrPathTraversal)
	}
	return nil
}

// CheckPathWritable creates dir if needed and verifies a file can be
// written and removed there.
func CheckPathWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapError("create directory", err)
	}

	f, err := os.CreateTemp(dir, ".monitor-write-test-*")
	if err != nil {
		return WrapError("create test file", err)
	}
	name := f.Name()

	_, werr := f.Write(make([]byte, 1024))
	cerr := f.Close()
	rerr := os.Remove(name)
	if err := errors.Join(werr, cerr, rerr); err != nil {
		return WrapError("write test file", err)
	}
	return nil
}
