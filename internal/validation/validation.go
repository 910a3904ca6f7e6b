package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

var (
	ErrInvalidPath   = errors.New("invalid file path")
	ErrPathNotExists = errors.New("path does not exist")
	ErrOutOfRange    = errors.New("value out of range")
	ErrNotAllowed    = errors.New("value not allowed")
)

func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	p = filepath.Clean(p)
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

// ValidateParentDir checks that the directory p would be created in exists.
func ValidateParentDir(p string) error {
	if p == "" {
		return ErrInvalidPath
	}
	dir := filepath.Dir(filepath.Clean(p))
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathNotExists, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, dir)
	}
	return nil
}

func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

func ValidateOneOf(v string, allowed []string) error {
	if !slices.Contains(allowed, v) {
		return fmt.Errorf("%w: %q not one of %v", ErrNotAllowed, v, allowed)
	}
	return nil
}
