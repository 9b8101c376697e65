//go:build !windows

package fileutil

import (
	"fmt"
	"os"
)

func restrictToOwner(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := os.FileMode(0o600)
	if fi.IsDir() {
		mode = 0o700
	}
	return os.Chmod(path, mode)
}

// OwnerOnly reports whether path grants no access to group or others.
func OwnerOnly(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return fi.Mode().Perm()&0o077 == 0, nil
}
