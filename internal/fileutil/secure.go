// Package fileutil writes files and directories that only the current user
// can read: the config file, the policy directory and the audit database.
//
// On Unix the mode bits (0600, 0700) are enough. On Windows they are ignored
// by the kernel, so a protected DACL granting access to the current user only
// is applied instead.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// SecureWriteFile atomically replaces path with data. The content is written
// to an owner-only temp file in the same directory and renamed into place, so
// a reader never sees a partial file and the result is never briefly
// readable by others.
func SecureWriteFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := restrictToOwner(tmpName); err != nil {
		tmp.Close()
		return fmt.Errorf("restrict %s: %w", tmpName, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

// SecureMkdirAll creates a directory tree and restricts the leaf directory
// to the current user.
func SecureMkdirAll(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return err
	}
	return restrictToOwner(path)
}
