//go:build unix

package sandbox

import (
	"os"
	"syscall"
)

// trustedBinary checks that path is a regular file owned by the current user
// or root and not writable by group or others.
func trustedBinary(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	stat, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	uid := os.Getuid()
	if stat.Uid != 0 && (uid < 0 || stat.Uid != uint32(uid)) { //nolint:gosec // uid is non-negative on Unix
		return false
	}
	return fi.Mode()&0o022 == 0
}
