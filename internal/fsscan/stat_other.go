//go:build !linux && !darwin

package fsscan

import "io/fs"

// Portable systems do not expose inode or access time through FileInfo, so
// cycle detection falls back to the depth limit and access time is unknown.
func statIdentity(info fs.FileInfo) (DevIno, int64) {
	return DevIno{}, 0
}
