//go:build darwin

package fsscan

import (
	"io/fs"
	"syscall"
)

func statIdentity(info fs.FileInfo) (DevIno, int64) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return DevIno{}, 0
	}
	return DevIno{Dev: uint64(st.Dev), Ino: st.Ino}, st.Atimespec.Nano()
}
