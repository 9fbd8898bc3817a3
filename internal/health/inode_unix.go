//go:build unix

package health

import (
	"os"
	"syscall"
)

// fileInode extracts the inode so rotation is distinguishable from an
// in-place truncate.
func fileInode(info os.FileInfo) (uint64, bool) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino, true
	}
	return 0, false
}
