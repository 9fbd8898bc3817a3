package health

import (
	"os"
	"time"
)

// Reset reasons.
const (
	ResetRotated   = "rotated"
	ResetTruncated = "truncated"
)

// LogStatus is what one watcher check observed.
type LogStatus struct {
	Missing     bool   `json:"missing"`
	SizeBytes   int64  `json:"sizeBytes"`
	ModUnixMs   int64  `json:"modUnixMs"`
	ResetReason string `json:"resetReason,omitempty"`
	ResetMs     int64  `json:"resetMs,omitempty"`
}

// LogWatcher detects log rotation (inode change) and truncation (size
// decrease). A reset reason is reported exactly once; the caller
// re-seeds its window from the new file when Check's second return is
// true.
type LogWatcher struct {
	path     string
	inode    uint64
	hasInode bool
	size     int64
}

// NewLogWatcher watches the given log path.
func NewLogWatcher(path string) *LogWatcher {
	return &LogWatcher{path: path}
}

// Check stats the file and reports its status. The second return is
// true when the file was rotated or truncated since the last check.
func (w *LogWatcher) Check() (LogStatus, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		w.hasInode = false
		w.size = 0
		return LogStatus{Missing: true}, false
	}

	status := LogStatus{
		SizeBytes: info.Size(),
		ModUnixMs: info.ModTime().UnixMilli(),
	}

	inode, inodeOK := fileInode(info)
	reset := false
	switch {
	case w.hasInode && inodeOK && inode != w.inode:
		status.ResetReason = ResetRotated
		reset = true
	case w.hasInode && info.Size() < w.size:
		status.ResetReason = ResetTruncated
		reset = true
	}
	if reset {
		status.ResetMs = time.Now().UnixMilli()
	}

	w.inode = inode
	w.hasInode = inodeOK
	w.size = info.Size()
	return status, reset
}
