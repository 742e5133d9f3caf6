package util

import (
	"golang.org/x/sys/unix"
)

// FileInfo contains extended file information, including modification time, size, and inode number.
type FileInfo struct {
	ModTime int64  // Last modification time, nanoseconds since the epoch
	Size    int64  // File size in bytes
	Inode   uint64 // Inode number (unique file identifier on Unix-like systems)
}

// GetFileInfo retrieves detailed file information, including inode number.
// Supported on Linux and macOS.
func GetFileInfo(path string) (*FileInfo, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, err
	}

	return &FileInfo{
		ModTime: modTime(&st),
		Size:    st.Size,
		Inode:   uint64(st.Ino),
	}, nil
}
