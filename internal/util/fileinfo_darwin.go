package util

import "golang.org/x/sys/unix"

func modTime(st *unix.Stat_t) int64 {
	return st.Mtimespec.Nano()
}
