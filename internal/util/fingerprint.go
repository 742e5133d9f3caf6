package util

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

const fingerprintWindow = 2048

// CalculateFileFingerprint returns a CRC32 over the first and last 2KB of a
// file. Capture files change at the tail as they grow and at the head when
// rewritten, so both ends are covered.
func CalculateFileFingerprint(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", err
	}

	h := crc32.NewIEEE()
	size := stat.Size()
	head := min(size, fingerprintWindow)
	if _, err := io.CopyN(h, file, head); err != nil {
		return "", err
	}

	if tail := min(size-head, fingerprintWindow); tail > 0 {
		if _, err := file.Seek(-tail, io.SeekEnd); err != nil {
			return "", err
		}
		if _, err := io.CopyN(h, file, tail); err != nil {
			return "", err
		}
	}

	return fmt.Sprintf("%08x", h.Sum32()), nil
}
