package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/penwyp/go-usbll2sr/internal/util"
)

// CaptureExtensions lists the file suffixes recognised as captures.
var CaptureExtensions = []string{".pcap", ".pcapng", ".pcap.gz", ".pcapng.gz"}

// IsCaptureFile reports whether path names a packet capture.
func IsCaptureFile(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range CaptureExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// TrimCaptureExt strips the capture suffix from a file name.
func TrimCaptureExt(name string) string {
	lower := strings.ToLower(name)
	// Longest suffix first so .pcap.gz is not cut to .gz.
	for _, ext := range []string{".pcapng.gz", ".pcap.gz", ".pcapng", ".pcap"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// FileScanner finds capture files below a directory
type FileScanner struct {
	baseDir   string
	recursive bool
}

// NewFileScanner creates a new FileScanner instance
func NewFileScanner(baseDir string, recursive bool) *FileScanner {
	return &FileScanner{
		baseDir:   baseDir,
		recursive: recursive,
	}
}

// Scan returns the capture files found, sorted by path. Unreadable entries
// are skipped.
func (s *FileScanner) Scan() ([]string, error) {
	start := time.Now()
	var files []string
	dirCount := 0
	totalCount := 0

	util.LogDebugf("Start scanning directory: %s", s.baseDir)

	err := filepath.Walk(s.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			util.LogDebugf("Skip file (error): %s - %v", path, err)
			return nil
		}

		if info.IsDir() {
			dirCount++
			if !s.recursive && path != s.baseDir {
				return filepath.SkipDir
			}
			return nil
		}

		totalCount++
		if info.Mode().IsRegular() && IsCaptureFile(path) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)

	util.LogDebugf("File scan completed: duration %v, scanned %d directories, %d files, found %d captures",
		time.Since(start), dirCount, totalCount, len(files))

	return files, err
}
