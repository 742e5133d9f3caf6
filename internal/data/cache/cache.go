// Package cache remembers which captures have already been converted, and
// with which options, so batch runs can skip them.
package cache

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/penwyp/go-usbll2sr/internal/data/scanner"
	"github.com/penwyp/go-usbll2sr/internal/util"
)

type CacheMissReason int

const (
	MissReasonNone CacheMissReason = iota
	MissReasonError
	MissReasonInode
	MissReasonSize
	MissReasonModTime
	MissReasonFingerprint
	MissReasonNoFingerprint
	MissReasonNotFound
	MissReasonOptions
	MissReasonOutput
)

func (r CacheMissReason) String() string {
	switch r {
	case MissReasonNone:
		return "none"
	case MissReasonError:
		return "cache read error"
	case MissReasonInode:
		return "file inode changed"
	case MissReasonSize:
		return "file size changed"
	case MissReasonModTime:
		return "modification time changed"
	case MissReasonFingerprint:
		return "file fingerprint changed"
	case MissReasonNoFingerprint:
		return "cached entry has no fingerprint"
	case MissReasonNotFound:
		return "not converted before"
	case MissReasonOptions:
		return "conversion options changed"
	case MissReasonOutput:
		return "archive missing"
	default:
		return "unknown reason"
	}
}

// Entry records one successful conversion.
type Entry struct {
	Key         string `json:"key"`
	InputPath   string `json:"input_path"`
	OutputPath  string `json:"output_path"`
	OptionsHash string `json:"options_hash"`

	FileSize           int64  `json:"file_size"`
	LastModified       int64  `json:"last_modified"`
	Inode              uint64 `json:"inode"`
	ContentFingerprint string `json:"content_fingerprint"`

	RunID       string    `json:"run_id"`
	Packets     int       `json:"packets"`
	Samples     uint64    `json:"samples"`
	ConvertedAt time.Time `json:"converted_at"`
}

type CacheResult struct {
	Data       *Entry
	Found      bool
	MissReason CacheMissReason
}

type Cache interface {
	Get(key, optionsHash string) CacheResult
	Set(key string, entry *Entry) error
	Clear() error
	Preload() error
	BatchValidate(keys []string, optionsHash string) map[string]BatchValidateResult
}

// Key derives the cache key of a capture from its absolute path: the file
// name for readability plus a checksum of the full path for uniqueness.
func Key(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	name := scanner.TrimCaptureExt(filepath.Base(abs))
	return fmt.Sprintf("%s-%08x", name, crc32.ChecksumIEEE([]byte(abs)))
}

type FileCache struct {
	baseDir     string
	mu          sync.RWMutex
	memoryCache map[string]*Entry
}

func NewFileCache(baseDir string) (*FileCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	return &FileCache{
		baseDir:     baseDir,
		memoryCache: make(map[string]*Entry),
	}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.baseDir, key+".json")
}

func (c *FileCache) Get(key, optionsHash string) CacheResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key, optionsHash)
}

func (c *FileCache) lookup(key, optionsHash string) CacheResult {
	if memData, exists := c.memoryCache[key]; exists {
		ret := validateEntry(memData, optionsHash)
		if ret.cached {
			return CacheResult{Data: memData, Found: true, MissReason: MissReasonNone}
		}
		// A changed capture stays invalid; drop it.
		if ret.reason != MissReasonOptions && ret.reason != MissReasonOutput {
			delete(c.memoryCache, key)
		}
		return CacheResult{MissReason: ret.reason}
	}
	return c.getFromFile(key, optionsHash)
}

func (c *FileCache) getFromFile(key, optionsHash string) CacheResult {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return CacheResult{Data: nil, Found: false, MissReason: MissReasonNotFound}
	}

	var entry Entry
	if err := sonic.Unmarshal(data, &entry); err != nil {
		return CacheResult{Data: nil, Found: false, MissReason: MissReasonError}
	}
	if entry.Key == "" {
		entry.Key = key
	}

	if ret := validateEntry(&entry, optionsHash); !ret.cached {
		return CacheResult{Data: nil, Found: false, MissReason: ret.reason}
	}

	c.memoryCache[key] = &entry
	return CacheResult{Data: &entry, Found: true, MissReason: MissReasonNone}
}

type ValidateResult struct {
	cached bool
	reason CacheMissReason
}

// validateEntry checks the entry against the capture on disk. An empty
// optionsHash skips the options comparison.
func validateEntry(entry *Entry, optionsHash string) ValidateResult {
	currentInfo, err := util.GetFileInfo(entry.InputPath)
	if err != nil {
		util.LogDebugf("Cache validation failed for %s: unable to get file info: %v", entry.InputPath, err)
		return ValidateResult{cached: false, reason: MissReasonError}
	}

	// Step 1: Check inode/size/modtime
	if currentInfo.Inode != entry.Inode {
		util.LogDebugf("Cache invalidated for %s: inode changed (cached: %d, current: %d)",
			entry.InputPath, entry.Inode, currentInfo.Inode)
		return ValidateResult{cached: false, reason: MissReasonInode}
	}
	if currentInfo.Size != entry.FileSize {
		util.LogDebugf("Cache invalidated for %s: size changed (cached: %d, current: %d)",
			entry.InputPath, entry.FileSize, currentInfo.Size)
		return ValidateResult{cached: false, reason: MissReasonSize}
	}
	if currentInfo.ModTime != entry.LastModified {
		util.LogDebugf("Cache invalidated for %s: modtime changed (cached: %d, current: %d)",
			entry.InputPath, entry.LastModified, currentInfo.ModTime)
		return ValidateResult{cached: false, reason: MissReasonModTime}
	}

	// Step 2: Captures untouched for two days are trusted without reading them
	if time.Since(time.Unix(0, currentInfo.ModTime)) <= 48*time.Hour {
		if entry.ContentFingerprint == "" {
			util.LogDebugf("Cache invalidated for %s: no fingerprint in cached entry", entry.InputPath)
			return ValidateResult{cached: false, reason: MissReasonNoFingerprint}
		}
		fingerprint, err := util.CalculateFileFingerprint(entry.InputPath)
		if err != nil {
			util.LogDebugf("Cache invalidated for %s: unable to calculate fingerprint: %v", entry.InputPath, err)
			return ValidateResult{cached: false, reason: MissReasonNoFingerprint}
		}
		if fingerprint != entry.ContentFingerprint {
			util.LogDebugf("Cache invalidated for %s: fingerprint mismatch (cached: %s, current: %s)",
				entry.InputPath, entry.ContentFingerprint, fingerprint)
			return ValidateResult{cached: false, reason: MissReasonFingerprint}
		}
	}

	// Step 3: Same options, and the archive is still there
	if optionsHash != "" && optionsHash != entry.OptionsHash {
		return ValidateResult{cached: false, reason: MissReasonOptions}
	}
	if _, err := os.Stat(entry.OutputPath); err != nil {
		return ValidateResult{cached: false, reason: MissReasonOutput}
	}
	return ValidateResult{cached: true, reason: MissReasonNone}
}

// Set stamps entry with the current state of its capture and stores it.
func (c *FileCache) Set(key string, entry *Entry) error {
	fileInfo, err := util.GetFileInfo(entry.InputPath)
	if err != nil {
		return err
	}
	entry.LastModified = fileInfo.ModTime
	entry.FileSize = fileInfo.Size
	entry.Inode = fileInfo.Inode

	if fingerprint, err := util.CalculateFileFingerprint(entry.InputPath); err == nil {
		entry.ContentFingerprint = fingerprint
	}
	entry.Key = key
	if entry.ConvertedAt.IsZero() {
		entry.ConvertedAt = time.Now()
	}

	data, err := sonic.ConfigDefault.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path(key)); err != nil {
		os.Remove(tmp)
		return err
	}

	c.memoryCache[key] = entry
	return nil
}

func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.memoryCache = make(map[string]*Entry)

	return filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".json" {
			os.Remove(path)
		}
		return nil
	})
}

func (c *FileCache) cacheFiles() ([]string, error) {
	var files []string
	err := filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(strings.ToLower(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// Preload reads every cache file into memory using a worker pool.
func (c *FileCache) Preload() error {
	cacheFiles, err := c.cacheFiles()
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w", err)
	}
	if len(cacheFiles) == 0 {
		util.LogDebug("Cache directory is empty, skipping preload")
		return nil
	}

	numWorkers := min(runtime.NumCPU(), len(cacheFiles))
	util.LogDebugf("Preloading %d cache files with %d workers", len(cacheFiles), numWorkers)

	filesChan := make(chan string, len(cacheFiles))
	resultsChan := make(chan preloadResult, len(cacheFiles))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go c.preloadWorker(filesChan, resultsChan, &wg)
	}
	for _, file := range cacheFiles {
		filesChan <- file
	}
	close(filesChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	loaded, invalid, failed := 0, 0, 0
	c.mu.Lock()
	for result := range resultsChan {
		switch {
		case result.err != nil:
			failed++
			util.LogWarnf("Failed to preload cache file %s: %v", result.filePath, result.err)
		case validateEntry(result.data, "").cached:
			c.memoryCache[result.key] = result.data
			loaded++
		default:
			invalid++
		}
	}
	c.mu.Unlock()

	util.LogDebugf("Cache preload complete: %d loaded, %d invalid, %d errors (total %d)",
		loaded, invalid, failed, len(cacheFiles))
	return nil
}

type preloadResult struct {
	filePath string
	key      string
	data     *Entry
	err      error
}

func (c *FileCache) preloadWorker(filesChan <-chan string, resultsChan chan<- preloadResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for filePath := range filesChan {
		result := preloadResult{
			filePath: filePath,
			key:      strings.TrimSuffix(filepath.Base(filePath), ".json"),
		}

		data, err := os.ReadFile(filePath)
		if err != nil {
			result.err = err
			resultsChan <- result
			continue
		}

		var entry Entry
		if err := sonic.Unmarshal(data, &entry); err != nil {
			result.err = err
			resultsChan <- result
			continue
		}
		if entry.Key == "" {
			entry.Key = result.key
		}
		result.data = &entry
		resultsChan <- result
	}
}

func (c *FileCache) GetCacheStats() (memoryCount, fileCount int) {
	c.mu.RLock()
	memoryCount = len(c.memoryCache)
	c.mu.RUnlock()

	files, _ := c.cacheFiles()
	return memoryCount, len(files)
}

type BatchValidateResult struct {
	Valid      bool
	MissReason CacheMissReason
	Entry      *Entry
}

func (c *FileCache) BatchValidate(keys []string, optionsHash string) map[string]BatchValidateResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]BatchValidateResult, len(keys))
	validCount := 0
	for _, key := range keys {
		r := c.lookup(key, optionsHash)
		result[key] = BatchValidateResult{Valid: r.Found, MissReason: r.MissReason, Entry: r.Data}
		if r.Found {
			validCount++
		}
	}

	util.LogDebugf("Batch validation complete: %d files, %d valid", len(keys), validCount)
	return result
}
