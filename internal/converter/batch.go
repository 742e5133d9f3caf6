package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/penwyp/go-usbll2sr/internal/data/cache"
	"github.com/penwyp/go-usbll2sr/internal/data/scanner"
	"github.com/penwyp/go-usbll2sr/internal/util"
)

// ErrOutputConflict marks captures whose archives would share one path.
var ErrOutputConflict = errors.New("output path shared by several captures")

// BatchConfig describes the conversion of every capture below a directory.
type BatchConfig struct {
	Dir       string
	Recursive bool
	// OutputDir receives the archives; empty writes each next to its
	// capture.
	OutputDir string
	// CacheDir holds the conversion cache; empty disables it.
	CacheDir    string
	Concurrency int
	// Template supplies every conversion setting except the paths.
	Template Config
}

// BatchResult is the outcome for one capture.
type BatchResult struct {
	Input      string
	Output     string
	Report     *Report
	Cached     bool
	MissReason cache.CacheMissReason
	Err        error
}

type Batch struct {
	config  BatchConfig
	cache   cache.Cache
	scanner *scanner.FileScanner
	stats   *BatchStats
}

func NewBatch(config BatchConfig) *Batch {
	config.Concurrency = defaultConcurrency(config.Concurrency)

	b := &Batch{
		config:  config,
		scanner: scanner.NewFileScanner(config.Dir, config.Recursive),
		stats:   NewBatchStats(),
	}
	if config.CacheDir != "" {
		fileCache, err := cache.NewFileCache(config.CacheDir)
		if err != nil {
			util.LogWarnf("Conversion cache disabled: %v", err)
		} else {
			b.cache = fileCache
		}
	}
	return b
}

func (b *Batch) Stats() *BatchStats {
	return b.stats
}

// OutputPath returns where the archive for input is written.
func (b *Batch) OutputPath(input string) string {
	name := scanner.TrimCaptureExt(filepath.Base(input)) + ".sr"
	if b.config.OutputDir == "" {
		return filepath.Join(filepath.Dir(input), name)
	}
	return filepath.Join(b.config.OutputDir, name)
}

// Run converts every capture found. Per-file failures are reported in the
// results; the error covers only scanning.
func (b *Batch) Run(ctx context.Context) ([]BatchResult, error) {
	startTime := time.Now()

	if b.cache != nil {
		if err := b.cache.Preload(); err != nil {
			util.LogWarn(fmt.Sprintf("Cache preload failed: %v", err))
		}
	}

	files, err := b.scanner.Scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", b.config.Dir, err)
	}
	util.LogInfo(fmt.Sprintf("Found %d capture files", len(files)))
	if len(files) == 0 {
		return nil, nil
	}

	return b.Convert(ctx, files, startTime), nil
}

// Convert converts the given captures concurrently, skipping those the
// cache reports as current.
func (b *Batch) Convert(ctx context.Context, files []string, startTime time.Time) []BatchResult {
	optionsHash := b.config.Template.OptionsHash()

	keys := make(map[string]string, len(files))
	keyList := make([]string, 0, len(files))
	for _, file := range files {
		key := cache.Key(file)
		keys[file] = key
		keyList = append(keyList, key)
	}

	var valid map[string]cache.BatchValidateResult
	if b.cache != nil {
		valid = b.cache.BatchValidate(keyList, optionsHash)
	}

	results := make([]BatchResult, len(files))
	claims := make(map[string][]string, len(files))
	for i, file := range files {
		results[i] = BatchResult{Input: file, Output: b.OutputPath(file)}
		claims[results[i].Output] = append(claims[results[i].Output], file)
	}

	var toConvert []int
	for i, file := range files {
		b.stats.IncrementTotal()

		if inputs := claims[results[i].Output]; len(inputs) > 1 {
			results[i].Err = fmt.Errorf("%w: %s would be written from %s",
				ErrOutputConflict, results[i].Output, strings.Join(inputs, ", "))
			b.stats.IncrementFailure()
			util.LogWarn(results[i].Err.Error())
			continue
		}
		if b.cache == nil {
			results[i].MissReason = cache.MissReasonNotFound
			toConvert = append(toConvert, i)
			continue
		}
		v := valid[keys[file]]
		if v.Valid && v.Entry != nil && v.Entry.OutputPath == results[i].Output {
			b.stats.IncrementHit()
			results[i].Cached = true
			results[i].Report = cachedReport(v.Entry)
			continue
		}
		results[i].MissReason = v.MissReason
		if v.Valid {
			results[i].MissReason = cache.MissReasonOutput
		}
		toConvert = append(toConvert, i)
	}
	util.LogDebug(fmt.Sprintf("Cache hit for %d files, need to convert %d files",
		len(files)-len(toConvert), len(toConvert)))

	if b.config.OutputDir != "" && len(toConvert) > 0 {
		if err := os.MkdirAll(b.config.OutputDir, 0755); err != nil {
			for _, i := range toConvert {
				results[i].Err = err
				b.stats.IncrementFailure()
			}
			return results
		}
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, b.config.Concurrency)
	var processed int64
	var mu sync.Mutex

	for _, i := range toConvert {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			res := &results[i]
			res.Report, res.Err = b.convertOne(ctx, res.Input, res.Output, res.MissReason, keys[res.Input], optionsHash)
			if res.Err != nil {
				b.stats.IncrementFailure()
				util.LogWarn(fmt.Sprintf("Failed to convert %s: %v", res.Input, res.Err))
			} else {
				b.stats.IncrementMiss(res.Input, res.MissReason)
			}

			mu.Lock()
			processed++
			if processed%10 == 0 {
				b.stats.PrintProgress(processed)
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	b.stats.PrintFinalStats()
	util.LogDebug(fmt.Sprintf("Batch duration: %v", time.Since(startTime)))
	return results
}

func (b *Batch) convertOne(ctx context.Context, input, output string, reason cache.CacheMissReason, key, optionsHash string) (*Report, error) {
	cfg := b.config.Template
	cfg.Input = input
	cfg.Output = output
	cfg.Progress = nil
	// An archive this batch produced before may be replaced.
	if reason != cache.MissReasonNotFound && reason != cache.MissReasonError {
		cfg.Overwrite = true
	}

	report, err := New(cfg).Run(ctx)
	if err != nil {
		return nil, err
	}

	if b.cache != nil {
		entry := &cache.Entry{
			InputPath:   input,
			OutputPath:  output,
			OptionsHash: optionsHash,
			RunID:       report.RunID,
			Packets:     report.Packets,
			Samples:     report.Samples,
		}
		if err := b.cache.Set(key, entry); err != nil {
			util.LogWarn(fmt.Sprintf("Failed to save cache for %s: %v", input, err))
		}
	}
	return report, nil
}

func cachedReport(entry *cache.Entry) *Report {
	return &Report{
		RunID:   entry.RunID,
		Input:   entry.InputPath,
		Output:  entry.OutputPath,
		Packets: entry.Packets,
		Samples: entry.Samples,
		Cached:  true,
	}
}
