package converter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/penwyp/go-usbll2sr/internal/data/cache"
	"github.com/penwyp/go-usbll2sr/internal/util"
)

// BatchStats counts cache hits, conversions and failures of a batch run.
type BatchStats struct {
	totalFiles  int64
	cacheHits   int64
	cacheMisses int64
	failures    int64
	mu          sync.Mutex
	missDetails []MissDetail
}

// MissDetail records why a capture had to be converted.
type MissDetail struct {
	FilePath string
	Reason   cache.CacheMissReason
}

func NewBatchStats() *BatchStats {
	return &BatchStats{
		missDetails: make([]MissDetail, 0),
	}
}

func (bs *BatchStats) IncrementTotal() {
	atomic.AddInt64(&bs.totalFiles, 1)
}

func (bs *BatchStats) IncrementHit() {
	atomic.AddInt64(&bs.cacheHits, 1)
}

// IncrementMiss counts a converted capture and remembers why it was not
// cached.
func (bs *BatchStats) IncrementMiss(filePath string, reason cache.CacheMissReason) {
	atomic.AddInt64(&bs.cacheMisses, 1)

	bs.mu.Lock()
	bs.missDetails = append(bs.missDetails, MissDetail{
		FilePath: filePath,
		Reason:   reason,
	})
	bs.mu.Unlock()
}

func (bs *BatchStats) IncrementFailure() {
	atomic.AddInt64(&bs.failures, 1)
}

// GetStats returns the counters and the hit rate in percent.
func (bs *BatchStats) GetStats() (total, hits, misses, failures int64, hitRate float64) {
	total = atomic.LoadInt64(&bs.totalFiles)
	hits = atomic.LoadInt64(&bs.cacheHits)
	misses = atomic.LoadInt64(&bs.cacheMisses)
	failures = atomic.LoadInt64(&bs.failures)

	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return
}

// MissReasons counts conversions by cache miss reason.
func (bs *BatchStats) MissReasons() map[cache.CacheMissReason]int {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	counts := make(map[cache.CacheMissReason]int)
	for _, detail := range bs.missDetails {
		counts[detail.Reason]++
	}
	return counts
}

func (bs *BatchStats) PrintProgress(processed int64) {
	total, hits, misses, failures, hitRate := bs.GetStats()

	util.LogInfo(fmt.Sprintf("Batch progress: processed %d/%d files, cache hit rate: %.1f%% (%d hits/%d converted/%d failures)",
		processed+hits, total, hitRate, hits, misses, failures))
}

func (bs *BatchStats) PrintFinalStats() {
	total, hits, misses, failures, hitRate := bs.GetStats()

	util.LogInfo(fmt.Sprintf("Batch complete: total files %d, hit rate %.1f%% (%d hits/%d converted/%d failures)",
		total, hitRate, hits, misses, failures))

	if misses > 0 {
		util.LogInfo("Conversion reason summary:")
		for reason, count := range bs.MissReasons() {
			util.LogInfo(fmt.Sprintf("  %s: %d files", reason, count))
		}
	}
}
