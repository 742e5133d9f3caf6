package converter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/penwyp/go-usbll2sr/internal/data/cache"
	"github.com/penwyp/go-usbll2sr/internal/data/capture"
	"github.com/penwyp/go-usbll2sr/internal/testing/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batchFixture struct {
	dir      string
	outDir   string
	cacheDir string
	inputs   []string
}

func newBatchFixture(t *testing.T) batchFixture {
	t.Helper()
	root := t.TempDir()
	f := batchFixture{
		dir:      filepath.Join(root, "captures"),
		outDir:   filepath.Join(root, "archives"),
		cacheDir: filepath.Join(root, "cache"),
	}
	require.NoError(t, os.MkdirAll(f.dir, 0755))
	f.inputs = []string{
		fullSpeedCapture(t, f.dir, "a.pcap"),
		fullSpeedCapture(t, f.dir, "b.pcap"),
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "notes.txt"), []byte("not a capture"), 0644))
	return f
}

func (f batchFixture) config(template Config) BatchConfig {
	return BatchConfig{
		Dir:         f.dir,
		OutputDir:   f.outDir,
		CacheDir:    f.cacheDir,
		Concurrency: 2,
		Template:    template,
	}
}

func TestBatchConvertsAndCaches(t *testing.T) {
	f := newBatchFixture(t)
	template := DefaultConfig()

	batch := NewBatch(f.config(template))
	results, err := batch.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, res := range results {
		require.NoError(t, res.Err)
		assert.False(t, res.Cached)
		assert.Equal(t, cache.MissReasonNotFound, res.MissReason)
		assert.Equal(t, f.inputs[i], res.Input)
		assert.Equal(t, filepath.Join(f.outDir, []string{"a.sr", "b.sr"}[i]), res.Output)
		assert.Equal(t, 2, res.Report.Packets)
		_, packets, _ := decodeArchive(t, res.Output, model.FullSpeed)
		assert.Len(t, packets, 2)
	}
	total, hits, misses, failures, _ := batch.Stats().GetStats()
	assert.Equal(t, []int64{2, 0, 2, 0}, []int64{total, hits, misses, failures})

	// A second run finds both archives current.
	again := NewBatch(f.config(template))
	results, err = again.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, res := range results {
		assert.NoError(t, res.Err)
		assert.True(t, res.Cached)
		assert.True(t, res.Report.Cached)
		assert.Equal(t, f.inputs[i], res.Report.Input)
		assert.Equal(t, uint64(572), res.Report.Samples)
	}
	_, hits, _, _, hitRate := again.Stats().GetStats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, 100.0, hitRate)
}

func TestBatchReconvertsOnChange(t *testing.T) {
	f := newBatchFixture(t)
	_, err := NewBatch(f.config(DefaultConfig())).Run(context.Background())
	require.NoError(t, err)

	// New options invalidate every entry and replace the archives.
	template := DefaultConfig()
	template.Interpolate = 8
	batch := NewBatch(f.config(template))
	results, err := batch.Run(context.Background())
	require.NoError(t, err)
	for _, res := range results {
		require.NoError(t, res.Err)
		assert.False(t, res.Cached)
		assert.Equal(t, cache.MissReasonOptions, res.MissReason)
		assert.Equal(t, uint64(96_000_000), res.Report.SampleRate)
	}
	assert.Equal(t, map[cache.CacheMissReason]int{cache.MissReasonOptions: 2}, batch.Stats().MissReasons())

	// A deleted archive is rebuilt.
	require.NoError(t, os.Remove(results[0].Output))
	results, err = NewBatch(f.config(template)).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, results[0].Cached)
	assert.Equal(t, cache.MissReasonOutput, results[0].MissReason)
	assert.NoError(t, results[0].Err)
	assert.True(t, results[1].Cached)

	// A rewritten capture is rebuilt too.
	writePcap(t, f.inputs[1], capture.LinkTypeUSB20FullSpeed, fixtures.Packet{Data: []byte{0xD2}})
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(f.inputs[1], future, future))
	results, err = NewBatch(f.config(template)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, results[0].Cached)
	assert.False(t, results[1].Cached)
	require.NoError(t, results[1].Err)
	assert.Equal(t, 1, results[1].Report.Packets)
}

func TestBatchFailures(t *testing.T) {
	f := newBatchFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "broken.pcapng"), []byte("garbage!"), 0644))

	batch := NewBatch(f.config(DefaultConfig()))
	results, err := batch.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	var failed []BatchResult
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "broken.pcapng", filepath.Base(failed[0].Input))
	assert.NoFileExists(t, failed[0].Output)

	total, _, misses, failures, _ := batch.Stats().GetStats()
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, int64(1), failures)
}

func TestBatchWithoutCache(t *testing.T) {
	f := newBatchFixture(t)
	cfg := f.config(DefaultConfig())
	cfg.CacheDir = ""
	cfg.OutputDir = ""

	batch := NewBatch(cfg)
	assert.Equal(t, filepath.Join(f.dir, "a.sr"), batch.OutputPath(f.inputs[0]))
	results, err := batch.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		require.NoError(t, res.Err)
		assert.FileExists(t, res.Output)
	}

	// Without a cache the second run refuses to replace the archives.
	results, err = NewBatch(cfg).Run(context.Background())
	require.NoError(t, err)
	for _, res := range results {
		assert.ErrorIs(t, res.Err, model.ErrIO)
	}
}

func TestBatchEmptyDirectory(t *testing.T) {
	results, err := NewBatch(BatchConfig{Dir: t.TempDir(), Template: DefaultConfig()}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBatchStats(t *testing.T) {
	stats := NewBatchStats()
	for i := 0; i < 4; i++ {
		stats.IncrementTotal()
	}
	stats.IncrementHit()
	stats.IncrementMiss("a.pcap", cache.MissReasonNotFound)
	stats.IncrementMiss("b.pcap", cache.MissReasonSize)
	stats.IncrementFailure()

	total, hits, misses, failures, hitRate := stats.GetStats()
	assert.Equal(t, int64(4), total)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, int64(1), failures)
	assert.Equal(t, 25.0, hitRate)
	assert.Equal(t, map[cache.CacheMissReason]int{
		cache.MissReasonNotFound: 1,
		cache.MissReasonSize:     1,
	}, stats.MissReasons())

	stats.PrintProgress(3)
	stats.PrintFinalStats()
}

func TestBatchOutputConflict(t *testing.T) {
	tests := []struct {
		name      string
		recursive bool
		captures  []string
	}{
		{"compressed twin", false, []string{"trace.pcap", "trace.pcap.gz"}},
		{"same name in subdirectories", true, []string{"a/x.pcap", "b/x.pcap"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBatchFixture(t)
			gen := fixtures.NewCaptureGenerator(f.dir)
			for _, name := range tt.captures {
				var err error
				if strings.HasSuffix(name, ".gz") {
					_, err = gen.WriteGzipPcap(name, fixtures.LinkTypeFullSpeed, fixtures.InterruptPolls(2, time.Millisecond)...)
				} else {
					_, err = gen.WritePcap(name, fixtures.LinkTypeFullSpeed, fixtures.SetupAck()...)
				}
				require.NoError(t, err)
			}
			cfg := f.config(DefaultConfig())
			cfg.Recursive = tt.recursive

			// Repeat runs must not turn a conflict into cache hits.
			for run := 0; run < 2; run++ {
				results, err := NewBatch(cfg).Run(context.Background())
				require.NoError(t, err)
				require.Len(t, results, 4)

				conflicts := 0
				for _, res := range results {
					name := filepath.Base(res.Input)
					if name == "a.pcap" || name == "b.pcap" {
						require.NoError(t, res.Err)
						continue
					}
					conflicts++
					assert.ErrorIs(t, res.Err, ErrOutputConflict)
					assert.False(t, res.Cached)
					assert.Nil(t, res.Report)
				}
				assert.Equal(t, 2, conflicts)
				assert.ElementsMatch(t, []string{"a.sr", "b.sr"}, listDir(t, f.outDir))
			}
		})
	}
}
