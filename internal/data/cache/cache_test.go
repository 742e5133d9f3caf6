package cache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dir     string
	cache   *FileCache
	capture string
	archive string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	c, err := NewFileCache(filepath.Join(dir, "cache"))
	require.NoError(t, err)

	f := fixture{
		dir:     dir,
		cache:   c,
		capture: filepath.Join(dir, "bus.pcap"),
		archive: filepath.Join(dir, "bus.sr"),
	}
	require.NoError(t, os.WriteFile(f.capture, []byte("capture contents"), 0644))
	require.NoError(t, os.WriteFile(f.archive, []byte("archive"), 0644))
	return f
}

func (f fixture) entry() *Entry {
	return &Entry{
		InputPath:   f.capture,
		OutputPath:  f.archive,
		OptionsHash: "opts-1",
		RunID:       "run",
		Packets:     12,
		Samples:     480,
	}
}

func TestNewFileCacheInvalidDirectory(t *testing.T) {
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "file.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("content"), 0644))

	c, err := NewFileCache(filepath.Join(filePath, "subdir"))
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestKey(t *testing.T) {
	a := Key("/captures/session.pcap")
	b := Key("/other/session.pcap")
	assert.True(t, strings.HasPrefix(a, "session-"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Key("/captures/session.pcap"))
	assert.True(t, strings.HasPrefix(Key("x/y.pcap.gz"), "y-"))
}

func TestFileCacheSetAndGet(t *testing.T) {
	f := newFixture(t)
	key := Key(f.capture)

	require.NoError(t, f.cache.Set(key, f.entry()))
	_, err := os.Stat(filepath.Join(f.cache.baseDir, key+".json"))
	require.NoError(t, err)

	result := f.cache.Get(key, "opts-1")
	require.True(t, result.Found)
	assert.Equal(t, MissReasonNone, result.MissReason)
	assert.Equal(t, 12, result.Data.Packets)
	assert.Equal(t, key, result.Data.Key)
	assert.NotEmpty(t, result.Data.ContentFingerprint)
	assert.False(t, result.Data.ConvertedAt.IsZero())

	// A fresh cache reads the entry back from disk.
	fresh, err := NewFileCache(f.cache.baseDir)
	require.NoError(t, err)
	result = fresh.Get(key, "opts-1")
	require.True(t, result.Found)
	assert.Equal(t, uint64(480), result.Data.Samples)
}

func TestFileCacheGetNonExistent(t *testing.T) {
	f := newFixture(t)
	result := f.cache.Get("missing", "")
	assert.False(t, result.Found)
	assert.Equal(t, MissReasonNotFound, result.MissReason)
}

func TestFileCacheInvalidJSON(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.cache.baseDir, "bad.json"), []byte("{not json"), 0644))
	result := f.cache.Get("bad", "")
	assert.False(t, result.Found)
	assert.Equal(t, MissReasonError, result.MissReason)
}

func TestFileCacheValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, f fixture)
		options string
		reason  CacheMissReason
	}{
		{
			name:    "unchanged",
			mutate:  func(t *testing.T, f fixture) {},
			options: "opts-1",
			reason:  MissReasonNone,
		},
		{
			name:    "options changed",
			mutate:  func(t *testing.T, f fixture) {},
			options: "opts-2",
			reason:  MissReasonOptions,
		},
		{
			name: "capture grew",
			mutate: func(t *testing.T, f fixture) {
				require.NoError(t, os.WriteFile(f.capture, []byte("capture contents and more"), 0644))
			},
			options: "opts-1",
			reason:  MissReasonSize,
		},
		{
			name: "capture touched",
			mutate: func(t *testing.T, f fixture) {
				later := time.Now().Add(time.Minute)
				require.NoError(t, os.Chtimes(f.capture, later, later))
			},
			options: "opts-1",
			reason:  MissReasonModTime,
		},
		{
			name: "capture deleted",
			mutate: func(t *testing.T, f fixture) {
				require.NoError(t, os.Remove(f.capture))
			},
			options: "opts-1",
			reason:  MissReasonError,
		},
		{
			name: "archive deleted",
			mutate: func(t *testing.T, f fixture) {
				require.NoError(t, os.Remove(f.archive))
			},
			options: "opts-1",
			reason:  MissReasonOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			key := Key(f.capture)
			require.NoError(t, f.cache.Set(key, f.entry()))

			tt.mutate(t, f)
			result := f.cache.Get(key, tt.options)
			assert.Equal(t, tt.reason == MissReasonNone, result.Found)
			assert.Equal(t, tt.reason, result.MissReason)
		})
	}
}

func TestFileCacheValidationMissingFingerprint(t *testing.T) {
	f := newFixture(t)
	key := Key(f.capture)
	require.NoError(t, f.cache.Set(key, f.entry()))

	f.cache.memoryCache[key].ContentFingerprint = ""
	result := f.cache.Get(key, "opts-1")
	assert.Equal(t, MissReasonNoFingerprint, result.MissReason)
}

func TestFileCacheValidationOldFileSkipsFingerprint(t *testing.T) {
	f := newFixture(t)
	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(f.capture, old, old))

	key := Key(f.capture)
	require.NoError(t, f.cache.Set(key, f.entry()))
	f.cache.memoryCache[key].ContentFingerprint = ""

	assert.True(t, f.cache.Get(key, "opts-1").Found)
}

func TestFileCacheClear(t *testing.T) {
	f := newFixture(t)
	key := Key(f.capture)
	require.NoError(t, f.cache.Set(key, f.entry()))

	require.NoError(t, f.cache.Clear())
	mem, files := f.cache.GetCacheStats()
	assert.Zero(t, mem)
	assert.Zero(t, files)
	assert.False(t, f.cache.Get(key, "").Found)
}

func TestFileCachePreload(t *testing.T) {
	f := newFixture(t)
	key := Key(f.capture)
	require.NoError(t, f.cache.Set(key, f.entry()))
	require.NoError(t, os.WriteFile(filepath.Join(f.cache.baseDir, "broken.json"), []byte("]"), 0644))

	fresh, err := NewFileCache(f.cache.baseDir)
	require.NoError(t, err)
	require.NoError(t, fresh.Preload())

	mem, files := fresh.GetCacheStats()
	assert.Equal(t, 1, mem)
	assert.Equal(t, 2, files)
	assert.Contains(t, fresh.memoryCache, key)
}

func TestFileCachePreloadEmptyDirectory(t *testing.T) {
	c, err := NewFileCache(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, c.Preload())
}

func TestFileCacheBatchValidate(t *testing.T) {
	f := newFixture(t)
	key := Key(f.capture)
	require.NoError(t, f.cache.Set(key, f.entry()))

	results := f.cache.BatchValidate([]string{key, "other"}, "opts-1")
	require.Len(t, results, 2)
	assert.True(t, results[key].Valid)
	assert.Equal(t, 12, results[key].Entry.Packets)
	assert.False(t, results["other"].Valid)
	assert.Equal(t, MissReasonNotFound, results["other"].MissReason)
}

func TestFileCacheConcurrentAccess(t *testing.T) {
	f := newFixture(t)
	key := Key(f.capture)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, f.cache.Set(key, f.entry()))
			} else {
				f.cache.Get(key, "opts-1")
			}
		}(i)
	}
	wg.Wait()
	assert.True(t, f.cache.Get(key, "opts-1").Found)
}

func TestCacheMissReasonString(t *testing.T) {
	assert.Equal(t, "conversion options changed", MissReasonOptions.String())
	assert.Equal(t, "archive missing", MissReasonOutput.String())
	assert.Equal(t, "unknown reason", CacheMissReason(99).String())
}
