// Package srfile reads and writes sigrok session archives.
package srfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/penwyp/go-usbll2sr/internal/util"
)

// ErrMetadataOrder is returned when blocks are written before the
// metadata, or metadata is written twice.
var ErrMetadataOrder = errors.New("metadata must be written exactly once before any sample block")

// ErrClosed is returned for writes after Commit or Abort.
var ErrClosed = errors.New("session writer is closed")

// Options controls archive creation.
type Options struct {
	// Overwrite replaces an existing archive at the destination.
	Overwrite bool
	// Modified stamps every member; zero uses the current time.
	Modified time.Time
}

// Writer builds an archive in a temporary file next to its destination and
// moves it into place on Commit.
type Writer struct {
	path    string
	tmpPath string
	file    *os.File
	zw      *zip.Writer
	opts    Options
	meta    bool
	blocks  int
	samples uint64
	written int64
	closed  bool
}

// Create starts a new archive destined for path.
func Create(path string, opts Options) (*Writer, error) {
	if !opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil, model.NewIOError("create", path, os.ErrExist)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, model.NewIOError("stat", path, err)
		}
	}
	if opts.Modified.IsZero() {
		opts.Modified = time.Now()
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return nil, model.NewIOError("create", path, err)
	}
	util.LogDebugf("Writing session archive %s via %s", path, f.Name())

	return &Writer{
		path:    path,
		tmpPath: f.Name(),
		file:    f,
		zw:      zip.NewWriter(f),
		opts:    opts,
	}, nil
}

// WriteMetadata writes the version and metadata members.
func (w *Writer) WriteMetadata(meta model.SessionMetadata) error {
	if w.closed {
		return ErrClosed
	}
	if w.meta {
		return ErrMetadataOrder
	}

	vw, err := w.zw.CreateHeader(w.header(VersionMember))
	if err != nil {
		return model.NewIOError("write", w.path, err)
	}
	if _, err := vw.Write([]byte(FormatVersion)); err != nil {
		return model.NewIOError("write", w.path, err)
	}

	mw, err := w.zw.CreateHeader(w.header(MetadataMember))
	if err != nil {
		return model.NewIOError("write", w.path, err)
	}
	if err := encodeMetadata(mw, meta); err != nil {
		return model.NewIOError("write", w.path, fmt.Errorf("metadata: %w", err))
	}
	w.meta = true
	return nil
}

// WriteBlock appends a compressed sample block. Blocks must arrive in
// index order.
func (w *Writer) WriteBlock(block model.SampleBlock) error {
	if w.closed {
		return ErrClosed
	}
	if !w.meta {
		return ErrMetadataOrder
	}
	if block.Index != w.blocks {
		return fmt.Errorf("sample block %d out of order, expected %d", block.Index, w.blocks)
	}

	fh := w.header(BlockMember(block.Index))
	fh.CRC32 = block.CRC32
	fh.CompressedSize64 = uint64(len(block.Payload))
	fh.UncompressedSize64 = block.RawSize
	bw, err := w.zw.CreateRaw(fh)
	if err != nil {
		return model.NewIOError("write", w.path, err)
	}
	n, err := bw.Write(block.Payload)
	if err != nil {
		return model.NewIOError("write", w.path, err)
	}
	w.written += int64(n)
	w.blocks++
	w.samples += block.Samples
	return nil
}

func (w *Writer) header(name string) *zip.FileHeader {
	return &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: w.opts.Modified,
	}
}

// Blocks returns the number of sample blocks written.
func (w *Writer) Blocks() int {
	return w.blocks
}

// Samples returns the number of sample units written.
func (w *Writer) Samples() uint64 {
	return w.samples
}

// CompressedBytes returns the sample payload bytes written.
func (w *Writer) CompressedBytes() int64 {
	return w.written
}

// Path returns the final archive path.
func (w *Writer) Path() string {
	return w.path
}

// Commit finalizes the archive and renames it into place.
func (w *Writer) Commit() error {
	if w.closed {
		return ErrClosed
	}
	if !w.meta {
		w.Abort()
		return ErrMetadataOrder
	}
	w.closed = true

	if err := w.zw.Close(); err != nil {
		w.discard()
		return model.NewIOError("write", w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		w.discard()
		return model.NewIOError("sync", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return model.NewIOError("close", w.path, err)
	}
	if err := w.publish(); err != nil {
		os.Remove(w.tmpPath)
		return model.NewIOError("commit", w.path, err)
	}
	util.LogDebugf("Committed %s: %d blocks, %d samples", w.path, w.blocks, w.samples)
	return nil
}

// publish moves the finished temp file to the archive path. Without
// Overwrite the destination must still be absent: another writer may have
// committed it since Create.
func (w *Writer) publish() error {
	if w.opts.Overwrite {
		return os.Rename(w.tmpPath, w.path)
	}
	err := os.Link(w.tmpPath, w.path)
	if err == nil {
		return os.Remove(w.tmpPath)
	}
	if errors.Is(err, os.ErrExist) {
		return err
	}
	// No hard links on this file system.
	if _, statErr := os.Stat(w.path); statErr == nil {
		return os.ErrExist
	}
	return os.Rename(w.tmpPath, w.path)
}

// Abort discards the partial archive. It is safe to call after Commit.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.discard()
}

func (w *Writer) discard() error {
	w.file.Close()
	if err := os.Remove(w.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return model.NewIOError("remove", w.tmpPath, err)
	}
	return nil
}
