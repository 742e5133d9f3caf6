package srfile

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
)

// Archive is an opened session archive.
type Archive struct {
	Path     string
	Version  string
	Metadata Metadata
	// Blocks lists the sample block members in order.
	Blocks []*zip.File

	rc *zip.ReadCloser
}

// Open reads the version and metadata of an archive.
func Open(path string) (*Archive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, model.NewIOError("open", path, err)
	}
	a := &Archive{Path: path, rc: rc}
	if err := a.load(); err != nil {
		rc.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) load() error {
	members := make(map[string]*zip.File, len(a.rc.File))
	type indexed struct {
		n int
		f *zip.File
	}
	var blocks []indexed
	prefix := CaptureFile + "-"
	for _, f := range a.rc.File {
		members[f.Name] = f
		if rest, ok := strings.CutPrefix(f.Name, prefix); ok {
			n, err := strconv.Atoi(rest)
			if err != nil || n < 1 {
				return fmt.Errorf("%s: unexpected member %q", a.Path, f.Name)
			}
			blocks = append(blocks, indexed{n, f})
		}
	}

	version, err := readMember(members, VersionMember)
	if err != nil {
		return model.NewIOError("read", a.Path, err)
	}
	a.Version = strings.TrimSpace(string(version))
	if a.Version != FormatVersion {
		return fmt.Errorf("%s: unsupported session format version %q", a.Path, a.Version)
	}

	raw, err := readMember(members, MetadataMember)
	if err != nil {
		return model.NewIOError("read", a.Path, err)
	}
	if a.Metadata, err = decodeMetadata(raw); err != nil {
		return fmt.Errorf("%s: %w", a.Path, err)
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].n < blocks[j].n })
	for i, b := range blocks {
		if b.n != i+1 {
			return fmt.Errorf("%s: missing sample block %s", a.Path, BlockMember(i))
		}
		a.Blocks = append(a.Blocks, b.f)
	}
	return nil
}

func readMember(members map[string]*zip.File, name string) ([]byte, error) {
	f, ok := members[name]
	if !ok {
		return nil, fmt.Errorf("member %q missing", name)
	}
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// RawSize sums the uncompressed sizes of every block.
func (a *Archive) RawSize() uint64 {
	var n uint64
	for _, f := range a.Blocks {
		n += f.UncompressedSize64
	}
	return n
}

// Samples returns a reader over the concatenated, decompressed blocks.
// Blocks are opened lazily; the reader is invalid after Close.
func (a *Archive) Samples() *SampleReader {
	return &SampleReader{blocks: a.Blocks}
}

// Close releases the archive.
func (a *Archive) Close() error {
	return a.rc.Close()
}

// SampleReader streams sample units across block boundaries.
type SampleReader struct {
	blocks []*zip.File
	cur    io.ReadCloser
	buf    *bufio.Reader
}

func (s *SampleReader) advance() error {
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
	if len(s.blocks) == 0 {
		return io.EOF
	}
	rc, err := s.blocks[0].Open()
	if err != nil {
		return err
	}
	s.blocks = s.blocks[1:]
	s.cur = rc
	if s.buf == nil {
		s.buf = bufio.NewReaderSize(rc, 64<<10)
	} else {
		s.buf.Reset(rc)
	}
	return nil
}

func (s *SampleReader) Read(p []byte) (int, error) {
	for {
		if s.cur == nil {
			if err := s.advance(); err != nil {
				return 0, err
			}
		}
		n, err := s.buf.Read(p)
		if err == io.EOF {
			err = s.advance()
			if n > 0 {
				return n, nil
			}
			if err != nil {
				return 0, err
			}
			continue
		}
		return n, err
	}
}

func (s *SampleReader) ReadByte() (byte, error) {
	for {
		if s.cur == nil {
			if err := s.advance(); err != nil {
				return 0, err
			}
		}
		b, err := s.buf.ReadByte()
		if err == io.EOF {
			if err := s.advance(); err != nil {
				return 0, err
			}
			continue
		}
		return b, err
	}
}

// Close releases the current block.
func (s *SampleReader) Close() error {
	s.blocks = nil
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur = nil
	return err
}
