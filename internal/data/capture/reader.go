// Package capture reads USB link-layer packet captures (pcap and pcapng)
// into packet records.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/klauspost/compress/gzip"
	"github.com/penwyp/go-usbll2sr/internal/core/encoder"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/penwyp/go-usbll2sr/internal/util"
)

// Capture container formats. Either may be gzip-compressed.
const (
	FormatPcap   = "pcap"
	FormatPcapNG = "pcapng"
)

// Options controls how records are produced.
type Options struct {
	// Speed applied to every record. SpeedUnknown infers it from the link
	// type, which only classic pcap headers expose.
	Speed model.Speed
}

type packetDataSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// Reader yields packet records from a capture file.
type Reader struct {
	path     string
	closer   io.Closer
	zr       *gzip.Reader
	src      packetDataSource
	format   string
	linkType uint32
	speed    model.Speed

	first     time.Time
	haveFirst bool
	count     int
}

// Open opens the capture at path.
func Open(path string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.NewIOError("open", path, err)
	}
	r, err := newReader(f, path, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads a capture from an arbitrary stream.
func NewReader(rd io.Reader, opts Options) (*Reader, error) {
	return newReader(rd, "<stream>", opts)
}

func newReader(rd io.Reader, path string, opts Options) (*Reader, error) {
	br := bufio.NewReader(rd)
	magic, err := br.Peek(4)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, model.NewIOError("read", path, errors.New("capture is empty or truncated"))
		}
		return nil, model.NewIOError("read", path, err)
	}

	r := &Reader{path: path, speed: opts.Speed}
	if magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, model.NewIOError("read", path, err)
		}
		r.zr = zr
		br = bufio.NewReader(zr)
		if magic, err = br.Peek(4); err != nil {
			return nil, model.NewIOError("read", path, fmt.Errorf("compressed capture: %w", err))
		}
	}

	knownLinkType := false
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.NgReaderOptions{SkipUnknownVersion: true})
		if err != nil {
			return nil, model.NewIOError("parse", path, err)
		}
		r.src = ng
		r.format = FormatPcapNG
		r.linkType = uint32(ng.LinkType())
	} else {
		if hdr, err := br.Peek(24); err == nil {
			r.linkType, knownLinkType = classicLinkType(hdr)
		}
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, model.NewIOError("parse", path, err)
		}
		r.src = pr
		r.format = FormatPcap
	}

	if !r.speed.Valid() {
		if !knownLinkType {
			return nil, fmt.Errorf("%w: cannot infer speed from a %s capture, set one explicitly",
				model.ErrUnsupportedSpeed, r.format)
		}
		speed, err := SpeedForLinkType(r.linkType)
		if err != nil {
			return nil, err
		}
		r.speed = speed
	}

	util.LogDebugf("Opened %s capture %s: link type %d, speed %s", r.format, path, r.linkType, r.speed.Name())
	return r, nil
}

// Next returns the next packet record or io.EOF.
func (r *Reader) Next(ctx context.Context) (model.PacketRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.PacketRecord{}, err
	}
	data, ci, err := r.src.ReadPacketData()
	if errors.Is(err, io.EOF) {
		return model.PacketRecord{}, io.EOF
	}
	if err != nil {
		return model.PacketRecord{}, model.NewIOError("read", r.path, fmt.Errorf("packet %d: %w", r.count, err))
	}

	if !r.haveFirst {
		r.first, r.haveFirst = ci.Timestamp, true
	}
	r.count++

	return model.PacketRecord{
		Timestamp: ci.Timestamp.Sub(r.first),
		Speed:     r.speed,
		Data:      bytes.Clone(data),
		PIDValid:  len(data) > 0 && encoder.CheckPID(data[0]),
	}, nil
}

// Start returns the absolute time of the first packet read so far.
func (r *Reader) Start() time.Time {
	return r.first
}

// Speed returns the speed assigned to records.
func (r *Reader) Speed() model.Speed {
	return r.speed
}

// Format returns the container format.
func (r *Reader) Format() string {
	return r.format
}

// LinkType returns the link type from the file header. For pcapng it is
// truncated to eight bits by the parser.
func (r *Reader) LinkType() uint32 {
	return r.linkType
}

// Count returns the number of records read.
func (r *Reader) Count() int {
	return r.count
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
	}
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
