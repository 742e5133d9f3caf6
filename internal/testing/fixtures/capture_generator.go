// Package fixtures writes synthetic USB link-layer captures for tests.
package fixtures

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// pcap link types of USB 2.0 link-layer captures.
const (
	LinkTypeLowSpeed  uint32 = 293
	LinkTypeFullSpeed uint32 = 294
	LinkTypeHighSpeed uint32 = 295
)

// DefaultStart is the absolute time of the first generated packet.
var DefaultStart = time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

// Packet is one capture record, Offset after the capture start.
type Packet struct {
	Offset time.Duration
	Data   []byte
}

// CaptureGenerator writes classic nanosecond pcap files into a directory.
type CaptureGenerator struct {
	baseDir string
	start   time.Time
	order   binary.ByteOrder
}

func NewCaptureGenerator(baseDir string) *CaptureGenerator {
	return &CaptureGenerator{
		baseDir: baseDir,
		start:   DefaultStart,
		order:   binary.LittleEndian,
	}
}

// WithStart sets the time of the first packet.
func (g *CaptureGenerator) WithStart(start time.Time) *CaptureGenerator {
	g.start = start
	return g
}

// WithByteOrder sets the byte order of the file header and records.
func (g *CaptureGenerator) WithByteOrder(order binary.ByteOrder) *CaptureGenerator {
	g.order = order
	return g
}

// Pcap encodes packets as a pcap file. gopacket's writer cannot express
// the USB link types, so the header is built by hand.
func (g *CaptureGenerator) Pcap(linkType uint32, packets ...Packet) []byte {
	var buf bytes.Buffer
	hdr := make([]byte, 24)
	g.order.PutUint32(hdr[0:], 0xA1B23C4D)
	g.order.PutUint16(hdr[4:], 2)
	g.order.PutUint16(hdr[6:], 4)
	g.order.PutUint32(hdr[16:], 65535)
	g.order.PutUint32(hdr[20:], linkType)
	buf.Write(hdr)

	for _, p := range packets {
		at := g.start.Add(p.Offset)
		rec := make([]byte, 16)
		g.order.PutUint32(rec[0:], uint32(at.Unix()))
		g.order.PutUint32(rec[4:], uint32(at.Nanosecond()))
		g.order.PutUint32(rec[8:], uint32(len(p.Data)))
		g.order.PutUint32(rec[12:], uint32(len(p.Data)))
		buf.Write(rec)
		buf.Write(p.Data)
	}
	return buf.Bytes()
}

// WritePcap writes a capture named name and returns its path.
func (g *CaptureGenerator) WritePcap(name string, linkType uint32, packets ...Packet) (string, error) {
	return g.write(name, g.Pcap(linkType, packets...))
}

// WriteGzipPcap writes a gzip-compressed capture.
func (g *CaptureGenerator) WriteGzipPcap(name string, linkType uint32, packets ...Packet) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(g.Pcap(linkType, packets...)); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return g.write(name, buf.Bytes())
}

func (g *CaptureGenerator) write(name string, data []byte) (string, error) {
	path := filepath.Join(g.baseDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write capture %s: %w", path, err)
	}
	return path, nil
}

// SetupAck is a SETUP token to address 0 endpoint 0 followed, 10us later,
// by an ACK handshake.
func SetupAck() []Packet {
	return []Packet{
		{Offset: 0, Data: []byte{0x2D, 0x00, 0x10}},
		{Offset: 10 * time.Microsecond, Data: []byte{0xD2}},
	}
}

// InterruptPolls returns n IN/DATA1/NAK exchanges with a Low-Speed
// keyboard, one every interval.
func InterruptPolls(n int, interval time.Duration) []Packet {
	packets := make([]Packet, 0, 3*n)
	for i := 0; i < n; i++ {
		at := time.Duration(i) * interval
		packets = append(packets,
			Packet{Offset: at, Data: []byte{0x69, 0x81, 0x58}},
			Packet{Offset: at + 20*time.Microsecond, Data: []byte{0x4B, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xA3, 0x7E}},
			Packet{Offset: at + 120*time.Microsecond, Data: []byte{0xD2}},
		)
	}
	return packets
}
