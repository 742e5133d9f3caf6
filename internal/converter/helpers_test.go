package converter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/penwyp/go-usbll2sr/internal/core/decode"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/penwyp/go-usbll2sr/internal/data/capture"
	"github.com/penwyp/go-usbll2sr/internal/data/srfile"
	"github.com/penwyp/go-usbll2sr/internal/testing/fixtures"
	"github.com/stretchr/testify/require"
)

var captureStart = fixtures.DefaultStart

// writePcap writes a nanosecond pcap file at path.
func writePcap(t *testing.T, path string, linkType uint32, packets ...fixtures.Packet) {
	t.Helper()
	_, err := fixtures.NewCaptureGenerator(filepath.Dir(path)).WritePcap(filepath.Base(path), linkType, packets...)
	require.NoError(t, err)
}

func fullSpeedCapture(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	writePcap(t, path, capture.LinkTypeUSB20FullSpeed, fixtures.SetupAck()...)
	return path
}

// decodeArchive reads an archive back and decodes its packets.
func decodeArchive(t *testing.T, path string, speed model.Speed) (srfile.Metadata, []decode.Packet, uint64) {
	t.Helper()
	archive, err := srfile.Open(path)
	require.NoError(t, err)
	defer archive.Close()

	samples := archive.Samples()
	defer samples.Close()
	src := decode.NewSampleSource(samples, archive.Metadata.SampleRate)
	packets, err := decode.DecodeAll(src, speed)
	require.NoError(t, err)
	return archive.Metadata, packets, src.Samples()
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
