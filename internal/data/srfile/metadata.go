package srfile

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"gopkg.in/ini.v1"
)

// Archive member names and fixed metadata values.
const (
	VersionMember  = "version"
	MetadataMember = "metadata"
	FormatVersion  = "2"
	SigrokVersion  = "0.7.1"
	CaptureFile    = "logic-1"

	sectionGlobal = "global"
	sectionDevice = "device 1"
)

// BlockMember returns the member name of the block with zero-based index.
func BlockMember(index int) string {
	return fmt.Sprintf("%s-%d", CaptureFile, index+1)
}

func encodeMetadata(w io.Writer, meta model.SessionMetadata) error {
	cfg := ini.Empty()

	global, err := cfg.NewSection(sectionGlobal)
	if err != nil {
		return err
	}
	if _, err := global.NewKey("sigrok version", SigrokVersion); err != nil {
		return err
	}
	if !meta.CaptureStart.IsZero() {
		if _, err := global.NewKey("capture start", meta.CaptureStart.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}

	dev, err := cfg.NewSection(sectionDevice)
	if err != nil {
		return err
	}
	keys := [][2]string{
		{"capturefile", CaptureFile},
		{"total probes", strconv.Itoa(len(meta.Channels))},
		{"samplerate", strconv.FormatUint(meta.SampleRate, 10)},
		{"total analog", "0"},
	}
	for i, name := range meta.Channels {
		keys = append(keys, [2]string{"probe" + strconv.Itoa(i+1), name})
	}
	keys = append(keys,
		[2]string{"unitsize", strconv.Itoa(model.UnitSize)},
		[2]string{"total samples", strconv.FormatUint(meta.TotalSamples, 10)},
	)
	for _, kv := range keys {
		if _, err := dev.NewKey(kv[0], kv[1]); err != nil {
			return err
		}
	}

	_, err = cfg.WriteTo(w)
	return err
}

// Metadata is the parsed metadata member of an archive.
type Metadata struct {
	model.SessionMetadata
	SigrokVersion string
	UnitSize      int
}

func decodeMetadata(data []byte) (Metadata, error) {
	cfg, err := ini.Load(bytes.TrimSpace(data))
	if err != nil {
		return Metadata{}, fmt.Errorf("parse metadata: %w", err)
	}
	var meta Metadata

	global := cfg.Section(sectionGlobal)
	meta.SigrokVersion = global.Key("sigrok version").String()
	if s := global.Key("capture start").String(); s != "" {
		start, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Metadata{}, fmt.Errorf("parse capture start: %w", err)
		}
		meta.CaptureStart = start
	}

	if !cfg.HasSection(sectionDevice) {
		return Metadata{}, fmt.Errorf("metadata has no [%s] section", sectionDevice)
	}
	dev := cfg.Section(sectionDevice)
	if cf := dev.Key("capturefile").String(); cf != CaptureFile {
		return Metadata{}, fmt.Errorf("unsupported capturefile %q", cf)
	}
	if meta.SampleRate, err = dev.Key("samplerate").Uint64(); err != nil {
		return Metadata{}, fmt.Errorf("parse samplerate: %w", err)
	}
	if meta.UnitSize, err = dev.Key("unitsize").Int(); err != nil {
		return Metadata{}, fmt.Errorf("parse unitsize: %w", err)
	}
	probes, err := dev.Key("total probes").Int()
	if err != nil {
		return Metadata{}, fmt.Errorf("parse total probes: %w", err)
	}
	for i := 1; i <= probes; i++ {
		meta.Channels = append(meta.Channels, dev.Key("probe"+strconv.Itoa(i)).String())
	}
	if dev.HasKey("total samples") {
		if meta.TotalSamples, err = dev.Key("total samples").Uint64(); err != nil {
			return Metadata{}, fmt.Errorf("parse total samples: %w", err)
		}
	}
	return meta, nil
}
