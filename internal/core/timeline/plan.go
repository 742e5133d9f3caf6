package timeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/penwyp/go-usbll2sr/internal/core/encoder"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
)

// Plan walks src once and computes where every packet will be placed,
// without modulating anything. It validates records the same way the
// synthesizer does, so a capture that plans cleanly also synthesizes.
func Plan(ctx context.Context, src model.PacketSource, cfg Config) (Layout, error) {
	p := placement{leadIn: cfg.LeadIn}
	layout := Layout{Stats: newStats(), FirstSpeed: cfg.DefaultSpeed}
	if !layout.FirstSpeed.Valid() {
		layout.FirstSpeed = model.FullSpeed
	}

	for {
		if err := ctx.Err(); err != nil {
			return Layout{}, err
		}
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Layout{}, err
		}

		index := p.count
		if !rec.Speed.Valid() {
			return Layout{}, &model.PacketError{Index: index, Timestamp: rec.Timestamp,
				Err: fmt.Errorf("%w: %v", model.ErrUnsupportedSpeed, rec.Speed)}
		}
		if len(rec.Data) == 0 {
			return Layout{}, &model.PacketError{Index: index, Timestamp: rec.Timestamp, Err: model.ErrEmptyPacket}
		}
		if cfg.Encoder.StrictPID && !encoder.CheckPID(rec.Data[0]) {
			return Layout{}, &model.PacketError{Index: index, Timestamp: rec.Timestamp,
				Err: fmt.Errorf("%w: 0x%02x", model.ErrUnsupportedPID, rec.Data[0])}
		}

		bits := encoder.StuffedLength(rec.Data)
		sl := p.next(rec.Timestamp, rec.Speed, bits)
		if sl.first {
			layout.FirstSpeed = rec.Speed
		}
		if sl.violation != nil {
			layout.addViolation(*sl.violation)
		}
		layout.Packets++
		layout.BySpeed[rec.Speed]++
		layout.ByPID[encoder.PIDName(rec.Data[0])]++
		layout.EncodedBits += int64(bits)
		layout.StuffedBits += int64(bits - 8 - 8*len(rec.Data))
	}

	layout.Extent = extent(p.prevEnd, cfg)
	return layout, nil
}
