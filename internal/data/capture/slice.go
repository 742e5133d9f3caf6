package capture

import (
	"context"
	"io"
	"time"

	"github.com/penwyp/go-usbll2sr/internal/core/model"
)

// SliceSource serves records from memory.
type SliceSource struct {
	records []model.PacketRecord
	start   time.Time
	pos     int
}

// NewSliceSource returns a source replaying records; start is reported as
// the capture start time.
func NewSliceSource(records []model.PacketRecord, start time.Time) *SliceSource {
	return &SliceSource{records: records, start: start}
}

func (s *SliceSource) Next(ctx context.Context) (model.PacketRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.PacketRecord{}, err
	}
	if s.pos >= len(s.records) {
		return model.PacketRecord{}, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

func (s *SliceSource) Start() time.Time {
	return s.start
}

func (s *SliceSource) Close() error {
	return nil
}
