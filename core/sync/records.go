package sync

import (
	"math"

	"go.uber.org/zap"

	"example.com/synctime/base/timebase"
	"example.com/synctime/core/config"
	"example.com/synctime/core/measurements"
)

func frequency(f uint64) uint32 {
	if f > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(f)
}

// GetSyncTimeRecordHead returns the record table header of synchronized or
// pure time base id.
func (e *Engine) GetSyncTimeRecordHead(id timebase.ID) (measurements.SyncHead, error) {
	s, err := e.slot(id)
	if err != nil {
		return measurements.SyncHead{}, err
	}
	if s.sync != nil {
		return measurements.SyncHead{}, ErrInvalidTimeBaseID
	}
	if s.syncRecords == nil {
		return measurements.SyncHead{}, ErrServiceDisabled
	}
	h := measurements.SyncHead{TimeDomain: id, HWFrequency: timebase.NanosecondsPerSecond, HWPrescaler: 1}
	switch s.cfg.LocalTime {
	case config.SourceOsCounter:
		h.HWFrequency = frequency(e.cfg.OsCounter.Frequency)
		h.HWPrescaler = max(e.cfg.OsCounter.Prescaler, 1)
	case config.SourceGpt:
		h.HWFrequency = frequency(e.cfg.Gpt.Frequency)
		h.HWPrescaler = max(e.cfg.Gpt.Prescaler, 1)
	}
	return h, nil
}

func (e *Engine) GetOffsetTimeRecordHead(id timebase.ID) (measurements.OffsetHead, error) {
	s, err := e.slot(id)
	if err != nil {
		return measurements.OffsetHead{}, err
	}
	if s.sync == nil {
		return measurements.OffsetHead{}, ErrInvalidTimeBaseID
	}
	if s.offsetRecords == nil {
		return measurements.OffsetHead{}, ErrServiceDisabled
	}
	return measurements.OffsetHead{TimeDomain: id}, nil
}

// flushRecords hands new record blocks to the record callbacks.
func (e *Engine) flushRecords(s *slot) {
	id := s.entry.ID
	var n int
	var err error
	switch {
	case s.syncRecords != nil && e.cb.SyncRecordBlock != nil:
		n, err = s.syncRecords.Flush(func(b measurements.SyncBlock) error {
			return e.cb.SyncRecordBlock(id, b)
		})
	case s.offsetRecords != nil && e.cb.OffsetRecordBlock != nil:
		n, err = s.offsetRecords.Flush(func(b measurements.OffsetBlock) error {
			return e.cb.OffsetRecordBlock(id, b)
		})
	default:
		return
	}
	if err != nil {
		e.log.Info("failed to flush record table", timeBaseField(s),
			zap.Int("flushed", n), zap.Error(err))
	}
}
