package config

import (
	"fmt"
	"math"

	"example.com/synctime/base/timebase"
)

func (c *Config) Validate() error {
	if len(c.TimeBases) == 0 {
		return fmt.Errorf("no time bases configured")
	}
	if c.Timer.Capacity < 0 {
		return fmt.Errorf("timer capacity %d is negative", c.Timer.Capacity)
	}
	if c.Gpt.Prescaler > 0 && c.Gpt.Frequency < uint64(c.Gpt.Prescaler) {
		return fmt.Errorf("gpt prescaler %d exceeds frequency %d", c.Gpt.Prescaler, c.Gpt.Frequency)
	}
	ids := make(map[timebase.ID]bool, len(c.TimeBases))
	for i := range c.TimeBases {
		tb := &c.TimeBases[i]
		if ids[tb.ID] {
			return fmt.Errorf("duplicate time base %d", tb.ID)
		}
		ids[tb.ID] = true
	}
	for i := range c.TimeBases {
		if err := c.validateTimeBase(&c.TimeBases[i]); err != nil {
			return fmt.Errorf("time base %d: %w", c.TimeBases[i].ID, err)
		}
	}
	return nil
}

func (c *Config) validateTimeBase(tb *TimeBaseConfig) error {
	if tb.ID > MaxPureID {
		return fmt.Errorf("id %d is reserved", tb.ID)
	}
	switch tb.Role {
	case RoleMaster, RoleSlave, RoleGateway:
	default:
		return fmt.Errorf("invalid role %q", tb.Role)
	}
	switch tb.LocalTime {
	case SourceOsCounter, SourceOsTimestamp, SourceGpt, SourceEth:
	default:
		return fmt.Errorf("invalid local time source %q", tb.LocalTime)
	}
	if IsOffsetID(tb.ID) {
		if !IsSyncID(tb.SyncTimeBaseID) {
			return fmt.Errorf("sync time base %d is not a synchronized time base id", tb.SyncTimeBaseID)
		}
		if _, ok := c.TimeBase(tb.SyncTimeBaseID); !ok {
			return fmt.Errorf("sync time base %d not configured", tb.SyncTimeBaseID)
		}
		if tb.RateCorrectionMeasurementDuration != 0 || tb.MasterRateCorrection {
			return fmt.Errorf("rate correction is not supported on offset time bases")
		}
	}
	if IsPureID(tb.ID) && tb.Role == RoleGateway {
		return fmt.Errorf("pure time bases cannot be gateways")
	}
	if tb.OffsetCorrectionJumpThreshold > 0 && tb.OffsetCorrectionAdaptionInterval == 0 {
		return fmt.Errorf("offset correction needs an adaption interval")
	}
	if tb.RateCorrectionMeasurementDuration > 0 {
		if tb.Role == RoleMaster {
			return fmt.Errorf("slave rate correction configured on a master")
		}
		if tb.RateCorrectionsPerMeasurementDuration == 0 {
			return fmt.Errorf("rate_corrections_per_measurement_duration must be positive")
		}
	}
	// Rate deviations are reported as int16 ppm.
	if tb.MaxRateDeviation > math.MaxInt16 || tb.MasterRateDeviationMax > math.MaxInt16 {
		return fmt.Errorf("rate deviation limit out of range")
	}
	if tb.MasterRateCorrection && tb.Role != RoleMaster {
		return fmt.Errorf("master rate correction configured on a %s", tb.Role)
	}
	if tb.SystemWideMaster && tb.Role != RoleMaster {
		return fmt.Errorf("system wide master configured on a %s", tb.Role)
	}
	if tb.RecordBlocks < 0 {
		return fmt.Errorf("record_blocks %d is negative", tb.RecordBlocks)
	}
	if tb.NotificationMask&^timebase.AllEvents != 0 {
		return fmt.Errorf("invalid notification mask %#x", uint32(tb.NotificationMask))
	}
	seen := make(map[timebase.CustomerID]bool, len(tb.NotificationCustomers))
	for _, cid := range tb.NotificationCustomers {
		if seen[cid] {
			return fmt.Errorf("duplicate notification customer %d", cid)
		}
		seen[cid] = true
	}
	return nil
}
