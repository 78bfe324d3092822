package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"example.com/synctime/base/timebase"
)

const (
	RoleMaster  = "master"
	RoleSlave   = "slave"
	RoleGateway = "gateway"

	SourceOsCounter   = "os_counter"
	SourceOsTimestamp = "os_timestamp"
	SourceGpt         = "gpt"
	SourceEth         = "eth"
)

// Time base identifier bands.
const (
	MaxSyncID   timebase.ID = 15
	MinOffsetID timebase.ID = 16
	MaxOffsetID timebase.ID = 31
	MinPureID   timebase.ID = 32
	MaxPureID   timebase.ID = 127
)

const (
	defaultMainFunctionPeriod = 10 * time.Millisecond
	defaultOsCounterFrequency = 1_000_000_000
	defaultTimerCapacity      = 16
	defaultStartThreshold     = 50 * time.Millisecond
)

var errInvalidDuration = errors.New("invalid duration")

// Duration is a time.Duration written as a string, e.g. "10ms".
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: %q", errInvalidDuration, text)
	}
	if v < 0 {
		return fmt.Errorf("%w: %q is negative", errInvalidDuration, text)
	}
	*d = Duration(v)
	return nil
}

type CounterConfig struct {
	Frequency uint64 `toml:"frequency,omitempty" yaml:"frequency,omitempty"`
	MaxTicks  uint64 `toml:"max_ticks,omitempty" yaml:"max_ticks,omitempty"`
	Prescaler uint32 `toml:"prescaler,omitempty" yaml:"prescaler,omitempty"`
}

type TimerConfig struct {
	GptChannel     uint8    `toml:"gpt_channel,omitempty" yaml:"gpt_channel,omitempty"`
	StartThreshold Duration `toml:"start_threshold,omitempty" yaml:"start_threshold,omitempty"`
	Capacity       int      `toml:"capacity,omitempty" yaml:"capacity,omitempty"`
}

type ShmConfig struct {
	Enabled bool `toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Key     int  `toml:"key,omitempty" yaml:"key,omitempty"`
}

type TimeBaseConfig struct {
	ID             timebase.ID `toml:"id" yaml:"id"`
	Role           string      `toml:"role,omitempty" yaml:"role,omitempty"`
	SyncTimeBaseID timebase.ID `toml:"sync_time_base_id,omitempty" yaml:"sync_time_base_id,omitempty"`
	LocalTime      string      `toml:"local_time,omitempty" yaml:"local_time,omitempty"`
	EthController  uint8       `toml:"eth_controller,omitempty" yaml:"eth_controller,omitempty"`
	GptChannel     uint8       `toml:"gpt_channel,omitempty" yaml:"gpt_channel,omitempty"`

	Timeout          Duration        `toml:"timeout,omitempty" yaml:"timeout,omitempty"`
	NotificationMask timebase.Events `toml:"notification_mask,omitempty" yaml:"notification_mask,omitempty"`

	TimeLeapFutureThreshold Duration `toml:"time_leap_future_threshold,omitempty" yaml:"time_leap_future_threshold,omitempty"`
	TimeLeapPastThreshold   Duration `toml:"time_leap_past_threshold,omitempty" yaml:"time_leap_past_threshold,omitempty"`
	ClearTimeLeapCount      uint16   `toml:"clear_time_leap_count,omitempty" yaml:"clear_time_leap_count,omitempty"`

	OffsetCorrectionJumpThreshold    Duration `toml:"offset_correction_jump_threshold,omitempty" yaml:"offset_correction_jump_threshold,omitempty"`
	OffsetCorrectionAdaptionInterval Duration `toml:"offset_correction_adaption_interval,omitempty" yaml:"offset_correction_adaption_interval,omitempty"`

	RateCorrectionMeasurementDuration     Duration `toml:"rate_correction_measurement_duration,omitempty" yaml:"rate_correction_measurement_duration,omitempty"`
	RateCorrectionsPerMeasurementDuration uint8    `toml:"rate_corrections_per_measurement_duration,omitempty" yaml:"rate_corrections_per_measurement_duration,omitempty"`
	MaxRateDeviation                      uint16   `toml:"max_rate_deviation,omitempty" yaml:"max_rate_deviation,omitempty"`
	MasterRateCorrection                  bool     `toml:"master_rate_correction,omitempty" yaml:"master_rate_correction,omitempty"`
	MasterRateDeviationMax                uint16   `toml:"master_rate_deviation_max,omitempty" yaml:"master_rate_deviation_max,omitempty"`

	SystemWideMaster      bool                  `toml:"system_wide_master,omitempty" yaml:"system_wide_master,omitempty"`
	RecordBlocks          int                   `toml:"record_blocks,omitempty" yaml:"record_blocks,omitempty"`
	ShareData             bool                  `toml:"share_data,omitempty" yaml:"share_data,omitempty"`
	NVM                   bool                  `toml:"nvm,omitempty" yaml:"nvm,omitempty"`
	NotificationCustomers []timebase.CustomerID `toml:"notification_customers,omitempty" yaml:"notification_customers,omitempty"`
}

type Config struct {
	MainFunctionPeriod Duration         `toml:"main_function_period,omitempty" yaml:"main_function_period,omitempty"`
	OsCounter          CounterConfig    `toml:"os_counter,omitempty" yaml:"os_counter,omitempty"`
	Gpt                CounterConfig    `toml:"gpt,omitempty" yaml:"gpt,omitempty"`
	Timer              TimerConfig      `toml:"timer,omitempty" yaml:"timer,omitempty"`
	NvmFile            string           `toml:"nvm_file,omitempty" yaml:"nvm_file,omitempty"`
	Shm                ShmConfig        `toml:"shm,omitempty" yaml:"shm,omitempty"`
	MetricsAddr        string           `toml:"metrics_address,omitempty" yaml:"metrics_address,omitempty"`
	TimeBases          []TimeBaseConfig `toml:"time_base" yaml:"time_base"`
}

// Load reads, decodes, completes and validates a configuration file. Files
// ending in .yaml or .yml are decoded as YAML, all others as TOML.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return DecodeYAML(raw)
	default:
		return DecodeTOML(raw)
	}
}

func DecodeTOML(raw []byte) (Config, error) {
	var cfg Config
	err := toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return finish(cfg)
}

func DecodeYAML(raw []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	err := dec.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.MainFunctionPeriod == 0 {
		c.MainFunctionPeriod = Duration(defaultMainFunctionPeriod)
	}
	if c.OsCounter.Frequency == 0 {
		c.OsCounter.Frequency = defaultOsCounterFrequency
	}
	if c.Gpt.Frequency == 0 {
		c.Gpt.Frequency = defaultOsCounterFrequency
	}
	if c.Timer.Capacity == 0 {
		c.Timer.Capacity = defaultTimerCapacity
	}
	if c.Timer.StartThreshold == 0 {
		c.Timer.StartThreshold = Duration(defaultStartThreshold)
	}
	for i := range c.TimeBases {
		tb := &c.TimeBases[i]
		if tb.LocalTime == "" {
			tb.LocalTime = SourceOsTimestamp
		}
		switch {
		case tb.Role != "":
		case IsPureID(tb.ID):
			tb.Role = RoleMaster
		case tb.ID <= MaxPureID:
			tb.Role = RoleSlave
		}
	}
}

// TimeBase returns the configuration of time base id.
func (c *Config) TimeBase(id timebase.ID) (*TimeBaseConfig, bool) {
	for i := range c.TimeBases {
		if c.TimeBases[i].ID == id {
			return &c.TimeBases[i], true
		}
	}
	return nil, false
}

func IsSyncID(id timebase.ID) bool { return id <= MaxSyncID }

func IsOffsetID(id timebase.ID) bool { return id >= MinOffsetID && id <= MaxOffsetID }

func IsPureID(id timebase.ID) bool { return id >= MinPureID && id <= MaxPureID }
