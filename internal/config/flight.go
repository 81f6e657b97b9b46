// Package config loads the autopilot's JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/qphone/internal/aggregator"
	"github.com/banshee-data/qphone/internal/control"
	"github.com/banshee-data/qphone/internal/flight"
	"github.com/banshee-data/qphone/internal/qcfp"
	"github.com/banshee-data/qphone/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical flight defaults file.
const DefaultConfigPath = "config/flight.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// FlightConfig is the root autopilot configuration. Every field is optional;
// the Get* methods supply the default for anything left out.
type FlightConfig struct {
	// Link
	SerialPort      *string `json:"serial_port,omitempty"`
	BaudRate        *int    `json:"baud_rate,omitempty"`
	DataBits        *int    `json:"data_bits,omitempty"`
	StopBits        *int    `json:"stop_bits,omitempty"`
	Parity          *string `json:"parity,omitempty"`
	MaxPacketSize   *int    `json:"max_packet_size,omitempty"`
	WriteQueueDepth *int    `json:"write_queue_depth,omitempty"`

	// Controller
	Layers             *int     `json:"layers,omitempty"`
	Quantization       *int     `json:"quantization,omitempty"`
	NominalPeriod      *string  `json:"nominal_period,omitempty"` // duration string like "20ms"
	AlternateLearning  *float64 `json:"alternate_learning,omitempty"`
	LearningError      *float64 `json:"learning_error,omitempty"`
	AlternateDeviation *float64 `json:"alternate_deviation,omitempty"`
	Leakage            *float64 `json:"leakage,omitempty"`
	ControlLearning    *float64 `json:"control_learning,omitempty"`
	Guide              *float64 `json:"guide,omitempty"`
	GuideDeadZone      *float64 `json:"guide_dead_zone,omitempty"`
	DeadZone           *float64 `json:"dead_zone,omitempty"`
	StateError         *float64 `json:"state_error,omitempty"`

	// Move commands
	TiltGain   *float64 `json:"tilt_gain,omitempty"`
	MaxTilt    *float64 `json:"max_tilt,omitempty"` // radians
	HeightGain *float64 `json:"height_gain,omitempty"`

	// Recorder
	DBPath             *string `json:"db_path,omitempty"`
	RecorderQueueDepth *int    `json:"recorder_queue_depth,omitempty"`
	SnapshotInterval   *string `json:"snapshot_interval,omitempty"`

	// Dev mode
	SimPeriod *string `json:"sim_period,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// LoadFlightConfig loads a FlightConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file keep their defaults, so partial configs are safe.
func LoadFlightConfig(path string) (*FlightConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &FlightConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. It panics if the file
// cannot be loaded and is meant for test setup.
func MustLoadDefaultConfig() *FlightConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadFlightConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func checkDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

func checkPositive(name string, v *float64) error {
	if v != nil && !(*v > 0) {
		return fmt.Errorf("%s must be positive, got %g", name, *v)
	}
	return nil
}

func checkNonNegative(name string, v *float64) error {
	if v != nil && !(*v >= 0) {
		return fmt.Errorf("%s must be non-negative, got %g", name, *v)
	}
	return nil
}

// Validate checks the values that are set.
func (c *FlightConfig) Validate() error {
	if _, err := c.PortOptions().Normalize(); err != nil {
		return err
	}
	if c.MaxPacketSize != nil && (*c.MaxPacketSize < 1 || *c.MaxPacketSize > qcfp.MaxSupportedPacketSize) {
		return fmt.Errorf("max_packet_size must be between 1 and %d, got %d", qcfp.MaxSupportedPacketSize, *c.MaxPacketSize)
	}
	if c.Layers != nil && *c.Layers < 1 {
		return fmt.Errorf("layers must be at least 1, got %d", *c.Layers)
	}
	if c.Quantization != nil && *c.Quantization < 1 {
		return fmt.Errorf("quantization must be at least 1, got %d", *c.Quantization)
	}
	for _, d := range []struct {
		name string
		v    *string
	}{
		{"nominal_period", c.NominalPeriod},
		{"snapshot_interval", c.SnapshotInterval},
		{"sim_period", c.SimPeriod},
	} {
		if err := checkDuration(d.name, d.v); err != nil {
			return err
		}
	}
	for _, g := range []struct {
		name string
		v    *float64
	}{
		{"alternate_learning", c.AlternateLearning},
		{"learning_error", c.LearningError},
		{"alternate_deviation", c.AlternateDeviation},
		{"leakage", c.Leakage},
		{"control_learning", c.ControlLearning},
		{"guide", c.Guide},
		{"guide_dead_zone", c.GuideDeadZone},
		{"dead_zone", c.DeadZone},
		{"state_error", c.StateError},
		{"tilt_gain", c.TiltGain},
		{"height_gain", c.HeightGain},
	} {
		if err := checkNonNegative(g.name, g.v); err != nil {
			return err
		}
	}
	if err := checkPositive("max_tilt", c.MaxTilt); err != nil {
		return err
	}
	if c.WriteQueueDepth != nil && *c.WriteQueueDepth < 1 {
		return fmt.Errorf("write_queue_depth must be at least 1, got %d", *c.WriteQueueDepth)
	}
	if c.RecorderQueueDepth != nil && *c.RecorderQueueDepth < 1 {
		return fmt.Errorf("recorder_queue_depth must be at least 1, got %d", *c.RecorderQueueDepth)
	}
	return nil
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetSerialPort returns the serial device path or the default.
func (c *FlightConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return "/dev/rfcomm0"
	}
	return *c.SerialPort
}

// PortOptions returns the serial line settings. Unset values are left zero
// for serialmux.PortOptions.Normalize to default.
func (c *FlightConfig) PortOptions() serialmux.PortOptions {
	opts := serialmux.PortOptions{
		BaudRate: getInt(c.BaudRate, 0),
		DataBits: getInt(c.DataBits, 0),
		StopBits: getInt(c.StopBits, 0),
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	return opts
}

// GetMaxPacketSize returns the frame payload bound or the default.
func (c *FlightConfig) GetMaxPacketSize() int {
	return getInt(c.MaxPacketSize, qcfp.DefaultMaxPacketSize)
}

// GetWriteQueueDepth returns the link writer queue depth or the default.
func (c *FlightConfig) GetWriteQueueDepth() int {
	return getInt(c.WriteQueueDepth, 16)
}

// GetNominalPeriod returns the expected control period or the default.
func (c *FlightConfig) GetNominalPeriod() time.Duration {
	return getDuration(c.NominalPeriod, control.DefaultConfig().NominalPeriod)
}

// Gains returns the learning gains, defaulting each unset one.
func (c *FlightConfig) Gains() control.Gains {
	def := control.DefaultGains()
	return control.Gains{
		AlternateLearning:  getFloat(c.AlternateLearning, def.AlternateLearning),
		LearningError:      getFloat(c.LearningError, def.LearningError),
		AlternateDeviation: getFloat(c.AlternateDeviation, def.AlternateDeviation),
		Leakage:            getFloat(c.Leakage, def.Leakage),
		ControlLearning:    getFloat(c.ControlLearning, def.ControlLearning),
		Guide:              getFloat(c.Guide, def.Guide),
		GuideDeadZone:      getFloat(c.GuideDeadZone, def.GuideDeadZone),
		DeadZone:           getFloat(c.DeadZone, def.DeadZone),
		StateError:         getFloat(c.StateError, def.StateError),
	}
}

// ControlConfig returns the layer ensemble configuration.
func (c *FlightConfig) ControlConfig() control.Config {
	cfg := control.DefaultConfig()
	cfg.Layers = getInt(c.Layers, cfg.Layers)
	cfg.Quantization = getInt(c.Quantization, cfg.Quantization)
	cfg.NominalPeriod = c.GetNominalPeriod()
	cfg.Gains = c.Gains()
	return cfg
}

// MoveConfig returns the move command gains.
func (c *FlightConfig) MoveConfig() aggregator.Config {
	def := aggregator.DefaultConfig()
	return aggregator.Config{
		TiltGain:   getFloat(c.TiltGain, def.TiltGain),
		MaxTilt:    getFloat(c.MaxTilt, def.MaxTilt),
		HeightGain: getFloat(c.HeightGain, def.HeightGain),
	}
}

// CoreConfig returns the flight core configuration.
func (c *FlightConfig) CoreConfig() flight.Config {
	return flight.Config{
		MaxPacketSize: c.GetMaxPacketSize(),
		Control:       c.ControlConfig(),
		Move:          c.MoveConfig(),
	}
}

// GetDBPath returns the recorder database path or the default.
func (c *FlightConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "flight.db"
	}
	return *c.DBPath
}

// GetRecorderQueueDepth returns the recorder queue depth or the default.
func (c *FlightConfig) GetRecorderQueueDepth() int {
	return getInt(c.RecorderQueueDepth, 1024)
}

// GetSnapshotInterval returns how often controller snapshots are recorded.
func (c *FlightConfig) GetSnapshotInterval() time.Duration {
	return getDuration(c.SnapshotInterval, 5*time.Second)
}

// GetSimPeriod returns the simulated board's sensor period.
func (c *FlightConfig) GetSimPeriod() time.Duration {
	return getDuration(c.SimPeriod, 20*time.Millisecond)
}
