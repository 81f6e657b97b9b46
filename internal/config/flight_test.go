package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/qphone/internal/aggregator"
	"github.com/banshee-data/qphone/internal/control"
	"github.com/banshee-data/qphone/internal/flight"
	"github.com/banshee-data/qphone/internal/serialmux"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsFileMatchesCodeDefaults(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	empty := &FlightConfig{}

	if diff := cmp.Diff(empty.CoreConfig(), cfg.CoreConfig(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("defaults file drifted from code defaults (-code +file):\n%s", diff)
	}
	assert.Equal(t, empty.GetSnapshotInterval(), cfg.GetSnapshotInterval())
	assert.Equal(t, empty.GetSimPeriod(), cfg.GetSimPeriod())
	assert.Equal(t, empty.GetDBPath(), cfg.GetDBPath())
	assert.Equal(t, empty.GetRecorderQueueDepth(), cfg.GetRecorderQueueDepth())
	assert.Equal(t, empty.GetWriteQueueDepth(), cfg.GetWriteQueueDepth())
	assert.Equal(t, empty.GetSerialPort(), cfg.GetSerialPort())

	want, err := empty.PortOptions().Normalize()
	require.NoError(t, err)
	got, err := cfg.PortOptions().Normalize()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &FlightConfig{}
	want := flight.Config{
		MaxPacketSize: 32,
		Control:       control.DefaultConfig(),
		Move:          aggregator.DefaultConfig(),
	}
	if diff := cmp.Diff(want, cfg.CoreConfig()); diff != "" {
		t.Errorf("CoreConfig() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, serialmux.PortOptions{}, cfg.PortOptions())
	assert.Equal(t, 5*time.Second, cfg.GetSnapshotInterval())
}

func TestLoadFlightConfig_Partial(t *testing.T) {
	path := writeConfig(t, "partial.json", `{
  "layers": 3,
  "state_error": 2.5,
  "nominal_period": "10ms",
  "parity": "even",
  "max_tilt": 0.2
}`)
	cfg, err := LoadFlightConfig(path)
	require.NoError(t, err)

	cc := cfg.ControlConfig()
	assert.Equal(t, 3, cc.Layers)
	assert.Equal(t, 100, cc.Quantization)
	assert.Equal(t, 10*time.Millisecond, cc.NominalPeriod)
	assert.Equal(t, 2.5, cc.Gains.StateError)
	assert.Equal(t, control.DefaultGains().ControlLearning, cc.Gains.ControlLearning)
	assert.Equal(t, 0.2, cfg.MoveConfig().MaxTilt)

	opts, err := cfg.PortOptions().Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)
}

func TestLoadFlightConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "cfg.yaml", `{}`, ".json extension"},
		{"syntax", "cfg.json", `{"layers":`, "parse"},
		{"layers", "cfg.json", `{"layers": 0}`, "layers"},
		{"quantization", "cfg.json", `{"quantization": -1}`, "quantization"},
		{"period", "cfg.json", `{"nominal_period": "soon"}`, "nominal_period"},
		{"negative period", "cfg.json", `{"sim_period": "-1s"}`, "sim_period"},
		{"gain", "cfg.json", `{"leakage": -0.1}`, "leakage"},
		{"tilt", "cfg.json", `{"max_tilt": 0}`, "max_tilt"},
		{"parity", "cfg.json", `{"parity": "mark"}`, "parity"},
		{"stop bits", "cfg.json", `{"stop_bits": 3}`, "stop bits"},
		{"packet size", "cfg.json", `{"max_packet_size": 1000}`, "max_packet_size"},
		{"queue", "cfg.json", `{"recorder_queue_depth": 0}`, "recorder_queue_depth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFlightConfig(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFlightConfig_TooLarge(t *testing.T) {
	body := `{"serial_port": "` + strings.Repeat("a", maxFileSize) + `"}`
	_, err := LoadFlightConfig(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadFlightConfig_Missing(t *testing.T) {
	_, err := LoadFlightConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
