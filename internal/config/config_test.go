package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
# broker
MQTT_BROKER=tcp://localhost:1883
BUILDING_ROTATION_OFFSET=91
PIXELS_PER_METER=25.5
STEP_DEBOUNCE_MS=300
PLATFORM=mqtt
SCREEN_ROTATION=270
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, 91.0, cfg.BuildingRotationOffset)
	assert.Equal(t, 25.5, cfg.PixelsPerMeter)
	assert.Equal(t, 300, cfg.StepDebounceMS)
	assert.Equal(t, PlatformMQTT, cfg.Platform)
	assert.Equal(t, 270, cfg.ScreenRotation)

	// untouched keys keep their defaults
	assert.Equal(t, 5, cfg.HeadingFilterSize)
	assert.Equal(t, 0.98, cfg.GyroWeight)
	assert.Equal(t, 0.7, cfg.StepLengthMeters)
	assert.Equal(t, 100, cfg.PathHistorySize)
}

func TestLoad_RequiresBuildingRotationOffset(t *testing.T) {
	path := writeConfig(t, "MQTT_BROKER=tcp://localhost:1883\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUILDING_ROTATION_OFFSET")
}

func TestLoad_ZeroOffsetIsAValidMeasurement(t *testing.T) {
	path := writeConfig(t, "MQTT_BROKER=tcp://localhost:1883\nBUILDING_ROTATION_OFFSET=0\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.BuildingRotationOffset)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "NOPE=1\n", "unknown config key"},
		{"malformed line", "MQTT_BROKER\n", "invalid config line 1"},
		{"bad float", "PIXELS_PER_METER=abc\n", "invalid PIXELS_PER_METER"},
		{"bad platform", "PLATFORM=android\n", "PLATFORM must be one of"},
		{"bad rotation", "SCREEN_ROTATION=45\n", "SCREEN_ROTATION must be"},
		{"gyro weight range", "MQTT_BROKER=x\nBUILDING_ROTATION_OFFSET=1\nGYRO_WEIGHT=1.5\n", "GYRO_WEIGHT"},
		{"missing broker", "BUILDING_ROTATION_OFFSET=1\n", "MQTT_BROKER is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestValidate_HardwareNeedsSPIDevice(t *testing.T) {
	cfg := Default()
	cfg.MQTTBroker = "tcp://localhost:1883"
	cfg.SetBuildingRotationOffset(70)
	cfg.Platform = PlatformHardware
	cfg.IMUSPIDevice = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMU_SPI_DEVICE")
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "tracker_config.txt"))
	require.NoError(t, err)

	assert.Equal(t, PlatformMock, cfg.Platform)
	assert.Equal(t, 0.0, cfg.BuildingRotationOffset)
	assert.Empty(t, cfg.RecorderDBPath)
	assert.Equal(t, Default().TopicPosition, cfg.TopicPosition)
}
