// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Platform names accepted by PLATFORM.
const (
	PlatformMock     = "mock"
	PlatformMQTT     = "mqtt"
	PlatformHardware = "hardware"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDTracker  string
	MQTTClientIDPlatform string
	MQTTClientIDConsole  string

	// Topics consumed from a phone sensor bridge
	TopicMotion      string
	TopicOrientation string

	// Topics produced by the tracker
	TopicPosition    string
	TopicSteps       string
	TopicProgress    string
	TopicCalibration string

	// Sensor platform: "mock", "mqtt" or "hardware"
	Platform string

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string
	// Raw count scales for the configured sensor ranges (defaults: ±2g, ±250°/s)
	IMUAccelLSBPerG  float64
	IMUGyroLSBPerDPS float64
	// Low-pass weight used to track gravity before it is removed (0-1)
	IMUGravityAlpha   float64
	IMUSampleInterval int // milliseconds

	// Compass (NMEA heading sensor)
	CompassSerialPort string
	CompassBaudRate   int

	// Orientation fusion
	// Degrees between magnetic north and the floor plan's "up". Measured per building.
	BuildingRotationOffset float64
	HeadingFilterSize      int
	GyroWeight             float64
	ScreenRotation         int // 0, 90, 180, 270

	// Step detection
	StepThreshold         float64 // initial peak threshold (m/s²)
	StepDebounceMS        int
	ZeroVelocityThreshold float64
	VarianceWindow        int
	MinStdDev             float64

	// Position tracking
	StepLengthMeters       float64
	PixelsPerMeter         float64
	PathHistorySize        int
	RecalibrationThreshold int

	// Route following
	RouteStepDistance float64 // planar units advanced per step

	// Session
	PermissionTimeoutMS int

	// Web Server
	WebServerPort int

	// Recorder (empty path disables it)
	RecorderDBPath string

	buildingOffsetSet bool
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config populated with the tuning values the tracker
// ships with. BuildingRotationOffset is left unset on purpose.
func Default() *Config {
	return &Config{
		MQTTClientIDTracker:  "indoor-tracker",
		MQTTClientIDPlatform: "indoor-tracker-sensors",
		MQTTClientIDConsole:  "indoor-tracker-console",

		TopicMotion:      "tracker/sensors/motion",
		TopicOrientation: "tracker/sensors/orientation",
		TopicPosition:    "tracker/position",
		TopicSteps:       "tracker/steps",
		TopicProgress:    "tracker/navigation",
		TopicCalibration: "tracker/calibration",

		Platform: PlatformMock,

		IMUSPIDevice:      "/dev/spidev0.0",
		IMUCSPin:          "8",
		IMUAccelLSBPerG:   16384,
		IMUGyroLSBPerDPS:  131,
		IMUGravityAlpha:   0.9,
		IMUSampleInterval: 20,

		CompassBaudRate: 4800,

		HeadingFilterSize: 5,
		GyroWeight:        0.98,

		StepThreshold:         1.5,
		StepDebounceMS:        250,
		ZeroVelocityThreshold: 0.3,
		VarianceWindow:        10,
		MinStdDev:             0.2,

		StepLengthMeters:       0.7,
		PixelsPerMeter:         20,
		PathHistorySize:        100,
		RecalibrationThreshold: 50,

		RouteStepDistance: 10,

		PermissionTimeoutMS: 10000,

		WebServerPort: 8080,
	}
}

// Load reads the configuration file and returns a Config struct.
// Keys missing from the file keep their Default() values.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SetBuildingRotationOffset sets the offset programmatically, for callers that
// measure it at runtime instead of reading it from the file.
func (c *Config) SetBuildingRotationOffset(deg float64) {
	c.BuildingRotationOffset = deg
	c.buildingOffsetSet = true
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_TRACKER":
		c.MQTTClientIDTracker = value
	case "MQTT_CLIENT_ID_PLATFORM":
		c.MQTTClientIDPlatform = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_MOTION":
		c.TopicMotion = value
	case "TOPIC_ORIENTATION":
		c.TopicOrientation = value
	case "TOPIC_POSITION":
		c.TopicPosition = value
	case "TOPIC_STEPS":
		c.TopicSteps = value
	case "TOPIC_PROGRESS":
		c.TopicProgress = value
	case "TOPIC_CALIBRATION":
		c.TopicCalibration = value

	case "PLATFORM":
		switch value {
		case PlatformMock, PlatformMQTT, PlatformHardware:
			c.Platform = value
		default:
			return fmt.Errorf("PLATFORM must be one of mock, mqtt, hardware, got %q", value)
		}

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_LSB_PER_G":
		return parseFloat(key, value, &c.IMUAccelLSBPerG)
	case "IMU_GYRO_LSB_PER_DPS":
		return parseFloat(key, value, &c.IMUGyroLSBPerDPS)
	case "IMU_GRAVITY_ALPHA":
		return parseFloat(key, value, &c.IMUGravityAlpha)
	case "IMU_SAMPLE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_SAMPLE_INTERVAL %q: %w", value, err)
		}
		c.IMUSampleInterval = interval

	// Compass
	case "COMPASS_SERIAL_PORT":
		c.CompassSerialPort = value
	case "COMPASS_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid COMPASS_BAUD_RATE %q: %w", value, err)
		}
		c.CompassBaudRate = rate

	// Orientation fusion
	case "BUILDING_ROTATION_OFFSET":
		deg, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid BUILDING_ROTATION_OFFSET %q: %w", value, err)
		}
		c.SetBuildingRotationOffset(deg)
	case "HEADING_FILTER_SIZE":
		return parseInt(key, value, &c.HeadingFilterSize)
	case "GYRO_WEIGHT":
		return parseFloat(key, value, &c.GyroWeight)
	case "SCREEN_ROTATION":
		rot, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SCREEN_ROTATION %q: %w", value, err)
		}
		if rot != 0 && rot != 90 && rot != 180 && rot != 270 {
			return fmt.Errorf("SCREEN_ROTATION must be 0, 90, 180 or 270, got %d", rot)
		}
		c.ScreenRotation = rot

	// Step detection
	case "STEP_THRESHOLD":
		return parseFloat(key, value, &c.StepThreshold)
	case "STEP_DEBOUNCE_MS":
		return parseInt(key, value, &c.StepDebounceMS)
	case "ZERO_VELOCITY_THRESHOLD":
		return parseFloat(key, value, &c.ZeroVelocityThreshold)
	case "VARIANCE_WINDOW":
		return parseInt(key, value, &c.VarianceWindow)
	case "MIN_STDDEV":
		return parseFloat(key, value, &c.MinStdDev)

	// Position tracking
	case "STEP_LENGTH_METERS":
		return parseFloat(key, value, &c.StepLengthMeters)
	case "PIXELS_PER_METER":
		return parseFloat(key, value, &c.PixelsPerMeter)
	case "PATH_HISTORY_SIZE":
		return parseInt(key, value, &c.PathHistorySize)
	case "RECALIBRATION_THRESHOLD":
		return parseInt(key, value, &c.RecalibrationThreshold)

	// Route following
	case "ROUTE_STEP_DISTANCE":
		return parseFloat(key, value, &c.RouteStepDistance)

	// Session
	case "PERMISSION_TIMEOUT_MS":
		return parseInt(key, value, &c.PermissionTimeoutMS)

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Recorder
	case "RECORDER_DB_PATH":
		c.RecorderDBPath = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func parseInt(key, value string, dst *int) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = v
	return nil
}

func parseFloat(key, value string, dst *float64) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = v
	return nil
}

// Validate checks that all required fields are set and tunables are in range.
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if !c.buildingOffsetSet {
		return fmt.Errorf("BUILDING_ROTATION_OFFSET is required (measure it for this building)")
	}
	if c.Platform == PlatformHardware {
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required for the hardware platform")
		}
		if c.IMUSampleInterval <= 0 {
			return fmt.Errorf("IMU_SAMPLE_INTERVAL must be positive, got %d", c.IMUSampleInterval)
		}
	}
	if c.HeadingFilterSize < 1 {
		return fmt.Errorf("HEADING_FILTER_SIZE must be at least 1, got %d", c.HeadingFilterSize)
	}
	if c.GyroWeight < 0 || c.GyroWeight > 1 {
		return fmt.Errorf("GYRO_WEIGHT must be within 0-1, got %.3f", c.GyroWeight)
	}
	if c.StepDebounceMS < 0 {
		return fmt.Errorf("STEP_DEBOUNCE_MS must not be negative, got %d", c.StepDebounceMS)
	}
	if c.VarianceWindow < 1 {
		return fmt.Errorf("VARIANCE_WINDOW must be at least 1, got %d", c.VarianceWindow)
	}
	if c.StepLengthMeters <= 0 {
		return fmt.Errorf("STEP_LENGTH_METERS must be positive, got %.3f", c.StepLengthMeters)
	}
	if c.PixelsPerMeter <= 0 {
		return fmt.Errorf("PIXELS_PER_METER must be positive, got %.3f", c.PixelsPerMeter)
	}
	if c.PathHistorySize < 1 {
		return fmt.Errorf("PATH_HISTORY_SIZE must be at least 1, got %d", c.PathHistorySize)
	}
	if c.RouteStepDistance <= 0 {
		return fmt.Errorf("ROUTE_STEP_DISTANCE must be positive, got %.3f", c.RouteStepDistance)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads the file; later calls return the first result.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
