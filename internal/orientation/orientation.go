// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package orientation turns noisy compass and gyroscope streams into one
// smoothed heading aligned with the floor plan.
package orientation

import (
	"time"

	"github.com/relabs-tech/indoor_tracker/internal/imu"
)

// Config holds the tunables of the heading fusion.
type Config struct {
	// FilterSize is the number of compass readings averaged by the circular filter.
	FilterSize int
	// GyroWeight is the complementary filter weight of the gyro-integrated
	// heading; the compass average gets 1 - GyroWeight.
	GyroWeight float64
	// BuildingRotationOffset is subtracted from the fused heading so that 0°
	// means "up" on the floor plan. It must be measured per building.
	BuildingRotationOffset float64
	// ScreenRotation is the current screen rotation in degrees (0, 90, 180, 270).
	ScreenRotation int
}

// DefaultConfig returns the default fusion tunables. The building offset is
// zero and must be overridden with the measured value.
func DefaultConfig() Config {
	return Config{
		FilterSize: 5,
		GyroWeight: 0.98,
	}
}

// Snapshot is a read-only view of the fusion state for debug views.
type Snapshot struct {
	CompassHeading float64 `json:"compass_heading"`
	GyroHeading    float64 `json:"gyro_heading"`
	FusedHeading   float64 `json:"fused_heading"`
	Heading        float64 `json:"heading"`
	ScreenRotation int     `json:"screen_rotation"`
}

// Fusion blends a circular-averaged compass heading with an integrated
// gyroscope heading using a complementary filter.
//
// Fusion is not safe for concurrent use; the session feeds it from a single
// callback chain.
type Fusion struct {
	cfg Config

	window  *circularWindow
	compass float64
	gyro    float64
	fused   float64

	haveCompass  bool
	lastGyroTime time.Time
}

// NewFusion creates a heading fusion with the given tunables.
func NewFusion(cfg Config) *Fusion {
	if cfg.FilterSize < 1 {
		cfg.FilterSize = 1
	}
	if cfg.GyroWeight < 0 {
		cfg.GyroWeight = 0
	} else if cfg.GyroWeight > 1 {
		cfg.GyroWeight = 1
	}
	return &Fusion{
		cfg:    cfg,
		window: newCircularWindow(cfg.FilterSize),
	}
}

// Reset drops all filter state. The next compass reading re-seeds the gyro
// estimate.
func (f *Fusion) Reset() {
	f.window = newCircularWindow(f.cfg.FilterSize)
	f.compass = 0
	f.gyro = 0
	f.fused = 0
	f.haveCompass = false
	f.lastGyroTime = time.Time{}
}

// SetScreenRotation records the current screen rotation angle. Older platforms
// report landscape-left as -90, which is treated as 270.
func (f *Fusion) SetScreenRotation(deg int) {
	f.cfg.ScreenRotation = deg
}

// SetBuildingRotationOffset replaces the building alignment offset.
func (f *Fusion) SetBuildingRotationOffset(deg float64) {
	f.cfg.BuildingRotationOffset = deg
}

// UpdateMotion integrates the gyroscope yaw rate over the time elapsed since
// the previous motion sample.
func (f *Fusion) UpdateMotion(s imu.MotionSample) {
	if !f.lastGyroTime.IsZero() {
		dt := s.Timestamp.Sub(f.lastGyroTime).Seconds()
		if dt > 0 {
			f.gyro = NormalizeDegrees(f.gyro + s.RotationRate.Yaw*dt)
		}
	}
	if f.lastGyroTime.IsZero() || s.Timestamp.After(f.lastGyroTime) {
		f.lastGyroTime = s.Timestamp
	}
	f.fuse()
}

// UpdateOrientation feeds one compass (or device-relative) heading and
// returns the plan-aligned heading.
func (f *Fusion) UpdateOrientation(s imu.OrientationSample) float64 {
	raw := s.RawHeading
	if s.Absolute {
		raw += screenCorrection(f.cfg.ScreenRotation)
	}
	f.window.push(NormalizeDegrees(raw))
	f.compass = f.window.mean()

	if !f.haveCompass {
		f.haveCompass = true
		f.gyro = f.compass
	}
	f.fuse()
	return f.Heading()
}

// fuse blends the two estimates and feeds the result back into the gyro
// integrator so drift stays bounded by the compass.
func (f *Fusion) fuse() {
	if !f.haveCompass {
		f.fused = f.gyro
		return
	}
	f.fused = WeightedCircularMean(f.gyro, f.compass, f.cfg.GyroWeight)
	f.gyro = f.fused
}

// Heading returns the fused heading minus the building rotation offset,
// normalized into [0, 360).
func (f *Fusion) Heading() float64 {
	return NormalizeDegrees(f.fused - f.cfg.BuildingRotationOffset)
}

// CompassHeading returns the circular average of the recent compass readings.
func (f *Fusion) CompassHeading() float64 {
	return f.compass
}

// Snapshot returns the current fusion state.
func (f *Fusion) Snapshot() Snapshot {
	return Snapshot{
		CompassHeading: f.compass,
		GyroHeading:    f.gyro,
		FusedHeading:   f.fused,
		Heading:        f.Heading(),
		ScreenRotation: f.cfg.ScreenRotation,
	}
}

// screenCorrection maps the screen rotation angle to the offset that makes an
// absolute heading describe the direction of the screen's top edge.
func screenCorrection(rotation int) float64 {
	switch rotation {
	case 90:
		return -90
	case 180:
		return 180
	case 270, -90:
		return 90
	default:
		return 0
	}
}
