// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package platform

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/indoor_tracker/internal/imu"
	"github.com/relabs-tech/indoor_tracker/internal/orientation"
)

// WalkerConfig shapes the simulated walk.
type WalkerConfig struct {
	StepHz           float64 // steps per second
	PeakAcceleration float64 // m/s² at the top of each step
	Heading          float64 // degrees
	HeadingSway      float64 // degrees of slow left/right sway
	SampleInterval   time.Duration
	// OrientationEvery emits one compass sample per this many motion samples.
	OrientationEvery int
}

// DefaultWalkerConfig is a brisk walk heading north.
func DefaultWalkerConfig() WalkerConfig {
	return WalkerConfig{
		StepHz:           1.8,
		PeakAcceleration: 2.5,
		Heading:          0,
		HeadingSway:      3,
		SampleInterval:   20 * time.Millisecond,
		OrientationEvery: 5,
	}
}

// Walker generates smooth walking-like sensor values on a simulated clock.
// Each call advances the clock by exactly one sample interval, so runs are
// reproducible.
type Walker struct {
	cfg   WalkerConfig
	start time.Time
	n     int
}

// NewWalker creates a walker whose clock starts at start.
func NewWalker(cfg WalkerConfig, start time.Time) *Walker {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 20 * time.Millisecond
	}
	if cfg.OrientationEvery < 1 {
		cfg.OrientationEvery = 1
	}
	return &Walker{cfg: cfg, start: start}
}

func (w *Walker) elapsed() float64 {
	return float64(w.n) * w.cfg.SampleInterval.Seconds()
}

func (w *Walker) now() time.Time {
	return w.start.Add(time.Duration(w.n) * w.cfg.SampleInterval)
}

// NextMotion returns the next accelerometer and gyroscope sample.
func (w *Walker) NextMotion() (imu.MotionSample, error) {
	w.n++
	elapsed := w.elapsed()

	mag := w.cfg.PeakAcceleration / 2 * (1 + math.Sin(2*math.Pi*w.cfg.StepHz*elapsed))
	// Derivative of the sway, in degrees per second.
	yawRate := w.cfg.HeadingSway * 0.5 * math.Cos(elapsed*0.5)

	return imu.MotionSample{
		Acceleration: imu.Vector3{
			X: 0.1 * mag * math.Sin(elapsed),
			Y: 0.2 * mag,
			Z: mag,
		},
		RotationRate: imu.RotationRate{
			Yaw:   yawRate,
			Pitch: 15 * math.Cos(elapsed*0.7),
			Roll:  20 * math.Sin(elapsed),
		},
		Timestamp: w.now(),
	}, nil
}

// Orientation returns the compass reading at the current simulated time.
func (w *Walker) Orientation() imu.OrientationSample {
	elapsed := w.elapsed()
	return imu.OrientationSample{
		RawHeading: orientation.NormalizeDegrees(w.cfg.Heading + w.cfg.HeadingSway*math.Sin(elapsed*0.5)),
		Absolute:   true,
		Timestamp:  w.now(),
	}
}

// Mock is a platform backed by a Walker and a wall-clock ticker.
type Mock struct {
	handlers

	cfg      WalkerConfig
	interval time.Duration

	// Deny makes RequestPermission fail, for exercising error paths.
	Deny error

	mu     sync.Mutex
	walker *Walker
	poll   *poller
}

// NewMock creates a simulated platform delivering one sample per interval.
func NewMock(cfg WalkerConfig, interval time.Duration) *Mock {
	if interval <= 0 {
		interval = cfg.SampleInterval
	}
	return &Mock{cfg: cfg, interval: interval}
}

// RequestPermission is granted immediately unless Deny is set.
func (m *Mock) RequestPermission(ctx context.Context) error {
	if m.Deny != nil {
		return m.Deny
	}
	return ctx.Err()
}

// Start begins a new simulated walk.
func (m *Mock) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.poll != nil {
		return errors.New("mock platform: already running")
	}

	m.walker = NewWalker(m.cfg, time.Now())
	w := m.walker
	m.poll = startPolling("mock platform", m.interval, func() error {
		s, err := w.NextMotion()
		if err != nil {
			return err
		}
		m.deliverMotion(s)
		if w.n%w.cfg.OrientationEvery == 0 {
			m.deliverOrientation(w.Orientation())
		}
		return nil
	})
	return nil
}

// Stop halts the walk.
func (m *Mock) Stop() {
	m.mu.Lock()
	p := m.poll
	m.poll = nil
	m.mu.Unlock()
	if p != nil {
		p.halt()
	}
}
