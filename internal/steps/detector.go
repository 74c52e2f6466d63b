// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package steps detects walking steps from linear acceleration using
// peak/valley detection with an adaptive threshold.
package steps

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/indoor_tracker/internal/imu"
	"github.com/relabs-tech/indoor_tracker/internal/observer"
)

// Config holds the step detector tunables.
type Config struct {
	InitialThreshold      float64
	Debounce              time.Duration
	ZeroVelocityThreshold float64
	// ZeroVelocitySamples is how many consecutive low samples must be
	// exceeded before the detector considers the user stationary.
	ZeroVelocitySamples int
	VarianceWindow      int
	MinStdDev           float64
	HistorySize         int
	// AdaptiveMinSamples is the history length that must be exceeded before
	// the threshold starts adapting.
	AdaptiveMinSamples int
	MinThreshold       float64
	MaxThreshold       float64
	AdaptiveFactor     float64
	CalibrationFactor  float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		InitialThreshold:      1.5,
		Debounce:              250 * time.Millisecond,
		ZeroVelocityThreshold: 0.3,
		ZeroVelocitySamples:   5,
		VarianceWindow:        10,
		MinStdDev:             0.2,
		HistorySize:           100,
		AdaptiveMinSamples:    10,
		MinThreshold:          0.8,
		MaxThreshold:          3.0,
		AdaptiveFactor:        0.7,
		CalibrationFactor:     0.75,
	}
}

// Event is one confirmed step.
type Event struct {
	Index         int       `json:"index"`
	Timestamp     time.Time `json:"timestamp"`
	PeakMagnitude float64   `json:"peak_magnitude"`
	Calibrating   bool      `json:"calibrating"`
}

// CalibrationResult is returned when threshold calibration finishes.
type CalibrationResult struct {
	Steps            int     `json:"steps"`
	AverageMagnitude float64 `json:"average_magnitude"`
	Threshold        float64 `json:"threshold"`
}

// Detector turns acceleration samples into step events.
//
// Detector is not safe for concurrent use.
type Detector struct {
	cfg Config

	threshold  float64
	stepCount  int
	lastStep   time.Time
	lastMag    float64
	armed      bool
	armedPeak  float64
	stationary bool
	lowCount   int

	recent  []float64
	history []float64

	calibrating      bool
	calibrationSteps int
	calibrationMags  []float64

	events observer.Broadcaster[Event]
}

// NewDetector creates a detector with the given tunables.
func NewDetector(cfg Config) *Detector {
	d := &Detector{cfg: cfg}
	d.Reset()
	return d
}

// Events returns the broadcaster that receives every confirmed step.
func (d *Detector) Events() *observer.Broadcaster[Event] {
	return &d.events
}

// Reset drops all signal history and restores the initial threshold.
// Subscribers are kept.
func (d *Detector) Reset() {
	d.threshold = d.cfg.InitialThreshold
	d.stepCount = 0
	d.lastStep = time.Time{}
	d.lastMag = 0
	d.armed = false
	d.armedPeak = 0
	d.stationary = false
	d.lowCount = 0
	d.recent = d.recent[:0]
	d.history = d.history[:0]
	d.calibrating = false
	d.calibrationSteps = 0
	d.calibrationMags = nil
}

// Process feeds one motion sample. It returns the step event and true when
// the sample confirmed a step.
func (d *Detector) Process(s imu.MotionSample) (Event, bool) {
	mag := s.Acceleration.Magnitude()
	if math.IsNaN(mag) || math.IsInf(mag, 0) {
		mag = 0
	}

	d.recent = append(d.recent, mag)
	if len(d.recent) > d.cfg.VarianceWindow {
		d.recent = d.recent[len(d.recent)-d.cfg.VarianceWindow:]
	}

	d.updateStationary(mag)
	if d.stationary {
		d.lastMag = mag
		return Event{}, false
	}

	debounced := d.lastStep.IsZero() || s.Timestamp.Sub(d.lastStep) > d.cfg.Debounce

	if !d.armed && debounced && mag > d.threshold && mag > d.lastMag && d.hasEnoughVariance() {
		d.armed = true
		d.armedPeak = mag
	} else if d.armed && mag > d.armedPeak {
		d.armedPeak = mag
	}

	var (
		ev Event
		ok bool
	)
	if d.armed && debounced && mag < d.lastMag {
		ev = d.confirm(s.Timestamp, mag)
		ok = true
	}

	d.lastMag = mag
	if ok {
		d.events.Publish(ev)
	}
	return ev, ok
}

// confirm emits a step on the first falling sample. The history and the
// calibration set take that sample's magnitude; the event reports the peak.
func (d *Detector) confirm(ts time.Time, mag float64) Event {
	peak := d.armedPeak
	d.armed = false
	d.armedPeak = 0
	d.lastStep = ts
	d.stepCount++

	if d.calibrating {
		d.calibrationSteps++
		d.calibrationMags = append(d.calibrationMags, mag)
	}
	d.adapt(mag)

	return Event{
		Index:         d.stepCount,
		Timestamp:     ts,
		PeakMagnitude: peak,
		Calibrating:   d.calibrating,
	}
}

func (d *Detector) updateStationary(mag float64) {
	if mag < d.cfg.ZeroVelocityThreshold {
		d.lowCount++
		if d.lowCount > d.cfg.ZeroVelocitySamples {
			d.stationary = true
		}
		return
	}
	d.lowCount = 0
	d.stationary = false
}

// hasEnoughVariance passes until the window is full, then requires the
// population standard deviation to exceed the minimum.
func (d *Detector) hasEnoughVariance() bool {
	if len(d.recent) < d.cfg.VarianceWindow {
		return true
	}
	_, std := stat.PopMeanStdDev(d.recent, nil)
	return std > d.cfg.MinStdDev
}

func (d *Detector) adapt(mag float64) {
	d.history = append(d.history, mag)
	if len(d.history) > d.cfg.HistorySize {
		d.history = d.history[len(d.history)-d.cfg.HistorySize:]
	}
	if len(d.history) > d.cfg.AdaptiveMinSamples {
		d.threshold = d.clamp(d.cfg.AdaptiveFactor * stat.Mean(d.history, nil))
	}
}

func (d *Detector) clamp(v float64) float64 {
	return math.Max(d.cfg.MinThreshold, math.Min(v, d.cfg.MaxThreshold))
}

// StartCalibration begins counting steps and collecting their magnitudes
// separately from normal detection.
func (d *Detector) StartCalibration() {
	d.calibrating = true
	d.calibrationSteps = 0
	d.calibrationMags = nil
}

// FinishCalibration ends calibration and derives a new threshold from the
// collected step magnitudes. With no collected steps the threshold is left unchanged.
func (d *Detector) FinishCalibration() CalibrationResult {
	d.calibrating = false

	var avg float64
	if len(d.calibrationMags) > 0 {
		avg = stat.Mean(d.calibrationMags, nil)
		d.threshold = d.clamp(d.cfg.CalibrationFactor * avg)
	}
	return CalibrationResult{
		Steps:            d.calibrationSteps,
		AverageMagnitude: avg,
		Threshold:        d.threshold,
	}
}

// Calibrating reports whether threshold calibration is in progress.
func (d *Detector) Calibrating() bool { return d.calibrating }

// CalibrationSteps returns the steps counted since StartCalibration.
func (d *Detector) CalibrationSteps() int { return d.calibrationSteps }

// StepCount returns the total confirmed steps since the last reset.
func (d *Detector) StepCount() int { return d.stepCount }

// Threshold returns the current peak threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// SetThreshold overrides the current peak threshold.
func (d *Detector) SetThreshold(v float64) { d.threshold = v }

// Stationary reports whether the zero-velocity hold is active.
func (d *Detector) Stationary() bool { return d.stationary }
