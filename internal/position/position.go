// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package position integrates step events into a planar dead-reckoned
// position on a floor plan.
package position

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/indoor_tracker/internal/monitoring"
)

// Confidence is a coarse indicator of accumulated drift.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Per-step drift in meters for each confidence tier.
const (
	driftHigh   = 0.05
	driftMedium = 0.10
	driftLow    = 0.15
)

// Position is the current dead-reckoned estimate. X and Y are floor plan
// pixels; Y grows downwards.
type Position struct {
	X           float64    `json:"x"`
	Y           float64    `json:"y"`
	Heading     float64    `json:"heading"`
	Confidence  Confidence `json:"confidence"`
	DriftMeters float64    `json:"drift_meters"`
}

// Config holds the estimator tunables.
type Config struct {
	StepLengthMeters       float64
	PixelsPerMeter         float64
	HistorySize            int
	RecalibrationThreshold int
}

// DefaultConfig returns the default estimator tunables.
func DefaultConfig() Config {
	return Config{
		StepLengthMeters:       0.7,
		PixelsPerMeter:         20,
		HistorySize:            100,
		RecalibrationThreshold: 50,
	}
}

// Estimator is the freeform dead-reckoning tracker.
//
// Estimator is not safe for concurrent use.
type Estimator struct {
	cfg Config

	pos        Position
	set        bool
	totalSteps int
	sinceCalib int
	history    *History

	now func() time.Time
}

// NewEstimator creates an estimator with no initial position.
func NewEstimator(cfg Config) *Estimator {
	e := &Estimator{
		cfg:     cfg,
		history: NewHistory(cfg.HistorySize),
		now:     time.Now,
	}
	e.updateConfidence()
	return e
}

// SetInitialPosition places the user and clears step counters and history.
func (e *Estimator) SetInitialPosition(x, y float64) Position {
	e.pos.X, e.pos.Y = x, y
	e.set = true
	e.totalSteps = 0
	e.sinceCalib = 0
	e.history.Clear()
	e.updateConfidence()
	e.history.Add(x, y, e.now())
	return e.pos
}

// Recalibrate moves the user to a known point and restores full
// confidence. Path history is kept.
func (e *Estimator) Recalibrate(x, y float64) Position {
	e.pos.X, e.pos.Y = x, y
	e.set = true
	e.sinceCalib = 0
	e.updateConfidence()
	e.history.Add(x, y, e.now())
	return e.pos
}

// SetHeading records the current fused heading in degrees.
func (e *Estimator) SetHeading(deg float64) {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	e.pos.Heading = h
}

// Step advances the position by one step along the current heading.
// Without an initial position it logs a warning and returns the last known
// position unchanged.
func (e *Estimator) Step() Position {
	if !e.set {
		monitoring.Logf("position: WARNING: step ignored, initial position not set")
		return e.pos
	}

	rad := e.pos.Heading * math.Pi / 180
	dist := e.cfg.StepLengthMeters * e.cfg.PixelsPerMeter
	e.pos.X += dist * math.Sin(rad)
	e.pos.Y -= dist * math.Cos(rad)

	e.totalSteps++
	e.sinceCalib++
	e.updateConfidence()
	e.history.Add(e.pos.X, e.pos.Y, e.now())
	return e.pos
}

func (e *Estimator) updateConfidence() {
	n := float64(e.sinceCalib)
	switch {
	case e.sinceCalib < 20:
		e.pos.Confidence = ConfidenceHigh
		e.pos.DriftMeters = n * driftHigh
	case e.sinceCalib < 50:
		e.pos.Confidence = ConfidenceMedium
		e.pos.DriftMeters = n * driftMedium
	default:
		e.pos.Confidence = ConfidenceLow
		e.pos.DriftMeters = n * driftLow
	}
}

// SetStepLength sets the step length in meters.
func (e *Estimator) SetStepLength(meters float64) error {
	if meters <= 0 || math.IsNaN(meters) || math.IsInf(meters, 0) {
		return fmt.Errorf("position: step length must be positive, got %v", meters)
	}
	e.cfg.StepLengthMeters = meters
	return nil
}

// CalibrateStepLength derives the step length from walking a known
// distance. It returns the new step length.
func (e *Estimator) CalibrateStepLength(distanceMeters float64, steps int) (float64, error) {
	if steps <= 0 {
		return e.cfg.StepLengthMeters, fmt.Errorf("position: calibration needs at least one step, got %d", steps)
	}
	if err := e.SetStepLength(distanceMeters / float64(steps)); err != nil {
		return e.cfg.StepLengthMeters, err
	}
	return e.cfg.StepLengthMeters, nil
}

// SetUserHeight estimates the step length as 0.43 times body height.
func (e *Estimator) SetUserHeight(heightMeters float64) error {
	return e.SetStepLength(0.43 * heightMeters)
}

// SetPixelsPerMeter changes the floor plan scale.
func (e *Estimator) SetPixelsPerMeter(ppm float64) error {
	if ppm <= 0 || math.IsNaN(ppm) || math.IsInf(ppm, 0) {
		return fmt.Errorf("position: pixels per meter must be positive, got %v", ppm)
	}
	e.cfg.PixelsPerMeter = ppm
	return nil
}

// StepLength returns the step length in meters.
func (e *Estimator) StepLength() float64 { return e.cfg.StepLengthMeters }

// Position returns the current estimate.
func (e *Estimator) Position() Position { return e.pos }

// IsSet reports whether an initial position has been set.
func (e *Estimator) IsSet() bool { return e.set }

// TotalSteps returns the steps taken since the initial position was set.
func (e *Estimator) TotalSteps() int { return e.totalSteps }

// StepsSinceCalibration returns the steps taken since the last known point.
func (e *Estimator) StepsSinceCalibration() int { return e.sinceCalib }

// ShouldRecalibrate hints that the user should confirm their position.
func (e *Estimator) ShouldRecalibrate() bool {
	return e.sinceCalib >= e.cfg.RecalibrationThreshold
}

// History returns a copy of the path history, oldest first.
func (e *Estimator) History() []HistoryEntry { return e.history.Entries() }

// Reset forgets the position, counters and history. Tunables are kept.
func (e *Estimator) Reset() {
	heading := e.pos.Heading
	e.pos = Position{Heading: heading}
	e.set = false
	e.totalSteps = 0
	e.sinceCalib = 0
	e.history.Clear()
	e.updateConfidence()
}
