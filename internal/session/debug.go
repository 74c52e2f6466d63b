package session

import (
	"time"

	"github.com/relabs-tech/indoor_tracker/internal/imu"
	"github.com/relabs-tech/indoor_tracker/internal/orientation"
	"github.com/relabs-tech/indoor_tracker/internal/position"
	"github.com/relabs-tech/indoor_tracker/internal/route"
)

// DebugSnapshot is the read-only state polled by the debug view.
type DebugSnapshot struct {
	SessionID         string               `json:"session_id"`
	Active            bool                 `json:"active"`
	Mode              Mode                 `json:"mode"`
	Acceleration      imu.Vector3          `json:"acceleration"`
	RotationRate      imu.RotationRate     `json:"rotation_rate"`
	Heading           orientation.Snapshot `json:"heading"`
	Position          position.Position    `json:"position"`
	PositionSet       bool                 `json:"position_set"`
	StepCount         int                  `json:"step_count"`
	StepLength        float64              `json:"step_length"`
	Threshold         float64              `json:"threshold"`
	Stationary        bool                 `json:"stationary"`
	Calibrating       bool                 `json:"calibrating"`
	ShouldRecalibrate bool                 `json:"should_recalibrate"`
	Route             *route.Progress      `json:"route,omitempty"`
	Timestamp         time.Time            `json:"timestamp"`
}

// DebugSnapshot returns the current pipeline state.
func (s *Session) DebugSnapshot() DebugSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := DebugSnapshot{
		SessionID:         s.id,
		Active:            s.state == stateActive,
		Mode:              s.mode(),
		Acceleration:      s.smoother.Value(),
		RotationRate:      s.lastMotion.RotationRate,
		Heading:           s.fusion.Snapshot(),
		Position:          s.estimator.Position(),
		PositionSet:       s.estimator.IsSet(),
		StepCount:         s.detector.StepCount(),
		StepLength:        s.estimator.StepLength(),
		Threshold:         s.detector.Threshold(),
		Stationary:        s.detector.Stationary(),
		Calibrating:       s.detector.Calibrating(),
		ShouldRecalibrate: s.estimator.ShouldRecalibrate(),
		Timestamp:         s.now(),
	}
	if s.follower.HasRoute() {
		p := s.follower.Status()
		snap.Route = &p
	}
	return snap
}
