// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session owns one tracking session: it feeds platform samples
// through heading fusion and step detection, and routes every step to either
// the freeform position estimator or the route follower.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/indoor_tracker/internal/config"
	"github.com/relabs-tech/indoor_tracker/internal/imu"
	"github.com/relabs-tech/indoor_tracker/internal/monitoring"
	"github.com/relabs-tech/indoor_tracker/internal/observer"
	"github.com/relabs-tech/indoor_tracker/internal/orientation"
	"github.com/relabs-tech/indoor_tracker/internal/position"
	"github.com/relabs-tech/indoor_tracker/internal/route"
	"github.com/relabs-tech/indoor_tracker/internal/steps"
)

// Platform is the sensor host a session runs on. Handlers are registered
// once; adapters deliver samples from their own goroutines.
type Platform interface {
	RequestPermission(ctx context.Context) error
	Start() error
	Stop()
	OnMotion(fn func(imu.MotionSample))
	OnOrientation(fn func(imu.OrientationSample))
}

// Mode names the component that owns the displayed position.
type Mode string

const (
	ModeFreeform Mode = "freeform"
	ModeRoute    Mode = "route"
)

// Config collects the tunables of every pipeline stage.
type Config struct {
	Fusion            orientation.Config
	Steps             steps.Config
	Position          position.Config
	RouteStepDistance float64
	PermissionTimeout time.Duration
}

// DefaultConfig returns the defaults of every stage.
func DefaultConfig() Config {
	return Config{
		Fusion:            orientation.DefaultConfig(),
		Steps:             steps.DefaultConfig(),
		Position:          position.DefaultConfig(),
		RouteStepDistance: route.DefaultStepDistance,
		PermissionTimeout: 10 * time.Second,
	}
}

// FromConfig maps the tracker configuration onto session tunables.
func FromConfig(c *config.Config) Config {
	cfg := DefaultConfig()
	cfg.Fusion.FilterSize = c.HeadingFilterSize
	cfg.Fusion.GyroWeight = c.GyroWeight
	cfg.Fusion.BuildingRotationOffset = c.BuildingRotationOffset
	cfg.Fusion.ScreenRotation = c.ScreenRotation
	cfg.Steps.InitialThreshold = c.StepThreshold
	cfg.Steps.Debounce = time.Duration(c.StepDebounceMS) * time.Millisecond
	cfg.Steps.ZeroVelocityThreshold = c.ZeroVelocityThreshold
	cfg.Steps.VarianceWindow = c.VarianceWindow
	cfg.Steps.MinStdDev = c.MinStdDev
	cfg.Position.StepLengthMeters = c.StepLengthMeters
	cfg.Position.PixelsPerMeter = c.PixelsPerMeter
	cfg.Position.HistorySize = c.PathHistorySize
	cfg.Position.RecalibrationThreshold = c.RecalibrationThreshold
	cfg.RouteStepDistance = c.RouteStepDistance
	cfg.PermissionTimeout = time.Duration(c.PermissionTimeoutMS) * time.Millisecond
	return cfg
}

// Lifecycle is published whenever a session becomes active or stops.
type Lifecycle struct {
	ID     string    `json:"id"`
	Active bool      `json:"active"`
	At     time.Time `json:"at"`
}

type state int

const (
	stateStopped state = iota
	stateStarting
	stateActive
)

// Session is safe for concurrent use. A single mutex serializes sample
// callbacks and control calls; subscribers are notified after it is
// released, so they may call back into the session.
type Session struct {
	platform Platform
	cfg      Config

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu                  sync.Mutex
	state               state
	id                  string
	generation          uint64
	cancelPermission    context.CancelFunc
	calibratedThreshold float64

	fusion    *orientation.Fusion
	smoother  *orientation.AccelSmoother
	detector  *steps.Detector
	estimator *position.Estimator
	follower  *route.Follower

	lastMotion imu.MotionSample
	pending    []func()

	positions    observer.Broadcaster[position.Position]
	stepsOut     observer.Broadcaster[steps.Event]
	progress     observer.Broadcaster[route.Progress]
	lifecycleOut observer.Broadcaster[Lifecycle]

	now func() time.Time
}

// New creates an inactive session on the given platform and registers its
// sample handlers.
func New(p Platform, cfg Config) *Session {
	if cfg.PermissionTimeout <= 0 {
		cfg.PermissionTimeout = DefaultConfig().PermissionTimeout
	}
	s := &Session{
		platform:  p,
		cfg:       cfg,
		fusion:    orientation.NewFusion(cfg.Fusion),
		smoother:  orientation.NewAccelSmoother(cfg.Fusion.FilterSize),
		detector:  steps.NewDetector(cfg.Steps),
		estimator: position.NewEstimator(cfg.Position),
		follower:  route.NewFollower(cfg.RouteStepDistance),
		now:       time.Now,
	}
	s.detector.Events().Subscribe(s.onStep)
	p.OnMotion(s.handleMotion)
	p.OnOrientation(s.handleOrientation)
	return s
}

// Positions streams every position update.
func (s *Session) Positions() *observer.Broadcaster[position.Position] { return &s.positions }

// Steps streams every confirmed step.
func (s *Session) Steps() *observer.Broadcaster[steps.Event] { return &s.stepsOut }

// Progress streams navigation progress along a loaded route.
func (s *Session) Progress() *observer.Broadcaster[route.Progress] { return &s.progress }

// Lifecycle streams session start and stop.
func (s *Session) Lifecycle() *observer.Broadcaster[Lifecycle] { return &s.lifecycleOut }

// Start requests sensor permission and starts the platform. Starting an
// active session is a no-op. On failure no state changes.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state == stateActive {
		s.mu.Unlock()
		return nil
	}
	gen := s.generation
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PermissionTimeout)
	s.cancelPermission = cancel
	s.mu.Unlock()
	defer cancel()

	err := s.requestPermission(pctx)

	s.mu.Lock()
	s.cancelPermission = nil
	if s.generation != gen {
		s.mu.Unlock()
		monitoring.Logf("session: permission result ignored, session was stopped")
		return ErrStopped
	}
	if err != nil {
		s.mu.Unlock()
		switch {
		case ctx.Err() != nil:
			return fmt.Errorf("session: start: %w", ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w after %s", ErrPermissionTimeout, s.cfg.PermissionTimeout)
		case errors.Is(err, ErrUnsupported), errors.Is(err, ErrPermissionDenied):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}

	// Samples delivered from inside platform.Start are dropped until the
	// session is active.
	s.state = stateStarting
	s.mu.Unlock()
	startErr := s.platform.Start()

	s.mu.Lock()
	if startErr != nil {
		s.state = stateStopped
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrStartFailed, startErr)
	}
	if s.generation != gen {
		s.state = stateStopped
		s.mu.Unlock()
		s.platform.Stop()
		monitoring.Logf("session: stopped while the platform was starting")
		return ErrStopped
	}

	s.resetFilters()
	s.state = stateActive
	s.id = uuid.New().String()
	ev := Lifecycle{ID: s.id, Active: true, At: s.now()}
	s.mu.Unlock()

	monitoring.Logf("session: started %s", ev.ID)
	s.lifecycleOut.Publish(ev)
	return nil
}

// requestPermission waits for the platform answer or the context, whichever
// comes first. A late answer is dropped.
func (s *Session) requestPermission(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.platform.RequestPermission(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) resetFilters() {
	s.fusion.Reset()
	s.smoother.Reset()
	s.detector.Reset()
	if s.calibratedThreshold > 0 {
		s.detector.SetThreshold(s.calibratedThreshold)
	}
	s.lastMotion = imu.MotionSample{}
}

// Stop halts the platform and resets the position and route progress.
// Stopping an inactive session is a no-op; a pending permission request is
// abandoned.
func (s *Session) Stop() {
	s.mu.Lock()
	s.generation++
	if s.cancelPermission != nil {
		s.cancelPermission()
	}
	s.mu.Unlock()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state != stateActive {
		s.mu.Unlock()
		return
	}
	s.state = stateStopped
	s.estimator.Reset()
	s.follower.Stop()
	s.follower.ResetToStart()
	ev := Lifecycle{ID: s.id, Active: false, At: s.now()}
	s.mu.Unlock()

	// Outside the lock: adapters may be blocked delivering a sample.
	s.platform.Stop()
	monitoring.Logf("session: stopped %s", ev.ID)
	s.lifecycleOut.Publish(ev)
}

// Active reports whether the sensors are running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateActive
}

// PermissionTimeout is how long Start waits for the platform permission.
func (s *Session) PermissionTimeout() time.Duration { return s.cfg.PermissionTimeout }

// ID returns the id of the current or last session.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// withLock runs fn under the session lock and then delivers any
// notifications fn queued.
func (s *Session) withLock(fn func()) {
	s.mu.Lock()
	fn()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, notify := range pending {
		notify()
	}
}

func (s *Session) queue(fn func()) { s.pending = append(s.pending, fn) }

func (s *Session) handleMotion(m imu.MotionSample) {
	s.withLock(func() {
		if s.state != stateActive {
			return
		}
		s.lastMotion = m
		s.fusion.UpdateMotion(m)
		s.estimator.SetHeading(s.fusion.Heading())

		smoothed := m
		smoothed.Acceleration = s.smoother.Add(m.Acceleration)
		s.detector.Process(smoothed)
	})
}

func (s *Session) handleOrientation(o imu.OrientationSample) {
	s.withLock(func() {
		if s.state != stateActive {
			return
		}
		s.estimator.SetHeading(s.fusion.UpdateOrientation(o))
	})
}

// onStep runs inside Detector.Process, so the lock is held.
func (s *Session) onStep(ev steps.Event) {
	s.queue(func() { s.stepsOut.Publish(ev) })

	if s.follower.Navigating() {
		prog, ok := s.follower.Step()
		if ok {
			pos := s.routePosition(prog)
			s.queue(func() {
				s.progress.Publish(prog)
				s.positions.Publish(pos)
			})
		}
		return
	}

	pos := s.estimator.Step()
	if s.estimator.IsSet() {
		s.queue(func() { s.positions.Publish(pos) })
	}
}

// routePosition is the displayed position while a route owns the dot.
func (s *Session) routePosition(p route.Progress) position.Position {
	return position.Position{
		X:          p.X,
		Y:          p.Y,
		Heading:    s.fusion.Heading(),
		Confidence: position.ConfidenceHigh,
	}
}

// Mode returns which component currently owns the displayed position.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode()
}

func (s *Session) mode() Mode {
	if s.follower.Navigating() {
		return ModeRoute
	}
	return ModeFreeform
}

// SetScreenRotation forwards a screen rotation change to heading fusion.
func (s *Session) SetScreenRotation(deg int) {
	s.withLock(func() { s.fusion.SetScreenRotation(deg) })
}

// SetInitialPosition places the user and starts a fresh path.
func (s *Session) SetInitialPosition(x, y float64) position.Position {
	var pos position.Position
	s.withLock(func() {
		pos = s.estimator.SetInitialPosition(x, y)
		s.queue(func() { s.positions.Publish(pos) })
	})
	return pos
}

// Recalibrate moves the user to a known point and restores confidence.
// Route progress goes back to the first waypoint and navigation stops.
func (s *Session) Recalibrate(x, y float64) position.Position {
	var pos position.Position
	s.withLock(func() {
		pos = s.estimator.Recalibrate(x, y)
		s.queue(func() { s.positions.Publish(pos) })

		if s.follower.HasRoute() {
			s.follower.Stop()
			s.follower.ResetToStart()
			prog := s.follower.Status()
			s.queue(func() { s.progress.Publish(prog) })
		}
	})
	return pos
}

// LoadRoute replaces the active route; navigation stays off until
// StartNavigation.
func (s *Session) LoadRoute(r *route.Route) error {
	var err error
	s.withLock(func() {
		if err = s.follower.Load(r); err != nil {
			return
		}
		prog := s.follower.Status()
		s.queue(func() { s.progress.Publish(prog) })
	})
	return err
}

// ClearRoute drops the route and returns to freeform tracking.
func (s *Session) ClearRoute() {
	s.withLock(func() { s.follower.Clear() })
}

// StartNavigation lets steps advance along the loaded route. It fails with
// route.ErrNoRoute when no usable route is loaded.
func (s *Session) StartNavigation() error {
	var err error
	s.withLock(func() {
		if err = s.follower.Start(); err != nil {
			return
		}
		prog := s.follower.Status()
		s.queue(func() { s.progress.Publish(prog) })
	})
	return err
}

// StopNavigation freezes route progress; steps go back to the freeform
// estimator.
func (s *Session) StopNavigation() {
	s.withLock(func() {
		s.follower.Stop()
		prog := s.follower.Status()
		s.queue(func() { s.progress.Publish(prog) })
	})
}

// ResetRoute moves back to the first waypoint with zero progress.
func (s *Session) ResetRoute() {
	s.withLock(func() {
		s.follower.ResetToStart()
		prog := s.follower.Status()
		s.queue(func() { s.progress.Publish(prog) })
	})
}

// RouteProgress returns the navigation snapshot.
func (s *Session) RouteProgress() route.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.follower.Status()
}

// StartStepCalibration begins step threshold calibration.
func (s *Session) StartStepCalibration() {
	s.withLock(s.detector.StartCalibration)
}

// CalibrationSteps returns the steps counted during threshold calibration.
func (s *Session) CalibrationSteps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detector.CalibrationSteps()
}

// FinishStepCalibration ends threshold calibration. The new threshold
// survives session restarts.
func (s *Session) FinishStepCalibration() steps.CalibrationResult {
	var res steps.CalibrationResult
	s.withLock(func() {
		res = s.detector.FinishCalibration()
		if res.Steps > 0 {
			s.calibratedThreshold = res.Threshold
		}
	})
	return res
}

// CalibrateStepLength sets the step length from a walked known distance.
func (s *Session) CalibrateStepLength(distanceMeters float64, stepCount int) (float64, error) {
	var (
		l   float64
		err error
	)
	s.withLock(func() { l, err = s.estimator.CalibrateStepLength(distanceMeters, stepCount) })
	return l, err
}

// SetStepLength sets the step length in meters.
func (s *Session) SetStepLength(meters float64) error {
	var err error
	s.withLock(func() { err = s.estimator.SetStepLength(meters) })
	return err
}

// SetUserHeight estimates the step length from body height in meters.
func (s *Session) SetUserHeight(meters float64) error {
	var err error
	s.withLock(func() { err = s.estimator.SetUserHeight(meters) })
	return err
}

// Position returns the current freeform estimate.
func (s *Session) Position() position.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimator.Position()
}

// History returns the walked path, oldest first.
func (s *Session) History() []position.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimator.History()
}

// StepCount returns the steps detected in this session.
func (s *Session) StepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detector.StepCount()
}
