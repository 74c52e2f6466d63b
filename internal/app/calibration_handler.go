// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/indoor_tracker/internal/publish"
	"github.com/relabs-tech/indoor_tracker/internal/session"
	"github.com/relabs-tech/indoor_tracker/internal/steps"
)

// Calibration phases.
const (
	phaseIdle      = ""
	phaseThreshold = "threshold"
	phaseWalk      = "walk"
)

// WSMessage is a client request on /ws/calibration.
type WSMessage struct {
	Action         string  `json:"action"` // start_threshold, finish_threshold, start_walk, finish_walk, cancel
	DistanceMeters float64 `json:"distance_meters,omitempty"`
	Steps          int     `json:"steps,omitempty"` // overrides the counted steps for finish_walk
}

// WSResponse is a server frame on /ws/calibration.
type WSResponse struct {
	Type    string                      `json:"type"` // phase, step, complete, error
	Phase   string                      `json:"phase,omitempty"`
	Steps   int                         `json:"steps,omitempty"`
	Results *publish.CalibrationMessage `json:"results,omitempty"`
	Message string                      `json:"message,omitempty"`
}

// CalibrationSession holds the state of one calibration connection.
type CalibrationSession struct {
	sess      *session.Session
	publisher *publish.Publisher
	conn      *websocket.Conn

	mu        sync.Mutex // guards conn writes and the fields below
	phase     string
	walkStart int
}

// HandleCalibrationWS runs threshold and step-length calibration over a
// websocket.
func (s *Server) HandleCalibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("calibration: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	cs := &CalibrationSession{sess: s.sess, publisher: s.publisher, conn: conn}
	unsubscribe := s.sess.Steps().Subscribe(cs.onStep)
	defer unsubscribe()
	defer cs.abort()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("calibration: websocket read error: %v", err)
			}
			return
		}

		if msg.Action == "cancel" {
			log.Printf("calibration: cancelled by user")
			return
		}
		if err := cs.handle(msg); err != nil {
			cs.sendError(err.Error())
		}
	}
}

func (c *CalibrationSession) handle(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "start_threshold":
		if c.phase != phaseIdle {
			return fmt.Errorf("calibration already running: %s", c.phase)
		}
		c.sess.StartStepCalibration()
		c.phase = phaseThreshold
		log.Printf("calibration: threshold calibration started")
		c.send(WSResponse{Type: "phase", Phase: c.phase})

	case "finish_threshold":
		if c.phase != phaseThreshold {
			return fmt.Errorf("threshold calibration not running")
		}
		res := c.sess.FinishStepCalibration()
		c.phase = phaseIdle
		if res.Steps == 0 {
			return fmt.Errorf("no steps detected, threshold unchanged at %.2f", res.Threshold)
		}
		c.complete(publish.CalibrationMessage{
			Kind:             "threshold",
			Steps:            res.Steps,
			AverageMagnitude: res.AverageMagnitude,
			Threshold:        res.Threshold,
		})

	case "start_walk":
		if c.phase != phaseIdle {
			return fmt.Errorf("calibration already running: %s", c.phase)
		}
		c.phase = phaseWalk
		c.walkStart = c.sess.StepCount()
		log.Printf("calibration: step length walk started at step %d", c.walkStart)
		c.send(WSResponse{Type: "phase", Phase: c.phase})

	case "finish_walk":
		if c.phase != phaseWalk {
			return fmt.Errorf("step length walk not running")
		}
		count := msg.Steps
		if count == 0 {
			count = c.sess.StepCount() - c.walkStart
		}
		length, err := c.sess.CalibrateStepLength(msg.DistanceMeters, count)
		if err != nil {
			return err
		}
		c.phase = phaseIdle
		c.complete(publish.CalibrationMessage{
			Kind:           "step_length",
			Steps:          count,
			DistanceMeters: msg.DistanceMeters,
			StepLength:     length,
		})

	default:
		return fmt.Errorf("unknown action %q", msg.Action)
	}
	return nil
}

func (c *CalibrationSession) onStep(ev steps.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.phase == phaseThreshold && ev.Calibrating:
		c.send(WSResponse{Type: "step", Phase: c.phase, Steps: c.sess.CalibrationSteps()})
	case c.phase == phaseWalk:
		c.send(WSResponse{Type: "step", Phase: c.phase, Steps: ev.Index - c.walkStart})
	}
}

// abort leaves the detector out of calibration when the client goes away.
func (c *CalibrationSession) abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseThreshold {
		c.sess.FinishStepCalibration()
		log.Printf("calibration: threshold calibration abandoned")
	}
	c.phase = phaseIdle
}

// complete must be called with c.mu held.
func (c *CalibrationSession) complete(res publish.CalibrationMessage) {
	log.Printf("calibration: %s complete after %d steps", res.Kind, res.Steps)
	if c.publisher != nil {
		if err := c.publisher.PublishCalibration(res); err != nil {
			log.Printf("calibration: %v", err)
		}
	}
	c.send(WSResponse{Type: "complete", Results: &res})
}

func (c *CalibrationSession) send(resp WSResponse) {
	c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	if err := c.conn.WriteJSON(resp); err != nil {
		log.Printf("calibration: websocket write error: %v", err)
	}
}

func (c *CalibrationSession) sendError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send(WSResponse{Type: "error", Message: message})
}
