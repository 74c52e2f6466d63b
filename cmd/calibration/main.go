// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided step calibration against a running tracker.
// Calibrates:
//  1. Step threshold: walk naturally while the detector records peak magnitudes
//  2. Step length: walk a measured distance and divide by the counted steps
//
// Output:
//
//	Writes ./tracker_calibration.json with the calibration date/time and both results.
//
// Run:
//
//	go run ./cmd/calibration -addr localhost:8080
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/indoor_tracker/internal/app"
	"github.com/relabs-tech/indoor_tracker/internal/publish"
)

type CalibrationFile struct {
	SchemaVersion int                         `json:"schema_version"`
	CalibrationAt string                      `json:"calibration_at"` // RFC3339
	Threshold     *publish.CalibrationMessage `json:"threshold,omitempty"`
	StepLength    *publish.CalibrationMessage `json:"step_length,omitempty"`
}

func main() {
	addr := flag.String("addr", "localhost:8080", "tracker web server address")
	out := flag.String("out", "./tracker_calibration.json", "result file")
	flag.Parse()

	fmt.Println("=== Indoor tracker step calibration ===")
	fmt.Println("The tracker must be running with an active session.")
	fmt.Println()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws/calibration"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		fatal(fmt.Errorf("connect %s: %w", u.String(), err))
	}
	defer conn.Close()

	c := newClient(conn, os.Stdin)
	res := CalibrationFile{SchemaVersion: 1, CalibrationAt: time.Now().Format(time.RFC3339)}

	// ---------------- Threshold ----------------
	fmt.Println("Step 1/2 — Step detection threshold")
	fmt.Println("Hold the phone as you normally would and walk at least 10 steps.")
	c.waitEnter("Press ENTER to start, then ENTER again when done...")
	if res.Threshold, err = c.runPhase("start_threshold", app.WSMessage{Action: "finish_threshold"}); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: threshold calibration failed: %v\n", err)
	} else {
		fmt.Printf("Threshold: %.2f m/s² from %d steps (average peak %.2f)\n",
			res.Threshold.Threshold, res.Threshold.Steps, res.Threshold.AverageMagnitude)
	}

	// ---------------- Step length ----------------
	fmt.Println("\nStep 2/2 — Step length")
	fmt.Println("Mark a start and end point a known distance apart (10 m or more works best).")
	distance := c.askFloat("Distance in meters: ")
	c.waitEnter("Stand at the start. Press ENTER, walk to the end, then press ENTER again...")
	if res.StepLength, err = c.runPhase("start_walk", app.WSMessage{Action: "finish_walk", DistanceMeters: distance}); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: step length calibration failed: %v\n", err)
	} else {
		fmt.Printf("Step length: %.3f m from %d steps\n", res.StepLength.StepLength, res.StepLength.Steps)
	}

	if res.Threshold == nil && res.StepLength == nil {
		fatal(errors.New("no calibration completed"))
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fatal(err)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fatal(fmt.Errorf("failed to write calibration file: %w", err))
	}
	fmt.Printf("\nSaved calibration to %s\n", *out)
}

// client multiplexes console lines and websocket frames.
type client struct {
	conn    *websocket.Conn
	lines   chan string
	frames  chan app.WSResponse
	readErr error
}

func newClient(conn *websocket.Conn, stdin io.Reader) *client {
	c := &client{
		conn:   conn,
		lines:  make(chan string),
		frames: make(chan app.WSResponse),
	}
	go func() {
		in := bufio.NewReader(stdin)
		for {
			line, err := in.ReadString('\n')
			if err != nil {
				close(c.lines)
				return
			}
			c.lines <- strings.TrimSpace(line)
		}
	}()
	go func() {
		for {
			var resp app.WSResponse
			if err := conn.ReadJSON(&resp); err != nil {
				c.readErr = err
				close(c.frames)
				return
			}
			c.frames <- resp
		}
	}()
	return c
}

func (c *client) readLine() string {
	line, ok := <-c.lines
	if !ok {
		fatal(errors.New("input closed"))
	}
	return line
}

// runPhase starts a calibration phase, echoes step counts until the user
// presses ENTER, then sends finish and waits for the result.
func (c *client) runPhase(start string, finish app.WSMessage) (*publish.CalibrationMessage, error) {
	if err := c.conn.WriteJSON(app.WSMessage{Action: start}); err != nil {
		return nil, err
	}

	lines := c.lines
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return nil, errors.New("input closed")
			}
			if err := c.conn.WriteJSON(finish); err != nil {
				return nil, err
			}
			lines = nil
		case resp, ok := <-c.frames:
			if !ok {
				return nil, c.readErr
			}
			switch resp.Type {
			case "step":
				fmt.Printf("\r  steps: %d   ", resp.Steps)
			case "error":
				fmt.Println()
				if lines != nil {
					// the phase never started; consume the pending ENTER
					c.waitEnter("Press ENTER to continue...")
				}
				return nil, errors.New(resp.Message)
			case "complete":
				fmt.Println()
				return resp.Results, nil
			}
		}
	}
}

func (c *client) askFloat(prompt string) float64 {
	for {
		fmt.Print(prompt)
		v, err := strconv.ParseFloat(c.readLine(), 64)
		if err == nil && v > 0 {
			return v
		}
		fmt.Println("Please enter a positive number.")
	}
}

func (c *client) waitEnter(prompt string) {
	fmt.Print(prompt)
	c.readLine()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
