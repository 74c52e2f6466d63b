// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/relabs-tech/indoor_tracker/internal/config"
	"github.com/relabs-tech/indoor_tracker/internal/imu"
	"github.com/relabs-tech/indoor_tracker/internal/monitoring"
	"github.com/relabs-tech/indoor_tracker/internal/sensors"
	"github.com/relabs-tech/indoor_tracker/internal/session"
)

// Hardware is the Raspberry Pi rig: an MPU9250 on SPI for motion and an
// optional NMEA heading sensor on a serial port.
type Hardware struct {
	handlers

	spiDevice     string
	csPin         string
	accelLSBPerG  float64
	gyroLSBPerDPS float64
	gravityAlpha  float64
	interval      time.Duration
	compassPort   string
	compassBaud   uint

	newIMU      func(spiDev, csPin string) (sensors.RawReader, error)
	openCompass func(port string, baud uint) (io.ReadWriteCloser, error)
	now         func() time.Time

	mu          sync.Mutex
	reader      sensors.RawReader
	compass     io.ReadWriteCloser
	poll        *poller
	compassDone chan struct{}
}

// NewHardware creates the rig platform from the tracker config.
func NewHardware(cfg *config.Config) *Hardware {
	return &Hardware{
		spiDevice:     cfg.IMUSPIDevice,
		csPin:         cfg.IMUCSPin,
		accelLSBPerG:  cfg.IMUAccelLSBPerG,
		gyroLSBPerDPS: cfg.IMUGyroLSBPerDPS,
		gravityAlpha:  cfg.IMUGravityAlpha,
		interval:      time.Duration(cfg.IMUSampleInterval) * time.Millisecond,
		compassPort:   cfg.CompassSerialPort,
		compassBaud:   uint(cfg.CompassBaudRate),
		newIMU:        sensors.NewIMU,
		openCompass:   sensors.OpenCompass,
		now:           time.Now,
	}
}

// RequestPermission opens the devices. A device that cannot be opened is
// reported as unsupported.
func (h *Hardware) RequestPermission(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.reader == nil {
		r, err := h.newIMU(h.spiDevice, h.csPin)
		if err != nil {
			return fmt.Errorf("%w: %v", session.ErrUnsupported, err)
		}
		h.reader = r
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if h.compassPort != "" && h.compass == nil {
		port, err := h.openCompass(h.compassPort, h.compassBaud)
		if err != nil {
			return fmt.Errorf("%w: %v", session.ErrUnsupported, err)
		}
		h.compass = port
	}
	return nil
}

// Start begins polling the IMU and reading compass sentences.
func (h *Hardware) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reader == nil {
		return errors.New("hardware platform: IMU not opened")
	}
	if h.poll != nil {
		return errors.New("hardware platform: already running")
	}

	src := sensors.NewMotionSource(h.reader, sensors.NewConverter(h.accelLSBPerG, h.gyroLSBPerDPS, h.gravityAlpha))
	h.poll = startPolling("hardware platform", h.interval, func() error {
		s, err := src.NextMotion()
		if err != nil {
			return err
		}
		h.deliverMotion(s)
		return nil
	})

	if h.compass != nil {
		done := make(chan struct{})
		h.compassDone = done
		port := h.compass
		go func() {
			defer close(done)
			err := sensors.ReadHeadings(port, func(deg float64) {
				h.deliverOrientation(imu.OrientationSample{RawHeading: deg, Absolute: true, Timestamp: h.now()})
			})
			monitoring.Logf("hardware platform: compass reader stopped: %v", err)
		}()
	} else {
		monitoring.Logf("hardware platform: WARNING: no compass configured, heading from gyro only")
	}
	return nil
}

// Stop halts polling and closes the compass port. The IMU stays
// initialized for the next session.
func (h *Hardware) Stop() {
	h.mu.Lock()
	p, port, done := h.poll, h.compass, h.compassDone
	h.poll, h.compass, h.compassDone = nil, nil, nil
	h.mu.Unlock()

	if p != nil {
		p.halt()
	}
	if port != nil {
		if err := port.Close(); err != nil {
			monitoring.Logf("hardware platform: compass close: %v", err)
		}
	}
	if done != nil {
		<-done
	}
}
