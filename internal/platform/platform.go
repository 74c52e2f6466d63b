// Package platform provides the sensor hosts a tracking session can run
// on: a simulated walker, a phone bridge over MQTT and the Raspberry Pi rig.
package platform

import (
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/indoor_tracker/internal/config"
	"github.com/relabs-tech/indoor_tracker/internal/imu"
	"github.com/relabs-tech/indoor_tracker/internal/monitoring"
	"github.com/relabs-tech/indoor_tracker/internal/session"
)

// New builds the platform selected by cfg.Platform.
func New(cfg *config.Config) (session.Platform, error) {
	switch cfg.Platform {
	case config.PlatformMock:
		return NewMock(DefaultWalkerConfig(), time.Duration(cfg.IMUSampleInterval)*time.Millisecond), nil
	case config.PlatformMQTT:
		return NewMQTT(cfg), nil
	case config.PlatformHardware:
		return NewHardware(cfg), nil
	default:
		return nil, fmt.Errorf("platform: unknown platform %q", cfg.Platform)
	}
}

// handlers stores the session callbacks. Adapters embed it.
type handlers struct {
	mu     sync.RWMutex
	motion func(imu.MotionSample)
	orient func(imu.OrientationSample)
}

func (h *handlers) OnMotion(fn func(imu.MotionSample)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.motion = fn
}

func (h *handlers) OnOrientation(fn func(imu.OrientationSample)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.orient = fn
}

func (h *handlers) deliverMotion(s imu.MotionSample) {
	h.mu.RLock()
	fn := h.motion
	h.mu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

func (h *handlers) deliverOrientation(o imu.OrientationSample) {
	h.mu.RLock()
	fn := h.orient
	h.mu.RUnlock()
	if fn != nil {
		fn(o)
	}
}

// poller reads a motion source on a ticker until halted.
type poller struct {
	stop chan struct{}
	done chan struct{}
}

// startPolling calls tick on every interval in its own goroutine.
func startPolling(name string, interval time.Duration, tick func() error) *poller {
	p := &poller{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				if err := tick(); err != nil {
					monitoring.Logf("%s: read error: %v", name, err)
				}
			}
		}
	}()
	return p
}

// halt stops the goroutine and waits for it to exit.
func (p *poller) halt() {
	close(p.stop)
	<-p.done
}
