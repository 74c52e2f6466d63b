package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/indoor_tracker/internal/config"
	"github.com/relabs-tech/indoor_tracker/internal/imu"
	"github.com/relabs-tech/indoor_tracker/internal/monitoring"
	"github.com/relabs-tech/indoor_tracker/internal/session"
)

// motionMessage is the JSON a phone bridge publishes per motion event.
// Missing fields decode to zero.
type motionMessage struct {
	Acceleration imu.Vector3      `json:"acceleration"`
	RotationRate imu.RotationRate `json:"rotation_rate"`
	Timestamp    float64          `json:"timestamp"` // unix milliseconds
}

// orientationMessage is the JSON a phone bridge publishes per orientation
// event.
type orientationMessage struct {
	Heading   float64 `json:"heading"`
	Absolute  bool    `json:"absolute"`
	Timestamp float64 `json:"timestamp"` // unix milliseconds
}

func sampleTime(ms float64, now time.Time) time.Time {
	if ms <= 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return now
	}
	return time.UnixMilli(int64(ms)).Add(time.Duration(math.Mod(ms, 1) * float64(time.Millisecond)))
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// DecodeMotion parses a motion message. A message without a timestamp is
// stamped with now.
func DecodeMotion(payload []byte, now time.Time) (imu.MotionSample, error) {
	var msg motionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return imu.MotionSample{}, fmt.Errorf("motion message: %w", err)
	}
	return imu.MotionSample{
		Acceleration: imu.Vector3{
			X: finite(msg.Acceleration.X),
			Y: finite(msg.Acceleration.Y),
			Z: finite(msg.Acceleration.Z),
		},
		RotationRate: imu.RotationRate{
			Yaw:   finite(msg.RotationRate.Yaw),
			Pitch: finite(msg.RotationRate.Pitch),
			Roll:  finite(msg.RotationRate.Roll),
		},
		Timestamp: sampleTime(msg.Timestamp, now),
	}, nil
}

// DecodeOrientation parses an orientation message.
func DecodeOrientation(payload []byte, now time.Time) (imu.OrientationSample, error) {
	var msg orientationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return imu.OrientationSample{}, fmt.Errorf("orientation message: %w", err)
	}
	return imu.OrientationSample{
		RawHeading: finite(msg.Heading),
		Absolute:   msg.Absolute,
		Timestamp:  sampleTime(msg.Timestamp, now),
	}, nil
}

// MQTT receives phone sensor events relayed over an MQTT broker.
type MQTT struct {
	handlers

	broker           string
	clientID         string
	motionTopic      string
	orientationTopic string
	now              func() time.Time
	newClient        func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.Mutex
	client mqtt.Client
}

// NewMQTT creates the phone bridge platform from the tracker config.
func NewMQTT(cfg *config.Config) *MQTT {
	return &MQTT{
		broker:           cfg.MQTTBroker,
		clientID:         cfg.MQTTClientIDPlatform,
		motionTopic:      cfg.TopicMotion,
		orientationTopic: cfg.TopicOrientation,
		now:              time.Now,
		newClient:        mqtt.NewClient,
	}
}

// RequestPermission connects to the broker. An unreachable broker means the
// sensors are not available.
func (p *MQTT) RequestPermission(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(p.broker).
		SetClientID(p.clientID)
	client := p.newClient(opts)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: MQTT connect %s: %v", session.ErrUnsupported, p.broker, err)
	}
	monitoring.Logf("mqtt platform: connected to %s", p.broker)
	p.client = client
	return nil
}

// Start subscribes to the motion and orientation topics.
func (p *MQTT) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return errors.New("mqtt platform: not connected")
	}

	if token := p.client.Subscribe(p.motionTopic, 0, p.onMotionMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt platform: subscribe %s: %w", p.motionTopic, token.Error())
	}
	if token := p.client.Subscribe(p.orientationTopic, 0, p.onOrientationMessage); token.Wait() && token.Error() != nil {
		p.client.Unsubscribe(p.motionTopic)
		return fmt.Errorf("mqtt platform: subscribe %s: %w", p.orientationTopic, token.Error())
	}
	monitoring.Logf("mqtt platform: subscribed to %s and %s", p.motionTopic, p.orientationTopic)
	return nil
}

// Stop unsubscribes and disconnects.
func (p *MQTT) Stop() {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()
	if client == nil {
		return
	}
	if token := client.Unsubscribe(p.motionTopic, p.orientationTopic); token.Wait() && token.Error() != nil {
		monitoring.Logf("mqtt platform: unsubscribe error: %v", token.Error())
	}
	client.Disconnect(250)
}

func (p *MQTT) onMotionMessage(_ mqtt.Client, msg mqtt.Message) {
	s, err := DecodeMotion(msg.Payload(), p.now())
	if err != nil {
		monitoring.Logf("mqtt platform: %v", err)
		return
	}
	p.deliverMotion(s)
}

func (p *MQTT) onOrientationMessage(_ mqtt.Client, msg mqtt.Message) {
	o, err := DecodeOrientation(msg.Payload(), p.now())
	if err != nil {
		monitoring.Logf("mqtt platform: %v", err)
		return
	}
	p.deliverOrientation(o)
}
