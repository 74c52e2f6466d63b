// Package publish sends tracker output to MQTT as retained JSON messages.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/indoor_tracker/internal/config"
	"github.com/relabs-tech/indoor_tracker/internal/position"
	"github.com/relabs-tech/indoor_tracker/internal/route"
	"github.com/relabs-tech/indoor_tracker/internal/session"
	"github.com/relabs-tech/indoor_tracker/internal/steps"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("MQTT broker did not answer in time")

// Topics are the output topics.
type Topics struct {
	Position    string
	Steps       string
	Progress    string
	Calibration string
}

// TopicsFromConfig reads the output topics from the tracker config.
func TopicsFromConfig(cfg *config.Config) Topics {
	return Topics{
		Position:    cfg.TopicPosition,
		Steps:       cfg.TopicSteps,
		Progress:    cfg.TopicProgress,
		Calibration: cfg.TopicCalibration,
	}
}

// Publisher writes session streams to MQTT.
type Publisher struct {
	client mqtt.Client
	topics Topics
}

// Connect dials the broker and returns a publisher.
func Connect(broker, clientID string, topics Topics) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("MQTT connect error: %w", ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", err)
	}
	log.Printf("publisher: connected to MQTT broker at %s", broker)
	return New(client, topics), nil
}

// New wraps an already connected client.
func New(client mqtt.Client, topics Topics) *Publisher {
	return &Publisher{client: client, topics: topics}
}

// CalibrationMessage is published when a calibration finishes.
type CalibrationMessage struct {
	Kind             string  `json:"kind"` // "threshold" or "step_length"
	Steps            int     `json:"steps"`
	AverageMagnitude float64 `json:"average_magnitude,omitempty"`
	Threshold        float64 `json:"threshold,omitempty"`
	DistanceMeters   float64 `json:"distance_meters,omitempty"`
	StepLength       float64 `json:"step_length,omitempty"`
}

// StepMessage is the step telemetry payload.
type StepMessage struct {
	StepCount     int     `json:"step_count"`
	Timestamp     int64   `json:"timestamp"` // unix milliseconds
	PeakMagnitude float64 `json:"peak_magnitude"`
	Calibrating   bool    `json:"calibrating"`
}

func (p *Publisher) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal error (%s): %w", topic, err)
	}
	// Publishes run inside session callbacks, so the wait is bounded.
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("MQTT publish error (%s): %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish error (%s): %w", topic, err)
	}
	return nil
}

// PublishPosition sends one position update.
func (p *Publisher) PublishPosition(pos position.Position) error {
	return p.publish(p.topics.Position, pos)
}

// PublishStep sends one step event.
func (p *Publisher) PublishStep(ev steps.Event) error {
	return p.publish(p.topics.Steps, StepMessage{
		StepCount:     ev.Index,
		Timestamp:     ev.Timestamp.UnixMilli(),
		PeakMagnitude: ev.PeakMagnitude,
		Calibrating:   ev.Calibrating,
	})
}

// PublishProgress sends navigation progress.
func (p *Publisher) PublishProgress(pr route.Progress) error {
	return p.publish(p.topics.Progress, pr)
}

// PublishCalibration sends a calibration result.
func (p *Publisher) PublishCalibration(msg CalibrationMessage) error {
	return p.publish(p.topics.Calibration, msg)
}

// Attach forwards the session streams until the returned function is
// called. Publish failures are logged.
func (p *Publisher) Attach(s *session.Session) (detach func()) {
	logErr := func(err error) {
		if err != nil {
			log.Printf("publisher: %v", err)
		}
	}
	unsubs := []func(){
		s.Positions().Subscribe(func(pos position.Position) { logErr(p.PublishPosition(pos)) }),
		s.Steps().Subscribe(func(ev steps.Event) { logErr(p.PublishStep(ev)) }),
		s.Progress().Subscribe(func(pr route.Progress) { logErr(p.PublishProgress(pr)) }),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
