package app

import (
	"context"
	"fmt"
	"log"

	"github.com/relabs-tech/indoor_tracker/internal/config"
	"github.com/relabs-tech/indoor_tracker/internal/platform"
	"github.com/relabs-tech/indoor_tracker/internal/publish"
	"github.com/relabs-tech/indoor_tracker/internal/recorder"
	"github.com/relabs-tech/indoor_tracker/internal/session"
)

// connectPublisher is replaced in tests.
var connectPublisher = publish.Connect

// Tracker wires a session to its platform and outputs.
type Tracker struct {
	Session   *session.Session
	Server    *Server
	publisher *publish.Publisher
	recorder  *recorder.Recorder
	detach    []func()
}

// NewTracker builds the tracking pipeline from cfg. MQTT publishing and
// the recorder are optional; failures to set them up are logged.
func NewTracker(cfg *config.Config) (*Tracker, error) {
	p, err := platform.New(cfg)
	if err != nil {
		return nil, err
	}
	t := &Tracker{Session: session.New(p, session.FromConfig(cfg))}

	pub, err := connectPublisher(cfg.MQTTBroker, cfg.MQTTClientIDTracker, publish.TopicsFromConfig(cfg))
	if err != nil {
		log.Printf("tracker: WARNING: publishing disabled: %v", err)
	} else {
		t.publisher = pub
		t.detach = append(t.detach, pub.Attach(t.Session))
	}

	if cfg.RecorderDBPath != "" {
		rec, err := recorder.Open(cfg.RecorderDBPath)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("failed to open recorder: %w", err)
		}
		t.recorder = rec
		t.detach = append(t.detach, rec.Attach(t.Session, cfg.Platform))
		log.Printf("tracker: recording sessions to %s", cfg.RecorderDBPath)
	}

	t.detach = append(t.detach, t.Session.Lifecycle().Subscribe(func(l session.Lifecycle) {
		if l.Active {
			log.Printf("tracker: session %s started", l.ID)
		} else {
			log.Printf("tracker: session %s stopped", l.ID)
		}
	}))

	t.Server = NewServer(t.Session, t.publisher, t.recorder, "web")
	return t, nil
}

// Close stops the session and releases outputs.
func (t *Tracker) Close() {
	t.Session.Stop()
	for _, d := range t.detach {
		d()
	}
	t.detach = nil
	if t.publisher != nil {
		t.publisher.Close()
	}
	if t.recorder != nil {
		if err := t.recorder.Close(); err != nil {
			log.Printf("tracker: recorder close error: %v", err)
		}
	}
}

// RunTracker starts tracking with the global config and serves the web
// front end until ctx is cancelled.
func RunTracker(ctx context.Context) error {
	cfg := config.Get()
	log.Printf("tracker: using %s platform", cfg.Platform)

	t, err := NewTracker(cfg)
	if err != nil {
		return err
	}
	defer t.Close()

	if err := t.Session.Start(ctx); err != nil {
		// the web front end can retry through POST /api/session/start
		log.Printf("tracker: WARNING: session not started: %v", err)
	}

	return t.Server.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.WebServerPort))
}
