package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/indoor_tracker/internal/config"
	"github.com/relabs-tech/indoor_tracker/internal/publish"
)

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (fakeToken) Error() error { return nil }

type fakeClient struct {
	mqtt.Client
	mu           sync.Mutex
	topics       []string
	disconnected bool
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, _ interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) published(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.topics {
		if t == topic {
			return true
		}
	}
	return false
}

func trackerConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.MQTTBroker = "tcp://localhost:1883"
	cfg.SetBuildingRotationOffset(0)
	cfg.RecorderDBPath = filepath.Join(t.TempDir(), "tracker.db")
	return cfg
}

func stubConnect(t *testing.T, fn func(broker, clientID string, topics publish.Topics) (*publish.Publisher, error)) {
	prev := connectPublisher
	connectPublisher = fn
	t.Cleanup(func() { connectPublisher = prev })
}

func TestNewTracker_WiresOutputs(t *testing.T) {
	client := &fakeClient{}
	stubConnect(t, func(broker, clientID string, topics publish.Topics) (*publish.Publisher, error) {
		assert.Equal(t, "indoor-tracker", clientID)
		return publish.New(client, topics), nil
	})

	tr, err := NewTracker(trackerConfig(t))
	require.NoError(t, err)

	require.NoError(t, tr.Session.Start(context.Background()))
	tr.Session.SetInitialPosition(10, 10)
	assert.True(t, client.published("tracker/position"))

	sessions, err := tr.recorder.Sessions(5)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "mock", sessions[0].Platform)
	assert.Equal(t, tr.Session.ID(), sessions[0].ID)

	tr.Session.Stop()
	sessions, err = tr.recorder.Sessions(5)
	require.NoError(t, err)
	assert.NotNil(t, sessions[0].StoppedAt)

	tr.Close()
	assert.True(t, client.disconnected)
}

func TestNewTracker_RunsWithoutBroker(t *testing.T) {
	stubConnect(t, func(string, string, publish.Topics) (*publish.Publisher, error) {
		return nil, errors.New("connection refused")
	})
	cfg := trackerConfig(t)
	cfg.RecorderDBPath = ""

	tr, err := NewTracker(cfg)
	require.NoError(t, err)
	defer tr.Close()

	assert.Nil(t, tr.publisher)
	assert.Nil(t, tr.recorder)
	assert.NotNil(t, tr.Server)
}

func TestNewTracker_BadRecorderPath(t *testing.T) {
	stubConnect(t, func(string, string, publish.Topics) (*publish.Publisher, error) {
		return nil, errors.New("offline")
	})
	cfg := trackerConfig(t)
	cfg.RecorderDBPath = filepath.Join(t.TempDir(), "missing", "dir", "tracker.db")

	_, err := NewTracker(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recorder")
}
