package platform

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/indoor_tracker/internal/config"
	"github.com/relabs-tech/indoor_tracker/internal/imu"
	"github.com/relabs-tech/indoor_tracker/internal/sensors"
	"github.com/relabs-tech/indoor_tracker/internal/session"
	"github.com/relabs-tech/indoor_tracker/internal/steps"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// recorder collects delivered samples from any goroutine.
type recorder struct {
	mu     sync.Mutex
	motion []imu.MotionSample
	orient []imu.OrientationSample
}

func (r *recorder) attach(p session.Platform) {
	p.OnMotion(func(s imu.MotionSample) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.motion = append(r.motion, s)
	})
	p.OnOrientation(func(o imu.OrientationSample) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.orient = append(r.orient, o)
	})
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.motion), len(r.orient)
}

func TestDecodeMotion_MissingFieldsAreZero(t *testing.T) {
	s, err := DecodeMotion([]byte(`{"acceleration": {"x": 1.5, "z": null}}`), base)
	require.NoError(t, err)
	assert.Equal(t, imu.MotionSample{Acceleration: imu.Vector3{X: 1.5}, Timestamp: base}, s)

	s, err = DecodeMotion([]byte(`{"rotation_rate": {"yaw": -12}, "timestamp": 1772355600250}`), base)
	require.NoError(t, err)
	assert.Equal(t, -12.0, s.RotationRate.Yaw)
	assert.True(t, s.Timestamp.Equal(time.UnixMilli(1772355600250)))

	_, err = DecodeMotion([]byte(`not json`), base)
	assert.Error(t, err)
}

func TestDecodeOrientation(t *testing.T) {
	o, err := DecodeOrientation([]byte(`{"heading": 271.5, "absolute": true}`), base)
	require.NoError(t, err)
	assert.Equal(t, imu.OrientationSample{RawHeading: 271.5, Absolute: true, Timestamp: base}, o)

	o, err = DecodeOrientation([]byte(`{}`), base)
	require.NoError(t, err)
	assert.Equal(t, imu.OrientationSample{Timestamp: base}, o)
}

func TestWalker_DeterministicClock(t *testing.T) {
	w := NewWalker(DefaultWalkerConfig(), base)
	a, _ := w.NextMotion()
	b, _ := w.NextMotion()
	assert.Equal(t, base.Add(20*time.Millisecond), a.Timestamp)
	assert.Equal(t, 20*time.Millisecond, b.Timestamp.Sub(a.Timestamp))

	w2 := NewWalker(DefaultWalkerConfig(), base)
	a2, _ := w2.NextMotion()
	assert.Equal(t, a, a2)

	o := w.Orientation()
	assert.True(t, o.Absolute)
	assert.True(t, o.RawHeading >= 0 && o.RawHeading < 360)
}

func TestWalker_ProducesDetectableSteps(t *testing.T) {
	w := NewWalker(DefaultWalkerConfig(), base)
	d := steps.NewDetector(steps.DefaultConfig())

	for i := 0; i < 500; i++ { // 10 simulated seconds
		s, err := w.NextMotion()
		require.NoError(t, err)
		d.Process(s)
	}
	assert.InDelta(t, 18, d.StepCount(), 1)
}

func TestMock_StartStop(t *testing.T) {
	m := NewMock(DefaultWalkerConfig(), time.Millisecond)
	var rec recorder
	rec.attach(m)

	require.NoError(t, m.RequestPermission(context.Background()))
	require.NoError(t, m.Start())
	assert.Error(t, m.Start())

	require.Eventually(t, func() bool {
		motion, orient := rec.counts()
		return motion >= 10 && orient >= 2
	}, 2*time.Second, time.Millisecond)

	m.Stop()
	motion, _ := rec.counts()
	time.Sleep(10 * time.Millisecond)
	after, _ := rec.counts()
	assert.Equal(t, motion, after, "no samples after Stop")

	m.Stop()
}

func TestMock_Deny(t *testing.T) {
	m := NewMock(DefaultWalkerConfig(), 0)
	m.Deny = session.ErrPermissionDenied
	assert.True(t, errors.Is(m.RequestPermission(context.Background()), session.ErrPermissionDenied))
}

type fakeRaw struct{}

func (fakeRaw) ReadRaw() (sensors.RawMotion, error) {
	return sensors.RawMotion{Az: 16384, Gz: 131}, nil
}

func hardwareConfig() *config.Config {
	cfg := config.Default()
	cfg.IMUSampleInterval = 1
	cfg.CompassSerialPort = "/dev/ttyUSB0"
	return cfg
}

func TestHardware_UnsupportedWhenDevicesMissing(t *testing.T) {
	h := NewHardware(hardwareConfig())
	h.newIMU = func(string, string) (sensors.RawReader, error) {
		return nil, errors.New("spi: /dev/spidev0.0 not found")
	}
	err := h.RequestPermission(context.Background())
	assert.True(t, errors.Is(err, session.ErrUnsupported), "got %v", err)
	assert.Error(t, h.Start())

	h = NewHardware(hardwareConfig())
	h.newIMU = func(string, string) (sensors.RawReader, error) { return fakeRaw{}, nil }
	h.openCompass = func(string, uint) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such port")
	}
	err = h.RequestPermission(context.Background())
	assert.True(t, errors.Is(err, session.ErrUnsupported), "got %v", err)
}

func TestHardware_DeliversMotionAndCompass(t *testing.T) {
	h := NewHardware(hardwareConfig())
	h.newIMU = func(string, string) (sensors.RawReader, error) { return fakeRaw{}, nil }
	device, rig := net.Pipe()
	h.openCompass = func(port string, baud uint) (io.ReadWriteCloser, error) {
		assert.Equal(t, "/dev/ttyUSB0", port)
		assert.Equal(t, uint(4800), baud)
		return rig, nil
	}

	var rec recorder
	rec.attach(h)
	require.NoError(t, h.RequestPermission(context.Background()))
	require.NoError(t, h.Start())

	go func() {
		// HDT 123.4, checksum precomputed.
		_, _ = device.Write([]byte("$HCHDT,123.4,T*2D\r\n"))
	}()

	require.Eventually(t, func() bool {
		motion, orient := rec.counts()
		return motion >= 5 && orient == 1
	}, 2*time.Second, time.Millisecond)

	h.Stop()
	rec.mu.Lock()
	assert.Equal(t, 123.4, rec.orient[0].RawHeading)
	assert.True(t, rec.orient[0].Absolute)
	assert.InDelta(t, -1, rec.motion[0].RotationRate.Yaw, 1e-9)
	rec.mu.Unlock()
	_ = device.Close()
}

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }

type fakeClient struct {
	mqtt.Client
	connectErr   error
	connected    bool
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	disconnected bool

	// onSubscribe runs before the subscribe token completes.
	onSubscribe func(topic string)
}

func (c *fakeClient) Connect() mqtt.Token {
	c.connected = c.connectErr == nil
	return fakeToken{err: c.connectErr}
}
func (c *fakeClient) IsConnected() bool { return c.connected }
func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.handlers[topic] = cb
	if c.onSubscribe != nil {
		c.onSubscribe(topic)
	}
	return fakeToken{}
}
func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.unsubscribed = append(c.unsubscribed, topics...)
	return fakeToken{}
}
func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTT_SubscribesAndDecodes(t *testing.T) {
	cfg := config.Default()
	cfg.MQTTBroker = "tcp://broker:1883"
	p := NewMQTT(cfg)
	fc := &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
	p.newClient = func(*mqtt.ClientOptions) mqtt.Client { return fc }
	p.now = func() time.Time { return base }

	var rec recorder
	rec.attach(p)

	assert.Error(t, p.Start(), "start before connect fails")
	require.NoError(t, p.RequestPermission(context.Background()))
	require.NoError(t, p.Start())
	require.Contains(t, fc.handlers, cfg.TopicMotion)
	require.Contains(t, fc.handlers, cfg.TopicOrientation)

	fc.handlers[cfg.TopicMotion](fc, fakeMessage{payload: []byte(`{"acceleration": {"z": 2}}`)})
	fc.handlers[cfg.TopicMotion](fc, fakeMessage{payload: []byte(`{`)})
	fc.handlers[cfg.TopicOrientation](fc, fakeMessage{payload: []byte(`{"heading": 90, "absolute": true}`)})

	motion, orient := rec.counts()
	assert.Equal(t, 1, motion)
	assert.Equal(t, 1, orient)
	assert.Equal(t, 2.0, rec.motion[0].Acceleration.Z)

	p.Stop()
	assert.ElementsMatch(t, []string{cfg.TopicMotion, cfg.TopicOrientation}, fc.unsubscribed)
	assert.True(t, fc.disconnected)
}

func TestMQTT_UnreachableBrokerIsUnsupported(t *testing.T) {
	p := NewMQTT(config.Default())
	p.newClient = func(*mqtt.ClientOptions) mqtt.Client {
		return &fakeClient{connectErr: errors.New("connection refused")}
	}
	err := p.RequestPermission(context.Background())
	assert.True(t, errors.Is(err, session.ErrUnsupported), "got %v", err)
}

func TestNew_SelectsPlatform(t *testing.T) {
	cfg := config.Default()
	for name, want := range map[string]interface{}{
		config.PlatformMock:     &Mock{},
		config.PlatformMQTT:     &MQTT{},
		config.PlatformHardware: &Hardware{},
	} {
		cfg.Platform = name
		p, err := New(cfg)
		require.NoError(t, err)
		assert.IsType(t, want, p)
	}

	cfg.Platform = "android"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestMQTT_SessionStartsWhileMessagesArrive(t *testing.T) {
	cfg := config.Default()
	cfg.MQTTBroker = "tcp://broker:1883"
	p := NewMQTT(cfg)
	fc := &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
	// motion flows as soon as its subscription is acknowledged, before
	// the orientation subscribe completes
	fc.onSubscribe = func(topic string) {
		if topic == cfg.TopicOrientation {
			fc.handlers[cfg.TopicMotion](fc, fakeMessage{payload: []byte(`{"acceleration": {"z": 2}}`)})
		}
	}
	p.newClient = func(*mqtt.ClientOptions) mqtt.Client { return fc }

	sess := session.New(p, session.DefaultConfig())
	done := make(chan error, 1)
	go func() { done <- sess.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session start blocked on a message delivered during subscribe")
	}
	assert.True(t, sess.Active())

	sess.Stop()
	assert.True(t, fc.disconnected)
}
