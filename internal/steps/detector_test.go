package steps

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/indoor_tracker/internal/imu"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const sampleInterval = 20 * time.Millisecond

func sample(mag float64, i int) imu.MotionSample {
	return imu.MotionSample{
		Acceleration: imu.Vector3{Z: mag},
		Timestamp:    base.Add(time.Duration(i) * sampleInterval),
	}
}

// walk returns a walking-like magnitude waveform: one peak per period,
// sampled every 20ms.
func walk(cycles int, period time.Duration) []float64 {
	perCycle := int(period / sampleInterval)
	out := make([]float64, 0, cycles*perCycle)
	for i := 0; i < cycles*perCycle; i++ {
		phase := float64(i%perCycle) / float64(perCycle)
		out = append(out, 1.2+1.2*math.Sin(2*math.Pi*phase))
	}
	return out
}

func feed(d *Detector, mags []float64) []Event {
	var events []Event
	for i, m := range mags {
		if ev, ok := d.Process(sample(m, i)); ok {
			events = append(events, ev)
		}
	}
	return events
}

// confirmingMag returns the magnitude of the first falling sample after the
// waveform crosses threshold, which is the sample that confirms the step.
func confirmingMag(values []float64, threshold float64) float64 {
	for i := 1; i < len(values); i++ {
		if values[i-1] > threshold && values[i] < values[i-1] {
			return values[i]
		}
	}
	return 0
}

func maxOf(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		m = math.Max(m, v)
	}
	return m
}

func TestDetector_FiveCyclesFiveSteps(t *testing.T) {
	d := NewDetector(DefaultConfig())

	var delivered []Event
	unsubscribe := d.Events().Subscribe(func(ev Event) { delivered = append(delivered, ev) })
	defer unsubscribe()

	events := feed(d, walk(5, time.Second))
	require.Len(t, events, 5)
	assert.Equal(t, events, delivered)
	assert.Equal(t, 5, d.StepCount())

	peak := maxOf(walk(1, time.Second))
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Index)
		assert.InDelta(t, peak, ev.PeakMagnitude, 1e-12)
		if i > 0 {
			assert.Greater(t, ev.Timestamp.Sub(events[i-1].Timestamp), 250*time.Millisecond)
		}
	}
}

func TestDetector_SubThresholdEmitsNothing(t *testing.T) {
	d := NewDetector(DefaultConfig())
	rng := rand.New(rand.NewSource(7))

	mags := make([]float64, 2000)
	for i := range mags {
		mags[i] = rng.Float64() * 1.49
	}
	assert.Empty(t, feed(d, mags))
	assert.Equal(t, 1.5, d.Threshold())
}

func TestDetector_DebounceSuppressesFastPeaks(t *testing.T) {
	d := NewDetector(DefaultConfig())

	events := feed(d, walk(20, 200*time.Millisecond))
	require.NotEmpty(t, events)
	assert.Less(t, len(events), 20)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Timestamp.Sub(events[i-1].Timestamp), 250*time.Millisecond)
	}
}

func TestDetector_ZeroVelocityHold(t *testing.T) {
	d := NewDetector(DefaultConfig())

	for i := 0; i < 5; i++ {
		d.Process(sample(0.1, i))
	}
	assert.False(t, d.Stationary(), "five low samples are not enough")

	d.Process(sample(0.1, 5))
	assert.True(t, d.Stationary())

	d.Process(sample(0.5, 6))
	assert.False(t, d.Stationary())
}

func TestDetector_StationaryBlocksSteps(t *testing.T) {
	cfg := DefaultConfig()
	// Everything counts as "low", so the hold never releases.
	cfg.ZeroVelocityThreshold = 10
	d := NewDetector(cfg)

	assert.Empty(t, feed(d, walk(5, time.Second)))
	assert.True(t, d.Stationary())
}

func TestDetector_VarianceGate(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// A lone spike above the threshold on an otherwise flat signal does not
	// spread the window enough to count as walking.
	mags := make([]float64, 0, 40)
	for i := 0; i < 30; i++ {
		mags = append(mags, 1.0)
	}
	mags = append(mags, 1.6, 1.0, 1.0)
	assert.Empty(t, feed(d, mags))
}

func TestDetector_AdaptiveThreshold(t *testing.T) {
	d := NewDetector(DefaultConfig())

	events := feed(d, walk(10, time.Second))
	require.Len(t, events, 10)
	assert.Equal(t, 1.5, d.Threshold(), "ten steps are not enough to adapt")

	d2 := NewDetector(DefaultConfig())
	events = feed(d2, walk(12, time.Second))
	require.Len(t, events, 12)
	mag := confirmingMag(walk(1, time.Second), 1.5)
	assert.InDelta(t, 0.7*mag, d2.Threshold(), 1e-9)
}

func TestDetector_AdaptiveThresholdClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdaptiveFactor = 0.1
	d := NewDetector(cfg)

	feed(d, walk(12, time.Second))
	assert.Equal(t, 0.8, d.Threshold())
}

func TestDetector_Calibration(t *testing.T) {
	d := NewDetector(DefaultConfig())

	d.StartCalibration()
	assert.True(t, d.Calibrating())
	events := feed(d, walk(5, time.Second))
	require.Len(t, events, 5)
	assert.True(t, events[0].Calibrating)
	assert.Equal(t, 5, d.CalibrationSteps())

	res := d.FinishCalibration()
	mag := confirmingMag(walk(1, time.Second), 1.5)
	assert.Equal(t, 5, res.Steps)
	assert.InDelta(t, mag, res.AverageMagnitude, 1e-12)
	assert.InDelta(t, 0.75*mag, res.Threshold, 1e-12)
	for _, ev := range events {
		assert.InDelta(t, maxOf(walk(1, time.Second)), ev.PeakMagnitude, 1e-12)
	}
	assert.Equal(t, res.Threshold, d.Threshold())
	assert.False(t, d.Calibrating())
}

func TestDetector_CalibrationWithoutStepsKeepsThreshold(t *testing.T) {
	d := NewDetector(DefaultConfig())
	d.SetThreshold(2.2)

	d.StartCalibration()
	res := d.FinishCalibration()

	assert.Equal(t, CalibrationResult{Steps: 0, AverageMagnitude: 0, Threshold: 2.2}, res)
	assert.Equal(t, 2.2, d.Threshold())
}

func TestDetector_MalformedSampleTreatedAsZero(t *testing.T) {
	d := NewDetector(DefaultConfig())
	assert.NotPanics(t, func() {
		d.Process(imu.MotionSample{Acceleration: imu.Vector3{X: math.NaN()}, Timestamp: base})
		d.Process(imu.MotionSample{})
	})
	assert.Equal(t, 0, d.StepCount())
}

func TestDetector_ResetKeepsSubscribers(t *testing.T) {
	d := NewDetector(DefaultConfig())
	var n int
	d.Events().Subscribe(func(Event) { n++ })

	feed(d, walk(2, time.Second))
	d.Reset()
	assert.Equal(t, 0, d.StepCount())
	assert.Equal(t, 1.5, d.Threshold())

	feed(d, walk(3, time.Second))
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, d.StepCount())
}

func TestDetector_ThresholdFollowsConfirmingSample(t *testing.T) {
	// a sharp peak followed by a much lower falling sample
	cycle := make([]float64, 50)
	for i := range cycle {
		cycle[i] = 1.0 + 0.2*math.Sin(2*math.Pi*float64(i)/50)
	}
	cycle[20], cycle[21], cycle[22] = 2.2, 3.0, 1.6

	// the threshold adapts on the eleventh step
	var mags []float64
	for i := 0; i < 11; i++ {
		mags = append(mags, cycle...)
	}

	d := NewDetector(DefaultConfig())
	d.StartCalibration()
	events := feed(d, mags)
	require.Len(t, events, 11)
	for _, ev := range events {
		assert.Equal(t, 3.0, ev.PeakMagnitude)
	}
	assert.InDelta(t, 0.7*1.6, d.Threshold(), 1e-9)

	res := d.FinishCalibration()
	assert.InDelta(t, 1.6, res.AverageMagnitude, 1e-12)
	assert.InDelta(t, 0.75*1.6, res.Threshold, 1e-12)
}
