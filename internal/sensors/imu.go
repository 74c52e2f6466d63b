package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/indoor_tracker/internal/imu"
)

// StandardGravity converts g to m/s².
const StandardGravity = 9.80665

// RawMotion is one accelerometer + gyroscope read in device counts.
type RawMotion struct {
	Ax, Ay, Az int16
	Gx, Gy, Gz int16
}

// RawReader returns raw IMU counts.
type RawReader interface {
	ReadRaw() (RawMotion, error)
}

// Converter turns raw counts into motion samples. Gravity is tracked with
// a first-order low-pass filter and subtracted so the output is linear
// acceleration, like a phone's user acceleration.
type Converter struct {
	AccelLSBPerG  float64
	GyroLSBPerDPS float64
	GravityAlpha  float64
	gravity       imu.Vector3
	gravityPrimed bool
}

// NewConverter creates a converter for the given sensor scales.
func NewConverter(accelLSBPerG, gyroLSBPerDPS, gravityAlpha float64) *Converter {
	return &Converter{
		AccelLSBPerG:  accelLSBPerG,
		GyroLSBPerDPS: gyroLSBPerDPS,
		GravityAlpha:  gravityAlpha,
	}
}

// Convert scales one raw reading. The first reading primes the gravity
// estimate and yields zero linear acceleration.
func (c *Converter) Convert(r RawMotion, ts time.Time) imu.MotionSample {
	a := imu.Vector3{
		X: float64(r.Ax) / c.AccelLSBPerG * StandardGravity,
		Y: float64(r.Ay) / c.AccelLSBPerG * StandardGravity,
		Z: float64(r.Az) / c.AccelLSBPerG * StandardGravity,
	}
	if !c.gravityPrimed {
		c.gravity = a
		c.gravityPrimed = true
	} else {
		k := c.GravityAlpha
		c.gravity = imu.Vector3{
			X: k*c.gravity.X + (1-k)*a.X,
			Y: k*c.gravity.Y + (1-k)*a.Y,
			Z: k*c.gravity.Z + (1-k)*a.Z,
		}
	}
	lin := imu.Vector3{X: a.X - c.gravity.X, Y: a.Y - c.gravity.Y, Z: a.Z - c.gravity.Z}

	// Heading grows clockwise seen from above, the gyro Z axis counter-clockwise.
	return imu.MotionSample{
		Acceleration: lin,
		RotationRate: imu.RotationRate{
			Yaw:   -float64(r.Gz) / c.GyroLSBPerDPS,
			Pitch: float64(r.Gx) / c.GyroLSBPerDPS,
			Roll:  float64(r.Gy) / c.GyroLSBPerDPS,
		},
		Timestamp: ts,
	}
}

// Reset forgets the gravity estimate.
func (c *Converter) Reset() {
	c.gravity = imu.Vector3{}
	c.gravityPrimed = false
}

// MotionSource adapts a raw reader into an imu.MotionSource.
type MotionSource struct {
	reader    RawReader
	converter *Converter
	now       func() time.Time
}

// NewMotionSource wraps reader with the given converter.
func NewMotionSource(reader RawReader, converter *Converter) *MotionSource {
	return &MotionSource{reader: reader, converter: converter, now: time.Now}
}

// NextMotion reads and converts one sample.
func (s *MotionSource) NextMotion() (imu.MotionSample, error) {
	raw, err := s.reader.ReadRaw()
	if err != nil {
		return imu.MotionSample{}, err
	}
	m := s.converter.Convert(raw, s.now())
	if math.IsNaN(m.Acceleration.Magnitude()) {
		m.Acceleration = imu.Vector3{}
	}
	return m, nil
}
