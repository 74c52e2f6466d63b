package imu

import (
	"math"
	"time"
)

// Vector3 is a 3-axis acceleration in m/s², gravity excluded.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude returns the Euclidean norm of the vector.
func (v Vector3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// RotationRate is the gyroscope reading in degrees per second.
// Yaw is rotation about the axis normal to the screen.
type RotationRate struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// MotionSample represents a single accelerometer + gyroscope reading.
type MotionSample struct {
	Acceleration Vector3      `json:"acceleration"`
	RotationRate RotationRate `json:"rotation_rate"`
	Timestamp    time.Time    `json:"timestamp"`
}

// OrientationSample is one heading reading from the platform.
// Absolute marks a magnetic-north referenced (compass) heading as opposed to
// a device-relative angle.
type OrientationSample struct {
	RawHeading float64   `json:"raw_heading"`
	Absolute   bool      `json:"absolute"`
	Timestamp  time.Time `json:"timestamp"`
}

// MotionSource is anything that can provide motion samples over time.
type MotionSource interface {
	NextMotion() (MotionSample, error)
}
