package orientation

import "github.com/relabs-tech/indoor_tracker/internal/imu"

// AccelSmoother is a per-axis moving average over acceleration. The step
// detector consumes its output.
type AccelSmoother struct {
	size    int
	x, y, z []float64
}

// NewAccelSmoother creates a moving average over the last size samples.
func NewAccelSmoother(size int) *AccelSmoother {
	if size < 1 {
		size = 1
	}
	return &AccelSmoother{size: size}
}

// Add pushes one sample and returns the current average.
func (s *AccelSmoother) Add(v imu.Vector3) imu.Vector3 {
	s.x = pushBounded(s.x, v.X, s.size)
	s.y = pushBounded(s.y, v.Y, s.size)
	s.z = pushBounded(s.z, v.Z, s.size)
	return s.Value()
}

// Value returns the current average without adding a sample.
func (s *AccelSmoother) Value() imu.Vector3 {
	return imu.Vector3{X: average(s.x), Y: average(s.y), Z: average(s.z)}
}

// Reset clears the window.
func (s *AccelSmoother) Reset() {
	s.x, s.y, s.z = nil, nil, nil
}

func pushBounded(values []float64, v float64, size int) []float64 {
	values = append(values, v)
	if len(values) > size {
		values = values[len(values)-size:]
	}
	return values
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
