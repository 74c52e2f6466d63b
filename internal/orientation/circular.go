package orientation

import "math"

const (
	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

// NormalizeDegrees wraps any angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d -= 360
	}
	return d
}

// CircularMeanDegrees averages angles by summing their unit vectors, which
// avoids the wraparound error of an arithmetic mean at 0°/360°.
func CircularMeanDegrees(angles []float64) float64 {
	var sinSum, cosSum float64
	for _, a := range angles {
		sinSum += math.Sin(a * deg2rad)
		cosSum += math.Cos(a * deg2rad)
	}
	return NormalizeDegrees(math.Atan2(sinSum, cosSum) * rad2deg)
}

// WeightedCircularMean blends a and b as unit vectors, giving a the weight w
// and b the weight 1-w.
func WeightedCircularMean(a, b, w float64) float64 {
	x := w*math.Cos(a*deg2rad) + (1-w)*math.Cos(b*deg2rad)
	y := w*math.Sin(a*deg2rad) + (1-w)*math.Sin(b*deg2rad)
	return NormalizeDegrees(math.Atan2(y, x) * rad2deg)
}

// circularWindow keeps the last n headings.
type circularWindow struct {
	values []float64
	size   int
}

func newCircularWindow(size int) *circularWindow {
	return &circularWindow{values: make([]float64, 0, size), size: size}
}

func (w *circularWindow) push(deg float64) {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.size-1]
	}
	w.values = append(w.values, deg)
}

func (w *circularWindow) mean() float64 {
	return CircularMeanDegrees(w.values)
}

func (w *circularWindow) len() int {
	return len(w.values)
}
