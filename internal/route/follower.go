package route

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"

	"github.com/relabs-tech/indoor_tracker/internal/monitoring"
)

// DefaultStepDistance is the route progress in plan pixels added per step.
const DefaultStepDistance = 10.0

type segment struct {
	start, end         r2.Point
	length             float64
	startDist, endDist float64
	floor              FloorID
}

// Progress is a snapshot of navigation along the route.
type Progress struct {
	X                  float64 `json:"x"`
	Y                  float64 `json:"y"`
	Floor              FloorID `json:"floor,omitempty"`
	Distance           float64 `json:"distance"`
	TotalDistance      float64 `json:"total_distance"`
	Percent            float64 `json:"percent"`
	Remaining          float64 `json:"remaining"`
	DestinationReached bool    `json:"destination_reached"`
	Navigating         bool    `json:"navigating"`
}

// Follower advances a scalar progress along a route polyline and maps it
// back to a plan position.
//
// Follower is not safe for concurrent use.
type Follower struct {
	stepDistance float64

	segs       []segment
	first      r2.Point
	last       r2.Point
	lastFloor  FloorID
	total      float64
	progress   float64
	pos        r2.Point
	navigating bool
}

// NewFollower creates a follower without a route. A non-positive
// stepDistance falls back to DefaultStepDistance.
func NewFollower(stepDistance float64) *Follower {
	if stepDistance <= 0 || math.IsNaN(stepDistance) {
		stepDistance = DefaultStepDistance
	}
	return &Follower{stepDistance: stepDistance}
}

// Load replaces the route. The position snaps to the first waypoint and
// navigation stays inactive until Start. With fewer than two usable
// waypoints the follower is cleared and ErrNoRoute is returned.
func (f *Follower) Load(r *Route) error {
	pts := r.Points()
	f.Clear()
	if len(pts) < 2 {
		return ErrNoRoute
	}

	segs := make([]segment, 0, len(pts)-1)
	var cum float64
	for i := 0; i < len(pts)-1; i++ {
		a := r2.Point{X: pts[i].Coords.X, Y: pts[i].Coords.Y}
		b := r2.Point{X: pts[i+1].Coords.X, Y: pts[i+1].Coords.Y}
		l := b.Sub(a).Norm()
		segs = append(segs, segment{
			start:     a,
			end:       b,
			length:    l,
			startDist: cum,
			endDist:   cum + l,
			floor:     pts[i].Floor,
		})
		cum += l
	}

	f.segs = segs
	f.total = cum
	f.first = segs[0].start
	f.last = segs[len(segs)-1].end
	f.lastFloor = pts[len(pts)-1].Floor
	f.pos = f.first
	monitoring.Logf("route: loaded %d segments, total %.1fpx", len(segs), cum)
	return nil
}

// Clear drops the route.
func (f *Follower) Clear() {
	f.segs = nil
	f.first, f.last, f.pos = r2.Point{}, r2.Point{}, r2.Point{}
	f.lastFloor = ""
	f.total = 0
	f.progress = 0
	f.navigating = false
}

// HasRoute reports whether a usable route is loaded.
func (f *Follower) HasRoute() bool { return len(f.segs) > 0 }

// Start enables advancing on steps. Progress is kept, so a stopped
// navigation resumes where it was frozen.
func (f *Follower) Start() error {
	if !f.HasRoute() {
		return ErrNoRoute
	}
	f.navigating = true
	f.pos = f.PositionAt(f.progress)
	return nil
}

// Stop freezes progress and position.
func (f *Follower) Stop() { f.navigating = false }

// ResetToStart zeroes progress and moves back to the first waypoint.
func (f *Follower) ResetToStart() {
	f.progress = 0
	f.pos = f.PositionAt(0)
}

// Navigating reports whether steps currently advance the progress.
func (f *Follower) Navigating() bool { return f.navigating }

// Step advances the progress by the per-step distance. It reports false
// when navigation is inactive.
func (f *Follower) Step() (Progress, bool) {
	if !f.navigating || !f.HasRoute() {
		return f.Status(), false
	}
	f.progress = f.clamp(f.progress + f.stepDistance)
	f.pos = f.PositionAt(f.progress)
	if f.DestinationReached() {
		monitoring.Logf("route: destination reached")
	}
	return f.Status(), true
}

func (f *Follower) clamp(d float64) float64 {
	return math.Max(0, math.Min(d, f.total))
}

// PositionAt maps a distance along the route to a plan position.
func (f *Follower) PositionAt(distance float64) r2.Point {
	if !f.HasRoute() {
		return r2.Point{}
	}
	d := f.clamp(distance)
	if d >= f.total {
		return f.last
	}
	seg := f.segs[f.segmentIndex(d)]
	if seg.length == 0 {
		return seg.start
	}
	t := (d - seg.startDist) / seg.length
	return seg.start.Add(seg.end.Sub(seg.start).Mul(t))
}

// segmentIndex returns the first segment whose end reaches d.
func (f *Follower) segmentIndex(d float64) int {
	i := sort.Search(len(f.segs), func(i int) bool { return f.segs[i].endDist >= d })
	if i == len(f.segs) {
		i = len(f.segs) - 1
	}
	return i
}

// Position returns the current plan position.
func (f *Follower) Position() r2.Point { return f.pos }

// Progress returns the distance covered along the route.
func (f *Follower) Progress() float64 { return f.progress }

// TotalLength returns the route length in plan pixels.
func (f *Follower) TotalLength() float64 { return f.total }

// ProgressPercent returns completion in [0, 100].
func (f *Follower) ProgressPercent() float64 {
	if f.total == 0 {
		return 0
	}
	return math.Min(100, 100*f.progress/f.total)
}

// RemainingDistance returns the distance left to the destination.
func (f *Follower) RemainingDistance() float64 {
	return math.Max(0, f.total-f.progress)
}

// DestinationReached reports whether a non-empty route has been walked to
// its end.
func (f *Follower) DestinationReached() bool {
	return f.total > 0 && f.progress >= f.total
}

// CurrentFloor returns the floor of the segment under the current progress.
func (f *Follower) CurrentFloor() FloorID {
	if !f.HasRoute() {
		return ""
	}
	if f.progress >= f.total {
		return f.lastFloor
	}
	return f.segs[f.segmentIndex(f.progress)].floor
}

// Status returns the navigation snapshot.
func (f *Follower) Status() Progress {
	return Progress{
		X:                  f.pos.X,
		Y:                  f.pos.Y,
		Floor:              f.CurrentFloor(),
		Distance:           f.progress,
		TotalDistance:      f.total,
		Percent:            f.ProgressPercent(),
		Remaining:          f.RemainingDistance(),
		DestinationReached: f.DestinationReached(),
		Navigating:         f.navigating,
	}
}
