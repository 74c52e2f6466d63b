// Package route decodes routes produced by the routing service and follows
// them step by step.
package route

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrNoRoute is returned when a route has fewer than two waypoints with
// planar coordinates.
var ErrNoRoute = errors.New("route: no route available")

// FloorID names a floor. The routing service emits floors as strings but
// numeric floors are accepted too.
type FloorID string

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (f *FloorID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FloorID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("route: invalid floor %s", data)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("route: invalid floor %s", data)
	}
	*f = FloorID(n.String())
	return nil
}

// PixelCoords is a point on the floor plan image.
type PixelCoords struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Waypoint is one node of a route. Waypoints without Coords are transition
// markers (for example a stairwell hop) and carry no geometry.
type Waypoint struct {
	Coords         *PixelCoords `json:"pixel_coords,omitempty"`
	Floor          FloorID      `json:"floor,omitempty"`
	Label          string       `json:"label,omitempty"`
	IsTransition   bool         `json:"is_transition,omitempty"`
	TransitionType string       `json:"transition_type,omitempty"`
}

// FloorSegment is the part of a route on one floor.
type FloorSegment struct {
	Floor     FloorID    `json:"floor"`
	Waypoints []Waypoint `json:"waypoints"`
	Distance  float64    `json:"distance,omitempty"`
}

// Transition describes the stair hop of a multi-floor route.
type Transition struct {
	ExitStair   string  `json:"exit_stair"`
	ArriveStair string  `json:"arrive_stair"`
	FromFloor   FloorID `json:"from_floor"`
	ToFloor     FloorID `json:"to_floor"`
}

// Route is either a flat waypoint list or a list of floor segments.
// When both are present the segments win.
type Route struct {
	StartRoom     string         `json:"start_room,omitempty"`
	StartFloor    FloorID        `json:"start_floor,omitempty"`
	EndRoom       string         `json:"end_room,omitempty"`
	EndFloor      FloorID        `json:"end_floor,omitempty"`
	TotalDistance float64        `json:"total_distance,omitempty"`
	Floors        []FloorID      `json:"floors,omitempty"`
	Transition    *Transition    `json:"transition,omitempty"`
	Segments      []FloorSegment `json:"segments,omitempty"`
	Waypoints     []Waypoint     `json:"waypoints,omitempty"`
}

// Parse decodes a route document.
func Parse(data []byte) (*Route, error) {
	var r Route
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("route: decode: %w", err)
	}
	if len(r.Segments) == 0 && len(r.Waypoints) == 0 {
		return nil, fmt.Errorf("route: document has neither segments nor waypoints: %w", ErrNoRoute)
	}
	return &r, nil
}

// Points returns the waypoints that carry coordinates, in route order.
// Segment waypoints without their own floor inherit the segment floor.
func (r *Route) Points() []Waypoint {
	if r == nil {
		return nil
	}
	var out []Waypoint
	if len(r.Segments) > 0 {
		for _, seg := range r.Segments {
			for _, wp := range seg.Waypoints {
				if wp.Coords == nil {
					continue
				}
				if wp.Floor == "" {
					wp.Floor = seg.Floor
				}
				out = append(out, wp)
			}
		}
		return out
	}
	for _, wp := range r.Waypoints {
		if wp.Coords != nil {
			out = append(out, wp)
		}
	}
	return out
}

// IsMultiFloor reports whether the route spans more than one floor.
func (r *Route) IsMultiFloor() bool {
	if r == nil {
		return false
	}
	if len(r.Floors) > 1 {
		return true
	}
	seen := map[FloorID]bool{}
	for _, seg := range r.Segments {
		seen[seg.Floor] = true
	}
	return len(seen) > 1
}
