package route

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multiFloorJSON = `{
  "start_room": "101", "start_floor": "1", "end_room": "205", "end_floor": "2",
  "total_distance": 42.5,
  "floors": ["1", "2"],
  "transition": {"exit_stair": "1S", "arrive_stair": "2S", "from_floor": "1", "to_floor": "2"},
  "segments": [
    {"floor": "1", "distance": 10, "waypoints": [
      {"pixel_coords": {"x": 0, "y": 0}, "label": "101"},
      {"pixel_coords": {"x": 10, "y": 0}, "label": "1S", "is_transition": true}
    ]},
    {"floor": "2", "distance": 10, "waypoints": [
      {"pixel_coords": {"x": 10, "y": 0}, "label": "2S", "is_transition": true},
      {"pixel_coords": {"x": 10, "y": 10}, "label": "205"}
    ]}
  ],
  "waypoints": [
    {"floor": "1", "pixel_coords": {"x": 0, "y": 0}},
    {"floor": "transition", "transition_type": "stairs"},
    {"floor": "2", "pixel_coords": {"x": 10, "y": 10}}
  ]
}`

func TestParse_MultiFloor(t *testing.T) {
	r, err := Parse([]byte(multiFloorJSON))
	require.NoError(t, err)

	assert.Equal(t, 42.5, r.TotalDistance)
	assert.True(t, r.IsMultiFloor())
	require.NotNil(t, r.Transition)
	assert.Equal(t, "1S", r.Transition.ExitStair)

	want := []Waypoint{
		{Coords: &PixelCoords{0, 0}, Floor: "1", Label: "101"},
		{Coords: &PixelCoords{10, 0}, Floor: "1", Label: "1S", IsTransition: true},
		{Coords: &PixelCoords{10, 0}, Floor: "2", Label: "2S", IsTransition: true},
		{Coords: &PixelCoords{10, 10}, Floor: "2", Label: "205"},
	}
	if diff := cmp.Diff(want, r.Points()); diff != "" {
		t.Errorf("Points() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_FlatSkipsTransitionMarkers(t *testing.T) {
	r, err := Parse([]byte(`{"waypoints": [
		{"pixel_coords": {"x": 1, "y": 2}, "label": null},
		{"floor": 3, "transition_type": "stairs"},
		{"pixel_coords": {"x": 3, "y": 4}, "floor": 3}
	]}`))
	require.NoError(t, err)

	pts := r.Points()
	require.Len(t, pts, 2)
	assert.Equal(t, PixelCoords{3, 4}, *pts[1].Coords)
	assert.Equal(t, FloorID("3"), pts[1].Floor)
	assert.False(t, r.IsMultiFloor())
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`{`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"floors": ["1"]}`))
	assert.True(t, errors.Is(err, ErrNoRoute))

	_, err = Parse([]byte(`{"waypoints": [{"floor": true}]}`))
	assert.Error(t, err)
}

func TestRoute_NilPoints(t *testing.T) {
	var r *Route
	assert.Nil(t, r.Points())
	assert.False(t, r.IsMultiFloor())
}
