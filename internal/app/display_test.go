package app

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/indoor_tracker/internal/orientation"
	"github.com/relabs-tech/indoor_tracker/internal/position"
	"github.com/relabs-tech/indoor_tracker/internal/route"
	"github.com/relabs-tech/indoor_tracker/internal/session"
)

func TestStatusLines(t *testing.T) {
	tests := []struct {
		name string
		snap session.DebugSnapshot
		want []string
	}{
		{
			name: "stopped without position",
			snap: session.DebugSnapshot{Mode: session.ModeFreeform},
			want: []string{"STOPPED freeform", "HDG   0.0 STP 0", "NO POSITION", "CONF "},
		},
		{
			name: "tracking freeform",
			snap: session.DebugSnapshot{
				Active:      true,
				Mode:        session.ModeFreeform,
				Heading:     orientation.Snapshot{Heading: 87.25},
				StepCount:   12,
				PositionSet: true,
				Position:    position.Position{X: 140, Y: -28, Confidence: position.ConfidenceHigh},
			},
			want: []string{"TRACKING freeform", "HDG  87.2 STP 12", "X   140 Y   -28", "CONF high"},
		},
		{
			name: "route needing recalibration",
			snap: session.DebugSnapshot{
				Active:            true,
				Calibrating:       true,
				Mode:              session.ModeRoute,
				Route:             &route.Progress{Percent: 42, Remaining: 58},
				ShouldRecalibrate: true,
			},
			want: []string{"CALIBRATE route", "HDG   0.0 STP 0", "RTE  42% 58px", "RECALIBRATE!"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusLines(tt.snap))
		})
	}
}

func TestRenderStatus_DrawsText(t *testing.T) {
	img := RenderStatus(session.DebugSnapshot{Mode: session.ModeFreeform})
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())

	lit := 0
	for _, px := range img.Pix {
		if px > 0 {
			lit++
		}
	}
	assert.Positive(t, lit)

	var buf bytes.Buffer
	require.NoError(t, WriteStatusPNG(&buf, session.DebugSnapshot{}))
	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}
