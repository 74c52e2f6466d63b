package app

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/relabs-tech/indoor_tracker/internal/session"
)

// Status card geometry, sized like the SSD1306 panels used on the bench rig.
const (
	cardWidth      = 128
	cardHeight     = 64
	cardLineHeight = 13
)

// StatusLines formats the debug snapshot into the four card lines.
func StatusLines(snap session.DebugSnapshot) []string {
	state := "STOPPED"
	if snap.Active {
		state = "TRACKING"
	}
	if snap.Calibrating {
		state = "CALIBRATE"
	}

	lines := []string{
		fmt.Sprintf("%s %s", state, snap.Mode),
		fmt.Sprintf("HDG %5.1f STP %d", snap.Heading.Heading, snap.StepCount),
	}

	switch {
	case snap.Route != nil:
		lines = append(lines, fmt.Sprintf("RTE %3.0f%% %.0fpx", snap.Route.Percent, snap.Route.Remaining))
	case snap.PositionSet:
		lines = append(lines, fmt.Sprintf("X%6.0f Y%6.0f", snap.Position.X, snap.Position.Y))
	default:
		lines = append(lines, "NO POSITION")
	}

	last := fmt.Sprintf("CONF %s", snap.Position.Confidence)
	if snap.ShouldRecalibrate {
		last = "RECALIBRATE!"
	}
	return append(lines, last)
}

// RenderStatus draws the status card as a monochrome image.
func RenderStatus(snap session.DebugSnapshot) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, cardWidth, cardHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
	}
	for i, line := range StatusLines(snap) {
		drawer.Dot = fixed.P(0, cardLineHeight*(i+1))
		drawer.DrawString(line)
	}
	return img
}

// WriteStatusPNG renders the status card as PNG.
func WriteStatusPNG(w io.Writer, snap session.DebugSnapshot) error {
	if err := png.Encode(w, RenderStatus(snap)); err != nil {
		return fmt.Errorf("failed to encode status card: %w", err)
	}
	return nil
}
