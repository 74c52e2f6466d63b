// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"

	"github.com/relabs-tech/indoor_tracker/internal/platform"
	"github.com/relabs-tech/indoor_tracker/internal/position"
	"github.com/relabs-tech/indoor_tracker/internal/session"
)

// RunMockConsole walks the simulated pedestrian from (0,0) and prints each
// position until ctx is cancelled.
func RunMockConsole(ctx context.Context, w io.Writer) error {
	walker := platform.DefaultWalkerConfig()
	sess := session.New(platform.NewMock(walker, walker.SampleInterval), session.DefaultConfig())

	unsubscribe := sess.Positions().Subscribe(func(p position.Position) {
		fmt.Fprintf(w, "X=%8.1f  Y=%8.1f  HDG=%6.1f  %s\n", p.X, p.Y, p.Heading, p.Confidence)
	})
	defer unsubscribe()

	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Stop()
	sess.SetInitialPosition(0, 0)

	<-ctx.Done()
	return nil
}
