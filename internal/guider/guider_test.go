package guider

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"photonic/internal/algorithm"
	"photonic/internal/calibration"
	"photonic/internal/driver"
	"photonic/internal/driver/simulator"
	"photonic/internal/point"
	"photonic/internal/starfield"
)

type nopMover struct{}

func (nopMover) Move(ctx context.Context, dir driver.Direction, durationMs int) (driver.MoveResult, error) {
	return driver.MoveOK, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func pointXY(x, y float64) point.Point { return point.New(x, y) }

func timeAt(sec int) time.Time { return time.Unix(0, 0).Add(time.Duration(sec) * time.Second) }

func decodedFrame(t *testing.T, sim *simulator.Sim) *starfield.Image {
	t.Helper()
	buf, err := sim.Capture(context.Background(), 100, driver.ExposeOptions{}, driver.Rect{})
	require.NoError(t, err)
	img, err := starfield.DecodeImage(buf, starfield.Rect{})
	require.NoError(t, err)
	return img
}

func TestGuiderFrameNumbersStrictlyIncrease(t *testing.T) {
	sim := simulator.New(simulator.DefaultConfig())
	g := New(nopMover{}, algorithm.NewHysteresis(), algorithm.NewHysteresis(), testLogger())

	img := decodedFrame(t, sim)
	require.NoError(t, g.SelectStar(img))

	g.SetCalibration(calibration.Data{
		XAngle: 0, YAngle: 1.5707963267948966,
		XRate: 0.02, YRate: 0.018,
		Valid: true,
	})
	require.NoError(t, g.StartGuiding())

	last := -1
	for i := 0; i < 5; i++ {
		frame := decodedFrame(t, sim)
		info, err := g.UpdateFrame(context.Background(), frame, 0)
		require.NoError(t, err)
		require.Greater(t, info.FrameNumber, last)
		last = info.FrameNumber
	}
}

func TestLockShiftAdvancesLockPosition(t *testing.T) {
	sim := simulator.New(simulator.DefaultConfig())
	g := New(nopMover{}, algorithm.NewHysteresis(), algorithm.NewHysteresis(), testLogger())

	img := decodedFrame(t, sim)
	require.NoError(t, g.SelectStar(img))
	g.SetCalibration(calibration.Data{
		XAngle: 0, YAngle: 1.5707963267948966,
		XRate: 0.02, YRate: 0.018,
		Valid: true,
	})
	require.NoError(t, g.StartGuiding())

	start := g.LockPosition()
	g.SetLockShiftRate(pointXY(1, 0), false)

	t0 := timeAt(0)
	g.lastFrameTime = t0
	for s := 1; s <= 5; s++ {
		g.applyLockShift(timeAt(s))
	}

	shifted := g.LockPosition()
	require.InDelta(t, start.X+5, shifted.X, 1e-9)
	require.InDelta(t, start.Y, shifted.Y, 1e-9)
}

func TestUpdateFrameRejectedOutsideGuiding(t *testing.T) {
	sim := simulator.New(simulator.DefaultConfig())
	g := New(nopMover{}, algorithm.NewHysteresis(), algorithm.NewHysteresis(), testLogger())
	img := decodedFrame(t, sim)
	_, err := g.UpdateFrame(context.Background(), img, 0)
	require.Error(t, err)
}
