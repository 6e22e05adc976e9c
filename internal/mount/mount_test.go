package mount

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"photonic/internal/calibration"
	"photonic/internal/driver/simulator"
	"photonic/internal/point"
)

func TestEngineWestPhaseMatchesScenario(t *testing.T) {
	// 8 west pulses of 500ms, star moves 20px along angle 0 => xRate=0.005.
	cfg := simulator.DefaultConfig()
	cfg.RAangle = 0
	cfg.RArate = 0.005
	sim := simulator.New(cfg)

	opts := DefaultEngineOpts()
	opts.DistanceThresholdPx = 20
	opts.MaxStepsPerPhase = 8
	eng := NewEngine(sim, opts)

	ctx := context.Background()
	starX, starY := sim.StarPosition()
	pos := point.New(starX, starY)

	_, _, err := eng.Step(ctx, pos, 0, calibration.PierSideEast)
	require.NoError(t, err)
	require.Equal(t, PhaseGoWest, eng.Phase())

	for i := 0; i < 8; i++ {
		x, y := sim.StarPosition()
		_, _, err := eng.Step(ctx, point.New(x, y), 0, calibration.PierSideEast)
		require.NoError(t, err)
	}

	require.Equal(t, PhaseGoEast, eng.Phase())
	require.InDelta(t, 0.005, eng.xRate, 1e-9)
	require.InDelta(t, 0, eng.xAngle, 1e-9)
}

func TestEngineRunsToCompletion(t *testing.T) {
	cfg := simulator.DefaultConfig()
	cfg.RAangle = 0
	cfg.DecAngle = math.Pi / 2
	cfg.RArate = 0.01
	cfg.DecRate = 0.01
	sim := simulator.New(cfg)

	eng := NewEngine(sim, DefaultEngineOpts())
	ctx := context.Background()

	var data *calibration.Data
	for i := 0; i < 500 && data == nil; i++ {
		x, y := sim.StarPosition()
		var err error
		_, data, err = eng.Step(ctx, point.New(x, y), 0, calibration.PierSideEast)
		require.NoError(t, err)
	}

	require.NotNil(t, data)
	require.True(t, data.Valid)
	require.NoError(t, data.Invariant())
	require.InDelta(t, 0, data.XAngle, 0.05)
	require.InDelta(t, math.Pi/2, data.YAngle, 0.05)
}
