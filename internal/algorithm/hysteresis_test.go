package algorithm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHysteresisFilterSeries(t *testing.T) {
	h := NewHysteresis()
	require.NoError(t, h.SetParam("hysteresis", 0.5))
	require.NoError(t, h.SetParam("aggression", 1.0))
	require.NoError(t, h.SetParam("minMove", 0.0))

	inputs := []float64{1.0, 0.0, 0.0}
	want := []float64{0.5, 0.25, 0.125}
	for i, in := range inputs {
		got := h.Result(in)
		require.InDelta(t, want[i], got, 1e-9, "step %d", i)
	}
}

func TestHysteresisClampsHAndAggression(t *testing.T) {
	h := NewHysteresis()
	require.Error(t, h.SetParam("hysteresis", 1.0))
	require.NoError(t, h.SetParam("hysteresis", maxHysteresis))
	require.Error(t, h.SetParam("aggression", 2.1))
}

func TestHysteresisReset(t *testing.T) {
	h := NewHysteresis()
	require.NoError(t, h.SetParam("minMove", 0.0))
	h.Result(1.0)
	h.Reset()
	require.InDelta(t, 0.0, h.Result(0.0), 1e-9)
}
