package algorithm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZFilterKindChangesOutput(t *testing.T) {
	input := []float64{1, 0.5, -0.3, 0.8, -1.2, 0.4, 0.1, -0.6, 0.9, 0.2}

	run := func(kind FilterKind) []float64 {
		zf := NewZFilter()
		require.NoError(t, zf.SetParam("minMove", 0))
		require.NoError(t, zf.SetParam("kind", float64(kind)))
		out := make([]float64, len(input))
		for i, v := range input {
			out[i] = zf.Result(v)
		}
		return out
	}

	butterworth := run(FilterButterworth)
	bessel := run(FilterBessel)

	var differs bool
	for i := range butterworth {
		if butterworth[i] != bessel[i] {
			differs = true
			break
		}
	}
	require.True(t, differs, "Bessel and Butterworth must not produce identical output")
}

func TestZFilterTracksConstantInput(t *testing.T) {
	zf := NewZFilter()
	require.NoError(t, zf.SetParam("minMove", 0))

	var last float64
	for i := 0; i < 200; i++ {
		last = zf.Result(5.0)
	}
	require.InDelta(t, 0.0, last, 1e-6, "a settled constant input should produce no further correction")
}

func TestZFilterOrderChangesSectionCount(t *testing.T) {
	zf := NewZFilter()
	require.NoError(t, zf.SetParam("order", 1))
	require.Len(t, zf.sections, 1)

	require.NoError(t, zf.SetParam("order", 4))
	require.Len(t, zf.sections, 2)
}

func TestZFilterRejectsUnknownKind(t *testing.T) {
	zf := NewZFilter()
	require.Error(t, zf.SetParam("kind", 99))
}
