package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"photonic/internal/point"
)

func validCal() Data {
	return Data{
		XAngle: 0,
		YAngle: math.Pi / 2,
		XRate:  0.005,
		YRate:  0.0048,
		Valid:  true,
	}
}

func TestRoundTrip(t *testing.T) {
	d := validCal()
	for _, v := range []point.Point{
		point.New(1, 0),
		point.New(0, 1),
		point.New(3.5, -2.25),
		point.New(-10, 10),
	} {
		mount := d.CameraToMount(v)
		back := d.MountToCamera(mount)
		require.InDelta(t, v.X, back.X, 1e-9)
		require.InDelta(t, v.Y, back.Y, 1e-9)
	}
}

func TestInvariantHoldsForOrthogonalAxes(t *testing.T) {
	d := validCal()
	require.NoError(t, d.Invariant())
}

func TestInvariantRejectsCollinearAxes(t *testing.T) {
	d := validCal()
	d.YAngle = d.XAngle + 0.01
	require.Error(t, d.Invariant())
}

func TestSanityCheckFlagsOrthogonalityError(t *testing.T) {
	d := validCal()
	d.YAngle = d.XAngle + math.Pi/2 - 20*math.Pi/180 // 20 deg off from 90
	warnings := d.SanityCheck()
	require.NotEmpty(t, warnings)
}

func TestSanityCheckClean(t *testing.T) {
	d := validCal()
	warnings := d.SanityCheck()
	require.Empty(t, warnings)
}
