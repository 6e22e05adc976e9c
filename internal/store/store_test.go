package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"photonic/internal/calibration"
)

func TestCalibrationRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "profile.db")
	s, err := New(dbPath)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.EnsureProfile("default", 1))

	cal := calibration.Data{
		XAngle: 0.1, YAngle: 1.6, XRate: 0.02, YRate: 0.018,
		Declination: 0.5, PierSide: calibration.PierSideEast,
		Binning: 1, Timestamp: time.Now().Truncate(time.Second), Valid: true,
	}
	require.NoError(t, s.SaveCalibration("default", cal))

	loaded, err := s.LoadCalibration("default")
	require.NoError(t, err)
	require.True(t, loaded.Valid)
	require.InDelta(t, cal.XAngle, loaded.XAngle, 1e-9)
	require.InDelta(t, cal.XRate, loaded.XRate, 1e-9)
	require.Equal(t, cal.PierSide, loaded.PierSide)
}

func TestAlgorithmParamsRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "profile.db")
	s, err := New(dbPath)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureProfile("default", 1))

	params := map[string]float64{"hysteresis": 0.3, "aggression": 0.8, "minMove": 0.2}
	require.NoError(t, s.SaveAlgorithmParams("default", "ra", "hysteresis", params))

	algo, loaded, err := s.LoadAlgorithmParams("default", "ra")
	require.NoError(t, err)
	require.Equal(t, "hysteresis", algo)
	require.InDelta(t, 0.3, loaded["hysteresis"], 1e-9)
}

func TestDarkLibraryRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "profile.db")
	s, err := New(dbPath)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureProfile("default", 1))

	require.NoError(t, s.SetDarkLibrary("default", "/darks"))
	path, err := s.DarkLibrary("default")
	require.NoError(t, err)
	require.Equal(t, "/darks", path)
}
