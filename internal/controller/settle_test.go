package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSettlerSucceedsAfterContinuousInRange(t *testing.T) {
	// Pixels=1.0, MinTimeS=9: distance drops in range at t=10s and stays
	// there; the window should settle once 9s of continuous in-range time
	// has elapsed, i.e. at the 19s mark.
	params := SettleParams{Pixels: 1.0, MinTimeS: 9, TimeoutS: 60}
	s := NewSettler(params)
	start := time.Unix(0, 0)
	s.Begin(start)

	for sec := 0; sec < 10; sec++ {
		settling, done, _ := s.Update(start.Add(time.Duration(sec)*time.Second), 3.0)
		require.True(t, settling)
		require.False(t, done)
	}

	for sec := 10; sec < 19; sec++ {
		_, done, _ := s.Update(start.Add(time.Duration(sec)*time.Second), 0.5)
		require.False(t, done, "should not be done before %d seconds", 19)
	}

	_, done, success := s.Update(start.Add(19*time.Second), 0.5)
	require.True(t, done)
	require.True(t, success)

	// Further updates must not re-report settling; the result is terminal.
	settling, done2, success2 := s.Update(start.Add(25*time.Second), 0.2)
	require.False(t, settling)
	require.True(t, done2)
	require.True(t, success2)
}

func TestSettlerTimesOutWithoutSettling(t *testing.T) {
	params := SettleParams{Pixels: 1.0, MinTimeS: 9, TimeoutS: 30}
	s := NewSettler(params)
	start := time.Unix(0, 0)
	s.Begin(start)

	// Distance never settles in range; window should time out at 30s.
	for sec := 0; sec < 30; sec++ {
		_, done, _ := s.Update(start.Add(time.Duration(sec)*time.Second), 5.0)
		require.False(t, done)
	}
	_, done, success := s.Update(start.Add(30*time.Second), 5.0)
	require.True(t, done)
	require.False(t, success)
}
