package algorithm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResistSwitchVeto(t *testing.T) {
	rs := NewResistSwitch()
	require.NoError(t, rs.SetParam("minMove", 0.3))

	for i := 0; i < 5; i++ {
		rs.Result(0.1)
	}

	out := rs.Result(0.5)
	require.Equal(t, 0.0, out, "below-threshold history should veto the move")

	var last float64
	for i := 0; i < 5; i++ {
		last = rs.Result(0.4)
	}
	require.Greater(t, last, 0.0, "accumulated same-side excursions should eventually switch the side and pass the command")
}
