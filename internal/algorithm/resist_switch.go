package algorithm

import (
	"fmt"
	"math"
)

const resistSwitchHistorySize = 5

// ResistSwitch tracks a "current side" sign and only issues commands once a
// minimum count of same-sign samples accumulates, or a large excursion
// threshold is crossed; otherwise it vetoes the move and returns 0.
type ResistSwitch struct {
	minMove     float64
	aggression  float64
	fastSwitch  bool
	history     []float64
	currentSide int
}

// NewResistSwitch returns a ResistSwitch filter with PHD2's documented
// defaults.
func NewResistSwitch() *ResistSwitch {
	rs := &ResistSwitch{minMove: 0.2, aggression: 1.0, fastSwitch: true}
	rs.Reset()
	return rs
}

func (r *ResistSwitch) Name() string { return "resist_switch" }

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func (r *ResistSwitch) Result(input float64) float64 {
	r.history = append(r.history[1:], input)

	result := input
	veto := func() { result = 0 }

	switch {
	case math.Abs(input) < r.minMove:
		veto()
	default:
		if r.fastSwitch {
			thresh := 3.0 * r.minMove
			if sign(input) != r.currentSide && math.Abs(input) > thresh {
				r.currentSide = 0
				n := len(r.history)
				for i := 0; i < n-3; i++ {
					r.history[i] = 0
				}
				for i := n - 3; i < n; i++ {
					r.history[i] = input
				}
			}
		}

		decHistory := 0
		for _, v := range r.history {
			if math.Abs(v) > r.minMove {
				decHistory += sign(v)
			}
		}

		vetoed := false
		if r.currentSide == 0 || sign(float64(r.currentSide)) == -sign(float64(decHistory)) {
			switch {
			case absInt(decHistory) < 3:
				veto()
				vetoed = true
			default:
				n := len(r.history)
				var oldest, newest float64
				for i := 0; i < 3; i++ {
					oldest += r.history[i]
					newest += r.history[n-(i+1)]
				}
				if math.Abs(newest) <= math.Abs(oldest) {
					veto()
					vetoed = true
				} else {
					r.currentSide = sign(float64(decHistory))
				}
			}
		}
		if !vetoed && r.currentSide != sign(input) {
			veto()
		}
	}

	return result * r.aggression
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func (r *ResistSwitch) Reset() {
	r.history = make([]float64, resistSwitchHistorySize)
	r.currentSide = 0
}

func (r *ResistSwitch) GetParam(name string) (float64, bool) {
	switch name {
	case "minMove":
		return r.minMove, true
	case "aggression":
		return r.aggression, true
	default:
		return 0, false
	}
}

func (r *ResistSwitch) SetParam(name string, value float64) error {
	switch name {
	case "minMove":
		if value <= 0 {
			return fmt.Errorf("minMove must be > 0")
		}
		r.minMove = value
		r.currentSide = 0
	case "aggression":
		if value <= 0 || value > 1.0 {
			return fmt.Errorf("aggression must be in (0, 1]")
		}
		r.aggression = value
	default:
		return fmt.Errorf("unknown resist_switch param %q", name)
	}
	return nil
}

func (r *ResistSwitch) SettingsSummary() string {
	return fmt.Sprintf("Minimum move = %.2f, Aggression = %.0f%%", r.minMove, r.aggression*100)
}
