package algorithm

import "fmt"

const lowPass2WindowSize = 10

// LowPass2 returns n*linearFitSlope(window)*aggression, resetting its
// history on outliers (|x| > 4*minMove) or after three consecutive
// rejections.
type LowPass2 struct {
	minMove      float64
	aggression   float64
	window       []float64
	count        int
	rejectStreak int
}

// NewLowPass2 returns a LowPass2 filter with PHD2's documented defaults.
func NewLowPass2() *LowPass2 {
	lp := &LowPass2{minMove: 0.2, aggression: 1.0}
	lp.Reset()
	return lp
}

func (lp *LowPass2) Name() string { return "low_pass2" }

func (lp *LowPass2) Result(input float64) float64 {
	outlier := input < 0 && -input > 4*lp.minMove || input > 4*lp.minMove

	if outlier {
		lp.rejectStreak++
		if lp.rejectStreak >= 3 {
			lp.resetWindow()
		} else {
			return applyMinMove(input, 0, lp.minMove)
		}
	} else {
		lp.rejectStreak = 0
	}

	lp.pushSample(input)

	n := float64(lp.count)
	slope := linearFitSlope(lp.window[len(lp.window)-lp.count:])
	result := n * slope * lp.aggression

	return applyMinMove(input, result, lp.minMove)
}

func (lp *LowPass2) pushSample(v float64) {
	lp.window = append(lp.window[1:], v)
	if lp.count < lowPass2WindowSize {
		lp.count++
	}
}

func (lp *LowPass2) resetWindow() {
	lp.window = make([]float64, lowPass2WindowSize)
	lp.count = 0
	lp.rejectStreak = 0
}

func (lp *LowPass2) Reset() { lp.resetWindow() }

func (lp *LowPass2) GetParam(name string) (float64, bool) {
	switch name {
	case "minMove":
		return lp.minMove, true
	case "aggression":
		return lp.aggression, true
	default:
		return 0, false
	}
}

func (lp *LowPass2) SetParam(name string, value float64) error {
	switch name {
	case "minMove":
		if value < 0 {
			return fmt.Errorf("minMove must be >= 0")
		}
		lp.minMove = value
	case "aggression":
		if value <= 0 {
			return fmt.Errorf("aggression must be > 0")
		}
		lp.aggression = value
	default:
		return fmt.Errorf("unknown low_pass2 param %q", name)
	}
	return nil
}

func (lp *LowPass2) SettingsSummary() string {
	return fmt.Sprintf("Minimum move = %.2f, Aggression = %.0f%%", lp.minMove, lp.aggression*100)
}
