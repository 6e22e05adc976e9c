package algorithm

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const lowPassWindowSize = 10

// LowPass returns median(window) + slopeWeight*linearFitSlope(window), zero
// when |x| < minMove.
type LowPass struct {
	minMove     float64
	slopeWeight float64
	window      []float64
}

// NewLowPass returns a LowPass filter with PHD2's documented defaults.
func NewLowPass() *LowPass {
	lp := &LowPass{minMove: 0.2, slopeWeight: 5.0}
	lp.Reset()
	return lp
}

func (lp *LowPass) Name() string { return "low_pass" }

func (lp *LowPass) Result(input float64) float64 {
	lp.window = append(lp.window[1:], input)

	med := median(lp.window)
	slope := linearFitSlope(lp.window)
	result := med + lp.slopeWeight*slope

	return applyMinMove(input, result, lp.minMove)
}

func (lp *LowPass) Reset() {
	lp.window = make([]float64, lowPassWindowSize)
}

func (lp *LowPass) GetParam(name string) (float64, bool) {
	switch name {
	case "minMove":
		return lp.minMove, true
	case "slopeWeight":
		return lp.slopeWeight, true
	default:
		return 0, false
	}
}

func (lp *LowPass) SetParam(name string, value float64) error {
	switch name {
	case "minMove":
		if value < 0 {
			return fmt.Errorf("minMove must be >= 0")
		}
		lp.minMove = value
	case "slopeWeight":
		lp.slopeWeight = value
	default:
		return fmt.Errorf("unknown low_pass param %q", name)
	}
	return nil
}

func (lp *LowPass) SettingsSummary() string {
	return fmt.Sprintf("Minimum move = %.2f, Slope weight = %.2f", lp.minMove, lp.slopeWeight)
}

// median returns the median of a copy of vals (vals itself is untouched).
func median(vals []float64) float64 {
	cp := append([]float64(nil), vals...)
	sort.Float64s(cp)
	n := len(cp)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return cp[n/2]
	}
	return (cp[n/2-1] + cp[n/2]) / 2
}

// linearFitSlope returns the slope of the least-squares line through
// (0,vals[0]),(1,vals[1]),...
func linearFitSlope(vals []float64) float64 {
	n := len(vals)
	if n < 2 {
		return 0
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, vals, nil, false)
	return slope
}
