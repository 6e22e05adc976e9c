package algorithm

import (
	"fmt"
	"sort"
)

const medianWindowSize = 10

// MedianWindow returns median(window) + slopeWeight*trimmedSlope(window),
// where trimmedSlope is the median of per-step slopes restricted to the
// middle 50% of the sorted window (an outlier-resistant alternative to
// LowPass's least-squares slope).
type MedianWindow struct {
	minMove     float64
	slopeWeight float64
	window      []float64
}

// NewMedianWindow returns a MedianWindow filter with PHD2's documented
// defaults.
func NewMedianWindow() *MedianWindow {
	mw := &MedianWindow{minMove: 0.2, slopeWeight: 5.0}
	mw.Reset()
	return mw
}

func (mw *MedianWindow) Name() string { return "median_window" }

func (mw *MedianWindow) Result(input float64) float64 {
	mw.window = append(mw.window[1:], input)

	med := median(mw.window)
	slope := trimmedStepSlope(mw.window)
	result := med + mw.slopeWeight*slope

	return applyMinMove(input, result, mw.minMove)
}

func (mw *MedianWindow) Reset() {
	mw.window = make([]float64, medianWindowSize)
}

func (mw *MedianWindow) GetParam(name string) (float64, bool) {
	switch name {
	case "minMove":
		return mw.minMove, true
	case "slopeWeight":
		return mw.slopeWeight, true
	default:
		return 0, false
	}
}

func (mw *MedianWindow) SetParam(name string, value float64) error {
	switch name {
	case "minMove":
		if value < 0 {
			return fmt.Errorf("minMove must be >= 0")
		}
		mw.minMove = value
	case "slopeWeight":
		mw.slopeWeight = value
	default:
		return fmt.Errorf("unknown median_window param %q", name)
	}
	return nil
}

func (mw *MedianWindow) SettingsSummary() string {
	return fmt.Sprintf("Minimum move = %.2f, Slope weight = %.2f", mw.minMove, mw.slopeWeight)
}

// trimmedStepSlope computes the per-step differences of vals, sorts them,
// discards the top and bottom quarter, and returns the median of what
// remains.
func trimmedStepSlope(vals []float64) float64 {
	n := len(vals)
	if n < 2 {
		return 0
	}
	steps := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		steps[i] = vals[i+1] - vals[i]
	}
	sort.Float64s(steps)

	quarter := len(steps) / 4
	trimmed := steps[quarter : len(steps)-quarter]
	if len(trimmed) == 0 {
		trimmed = steps
	}
	return median(trimmed)
}
