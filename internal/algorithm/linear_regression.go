package algorithm

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

const linearRegressionBufferSize = 200

// LinearRegression fits offset plus drift to the buffer of timestamps vs.
// accumulated gear error, returning aggression*x + drift*dt.
type LinearRegression struct {
	aggression float64 // "control gain" in the original dialog
	minMove    float64
	minPoints  int

	start    time.Time
	lastTime float64
	times    []float64
	cumError []float64
}

// NewLinearRegression returns a LinearRegression filter with PHD2's
// documented defaults.
func NewLinearRegression() *LinearRegression {
	lr := &LinearRegression{aggression: 0.8, minMove: 0.2, minPoints: 25}
	lr.Reset()
	return lr
}

func (lr *LinearRegression) Name() string { return "linear_regression" }

func (lr *LinearRegression) Result(input float64) float64 {
	now := time.Since(lr.start).Seconds() * 1000
	dt := now - lr.lastTime
	lr.lastTime = now

	prevCum := 0.0
	if n := len(lr.cumError); n > 0 {
		prevCum = lr.cumError[n-1]
	}
	lr.times = append(lr.times, now)
	lr.cumError = append(lr.cumError, prevCum+input)
	if len(lr.times) > linearRegressionBufferSize {
		lr.times = lr.times[1:]
		lr.cumError = lr.cumError[1:]
	}

	var drift float64
	if len(lr.times) >= lr.minPoints {
		_, drift = stat.LinearRegression(lr.times, lr.cumError, nil, false)
	}

	result := lr.aggression*input + drift*dt
	return applyMinMove(input, result, lr.minMove)
}

func (lr *LinearRegression) Reset() {
	lr.start = time.Now()
	lr.lastTime = 0
	lr.times = lr.times[:0]
	lr.cumError = lr.cumError[:0]
}

func (lr *LinearRegression) GetParam(name string) (float64, bool) {
	switch name {
	case "aggression":
		return lr.aggression, true
	case "minMove":
		return lr.minMove, true
	case "minPoints":
		return float64(lr.minPoints), true
	default:
		return 0, false
	}
}

func (lr *LinearRegression) SetParam(name string, value float64) error {
	switch name {
	case "aggression":
		if value < 0 || value > 1 {
			return fmt.Errorf("aggression must be in [0,1]")
		}
		lr.aggression = value
	case "minMove":
		if value < 0 {
			return fmt.Errorf("minMove must be >= 0")
		}
		lr.minMove = value
	case "minPoints":
		if value < 2 {
			return fmt.Errorf("minPoints must be >= 2")
		}
		lr.minPoints = int(value)
	default:
		return fmt.Errorf("unknown linear_regression param %q", name)
	}
	return nil
}

func (lr *LinearRegression) SettingsSummary() string {
	return fmt.Sprintf("Control gain = %.2f, Minimum move = %.2f, Min data points = %d",
		lr.aggression, lr.minMove, lr.minPoints)
}
