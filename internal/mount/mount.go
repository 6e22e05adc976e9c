// Package mount drives the calibration phase state machine against a
// driver.Mount (or driver.AO) and produces a calibration.Data once complete.
package mount

import (
	"context"
	"fmt"
	"math"
	"time"

	"photonic/internal/calibration"
	"photonic/internal/driver"
	"photonic/internal/point"
)

// Phase is a step in the calibration sequence.
type Phase int

const (
	PhaseCleared Phase = iota
	PhaseGoWest
	PhaseGoEast
	PhaseClearBacklash
	PhaseGoNorth
	PhaseGoSouth
	PhaseNudgeSouth
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseCleared:
		return "Cleared"
	case PhaseGoWest:
		return "GoWest"
	case PhaseGoEast:
		return "GoEast"
	case PhaseClearBacklash:
		return "ClearBacklash"
	case PhaseGoNorth:
		return "GoNorth"
	case PhaseGoSouth:
		return "GoSouth"
	case PhaseNudgeSouth:
		return "NudgeSouth"
	default:
		return "Complete"
	}
}

// EngineOpts parameterizes a calibration run.
type EngineOpts struct {
	PulseDurationMs     int
	MaxStepsPerPhase    int
	DistanceThresholdPx float64
	BacklashMaxPulses   int
	BacklashEpsilonPx   float64
	Binning             int
}

// DefaultEngineOpts returns PHD2's documented calibration defaults.
func DefaultEngineOpts() EngineOpts {
	return EngineOpts{
		PulseDurationMs:     500,
		MaxStepsPerPhase:    60,
		DistanceThresholdPx: 20,
		BacklashMaxPulses:   5,
		BacklashEpsilonPx:   1.0,
		Binning:             1,
	}
}

// Engine drives one mount or AO stage through its calibration sequence,
// one frame at a time: the caller captures a frame, locates the guide star,
// and calls Step with its position; Engine issues the next pulse and
// reports whether the sequence has completed.
type Engine struct {
	mount driver.Mount
	opts  EngineOpts

	phase        Phase
	start        point.Point // position at the very beginning (post Cleared)
	phaseStart   point.Point // position at the start of the current measuring phase
	stepsInPhase int

	westSteps int
	xAngle    float64
	xRate     float64

	northSteps int
	yAngle     float64
	yRate      float64

	declination float64
	pierSide    calibration.PierSide
}

// NewEngine returns an Engine ready to calibrate m.
func NewEngine(m driver.Mount, opts EngineOpts) *Engine {
	return &Engine{mount: m, opts: opts, phase: PhaseCleared}
}

// Phase reports the current calibration phase.
func (e *Engine) Phase() Phase { return e.phase }

// Step advances the calibration state machine by one frame. starPos is the
// guide star's position in the current frame (camera-frame pixels).
// It returns the resulting phase, and — once phase reaches PhaseComplete —
// a non-nil calibration.Data.
func (e *Engine) Step(ctx context.Context, starPos point.Point, declination float64, pierSide calibration.PierSide) (Phase, *calibration.Data, error) {
	if !starPos.IsValid() {
		return e.phase, nil, fmt.Errorf("calibration: star lost during %s", e.phase)
	}
	e.declination = declination
	e.pierSide = pierSide

	switch e.phase {
	case PhaseCleared:
		e.start = starPos
		e.phaseStart = starPos
		e.stepsInPhase = 0
		e.phase = PhaseGoWest
		return e.pulse(ctx, driver.West)

	case PhaseGoWest:
		e.stepsInPhase++
		dist := dist(e.phaseStart, starPos)
		if dist >= e.opts.DistanceThresholdPx || e.stepsInPhase >= e.opts.MaxStepsPerPhase {
			if dist < 1e-6 {
				return e.phase, nil, fmt.Errorf("calibration failed: no star motion detected moving West")
			}
			e.westSteps = e.stepsInPhase
			e.xAngle = math.Atan2(starPos.Y-e.phaseStart.Y, starPos.X-e.phaseStart.X)
			e.xRate = dist / float64(e.westSteps*e.opts.PulseDurationMs)
			e.phase = PhaseGoEast
			e.stepsInPhase = 0
			return e.pulse(ctx, driver.East)
		}
		return e.pulse(ctx, driver.West)

	case PhaseGoEast:
		e.stepsInPhase++
		if e.stepsInPhase >= e.westSteps {
			e.phase = PhaseClearBacklash
			e.phaseStart = starPos
			e.stepsInPhase = 0
			return e.pulse(ctx, driver.North)
		}
		return e.pulse(ctx, driver.East)

	case PhaseClearBacklash:
		e.stepsInPhase++
		if dist(e.phaseStart, starPos) >= e.opts.BacklashEpsilonPx || e.stepsInPhase >= e.opts.BacklashMaxPulses {
			e.phase = PhaseGoNorth
			e.phaseStart = starPos
			e.stepsInPhase = 0
			return e.pulse(ctx, driver.North)
		}
		return e.pulse(ctx, driver.North)

	case PhaseGoNorth:
		e.stepsInPhase++
		d := dist(e.phaseStart, starPos)
		if d >= e.opts.DistanceThresholdPx || e.stepsInPhase >= e.opts.MaxStepsPerPhase {
			if d < 1e-6 {
				return e.phase, nil, fmt.Errorf("calibration failed: no star motion detected moving North")
			}
			e.northSteps = e.stepsInPhase
			e.yAngle = math.Atan2(starPos.Y-e.phaseStart.Y, starPos.X-e.phaseStart.X)
			e.yRate = d / float64(e.northSteps*e.opts.PulseDurationMs)
			e.phase = PhaseGoSouth
			e.stepsInPhase = 0
			return e.pulse(ctx, driver.South)
		}
		return e.pulse(ctx, driver.North)

	case PhaseGoSouth:
		e.stepsInPhase++
		if e.stepsInPhase >= e.northSteps {
			e.phase = PhaseNudgeSouth
			e.stepsInPhase = 0
			return e.nudgeOrComplete(ctx, starPos)
		}
		return e.pulse(ctx, driver.South)

	case PhaseNudgeSouth:
		e.stepsInPhase++
		return e.nudgeOrComplete(ctx, starPos)

	default: // PhaseComplete
		return e.phase, e.result(), nil
	}
}

// nudgeOrComplete issues one more South pulse if the star still sits
// meaningfully north of the very first reference position, else finishes.
func (e *Engine) nudgeOrComplete(ctx context.Context, starPos point.Point) (Phase, *calibration.Data, error) {
	if dist(e.start, starPos) <= e.opts.BacklashEpsilonPx || e.stepsInPhase >= e.opts.BacklashMaxPulses {
		e.phase = PhaseComplete
		data := e.result()
		if err := data.Invariant(); err != nil {
			return e.phase, nil, err
		}
		return e.phase, data, nil
	}
	return e.pulse(ctx, driver.South)
}

func (e *Engine) pulse(ctx context.Context, dir driver.Direction) (Phase, *calibration.Data, error) {
	if _, err := e.mount.Move(ctx, dir, e.opts.PulseDurationMs); err != nil {
		return e.phase, nil, fmt.Errorf("calibration pulse %s failed: %w", dir, err)
	}
	return e.phase, nil, nil
}

func (e *Engine) result() *calibration.Data {
	return &calibration.Data{
		XAngle:      e.xAngle,
		YAngle:      e.yAngle,
		XRate:       e.xRate,
		YRate:       e.yRate,
		Declination: e.declination,
		PierSide:    e.pierSide,
		Binning:     e.opts.Binning,
		Timestamp:   now(),
		Valid:       true,
	}
}

func dist(a, b point.Point) float64 {
	return point.New(b.X-a.X, b.Y-a.Y).Length()
}

// now is a seam for deterministic tests.
var now = func() time.Time { return time.Now() }
