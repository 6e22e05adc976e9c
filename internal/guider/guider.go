// Package guider implements the per-frame guide-star tracking loop: given a
// captured frame it locates the guide star, measures its offset from the
// lock position, runs that offset through the configured guide algorithms,
// and issues the resulting mount correction.
package guider

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"photonic/internal/algorithm"
	"photonic/internal/calibration"
	"photonic/internal/driver"
	"photonic/internal/point"
	"photonic/internal/starfield"
)

// State is a node in the guider's lifecycle state machine.
type State int

const (
	StateUninitialized State = iota
	StateSelecting
	StateSelected
	StateCalibratingPrimary
	StateCalibratingSecondary
	StateCalibrated
	StateGuiding
	StateStop
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateSelecting:
		return "Selecting"
	case StateSelected:
		return "Selected"
	case StateCalibratingPrimary:
		return "CalibratingPrimary"
	case StateCalibratingSecondary:
		return "CalibratingSecondary"
	case StateCalibrated:
		return "Calibrated"
	case StateGuiding:
		return "Guiding"
	default:
		return "Stop"
	}
}

// PauseType controls what guiding continues to do while paused.
type PauseType int

const (
	PauseNone PauseType = iota
	PauseGuiding         // looping continues, corrections suppressed
	PauseFull            // looping itself is suspended by the caller
)

// Mover issues a primary-actuator (mount) correction. *worker.Thread and
// driver.Mount both satisfy this with the right adapter.
type Mover interface {
	Move(ctx context.Context, dir driver.Direction, durationMs int) (driver.MoveResult, error)
}

// AOMover issues a secondary-actuator (AO tip-tilt stage) correction.
// driver.AO satisfies this directly.
type AOMover interface {
	Step(ctx context.Context, dir driver.Direction, steps int) (driver.StepResult, error)
}

// GuideStepInfo is the per-frame telemetry record, mirroring PHD2's
// GuideStep event payload.
type GuideStepInfo struct {
	FrameNumber int
	Time        time.Time

	RARawDistance, DecRawDistance float64 // mount-frame pixels before filtering
	RADistance, DecDistance       float64 // after filtering: the commanded correction
	RADurationMs, DecDurationMs   int
	RADirection, DecDirection     driver.Direction

	StarMass float64
	SNR      float64
	HFD      float64

	AvgDistance float64 // smoothed total distance, for the UI's running stat

	Actuator string // "mount" or "ao": which actuator carried this frame's correction
	Limited  bool   // the active actuator reported its travel limit reached
}

// Guider owns the star-selection and guide-correction loop for one imaging
// session.
type Guider struct {
	log *slog.Logger

	state State
	pause PauseType

	cal       calibration.Data
	raFilter  algorithm.Filter
	decFilter algorithm.Filter

	lockPosition point.Point
	finder       starfield.FinderParams

	mover           Mover
	maxDurationMs   int
	decCompensation bool

	ao              AOMover // secondary actuator; nil if none configured
	aoCal           calibration.Data
	maxStepsPerAxis int

	frameNumber int
	avgDistance float64

	currentDeclination float64

	shiftRate     point.Point // per-second, camera-frame pixels unless shiftInMount
	shiftInMount  bool
	shiftEnabled  bool
	lastFrameTime time.Time
}

// New returns a Guider ready to select a star, with default finder
// parameters and no calibration yet applied.
func New(mover Mover, raFilter, decFilter algorithm.Filter, log *slog.Logger) *Guider {
	return &Guider{
		log:             log,
		state:           StateUninitialized,
		raFilter:        raFilter,
		decFilter:       decFilter,
		finder:          starfield.DefaultFinderParams(),
		mover:           mover,
		maxDurationMs:   2500,
		decCompensation: true,
		maxStepsPerAxis: 300,
	}
}

// SetAOMover installs ao as the secondary actuator. Corrections are only
// ever issued through it once a valid AO calibration is also installed via
// SetAOCalibration; until then the primary mount continues to guide alone.
func (g *Guider) SetAOMover(ao AOMover) { g.ao = ao }

// SetAOCalibration installs the AO stage's own calibration, established by
// its CalibratingSecondary phase, and makes the AO stage the active guiding
// actuator for both axes.
func (g *Guider) SetAOCalibration(cal calibration.Data) { g.aoCal = cal }

// AOCalibration returns the currently installed AO calibration, if any.
func (g *Guider) AOCalibration() calibration.Data { return g.aoCal }

// BeginCalibratingPrimary marks the state machine as calibrating the
// primary mount; it does not itself install a calibration.
func (g *Guider) BeginCalibratingPrimary() { g.state = StateCalibratingPrimary }

// BeginCalibratingSecondary marks the state machine as calibrating the AO
// stage, following a completed primary calibration.
func (g *Guider) BeginCalibratingSecondary() { g.state = StateCalibratingSecondary }

// FinishCalibration returns the state machine to Calibrated once every
// configured actuator's calibration phase (primary, and secondary if an AO
// stage is present) has run, whether or not the secondary phase succeeded.
func (g *Guider) FinishCalibration() { g.state = StateCalibrated }

func (g *Guider) State() State         { return g.state }
func (g *Guider) Pause(p PauseType)    { g.pause = p }
func (g *Guider) PauseState() PauseType { return g.pause }

// SetCalibration installs a completed calibration and advances the state
// machine to Calibrated.
func (g *Guider) SetCalibration(cal calibration.Data) {
	g.cal = cal
	g.state = StateCalibrated
}

// Calibration returns the currently installed calibration.
func (g *Guider) Calibration() calibration.Data { return g.cal }

// SelectStar auto-selects the brightest eligible star in img and sets it as
// the lock position.
func (g *Guider) SelectStar(img *starfield.Image) error {
	g.state = StateSelecting
	star := starfield.AutoSelect(img, g.finder)
	if !star.OK() {
		return fmt.Errorf("guider: no suitable star found (%s)", star.Result)
	}
	g.lockPosition = star.Point
	g.state = StateSelected
	return nil
}

// SetLockPosition manually sets the lock position (e.g. via the control
// interface's set_lock_position call).
func (g *Guider) SetLockPosition(p point.Point) {
	g.lockPosition = p
	if g.state == StateUninitialized || g.state == StateSelecting {
		g.state = StateSelected
	}
}

// LockPosition returns the current lock position.
func (g *Guider) LockPosition() point.Point { return g.lockPosition }

// StartGuiding transitions into the Guiding state; requires a valid
// calibration to already be installed.
func (g *Guider) StartGuiding() error {
	if g.state != StateCalibrated && g.state != StateStop {
		return fmt.Errorf("guider: cannot start guiding from state %s", g.state)
	}
	if !g.cal.Valid {
		return fmt.Errorf("guider: no valid calibration installed")
	}
	g.raFilter.Reset()
	g.decFilter.Reset()
	g.frameNumber = 0
	g.avgDistance = 0
	g.lastFrameTime = time.Time{}
	g.state = StateGuiding
	return nil
}

// Stop halts guiding without discarding the calibration or lock position.
func (g *Guider) Stop() {
	g.state = StateStop
}

// SetLockShiftRate programs the lock position to drift continuously, e.g.
// for comet tracking. rate is expressed per second; inMountCoords selects
// whether it is given in mount-frame units (converted via the calibration
// each frame) or camera-frame pixels directly.
func (g *Guider) SetLockShiftRate(rate point.Point, inMountCoords bool) {
	g.shiftRate = point.New(rate.X, rate.Y)
	g.shiftInMount = inMountCoords
	g.shiftEnabled = rate.X != 0 || rate.Y != 0
}

// ClearLockShiftRate disables lock-position shift tracking.
func (g *Guider) ClearLockShiftRate() {
	g.shiftRate = point.Point{}
	g.shiftEnabled = false
}

// applyLockShift advances the lock position by shiftRate*dt since the last
// processed frame, converting from mount to camera coordinates first if the
// rate was programmed in mount units.
func (g *Guider) applyLockShift(t time.Time) {
	if !g.shiftEnabled {
		g.lastFrameTime = t
		return
	}
	if g.lastFrameTime.IsZero() {
		g.lastFrameTime = t
		return
	}
	dt := t.Sub(g.lastFrameTime).Seconds()
	g.lastFrameTime = t
	if dt <= 0 {
		return
	}
	delta := g.shiftRate.Scale(dt)
	if g.shiftInMount {
		delta = g.cal.MountToCamera(delta)
		if !delta.IsValid() {
			return
		}
	}
	g.lockPosition = g.lockPosition.Add(delta)
}

// ShiftLockPosition advances the lock position by a mount-frame offset
// (used by dithering and by lock-position-shift tracking during meridian
// flips).
func (g *Guider) ShiftLockPosition(mountOfs point.Point) {
	camOfs := g.cal.MountToCamera(mountOfs)
	if !camOfs.IsValid() {
		return
	}
	g.lockPosition = g.lockPosition.Add(camOfs)
}

// UpdateFrame processes one captured frame: it locates the star nearest the
// lock position, measures its mount-frame offset, filters that offset
// through the per-axis guide algorithms, and — unless paused — issues the
// resulting correction via mover. currentDeclination feeds the
// declination-compensation term in AxisDurationMs.
func (g *Guider) UpdateFrame(ctx context.Context, img *starfield.Image, currentDeclination float64) (*GuideStepInfo, error) {
	if g.state != StateGuiding {
		return nil, fmt.Errorf("guider: UpdateFrame called outside Guiding state (%s)", g.state)
	}
	g.currentDeclination = currentDeclination
	g.applyLockShift(now())

	star := starfield.FindAt(img, g.lockPosition, g.finder)
	if !star.OK() {
		return nil, fmt.Errorf("guider: star lost (%s)", star.Result)
	}

	camOfs := star.Point.Sub(g.lockPosition)
	mountOfs := g.cal.CameraToMount(camOfs)
	if !mountOfs.IsValid() {
		return nil, fmt.Errorf("guider: calibration invalid, cannot resolve offset")
	}

	raCorrection := g.raFilter.Result(mountOfs.X)
	decCorrection := g.decFilter.Result(mountOfs.Y)

	info := &GuideStepInfo{
		FrameNumber:    g.frameNumber,
		Time:           now(),
		RARawDistance:  mountOfs.X,
		DecRawDistance: mountOfs.Y,
		RADistance:     raCorrection,
		DecDistance:    decCorrection,
		StarMass:       star.Mass,
		SNR:            star.SNR,
		HFD:            star.HFD,
	}
	g.frameNumber++

	dist := math.Hypot(mountOfs.X, mountOfs.Y)
	g.avgDistance = 0.3*dist + 0.7*g.avgDistance
	info.AvgDistance = g.avgDistance

	// When a calibrated AO stage is present it carries the correction
	// instead of the primary mount; the mount is only touched via the
	// AO driver's bump callback when the stage nears its travel limit.
	useAO := g.ao != nil && g.aoCal.Valid
	activeCal := g.cal
	maxCommand := g.maxDurationMs
	decComp := g.decCompensation
	info.Actuator = "mount"
	if useAO {
		activeCal = g.aoCal
		maxCommand = g.maxStepsPerAxis
		decComp = false // a tip-tilt stage has no declination-dependent foreshortening
		info.Actuator = "ao"
	}

	if raCorrection != 0 {
		info.RADirection = directionFor(raCorrection, driver.East, driver.West)
		info.RADurationMs = calibration.AxisDurationMs(math.Abs(raCorrection), activeCal.XRate, maxCommand, currentDeclination, activeCal.Declination, decComp)
	}
	if decCorrection != 0 {
		info.DecDirection = directionFor(decCorrection, driver.South, driver.North)
		info.DecDurationMs = calibration.AxisDurationMs(math.Abs(decCorrection), activeCal.YRate, maxCommand, currentDeclination, activeCal.Declination, false)
	}

	if g.pause == PauseNone {
		if useAO {
			g.issueAOCorrection(ctx, info)
		} else {
			g.issueMountCorrection(ctx, info)
		}
	}

	return info, nil
}

func (g *Guider) issueMountCorrection(ctx context.Context, info *GuideStepInfo) {
	if info.RADurationMs > 0 {
		if _, err := g.mover.Move(ctx, info.RADirection, info.RADurationMs); err != nil {
			g.log.Warn("guide correction failed", "axis", "ra", "error", err)
		}
	}
	if info.DecDurationMs > 0 {
		if _, err := g.mover.Move(ctx, info.DecDirection, info.DecDurationMs); err != nil {
			g.log.Warn("guide correction failed", "axis", "dec", "error", err)
		}
	}
}

// issueAOCorrection steps the AO stage for each axis; a StepLimitReached
// result marks the frame's correction as limited rather than retrying or
// falling back. A downstream mount bump, if one is warranted, arrives
// asynchronously through the AO driver's own bump callback rather than
// from here.
func (g *Guider) issueAOCorrection(ctx context.Context, info *GuideStepInfo) {
	if info.RADurationMs > 0 {
		res, err := g.ao.Step(ctx, info.RADirection, info.RADurationMs)
		if err != nil {
			g.log.Warn("ao guide correction failed", "axis", "ra", "error", err)
		} else if res == driver.StepLimitReached {
			info.Limited = true
		}
	}
	if info.DecDurationMs > 0 {
		res, err := g.ao.Step(ctx, info.DecDirection, info.DecDurationMs)
		if err != nil {
			g.log.Warn("ao guide correction failed", "axis", "dec", "error", err)
		} else if res == driver.StepLimitReached {
			info.Limited = true
		}
	}
}

func directionFor(signedCorrection float64, positive, negative driver.Direction) driver.Direction {
	if signedCorrection >= 0 {
		return positive
	}
	return negative
}

// now is a seam for deterministic tests.
var now = func() time.Time { return time.Now() }
