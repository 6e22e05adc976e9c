// Package controller implements the settle/dither/guide sequencer that sits
// above the guider: it drives star selection, calibration, the transition
// into active guiding, and the settle-then-dither cycle used between
// exposures in an imaging sequence.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"photonic/internal/calibration"
	"photonic/internal/driver"
	"photonic/internal/guider"
	"photonic/internal/mount"
	"photonic/internal/point"
	"photonic/internal/starfield"
)

// Phase is a node in the controller's top-level sequencing state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSetup
	PhaseAttemptStart
	PhaseSelectStar
	PhaseWaitSelected
	PhaseCalibrate
	PhaseCalibrationWait
	PhaseGuide
	PhaseSettleBegin
	PhaseSettleWait
	PhaseFinish
)

func (p Phase) String() string {
	names := [...]string{"Idle", "Setup", "AttemptStart", "SelectStar", "WaitSelected",
		"Calibrate", "CalibrationWait", "Guide", "SettleBegin", "SettleWait", "Finish"}
	if int(p) < len(names) {
		return names[p]
	}
	return "Unknown"
}

// FrameSource captures one frame through the worker thread and decodes it.
type FrameSource interface {
	EnqueueExpose(ctx context.Context, durationMs int, opts driver.ExposeOptions, subframe driver.Rect) ([]byte, error)
}

// Controller drives Guider and a calibration Engine through the
// select/calibrate/guide/settle/dither sequence.
type Controller struct {
	log *slog.Logger

	frames FrameSource
	guide  *guider.Guider
	cal    *mount.Engine

	phase Phase

	declination func() float64
	pierSide    func() calibration.PierSide

	settler *Settler
	rng     *rand.Rand
}

// New returns a Controller wired to frames (for captures), guide (the
// per-frame tracking loop) and cal (the calibration engine for the mount or
// AO stage currently being calibrated).
func New(frames FrameSource, g *guider.Guider, cal *mount.Engine, declination func() float64, pierSide func() calibration.PierSide, log *slog.Logger) *Controller {
	return &Controller{
		log:         log,
		frames:      frames,
		guide:       g,
		cal:         cal,
		declination: declination,
		pierSide:    pierSide,
		phase:       PhaseIdle,
		rng:         rand.New(rand.NewPCG(1, 2)),
	}
}

func (c *Controller) Phase() Phase { return c.phase }

// captureImage pulls one frame through the worker thread and decodes it.
func (c *Controller) captureImage(ctx context.Context, exposureMs int) (*starfield.Image, error) {
	buf, err := c.frames.EnqueueExpose(ctx, exposureMs, driver.ExposeOptions{}, driver.Rect{})
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return starfield.DecodeImage(buf, starfield.Rect{})
}

// SelectStar captures one frame and selects the guide star on it.
func (c *Controller) SelectStar(ctx context.Context, exposureMs int) error {
	c.phase = PhaseSelectStar
	img, err := c.captureImage(ctx, exposureMs)
	if err != nil {
		return err
	}
	if err := c.guide.SelectStar(img); err != nil {
		return err
	}
	c.phase = PhaseWaitSelected
	return nil
}

// Calibrate drives the calibration engine to completion, one captured frame
// at a time, against whichever driver.Mount cal was built on. It does not
// install the result into the guider: the caller decides whether this run
// calibrated the primary mount or a secondary AO stage and installs the
// result accordingly (SetCalibration or SetAOCalibration).
func (c *Controller) Calibrate(ctx context.Context, exposureMs int) (*calibration.Data, error) {
	c.phase = PhaseCalibrate
	lock := c.guide.LockPosition()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := c.captureImage(ctx, exposureMs)
		if err != nil {
			return nil, err
		}
		star := starfield.FindAt(img, lock, starfield.DefaultFinderParams())
		if !star.OK() {
			return nil, fmt.Errorf("calibration: star lost (%s)", star.Result)
		}
		lock = star.Point

		c.phase = PhaseCalibrationWait
		phase, data, err := c.cal.Step(ctx, star.Point, c.declination(), c.pierSide())
		if err != nil {
			return nil, err
		}
		if phase == mount.PhaseComplete && data != nil {
			if warnings := data.SanityCheck(); len(warnings) > 0 {
				for _, w := range warnings {
					c.log.Warn("calibration sanity check", "warning", w)
				}
			}
			return data, nil
		}
	}
}

// StartGuiding transitions the guider into active guiding.
func (c *Controller) StartGuiding() error {
	c.phase = PhaseGuide
	return c.guide.StartGuiding()
}

// GuideOneFrame captures a single frame and runs it through the guider.
func (c *Controller) GuideOneFrame(ctx context.Context, exposureMs int) (*guider.GuideStepInfo, error) {
	img, err := c.captureImage(ctx, exposureMs)
	if err != nil {
		return nil, err
	}
	return c.guide.UpdateFrame(ctx, img, c.declination())
}

// BeginSettle starts a settle evaluation window following a dither or a
// guide-start, per params.
func (c *Controller) BeginSettle(params SettleParams, start time.Time) {
	c.phase = PhaseSettleBegin
	c.settler = NewSettler(params)
	c.settler.Begin(start)
	c.phase = PhaseSettleWait
}

// EvaluateSettle feeds one frame's total guide distance into the active
// settle window. Once it returns done=true, no further Settling events
// should be emitted for this window — only a single terminal SettleDone.
func (c *Controller) EvaluateSettle(t time.Time, distance float64) (settling, done, success bool) {
	if c.settler == nil {
		return false, true, true
	}
	settling, done, success = c.settler.Update(t, distance)
	if done {
		c.phase = PhaseFinish
	}
	return
}

// Dither perturbs the lock position by a random offset within [-ditherPx,
// ditherPx] along each axis (or RA only, if raOnly), and begins a new
// settle window.
func (c *Controller) Dither(ditherPx float64, raOnly bool, settle SettleParams, start time.Time) point.Point {
	dx := (c.rng.Float64()*2 - 1) * ditherPx
	dy := 0.0
	if !raOnly {
		dy = (c.rng.Float64()*2 - 1) * ditherPx
	}
	offset := point.New(dx, dy)
	c.guide.ShiftLockPosition(offset)
	c.BeginSettle(settle, start)
	return offset
}
