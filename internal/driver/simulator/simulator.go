// Package simulator provides an in-process simulated camera and mount used
// by tests and the CLI in place of real hardware. It is the module's one
// concrete Camera/Mount/AO implementation; real drivers are out of scope.
package simulator

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"photonic/internal/driver"
)

// Config parameterizes the simulated optical system.
type Config struct {
	Width, Height int
	PixelSize     float64 // microns

	// True camera-frame calibration: px of star motion per ms of pulse.
	RAangle, DecAngle float64
	RArate, DecRate   float64

	StarPeakADU float64
	Background  float64
	Seeing      float64 // gaussian sigma, px

	Declination float64
}

// DefaultConfig returns a reasonable simulated rig: RA along +X, Dec along
// +Y, both axes orthogonal.
func DefaultConfig() Config {
	return Config{
		Width: 640, Height: 480,
		PixelSize: 3.75,
		RAangle:   0,
		DecAngle:  math.Pi / 2,
		RArate:    0.02,
		DecRate:   0.018,
		StarPeakADU: 40000,
		Background:  300,
		Seeing:      2.0,
	}
}

// aoMaxPosition is the AO stage's travel limit in steps along each axis;
// aoBumpThreshold is how far the stage can travel before its bump callback
// fires to offload the excess onto the mount.
const (
	aoMaxPosition   = 2000
	aoBumpThreshold = 1600
)

// Sim is a simulated camera + mount + AO trio sharing a single "sky" state.
type Sim struct {
	mu  sync.Mutex
	cfg Config

	starX, starY float64 // current camera-frame position
	connected    bool

	aoPosRA, aoPosDec int // AO stage position, steps from center

	onBump driver.BumpCallback
}

// New returns a Sim with the star initially centered in the frame.
func New(cfg Config) *Sim {
	return &Sim{
		cfg:   cfg,
		starX: float64(cfg.Width) / 2,
		starY: float64(cfg.Height) / 2,
	}
}

func (s *Sim) Connect(ctx context.Context) error    { s.connected = true; return nil }
func (s *Sim) Disconnect(ctx context.Context) error { s.connected = false; return nil }
func (s *Sim) HasNonGuiCapture() bool                { return true }
func (s *Sim) HasNonGuiMove() bool                   { return true }
func (s *Sim) HasSubframes() bool                    { return true }
func (s *Sim) HasGuideOutput() bool                  { return true }
func (s *Sim) GetPixelSize() float64                 { return s.cfg.PixelSize }
func (s *Sim) GetFrameSize() (int, int)              { return s.cfg.Width, s.cfg.Height }
func (s *Sim) CanCheckSlewing() bool                  { return true }
func (s *Sim) Slewing() (bool, error)                 { return false, nil }
func (s *Sim) PreparePositionInteractive() error      { return nil }
func (s *Sim) GetDeclination() (float64, error)       { return s.cfg.Declination, nil }
func (s *Sim) GetGuideRates() (float64, float64, error) {
	return s.cfg.RArate * 1000, s.cfg.DecRate * 1000, nil
}
func (s *Sim) SideOfPier() (string, error) { return "east", nil }

// MaxPosition returns the AO stage's travel limit in steps; both axes share
// the same simulated limit.
func (s *Sim) MaxPosition(dir driver.Direction) int { return aoMaxPosition }

// SetBumpCallback registers the AO-to-mount bump handler, invoked from
// within Step once the stage's position on either axis crosses
// aoBumpThreshold.
func (s *Sim) SetBumpCallback(cb driver.BumpCallback) {
	s.mu.Lock()
	s.onBump = cb
	s.mu.Unlock()
}

// PulseGuide applies a pulse directly (ST4 path): moves the simulated star
// per the baked-in calibration.
func (s *Sim) PulseGuide(ctx context.Context, dir driver.Direction, durationMs int) error {
	_, err := s.Move(ctx, dir, durationMs)
	return err
}

// Move applies a mount pulse of durationMs along dir, displacing the
// simulated star in the camera frame according to the true calibration.
func (s *Sim) Move(ctx context.Context, dir driver.Direction, durationMs int) (driver.MoveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var angle, rate float64
	sign := 1.0
	switch dir {
	case driver.West:
		angle, rate = s.cfg.RAangle, s.cfg.RArate
	case driver.East:
		angle, rate = s.cfg.RAangle, s.cfg.RArate
		sign = -1
	case driver.North:
		angle, rate = s.cfg.DecAngle, s.cfg.DecRate
	case driver.South:
		angle, rate = s.cfg.DecAngle, s.cfg.DecRate
		sign = -1
	}

	dist := sign * rate * float64(durationMs)
	s.starX += dist * math.Cos(angle)
	s.starY += dist * math.Sin(angle)
	return driver.MoveOK, nil
}

// Step moves the star a small amount per AO step, reusing the mount rates
// scaled down (AO steps are much finer than mount pulses), and tracks the
// stage's cumulative position against its travel limit. Once the position
// on either axis crosses aoBumpThreshold, the registered bump callback (if
// any) is invoked with the excess travel so the caller can nudge the
// downstream mount and recenter the stage.
func (s *Sim) Step(ctx context.Context, dir driver.Direction, steps int) (driver.StepResult, error) {
	if _, err := s.Move(ctx, dir, steps); err != nil {
		return driver.StepError, err
	}

	s.mu.Lock()
	switch dir {
	case driver.West:
		s.aoPosRA += steps
	case driver.East:
		s.aoPosRA -= steps
	case driver.North:
		s.aoPosDec += steps
	case driver.South:
		s.aoPosDec -= steps
	}
	posRA, posDec := s.aoPosRA, s.aoPosDec
	cb := s.onBump
	s.mu.Unlock()

	result := driver.StepOK
	if abs(posRA) >= aoMaxPosition || abs(posDec) >= aoMaxPosition {
		result = driver.StepLimitReached
	}

	if cb != nil {
		if excess := abs(posRA) - aoBumpThreshold; excess > 0 {
			bumpDir := driver.West
			if posRA < 0 {
				bumpDir = driver.East
			}
			cb(ctx, bumpDir, excess)
		}
		if excess := abs(posDec) - aoBumpThreshold; excess > 0 {
			bumpDir := driver.North
			if posDec < 0 {
				bumpDir = driver.South
			}
			cb(ctx, bumpDir, excess)
		}
	}

	return result, nil
}

// Center recenters the AO stage, zeroing its tracked position so it has
// full travel available again; called after a bump has nudged the mount to
// absorb the stage's accumulated offset.
func (s *Sim) Center(ctx context.Context) error {
	s.mu.Lock()
	s.aoPosRA, s.aoPosDec = 0, 0
	s.mu.Unlock()
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Capture renders a synthetic frame with a gaussian star at the current
// simulated position, PNG-encoded so the Image decoder can read it.
func (s *Sim) Capture(ctx context.Context, durationMs int, opts driver.ExposeOptions, subframe driver.Rect) ([]byte, error) {
	s.mu.Lock()
	x, y := s.starX, s.starY
	w, h := s.cfg.Width, s.cfg.Height
	peak, bg, sigma := s.cfg.StarPeakADU, s.cfg.Background, s.cfg.Seeing
	s.mu.Unlock()

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			dx := float64(px) - x
			dy := float64(py) - y
			v := bg + peak*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			if v > 65535 {
				v = 65535
			}
			img.SetGray16(px, py, color.Gray16{Y: uint16(v)})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StarPosition returns the simulator's ground-truth star position, for
// assertions in tests.
func (s *Sim) StarPosition() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starX, s.starY
}
