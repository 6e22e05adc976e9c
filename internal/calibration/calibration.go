// Package calibration holds the camera-to-mount coordinate transform and the
// sanity checks applied once a calibration measurement completes.
package calibration

import (
	"fmt"
	"math"
	"time"

	"photonic/internal/point"
)

// PierSide mirrors the German-equatorial-mount side-of-pier flag; a flip
// inverts the Dec calibration sign.
type PierSide int

const (
	PierSideUnknown PierSide = iota
	PierSideEast
	PierSideWest
)

func (p PierSide) String() string {
	switch p {
	case PierSideEast:
		return "East"
	case PierSideWest:
		return "West"
	default:
		return "Unknown"
	}
}

// Data is the camera-frame-to-mount-axis mapping established by the
// calibration engine.
type Data struct {
	XAngle       float64 // radians, camera frame
	YAngle       float64 // radians, camera frame
	XRate        float64 // px per ms (mount) or px per step (AO)
	YRate        float64
	Declination  float64 // radians; 0 if unknown
	PierSide     PierSide
	Binning      int
	RotatorAngle float64
	Timestamp    time.Time
	Valid        bool
}

// Defaults for the two calibration-sanity heuristics. The original mixes
// orthogonality and rate-ratio checks with thresholds that drift depending
// on whether declination is known; this implementation settles on a single
// documented pair used in all cases (declination unknown is treated as
// cos(dec)=1, matching the original's no-dec-compensation code path).
const (
	DefaultOrthogonalityErrorThreshold = 10 * math.Pi / 180 // 10 degrees
	DefaultRateRatioTolerance          = 0.20               // 20%
)

// Valid reports the invariant from the data model: when a calibration is
// valid, both rates are nonzero and the axes are not collinear.
func (d Data) Invariant() error {
	if !d.Valid {
		return nil
	}
	if d.XRate == 0 || d.YRate == 0 {
		return fmt.Errorf("calibration invariant violated: zero rate (x=%.6f y=%.6f)", d.XRate, d.YRate)
	}
	diff := point.Normalize(d.XAngle - d.YAngle)
	if math.Abs(math.Abs(diff)-math.Pi/2) >= math.Pi/2 {
		return fmt.Errorf("calibration invariant violated: axes collinear (xAngle=%.4f yAngle=%.4f)", d.XAngle, d.YAngle)
	}
	return nil
}

// OrthogonalityError returns ||xAngle - yAngle| - pi/2|.
func (d Data) OrthogonalityError() float64 {
	diff := point.Normalize(d.XAngle - d.YAngle)
	return math.Abs(math.Abs(diff) - math.Pi/2)
}

// SanityCheck runs the two documented calibration-sanity heuristics and
// returns a human-readable warning if either fails. currentDec is used for
// the rate-ratio check; if unknown, pass d.Declination (cos(dec) defaults
// to 1 when both are zero).
func (d Data) SanityCheck() (warnings []string) {
	if oe := d.OrthogonalityError(); oe >= DefaultOrthogonalityErrorThreshold {
		warnings = append(warnings, fmt.Sprintf("calibration axes not orthogonal enough: error=%.2f deg (limit %.2f deg)",
			oe*180/math.Pi, DefaultOrthogonalityErrorThreshold*180/math.Pi))
	}

	expectedRatio := math.Cos(d.Declination)
	if expectedRatio == 0 {
		expectedRatio = 1
	}
	actualRatio := 1.0
	if d.XRate != 0 {
		actualRatio = d.YRate / d.XRate
	}
	if math.Abs(actualRatio-expectedRatio) > DefaultRateRatioTolerance*math.Abs(expectedRatio) {
		warnings = append(warnings, fmt.Sprintf("calibration rate ratio inconsistent with declination: actual=%.3f expected=%.3f",
			actualRatio, expectedRatio))
	}
	return warnings
}

// DifferenceRatio returns the relative difference in xRate between d and
// prior, used to decide whether to warn the operator about a calibration
// that differs substantially from the last known-good one.
func DifferenceRatio(prior, d Data) float64 {
	if !prior.Valid || prior.XRate == 0 {
		return 0
	}
	return math.Abs(d.XRate-prior.XRate) / math.Abs(prior.XRate)
}

// CameraToMount projects a camera-frame offset into per-axis distances
// along the calibrated X/Y axes (west/north or whatever the mount's
// calibration measured), in pixels of stellar motion.
func (d Data) CameraToMount(camOfs point.Point) point.Point {
	if !d.Valid || !camOfs.IsValid() {
		return point.Invalid()
	}
	cosX, sinX := math.Cos(d.XAngle), math.Sin(d.XAngle)
	cosY, sinY := math.Cos(d.YAngle), math.Sin(d.YAngle)

	// Invert camX = x*cosX + y*cosY, camY = x*sinX + y*sinY for (x,y).
	det := cosX*sinY - cosY*sinX
	if det == 0 {
		return point.Invalid()
	}
	x := (sinY*camOfs.X - cosY*camOfs.Y) / det
	y := (cosX*camOfs.Y - sinX*camOfs.X) / det
	return point.New(x, y)
}

// MountToCamera is the inverse of CameraToMount: round-tripping any vector
// through CameraToMount then MountToCamera returns it unchanged (within
// floating point tolerance), for any valid calibration.
func (d Data) MountToCamera(mountOfs point.Point) point.Point {
	if !d.Valid || !mountOfs.IsValid() {
		return point.Invalid()
	}
	x := mountOfs.X*math.Cos(d.XAngle) + mountOfs.Y*math.Cos(d.YAngle)
	y := mountOfs.X*math.Sin(d.XAngle) + mountOfs.Y*math.Sin(d.YAngle)
	return point.New(x, y)
}

// AxisDurationMs converts a mount-frame axis distance (pixels) to a pulse
// duration in milliseconds using the calibrated rate for that axis,
// clamped to maxDurationMs. When declination compensation is enabled and
// both the calibration and current declination are known, the duration is
// scaled by cos(currentDec)/cos(calibrationDec).
func AxisDurationMs(distancePx, ratePxPerMs float64, maxDurationMs int, currentDec, calibrationDec float64, decCompensation bool) int {
	if ratePxPerMs == 0 {
		return 0
	}
	dur := distancePx / ratePxPerMs
	if decCompensation {
		calCos := math.Cos(calibrationDec)
		curCos := math.Cos(currentDec)
		if calCos != 0 {
			dur *= curCos / calCos
		}
	}
	if dur < 0 {
		dur = -dur
	}
	if int(dur) > maxDurationMs {
		return maxDurationMs
	}
	return int(dur)
}
