package starfield

import (
	"math"

	"photonic/internal/point"
)

// FinderParams tunes the star finder's quality floors and search geometry.
type FinderParams struct {
	EdgeMarginPx   int     // excluded border when auto-selecting
	SearchRadiusPx int     // half-width of the box searched around a known position
	SaturationADU  float64 // pixel value considered saturated
	MinSNR         float64
	MinMass        float64
	MinHFD         float64
	MaxHFD         float64
}

// DefaultFinderParams mirrors PHD2's documented star-find defaults.
func DefaultFinderParams() FinderParams {
	return FinderParams{
		EdgeMarginPx:   20,
		SearchRadiusPx: 15,
		SaturationADU:  65000,
		MinSNR:         6,
		MinMass:        100,
		MinHFD:         1.5,
		MaxHFD:         40,
	}
}

// AutoSelect scans the full frame (excluding EdgeMarginPx on every side),
// scores every interior pixel with a cheap PSF-fit proxy (mass within a
// small aperture minus a local-background estimate), and returns the Star
// at the global maximum passing the HFD/SNR/mass floors.
func AutoSelect(img *Image, p FinderParams) Star {
	best := Star{Result: FindError}
	bestScore := -math.MaxFloat64

	margin := p.EdgeMarginPx
	if margin < 0 {
		margin = 0
	}
	for y := margin; y < img.Height-margin; y++ {
		for x := margin; x < img.Width-margin; x++ {
			score := img.smoothedAt(x, y)
			if score <= bestScore {
				continue
			}
			s := measureAt(img, x, y, p)
			if s.Result != FindOK {
				continue
			}
			if score > bestScore {
				bestScore = score
				best = s
			}
		}
	}
	return best
}

// FindAt re-measures the star in a small box around the previously known
// position, as done every frame once a lock star has been selected.
func FindAt(img *Image, prev point.Point, p FinderParams) Star {
	if !prev.IsValid() {
		return AutoSelect(img, p)
	}
	cx, cy := int(math.Round(prev.X)), int(math.Round(prev.Y))
	r := p.SearchRadiusPx
	if r <= 0 {
		r = 15
	}

	best := Star{Result: FindError}
	bestPeak := -math.MaxFloat64
	bestX, bestY := cx, cy
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			v := img.smoothedAt(x, y)
			if v > bestPeak {
				bestPeak = v
				bestX, bestY = x, y
			}
		}
	}
	best = measureAt(img, bestX, bestY, p)
	return best
}

// measureAt computes mass/SNR/HFD/centroid for the star peak near (x, y)
// using a fixed aperture and an annulus for local background estimation.
func measureAt(img *Image, x, y int, p FinderParams) Star {
	const aperture = 7
	const annulusOuter = 12

	if x-annulusOuter < 0 || y-annulusOuter < 0 || x+annulusOuter >= img.Width || y+annulusOuter >= img.Height {
		return Star{Result: FindTooNearEdge}
	}

	// Local background: median-ish mean of the annulus outside the aperture.
	var bgSum float64
	var bgCount int
	for dy := -annulusOuter; dy <= annulusOuter; dy++ {
		for dx := -annulusOuter; dx <= annulusOuter; dx++ {
			r2 := dx*dx + dy*dy
			if r2 > aperture*aperture && r2 <= annulusOuter*annulusOuter {
				bgSum += img.At(x+dx, y+dy)
				bgCount++
			}
		}
	}
	background := 0.0
	if bgCount > 0 {
		background = bgSum / float64(bgCount)
	}

	var mass, cx, cy, peak, noiseSum float64
	var noiseCount int
	for dy := -aperture; dy <= aperture; dy++ {
		for dx := -aperture; dx <= aperture; dx++ {
			if dx*dx+dy*dy > aperture*aperture {
				continue
			}
			v := img.At(x+dx, y+dy) - background
			if v < 0 {
				v = 0
			}
			mass += v
			cx += v * float64(dx)
			cy += v * float64(dy)
			if v > peak {
				peak = v
			}
		}
	}

	for dy := -annulusOuter; dy <= annulusOuter; dy++ {
		for dx := -annulusOuter; dx <= annulusOuter; dx++ {
			r2 := dx*dx + dy*dy
			if r2 > aperture*aperture && r2 <= annulusOuter*annulusOuter {
				d := img.At(x+dx, y+dy) - background
				noiseSum += d * d
				noiseCount++
			}
		}
	}
	noise := 1.0
	if noiseCount > 0 {
		noise = math.Sqrt(noiseSum / float64(noiseCount))
		if noise < 1 {
			noise = 1
		}
	}

	if peak+background >= p.SaturationADU {
		return Star{Result: FindSaturated}
	}
	if mass <= 0 {
		return Star{Result: FindMassless}
	}

	snr := peak / noise
	hfd := halfFluxDiameter(img, x, y, background, mass, aperture)

	px := float64(x) + cx/mass
	py := float64(y) + cy/mass

	result := FindOK
	switch {
	case snr < p.MinSNR:
		result = FindLowSNR
	case mass < p.MinMass:
		result = FindLowMass
	case hfd < p.MinHFD || hfd > p.MaxHFD:
		result = FindLowSNR
	}

	return Star{
		Point:  point.New(px, py),
		Mass:   mass,
		SNR:    snr,
		HFD:    hfd,
		Result: result,
	}
}

// halfFluxDiameter estimates the diameter of the circle (centered on the
// aperture) containing half of the star's flux above background.
func halfFluxDiameter(img *Image, x, y int, background, totalMass float64, maxR int) float64 {
	if totalMass <= 0 {
		return 0
	}
	half := totalMass / 2
	for r := 1; r <= maxR; r++ {
		var sum float64
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if dx*dx+dy*dy > r*r {
					continue
				}
				v := img.At(x+dx, y+dy) - background
				if v > 0 {
					sum += v
				}
			}
		}
		if sum >= half {
			return float64(2 * r)
		}
	}
	return float64(2 * maxR)
}
