package algorithm

import (
	"fmt"
	"math"
)

// FilterKind selects the classical filter family used by ZFilter.
type FilterKind int

const (
	FilterButterworth FilterKind = iota
	FilterBessel
)

func (k FilterKind) String() string {
	if k == FilterBessel {
		return "Bessel"
	}
	return "Butterworth"
}

// pole is one normalized lowpass pole (-3dB at omega=1 rad/s), expressed as
// -sigma +/- j*omega. omega == 0 denotes a real pole rather than a
// conjugate pair.
type pole struct {
	sigma, omega float64
}

// besselPoles holds the normalized Bessel lowpass pole locations for orders
// 1-4, computed from the roots of the reverse Bessel polynomial
// theta_n(s) = sum_{k=0}^n (2n-k)!/(2^(n-k) k! (n-k)!) s^k, scaled so the
// filter's group-delay response crosses -3dB at omega=1. Unlike Butterworth
// these have no closed form, so they are tabulated.
var besselPoles = map[int][]pole{
	1: {{1.00000000, 0}},
	2: {{1.10160133, 0.63600982}},
	3: {{1.32267580, 0}, {1.04740916, 0.99926444}},
	4: {{1.37006783, 0.41024972}, {0.99520876, 1.25710574}},
}

// butterworthPoles returns the normalized Butterworth lowpass poles of
// order n, from the standard closed form p_k = exp(j*pi*(2k+n-1)/(2n)),
// k=1..n: all poles lie on the unit circle, the lower half being the
// conjugates of the upper half (and, for odd n, a single real pole at -1).
func butterworthPoles(n int) []pole {
	ps := make([]pole, 0, (n+1)/2)
	for k := 1; k <= n; k++ {
		theta := math.Pi * float64(2*k+n-1) / float64(2*n)
		s, c := math.Sin(theta), math.Cos(theta)
		if s < -1e-9 {
			continue
		}
		if s < 0 {
			s = 0
		}
		ps = append(ps, pole{sigma: -c, omega: s})
	}
	return ps
}

func polesFor(kind FilterKind, order int) []pole {
	if kind == FilterBessel {
		return besselPoles[order]
	}
	return butterworthPoles(order)
}

// section is one cascaded direct-form-II biquad (or, when omega == 0 at
// construction, a first-order section) with unity DC gain.
type section struct {
	real   bool
	b0, b1 float64
	a1     float64
	b2, a2 float64

	x1, x2, y1, y2 float64
}

// newSection builds a digital section from one normalized pole, scaled by
// wa (the prewarped analog cutoff), via the bilinear transform s=(z-1)/(z+1).
// A real pole -a (H(s)=a/(s+a)) maps to b0=b1=a/(1+a), a1=(a-1)/(1+a). A
// conjugate pair -sigma+-j*omega (H(s)=d/(s^2+2*sigma*s+d), d=sigma^2+omega^2)
// maps to the standard bilinear biquad below; both forms are unity gain at
// DC by construction.
func newSection(p pole, wa float64) section {
	sigma := p.sigma * wa
	if p.omega == 0 {
		a := sigma
		denom := 1 + a
		return section{real: true, b0: a / denom, b1: a / denom, a1: (a - 1) / denom}
	}
	omega := p.omega * wa
	d := sigma*sigma + omega*omega
	denom := 1 + 2*sigma + d
	return section{
		b0: d / denom, b1: 2 * d / denom, b2: d / denom,
		a1: (-2 + 2*d) / denom, a2: (1 - 2*sigma + d) / denom,
	}
}

func (s *section) step(x float64) float64 {
	if s.real {
		y := s.b0*x + s.b1*s.x1 - s.a1*s.y1
		s.x1, s.y1 = x, y
		return y
	}
	y := s.b0*x + s.b1*s.x1 + s.b2*s.x2 - s.a1*s.y1 - s.a2*s.y2
	s.x2, s.x1 = s.x1, x
	s.y2, s.y1 = s.y1, y
	return y
}

func (s *section) reset() { s.x1, s.x2, s.y1, s.y2 = 0, 0, 0, 0 }

// ZFilter applies a user-chosen direct-form IIR lowpass (Butterworth or
// Bessel family, order 1-4, corner 2-64 samples) to the uncorrected-error
// stream and returns the incremental correction: the change in the filtered
// estimate since the previous sample. Each family's normalized analog poles
// are frequency-scaled to the configured corner and bilinear-transformed
// into a cascade of second-order (and, for odd order, one first-order)
// sections — Bessel trades the Butterworth family's flatter passband for
// the more even group delay its pole placement gives, which is the whole
// point of offering both.
type ZFilter struct {
	kind    FilterKind
	order   int
	corner  float64 // samples
	minMove float64

	sections []section
	prev     float64
}

// NewZFilter returns a ZFilter with PHD2's documented defaults: second
// order Butterworth, 8 sample corner.
func NewZFilter() *ZFilter {
	zf := &ZFilter{kind: FilterButterworth, order: 2, corner: 8, minMove: 0.2}
	zf.recompute()
	zf.Reset()
	return zf
}

func (zf *ZFilter) Name() string { return "z_filter" }

func (zf *ZFilter) recompute() {
	wd := 1 / zf.corner // digital cutoff, rad/sample
	wa := 2 * math.Tan(wd/2)

	poles := polesFor(zf.kind, zf.order)
	sections := make([]section, len(poles))
	for i, p := range poles {
		sections[i] = newSection(p, wa)
	}
	zf.sections = sections
}

func (zf *ZFilter) Result(input float64) float64 {
	v := input
	for i := range zf.sections {
		v = zf.sections[i].step(v)
	}

	correction := v - zf.prev
	zf.prev = v

	return applyMinMove(input, correction, zf.minMove)
}

func (zf *ZFilter) Reset() {
	for i := range zf.sections {
		zf.sections[i].reset()
	}
	zf.prev = 0
}

func (zf *ZFilter) GetParam(name string) (float64, bool) {
	switch name {
	case "order":
		return float64(zf.order), true
	case "corner":
		return zf.corner, true
	case "minMove":
		return zf.minMove, true
	case "kind":
		return float64(zf.kind), true
	default:
		return 0, false
	}
}

func (zf *ZFilter) SetParam(name string, value float64) error {
	switch name {
	case "order":
		if value < 1 || value > 4 {
			return fmt.Errorf("order must be in [1,4]")
		}
		zf.order = int(value)
		zf.recompute()
	case "corner":
		if value < 2 || value > 64 {
			return fmt.Errorf("corner must be in [2,64] samples")
		}
		zf.corner = value
		zf.recompute()
	case "minMove":
		if value < 0 {
			return fmt.Errorf("minMove must be >= 0")
		}
		zf.minMove = value
	case "kind":
		k := FilterKind(value)
		if k != FilterButterworth && k != FilterBessel {
			return fmt.Errorf("unknown filter kind %v", value)
		}
		zf.kind = k
		zf.recompute()
	default:
		return fmt.Errorf("unknown z_filter param %q", name)
	}
	return nil
}

func (zf *ZFilter) SettingsSummary() string {
	return fmt.Sprintf("%s order %d, corner %.0f samples, Minimum move = %.2f",
		zf.kind, zf.order, zf.corner, zf.minMove)
}
