package controller

import "time"

// SettleParams configures a settle evaluation window: guiding is considered
// settled once the reported distance stays at or under Pixels for at least
// MinTimeS continuous seconds, or the window fails once TimeoutS elapses
// without that happening.
type SettleParams struct {
	Pixels   float64
	MinTimeS float64
	TimeoutS float64
}

// DefaultSettleParams mirrors PHD2's documented dither-settle defaults.
func DefaultSettleParams() SettleParams {
	return SettleParams{Pixels: 1.5, MinTimeS: 10, TimeoutS: 60}
}

// Settler tracks one settle evaluation window. It is idempotent once done:
// Update keeps returning the same terminal result without ever reporting
// "settling" again.
type Settler struct {
	params SettleParams

	start   time.Time
	okSince time.Time
	haveOK  bool

	done    bool
	success bool
}

// NewSettler returns a Settler configured with params; call Begin to start
// the window's clock.
func NewSettler(params SettleParams) *Settler {
	return &Settler{params: params}
}

// Begin starts the settle window's clock at t.
func (s *Settler) Begin(t time.Time) {
	s.start = t
	s.haveOK = false
	s.done = false
	s.success = false
}

// Update feeds one frame's total guide distance at time t. While the window
// is still open it returns settling=true. Once the window concludes — by
// reaching MinTimeS continuously in-range, or TimeoutS overall — it returns
// done=true exactly once and on every call afterward, always with the same
// success value.
func (s *Settler) Update(t time.Time, distance float64) (settling, done, success bool) {
	if s.done {
		return false, true, s.success
	}

	if distance <= s.params.Pixels {
		if !s.haveOK {
			s.haveOK = true
			s.okSince = t
		}
		if t.Sub(s.okSince).Seconds() >= s.params.MinTimeS {
			s.done = true
			s.success = true
			return false, true, true
		}
	} else {
		s.haveOK = false
	}

	if t.Sub(s.start).Seconds() >= s.params.TimeoutS {
		s.done = true
		s.success = false
		return false, true, false
	}

	return true, false, false
}

// Done reports whether the window has concluded.
func (s *Settler) Done() bool { return s.done }

// Success reports the window's outcome; meaningful only once Done is true.
func (s *Settler) Success() bool { return s.success }
