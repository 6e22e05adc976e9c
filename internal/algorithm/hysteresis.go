package algorithm

import "fmt"

const (
	maxHysteresis = 0.99
	maxAggression = 2.0
)

// Hysteresis implements r = (1-h)*x + h*lastR, scaled by aggression, with
// commands below minMove zeroed.
type Hysteresis struct {
	hysteresis float64
	aggression float64
	minMove    float64
	lastMove   float64
}

// NewHysteresis returns a Hysteresis filter with PHD2's documented defaults.
func NewHysteresis() *Hysteresis {
	return &Hysteresis{hysteresis: 0.1, aggression: 1.0, minMove: 0.2}
}

func (h *Hysteresis) Name() string { return "hysteresis" }

func (h *Hysteresis) Result(input float64) float64 {
	r := (1.0-h.hysteresis)*input + h.hysteresis*h.lastMove
	r *= h.aggression
	h.lastMove = r
	return applyMinMove(input, r, h.minMove)
}

func (h *Hysteresis) Reset() { h.lastMove = 0 }

func (h *Hysteresis) GetParam(name string) (float64, bool) {
	switch name {
	case "hysteresis":
		return h.hysteresis, true
	case "aggression":
		return h.aggression, true
	case "minMove":
		return h.minMove, true
	default:
		return 0, false
	}
}

func (h *Hysteresis) SetParam(name string, value float64) error {
	switch name {
	case "hysteresis":
		if value < 0 || value > maxHysteresis {
			return fmt.Errorf("hysteresis must be in [0, %.2f]", maxHysteresis)
		}
		h.hysteresis = value
	case "aggression":
		if value < 0 || value > maxAggression {
			return fmt.Errorf("aggression must be in (0, %.1f]", maxAggression)
		}
		h.aggression = value
	case "minMove":
		if value < 0 {
			return fmt.Errorf("minMove must be >= 0")
		}
		h.minMove = value
	default:
		return fmt.Errorf("unknown hysteresis param %q", name)
	}
	return nil
}

func (h *Hysteresis) SettingsSummary() string {
	return fmt.Sprintf("Hysteresis = %.2f, Aggression = %.0f%%, Minimum move = %.2f",
		h.hysteresis, h.aggression*100, h.minMove)
}
