package robot

import (
	"fmt"

	"github.com/gwillem/servochoreo/pkg/dxl"
)

// Actuator holds the configuration of a single actuator.
type Actuator struct {
	ID       int `json:"id"`
	Home     int `json:"home"`
	RangeMin int `json:"range_min,omitempty"`
	RangeMax int `json:"range_max,omitempty"`
}

// HasRange reports whether a soft range is configured.
func (a Actuator) HasRange() bool {
	return a.RangeMax > a.RangeMin
}

// CheckGoal rejects goals outside the soft range, if one is set.
func (a Actuator) CheckGoal(pos int) error {
	if !a.HasRange() {
		return nil
	}
	if pos < a.RangeMin || pos > a.RangeMax {
		return &dxl.ConfigError{
			Field: fmt.Sprintf("goal for actuator %d", a.ID),
			Value: pos,
			Err:   fmt.Errorf("%w: soft range %d-%d", dxl.ErrOutOfRange, a.RangeMin, a.RangeMax),
		}
	}
	return nil
}

// Travel expresses raw as a percentage of the way from home to the limit
// on that side: -100 at the lower limit, 0 at home, 100 at the upper
// limit. Without a soft range the register span 0 to regMax is used.
func (a Actuator) Travel(raw, regMax int) float64 {
	lo, hi := 0, regMax
	if a.HasRange() {
		lo, hi = a.RangeMin, a.RangeMax
	}
	d := raw - a.Home
	limit := hi - a.Home
	if d < 0 {
		limit = a.Home - lo
	}
	if limit <= 0 {
		return 0
	}
	return float64(d) / float64(limit) * 100
}

// CheckGoal checks pos against the soft range of actuator id. Actuators
// that are not in the table have no soft range.
func (a Actuators) CheckGoal(id, pos int) error {
	act, ok := a.ByID(id)
	if !ok {
		return nil
	}
	return act.CheckGoal(pos)
}
