// Package motion turns goal ranges into waypoints and waits for actuators
// to reach them.
package motion

import (
	"fmt"
	"iter"

	"github.com/gwillem/servochoreo/pkg/dxl"
)

// Waypoint is one commanded goal.
type Waypoint struct {
	Position  int
	Tolerance int
	Reset     bool // Return-to-start goal appended after a sweep
}

// Trajectory is an inclusive stepped range of goal positions.
type Trajectory struct {
	Start     int
	End       int
	Step      int
	Tolerance int
}

// Generate validates and returns a trajectory.
func Generate(start, end, step, tolerance int) (Trajectory, error) {
	t := Trajectory{Start: start, End: end, Step: step, Tolerance: tolerance}
	if err := t.Validate(); err != nil {
		return Trajectory{}, err
	}
	return t, nil
}

// Validate rejects zero steps and steps pointing away from End.
func (t Trajectory) Validate() error {
	if t.Step == 0 {
		return &dxl.ConfigError{Field: "step", Value: t.Step, Err: dxl.ErrZeroStep}
	}
	if t.Tolerance < 0 {
		return &dxl.ConfigError{Field: "tolerance", Value: t.Tolerance, Err: dxl.ErrOutOfRange}
	}
	dir := t.End - t.Start
	if (dir > 0 && t.Step < 0) || (dir < 0 && t.Step > 0) {
		return &dxl.ConfigError{
			Field: "step",
			Value: t.Step,
			Err:   fmt.Errorf("%w: %d -> %d", dxl.ErrStepDirection, t.Start, t.End),
		}
	}
	return nil
}

// Len returns the number of waypoints, excluding any reset.
func (t Trajectory) Len() int {
	if t.Step == 0 {
		return 0
	}
	n := (t.End-t.Start)/t.Step + 1
	return max(n, 0)
}

// Last returns the final waypoint position. It can fall short of End by
// up to |Step|-1 when the range is not a multiple of the step.
func (t Trajectory) Last() int {
	return t.Start + (t.Len()-1)*t.Step
}

// Waypoints yields Start, Start+Step, ... while the position has not
// passed End. An invalid trajectory yields nothing.
func (t Trajectory) Waypoints() iter.Seq[Waypoint] {
	return func(yield func(Waypoint) bool) {
		if t.Validate() != nil {
			return
		}
		for pos := t.Start; t.within(pos); pos += t.Step {
			if !yield(Waypoint{Position: pos, Tolerance: t.Tolerance}) {
				return
			}
		}
	}
}

// ResetWaypoint returns the goal that brings the actuator back to Start.
func (t Trajectory) ResetWaypoint() Waypoint {
	return Waypoint{Position: t.Start, Tolerance: t.Tolerance, Reset: true}
}

// Positions collects the waypoint positions.
func (t Trajectory) Positions() []int {
	out := make([]int, 0, t.Len())
	for wp := range t.Waypoints() {
		out = append(out, wp.Position)
	}
	return out
}

func (t Trajectory) within(pos int) bool {
	if t.Step > 0 {
		return pos <= t.End
	}
	return pos >= t.End
}

// CheckRange validates every position the trajectory can command
// (Start and Last) against reg.
func (t Trajectory) CheckRange(reg dxl.Register) error {
	if err := reg.Check(t.Start); err != nil {
		return err
	}
	return reg.Check(t.Last())
}
