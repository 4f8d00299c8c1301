// Package choreo runs nested multi-actuator choreographies: a driving
// actuator advances one step at a time and, after every step, each
// dependent actuator sweeps out to its extreme and back.
package choreo

import (
	"fmt"
	"iter"
	"time"

	"github.com/gwillem/servochoreo/pkg/dxl"
	"github.com/gwillem/servochoreo/pkg/motion"
	"github.com/gwillem/servochoreo/pkg/robot"
)

// Sweep is one actuator's trajectory.
type Sweep struct {
	ID         int
	Trajectory motion.Trajectory
}

// Group is a set of dependent actuators sharing one sweep shape.
type Group struct {
	Name       string
	IDs        []int // Sweep order
	Home       int
	End        int
	Step       int
	Concurrent bool // Sweep members as interleaved goroutines
}

// Plan is a full choreography.
type Plan struct {
	Driver    Sweep
	Groups    []Group
	Tolerance int

	Loops         int // 0 repeats until cancelled
	Pause         time.Duration
	ReadSnapshots bool // Read fresh positions for every snapshot
}

// PhaseGroup is a group's sweeps for one phase.
type PhaseGroup struct {
	Name       string
	Concurrent bool
	Sweeps     []Sweep
}

// Phase pairs one driving step with the dependent sweeps it gates.
type Phase struct {
	Index  int
	Driver int
	Goal   motion.Waypoint
	Groups []PhaseGroup
}

// NewPlan builds a plan from configuration, resolving parity groups
// against the actuator table.
func NewPlan(cfg *robot.Config) (Plan, error) {
	d := cfg.Plan.Driver
	p := Plan{
		Driver: Sweep{
			ID: d.ID,
			Trajectory: motion.Trajectory{
				Start:     d.Start,
				End:       d.End,
				Step:      d.Step,
				Tolerance: cfg.Tolerance,
			},
		},
		Tolerance:     cfg.Tolerance,
		Loops:         cfg.Plan.Loops,
		Pause:         cfg.Plan.Pause.Std(),
		ReadSnapshots: cfg.Plan.ReadSnapshots,
	}
	for _, g := range cfg.Plan.Groups {
		p.Groups = append(p.Groups, Group{
			Name:       g.Name,
			IDs:        cfg.GroupIDs(g),
			Home:       g.Home,
			End:        g.End,
			Step:       g.Step,
			Concurrent: g.Concurrent,
		})
	}

	table, err := cfg.ControlTable()
	if err != nil {
		return Plan{}, err
	}
	if err := p.Validate(table.GoalPosition); err != nil {
		return Plan{}, err
	}
	if err := p.CheckGoals(cfg.Actuators.CheckGoal); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// CheckGoals passes the first and last waypoint of every trajectory the
// plan can command to check, per actuator. Trajectories are monotonic, so
// their endpoints bound every goal in between.
func (p Plan) CheckGoals(check func(id, pos int) error) error {
	d := p.Driver.Trajectory
	for _, pos := range []int{d.Start, d.Last()} {
		if err := check(p.Driver.ID, pos); err != nil {
			return fmt.Errorf("driver %d: %w", p.Driver.ID, err)
		}
	}
	for _, g := range p.Groups {
		t := g.trajectory(p.Tolerance)
		for _, id := range g.IDs {
			for _, pos := range []int{t.Start, t.Last()} {
				if err := check(id, pos); err != nil {
					return fmt.Errorf("group %q: %w", g.Name, err)
				}
			}
		}
	}
	return nil
}

// Validate checks every trajectory the plan can produce against reg.
func (p Plan) Validate(reg dxl.Register) error {
	if err := p.Driver.Trajectory.Validate(); err != nil {
		return fmt.Errorf("driver %d: %w", p.Driver.ID, err)
	}
	if err := p.Driver.Trajectory.CheckRange(reg); err != nil {
		return fmt.Errorf("driver %d: %w", p.Driver.ID, err)
	}
	if p.Loops < 0 {
		return &dxl.ConfigError{Field: "loops", Value: p.Loops, Err: dxl.ErrOutOfRange}
	}

	seen := map[int]bool{p.Driver.ID: true}
	for _, g := range p.Groups {
		t := g.trajectory(p.Tolerance)
		if err := t.Validate(); err != nil {
			return fmt.Errorf("group %q: %w", g.Name, err)
		}
		if err := t.CheckRange(reg); err != nil {
			return fmt.Errorf("group %q: %w", g.Name, err)
		}
		for _, id := range g.IDs {
			if seen[id] {
				return &dxl.ConfigError{
					Field: fmt.Sprintf("group %q actuator", g.Name),
					Value: id,
					Err:   fmt.Errorf("actuator already moves in this plan"),
				}
			}
			seen[id] = true
		}
	}
	return nil
}

// Phases yields one phase per driving waypoint. Dependent trajectories are
// built fresh for every phase.
func (p Plan) Phases() iter.Seq[Phase] {
	return func(yield func(Phase) bool) {
		i := 0
		for wp := range p.Driver.Trajectory.Waypoints() {
			phase := Phase{Index: i, Driver: p.Driver.ID, Goal: wp}
			for _, g := range p.Groups {
				pg := PhaseGroup{Name: g.Name, Concurrent: g.Concurrent}
				for _, id := range g.IDs {
					pg.Sweeps = append(pg.Sweeps, Sweep{ID: id, Trajectory: g.trajectory(p.Tolerance)})
				}
				phase.Groups = append(phase.Groups, pg)
			}
			if !yield(phase) {
				return
			}
			i++
		}
	}
}

// PhaseCount returns the number of phases per loop.
func (p Plan) PhaseCount() int {
	return p.Driver.Trajectory.Len()
}

// IDs returns every actuator the plan moves, driver first.
func (p Plan) IDs() []int {
	ids := []int{p.Driver.ID}
	for _, g := range p.Groups {
		ids = append(ids, g.IDs...)
	}
	return ids
}

func (g Group) trajectory(tolerance int) motion.Trajectory {
	return motion.Trajectory{Start: g.Home, End: g.End, Step: g.Step, Tolerance: tolerance}
}
