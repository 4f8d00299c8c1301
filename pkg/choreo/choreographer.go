package choreo

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gwillem/servochoreo/pkg/dxl"
	"github.com/gwillem/servochoreo/pkg/motion"
)

// Actuators is the subset of the actuator proxy a choreography needs.
type Actuators interface {
	SetGoalPosition(ctx context.Context, id, position int) error
	ReadPresentPosition(ctx context.Context, id int) (int, error)
}

// LoadReader is implemented by actuator proxies that can report load.
type LoadReader interface {
	ReadPresentLoad(ctx context.Context, id int) (int, error)
}

// Stage names the step a run failed in.
type Stage string

const (
	StageDriver Stage = "driver"
	StageSweep  Stage = "sweep"
	StageReset  Stage = "reset"
	StagePause  Stage = "pause"
	StageHome   Stage = "home"
	StagePose   Stage = "pose"
)

// RunError reports where a run stopped and the last known position of
// every actuator.
type RunError struct {
	Loop       int
	Phase      int
	ActuatorID int
	Stage      Stage
	Goal       int
	Positions  map[int]int
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("loop %d phase %d: actuator %d %s to %d: %v",
		e.Loop, e.Phase, e.ActuatorID, e.Stage, e.Goal, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Snapshot is the state of all actuators after a phase.
type Snapshot struct {
	Loop      int
	Phase     int
	Driver    int
	Goal      int
	Positions map[int]int
	Time      time.Time
}

// Sample is one position and load reading taken while moving to a pose.
type Sample struct {
	Pose     int
	ID       int
	Position int
	Load     int
	Time     time.Time
}

// Choreographer executes plans on a set of actuators.
type Choreographer struct {
	act     Actuators
	mon     *motion.Monitor
	logger  *zap.SugaredLogger
	onPhase func(Snapshot)
	ids     []int
	check   func(id, pos int) error

	mu        sync.Mutex
	positions map[int]int
}

// Option configures a Choreographer.
type Option func(*Choreographer)

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Choreographer) { c.logger = l }
}

// OnPhase registers a callback receiving a snapshot after every phase.
func OnPhase(fn func(Snapshot)) Option {
	return func(c *Choreographer) { c.onPhase = fn }
}

// WithActuatorIDs lists every actuator on the bus, so snapshots include
// actuators the plan does not move.
func WithActuatorIDs(ids ...int) Option {
	return func(c *Choreographer) { c.ids = slices.Clone(ids) }
}

// WithGoalCheck rejects goals before they are written. check returns a
// non-nil error for a goal the actuator must not be sent.
func WithGoalCheck(check func(id, pos int) error) Option {
	return func(c *Choreographer) { c.check = check }
}

// NewChoreographer creates a choreographer that commands act and waits
// for arrival with mon.
func NewChoreographer(act Actuators, mon *motion.Monitor, opts ...Option) *Choreographer {
	c := &Choreographer{
		act:       act,
		mon:       mon,
		logger:    zap.NewNop().Sugar(),
		positions: make(map[int]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seed sets the last known positions, typically from a hold or a read
// before the run starts.
func (c *Choreographer) Seed(positions map[int]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	maps.Copy(c.positions, positions)
}

// Positions returns a copy of the last known positions.
func (c *Choreographer) Positions() map[int]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.positions)
}

func (c *Choreographer) record(id, pos int) {
	c.mu.Lock()
	c.positions[id] = pos
	c.mu.Unlock()
}

// Run executes the plan. For every driving waypoint the driver moves and
// arrives first, then each dependent sweeps to its extreme and resets,
// group by group. After the driving trajectory the driver resets and the
// run pauses before the next loop.
//
// Any failure aborts the rest of the plan and is returned as a *RunError.
func (c *Choreographer) Run(ctx context.Context, plan Plan) error {
	if err := plan.Driver.Trajectory.Validate(); err != nil {
		return c.fail(0, 0, plan.Driver.ID, StageDriver, plan.Driver.Trajectory.Start, err)
	}
	for _, g := range plan.Groups {
		if err := g.trajectory(plan.Tolerance).Validate(); err != nil {
			return c.fail(0, 0, 0, StageSweep, g.Home, fmt.Errorf("group %q: %w", g.Name, err))
		}
	}
	if c.check != nil {
		if err := plan.CheckGoals(c.check); err != nil {
			return c.fail(0, 0, 0, StageDriver, plan.Driver.Trajectory.Start, err)
		}
	}

	for loop := 1; plan.Loops == 0 || loop <= plan.Loops; loop++ {
		c.logger.Infow("loop started", "loop", loop, "phases", plan.PhaseCount())
		if err := c.runLoop(ctx, plan, loop); err != nil {
			return err
		}
		c.logger.Infow("loop finished", "loop", loop)

		if plan.Loops != 0 && loop == plan.Loops {
			break
		}
		if err := motion.Sleep(ctx, plan.Pause); err != nil {
			return c.fail(loop, plan.PhaseCount(), plan.Driver.ID, StagePause, plan.Driver.Trajectory.Start, err)
		}
	}
	return nil
}

func (c *Choreographer) runLoop(ctx context.Context, plan Plan, loop int) error {
	driver := plan.Driver
	for phase := range plan.Phases() {
		c.logger.Debugw("phase", "loop", loop, "phase", phase.Index, "driver", driver.ID, "goal", phase.Goal.Position)
		if err := c.moveTo(ctx, driver.ID, phase.Goal); err != nil {
			return c.fail(loop, phase.Index, driver.ID, StageDriver, phase.Goal.Position, err)
		}

		for _, g := range phase.Groups {
			if err := c.runGroup(ctx, loop, phase.Index, g); err != nil {
				return err
			}
		}

		if err := c.snapshot(ctx, plan, loop, phase); err != nil {
			return err
		}
	}

	reset := driver.Trajectory.ResetWaypoint()
	if err := c.moveTo(ctx, driver.ID, reset); err != nil {
		return c.fail(loop, plan.PhaseCount(), driver.ID, StageReset, reset.Position, err)
	}
	return nil
}

func (c *Choreographer) runGroup(ctx context.Context, loop, phase int, g PhaseGroup) error {
	if !g.Concurrent || len(g.Sweeps) < 2 {
		for _, s := range g.Sweeps {
			if err := c.sweepAndReset(ctx, loop, phase, s); err != nil {
				return err
			}
		}
		return nil
	}

	// Each member runs on its own goroutine; their transactions still
	// pass one at a time through the bus.
	eg, gctx := errgroup.WithContext(ctx)
	for _, s := range g.Sweeps {
		eg.Go(func() error {
			return c.sweepAndReset(gctx, loop, phase, s)
		})
	}
	return eg.Wait()
}

// sweepAndReset moves s through every waypoint and back to its start.
func (c *Choreographer) sweepAndReset(ctx context.Context, loop, phase int, s Sweep) error {
	for wp := range s.Trajectory.Waypoints() {
		if err := c.moveTo(ctx, s.ID, wp); err != nil {
			return c.fail(loop, phase, s.ID, StageSweep, wp.Position, err)
		}
	}
	reset := s.Trajectory.ResetWaypoint()
	if err := c.moveTo(ctx, s.ID, reset); err != nil {
		return c.fail(loop, phase, s.ID, StageReset, reset.Position, err)
	}
	return nil
}

// moveTo writes the goal and waits for arrival.
func (c *Choreographer) moveTo(ctx context.Context, id int, wp motion.Waypoint) error {
	if err := c.setGoal(ctx, id, wp.Position); err != nil {
		return err
	}
	arrival, err := c.mon.WaitUntilArrived(ctx, id, wp.Position, wp.Tolerance)
	if err != nil {
		var timeout *motion.TimeoutError
		if errors.As(err, &timeout) && timeout.Known {
			c.record(id, timeout.LastKnown)
		}
		return err
	}
	c.record(id, arrival.Position)
	return nil
}

func (c *Choreographer) setGoal(ctx context.Context, id, pos int) error {
	if c.check != nil {
		if err := c.check(id, pos); err != nil {
			return err
		}
	}
	return c.act.SetGoalPosition(ctx, id, pos)
}

// checkGoals runs the goal check over a whole set of goals before any of
// them is written.
func (c *Choreographer) checkGoals(stage Stage, step int, goals map[int]int) error {
	if c.check == nil {
		return nil
	}
	for _, id := range slices.Sorted(maps.Keys(goals)) {
		if err := c.check(id, goals[id]); err != nil {
			return c.fail(0, step, id, stage, goals[id], err)
		}
	}
	return nil
}

func (c *Choreographer) snapshot(ctx context.Context, plan Plan, loop int, phase Phase) error {
	if c.onPhase == nil {
		return nil
	}
	if plan.ReadSnapshots {
		for _, id := range c.snapshotIDs() {
			pos, err := c.act.ReadPresentPosition(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return c.fail(loop, phase.Index, id, StageDriver, phase.Goal.Position, ctx.Err())
				}
				// Keep the last known value.
				c.logger.Debugw("snapshot read failed", "id", id, "error", err)
				continue
			}
			c.record(id, pos)
		}
	}
	c.onPhase(Snapshot{
		Loop:      loop,
		Phase:     phase.Index,
		Driver:    phase.Driver,
		Goal:      phase.Goal.Position,
		Positions: c.Positions(),
		Time:      time.Now(),
	})
	return nil
}

func (c *Choreographer) snapshotIDs() []int {
	if len(c.ids) > 0 {
		return c.ids
	}
	return slices.Sorted(maps.Keys(c.Positions()))
}

func (c *Choreographer) fail(loop, phase, id int, stage Stage, goal int, err error) error {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return err
	}
	c.logger.Errorw("run aborted", "loop", loop, "phase", phase, "id", id, "stage", stage, "goal", goal, "error", err)
	return &RunError{
		Loop:       loop,
		Phase:      phase,
		ActuatorID: id,
		Stage:      stage,
		Goal:       goal,
		Positions:  c.Positions(),
		Err:        err,
	}
}

// Sweep moves one actuator through every waypoint of t, waiting dwell
// after each arrival. There is no reset.
func (c *Choreographer) Sweep(ctx context.Context, id int, t motion.Trajectory, dwell time.Duration) error {
	if err := t.Validate(); err != nil {
		return c.fail(0, 0, id, StageSweep, t.Start, err)
	}
	for _, pos := range []int{t.Start, t.Last()} {
		if err := c.checkGoals(StageSweep, 0, map[int]int{id: pos}); err != nil {
			return err
		}
	}
	i := 0
	for wp := range t.Waypoints() {
		if err := c.moveTo(ctx, id, wp); err != nil {
			return c.fail(0, i, id, StageSweep, wp.Position, err)
		}
		c.logger.Debugw("sweep step", "id", id, "goal", wp.Position, "step", i)
		if err := motion.Sleep(ctx, dwell); err != nil {
			return c.fail(0, i, id, StagePause, wp.Position, err)
		}
		i++
	}
	return nil
}

// Home writes every goal in ascending ID order, then waits for each
// actuator to arrive.
func (c *Choreographer) Home(ctx context.Context, goals map[int]int, tolerance int) error {
	if err := c.checkGoals(StageHome, 0, goals); err != nil {
		return err
	}
	ids := slices.Sorted(maps.Keys(goals))
	for _, id := range ids {
		if err := c.act.SetGoalPosition(ctx, id, goals[id]); err != nil {
			return c.fail(0, 0, id, StageHome, goals[id], err)
		}
	}
	for _, id := range ids {
		arrival, err := c.mon.WaitUntilArrived(ctx, id, goals[id], tolerance)
		if err != nil {
			return c.fail(0, 0, id, StageHome, goals[id], err)
		}
		c.record(id, arrival.Position)
		c.logger.Infow("home reached", "id", id, "position", arrival.Position, "polls", arrival.Polls)
	}
	return nil
}

// Poses moves through a keyframe table. For each pose every goal is
// written, then all actuators are polled together until every one is
// within tolerance. Each reading is passed to sample, which may be nil.
// Load is reported as zero when the actuators cannot read it.
func (c *Choreographer) Poses(ctx context.Context, poses []map[int]int, tolerance int, sample func(Sample)) error {
	loads, _ := c.act.(LoadReader)

	for k, pose := range poses {
		if err := c.checkGoals(StagePose, k, pose); err != nil {
			return err
		}
	}

	for k, pose := range poses {
		ids := slices.Sorted(maps.Keys(pose))
		if len(ids) == 0 {
			continue
		}
		for _, id := range ids {
			if err := c.act.SetGoalPosition(ctx, id, pose[id]); err != nil {
				return c.fail(0, k, id, StagePose, pose[id], err)
			}
		}

		var pending *motion.TimeoutError
		for poll := 1; poll <= c.mon.MaxPolls(); poll++ {
			if err := ctx.Err(); err != nil {
				return c.fail(0, k, ids[0], StagePose, pose[ids[0]], err)
			}

			pending = nil
			for _, id := range ids {
				pos, err := c.act.ReadPresentPosition(ctx, id)
				if err != nil {
					if pending == nil {
						pending = &motion.TimeoutError{ID: id, Target: pose[id], Polls: poll, LastErr: err}
					}
					continue
				}
				c.record(id, pos)

				s := Sample{Pose: k, ID: id, Position: pos, Time: time.Now()}
				if loads != nil {
					if load, err := loads.ReadPresentLoad(ctx, id); err == nil {
						s.Load = load
					}
				}
				if sample != nil {
					sample(s)
				}

				if pending == nil && abs(pose[id]-pos) > tolerance {
					pending = &motion.TimeoutError{ID: id, Target: pose[id], LastKnown: pos, Known: true, Polls: poll}
				}
			}
			if pending == nil {
				c.logger.Infow("pose reached", "pose", k, "polls", poll)
				break
			}
			if poll < c.mon.MaxPolls() {
				if err := c.mon.Wait(ctx); err != nil {
					return c.fail(0, k, pending.ID, StagePose, pending.Target, err)
				}
			}
		}
		if pending != nil {
			return c.fail(0, k, pending.ID, StagePose, pending.Target, pending)
		}
	}
	return nil
}

// Compile-time check that the proxy satisfies both interfaces.
var (
	_ Actuators  = (*dxl.Proxy)(nil)
	_ LoadReader = (*dxl.Proxy)(nil)
)

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
