package choreo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gwillem/servochoreo/pkg/motion"
	"github.com/gwillem/servochoreo/pkg/robot"
)

// State represents the current state of a run.
type State struct {
	Loop      int
	Phase     int
	Phases    int
	Driver    int
	Goal      int
	Positions map[int]int
	Timestamp time.Time
	Done      bool
	Error     error

	Transactions uint64 // Bus transactions issued so far
}

// Config holds configuration for the controller.
type Config struct {
	Plan       Plan
	Logger     *zap.SugaredLogger
	OnSnapshot func(Snapshot)
	KeepTorque bool // Leave torque on after a successful run
	Hold       bool // Pin every actuator at its present position before arming

	// MonitorOptions are appended to the options derived from the robot config.
	MonitorOptions []motion.MonitorOption
}

// Controller brackets a choreography with torque enable and disable and
// publishes progress for a UI.
type Controller struct {
	robot  *robot.Robot
	chor   *Choreographer
	cfg    Config
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	running bool
	stateCh chan State
	logCh   chan string
}

// NewController creates a controller running cfg.Plan on r.
func NewController(r *robot.Robot, cfg Config) (*Controller, error) {
	if err := cfg.Plan.Validate(r.Proxy().Table().GoalPosition); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	if err := cfg.Plan.CheckGoals(r.CheckGoal); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = r.Logger()
	}

	rc := r.Config()
	monOpts := append([]motion.MonitorOption{
		motion.WithPollInterval(rc.PollInterval.Std()),
		motion.WithMaxPolls(rc.MaxPolls),
		motion.WithLogger(cfg.Logger),
	}, cfg.MonitorOptions...)

	c := &Controller{
		robot:   r,
		cfg:     cfg,
		logger:  cfg.Logger,
		stateCh: make(chan State, 1),
		logCh:   make(chan string, 10),
	}
	c.chor = NewChoreographer(r.Proxy(), motion.NewMonitor(r.Proxy(), monOpts...),
		WithLogger(cfg.Logger),
		WithActuatorIDs(r.Actuators().IDs()...),
		WithGoalCheck(r.CheckGoal),
		OnPhase(c.onPhase),
	)
	return c, nil
}

// Close closes the controller and releases resources.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	return c.robot.Close()
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Robot returns the robot the controller drives.
func (c *Controller) Robot() *robot.Robot {
	return c.robot
}

// Choreographer returns the underlying choreographer.
func (c *Controller) Choreographer() *Choreographer {
	return c.chor
}

// Plan returns the plan being run.
func (c *Controller) Plan() Plan {
	return c.cfg.Plan
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start arms the actuators, runs the plan and disarms them again. It
// blocks until the run finishes, fails or ctx is cancelled. On failure
// the returned error is a *RunError carrying the last known positions.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()

	err := c.run(ctx)
	err = multierr.Append(err, c.shutdown(ctx, err))

	c.sendState(State{
		Positions:    c.chor.Positions(),
		Timestamp:    time.Now(),
		Done:         true,
		Error:        err,
		Transactions: c.robot.Bus().Transactions(),
	})
	return err
}

func (c *Controller) run(ctx context.Context) error {
	if c.cfg.Hold {
		held, err := c.robot.Hold(ctx)
		if err != nil {
			c.log("Hold failed: %v", err)
			return err
		}
		c.chor.Seed(held)
		c.log("Holding %d actuators at present position", len(held))
	} else {
		positions, err := c.robot.ReadPositions(ctx)
		if err != nil {
			c.logger.Warnw("initial read incomplete", "error", err)
		}
		c.chor.Seed(positions)
	}

	if err := c.robot.Enable(ctx); err != nil {
		c.log("Enable failed: %v", err)
		return err
	}
	c.log("Torque enabled (limit %d)", c.robot.Config().TorqueLimit)

	plan := c.cfg.Plan
	loops := "forever"
	if plan.Loops > 0 {
		loops = fmt.Sprintf("%d loop(s)", plan.Loops)
	}
	c.log("Choreography started: driver %d, %d phases, %s", plan.Driver.ID, plan.PhaseCount(), loops)

	if err := c.chor.Run(ctx, plan); err != nil {
		c.log("Run stopped: %v", err)
		return err
	}
	c.log("Choreography finished after %d bus transactions", c.robot.Bus().Transactions())
	return nil
}

func (c *Controller) onPhase(s Snapshot) {
	c.sendState(State{
		Loop:         s.Loop,
		Phase:        s.Phase,
		Phases:       c.cfg.Plan.PhaseCount(),
		Driver:       s.Driver,
		Goal:         s.Goal,
		Positions:    s.Positions,
		Timestamp:    s.Time,
		Transactions: c.robot.Bus().Transactions(),
	})
	c.log("Loop %d phase %d/%d: driver %d at %d", s.Loop, s.Phase+1, c.cfg.Plan.PhaseCount(), s.Driver, s.Goal)
	if c.cfg.OnSnapshot != nil {
		c.cfg.OnSnapshot(s)
	}
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

// shutdown disarms after a run. KeepTorque only applies to a run that
// completed; a failed or cancelled run always disables torque.
func (c *Controller) shutdown(ctx context.Context, runErr error) error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if c.cfg.KeepTorque && runErr == nil {
		c.log("Torque left enabled")
		return nil
	}
	if err := c.robot.Disable(ctx); err != nil {
		c.log("Warning: failed to disable torque: %v", err)
		return err
	}
	c.log("Torque disabled")
	return nil
}
