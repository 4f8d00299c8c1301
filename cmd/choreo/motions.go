package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/multierr"

	"github.com/gwillem/servochoreo/pkg/choreo"
	"github.com/gwillem/servochoreo/pkg/motion"
	"github.com/gwillem/servochoreo/pkg/record"
	"github.com/gwillem/servochoreo/pkg/robot"
)

type SweepCommand struct {
	IDs        []int         `long:"id" required:"true" description:"Actuator to sweep (repeatable)"`
	End        int           `long:"end" default:"2557" description:"Sweep end position"`
	Step       int           `long:"step" default:"5" description:"Signed step size"`
	Dwell      time.Duration `long:"dwell" default:"1s" description:"Pause after each step"`
	Reset      bool          `long:"reset" description:"Return to home after the sweep"`
	KeepTorque bool          `long:"keep-torque" description:"Leave torque enabled afterwards"`
}

func (c *SweepCommand) Execute(args []string) error {
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		cfg := r.Config()
		ct, err := cfg.ControlTable()
		if err != nil {
			return err
		}

		var trajs []motion.Trajectory
		for _, id := range c.IDs {
			act, ok := cfg.Actuators.ByID(id)
			if !ok {
				return fmt.Errorf("actuator %d is not configured", id)
			}
			t, err := motion.Generate(act.Home, c.End, c.Step, cfg.Tolerance)
			if err != nil {
				return fmt.Errorf("actuator %d: %w", id, err)
			}
			if err := t.CheckRange(ct.GoalPosition); err != nil {
				return fmt.Errorf("actuator %d: %w", id, err)
			}
			for _, pos := range []int{t.Start, t.Last()} {
				if err := act.CheckGoal(pos); err != nil {
					return err
				}
			}
			trajs = append(trajs, t)
		}

		chor := newChoreographer(r, r.Logger())
		return armed(ctx, r, chor, c.KeepTorque, func(ctx context.Context) error {
			for i, id := range c.IDs {
				t := trajs[i]
				fmt.Printf("Sweeping %s %d -> %d (%d steps)\n", robot.Name(id), t.Start, t.Last(), t.Len())
				if err := chor.Sweep(ctx, id, t, c.Dwell); err != nil {
					return err
				}
				if c.Reset {
					if err := chor.Home(ctx, map[int]int{id: t.Start}, cfg.Tolerance); err != nil {
						return err
					}
				}
			}
			return nil
		})
	})
}

type HomeCommand struct {
	Relax bool `long:"relax" description:"Disable torque once every actuator is home"`
}

func (c *HomeCommand) Execute(args []string) error {
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		chor := newChoreographer(r, r.Logger())
		err := armed(ctx, r, chor, !c.Relax, func(ctx context.Context) error {
			return chor.Home(ctx, r.Actuators().Homes(), r.Config().Tolerance)
		})
		if err == nil {
			fmt.Println(successStyle.Render("All actuators home."))
		}
		return err
	})
}

type PosesCommand struct {
	CSV        string `long:"csv" description:"Record position and load samples to this file"`
	KeepTorque bool   `long:"keep-torque" description:"Leave torque enabled afterwards"`
}

func (c *PosesCommand) Execute(args []string) error {
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		cfg := r.Config()
		if len(cfg.Poses) == 0 {
			return errors.New("no poses configured")
		}

		sample := func(choreo.Sample) {}
		if c.CSV != "" {
			f, err := os.Create(c.CSV)
			if err != nil {
				return fmt.Errorf("create %s: %w", c.CSV, err)
			}
			defer f.Close()
			sw, err := record.NewSampleWriter(f)
			if err != nil {
				return err
			}
			defer sw.Flush()
			sample = func(s choreo.Sample) {
				if err := sw.Write(s); err != nil {
					r.Logger().Warnw("csv write failed", "error", err)
				}
			}
		}

		chor := newChoreographer(r, r.Logger())
		err := armed(ctx, r, chor, c.KeepTorque, func(ctx context.Context) error {
			return chor.Poses(ctx, cfg.Poses, cfg.Tolerance, sample)
		})
		if err == nil {
			fmt.Println(successStyle.Render(fmt.Sprintf("Completed %d poses.", len(cfg.Poses))))
		}
		return err
	})
}

type StatusCommand struct{}

func (c *StatusCommand) Execute(args []string) error {
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		positions, perr := r.ReadPositions(ctx)
		loads, lerr := r.ReadLoads(ctx)
		posMax := r.Proxy().Table().GoalPosition.Max

		tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
		tableMotorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
		tableCellStyle := lipgloss.NewStyle().Padding(0, 1)

		rows := make([][]string, 0, len(r.Actuators()))
		for _, act := range r.Actuators() {
			pos, travel, load := "-", "-", "-"
			if p, ok := positions[act.ID]; ok {
				pos = fmt.Sprintf("%d", p)
				travel = fmt.Sprintf("%+.0f%%", act.Travel(p, posMax))
			}
			if l, ok := loads[act.ID]; ok {
				load = fmt.Sprintf("%d", l)
			}
			rows = append(rows, []string{robot.Name(act.ID), pos, fmt.Sprintf("%d", act.Home), travel, load})
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(dimStyle).
			Headers("Motor", "Position", "Home", "Travel", "Load").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return tableHeaderStyle
				}
				if col == 0 {
					return tableMotorStyle
				}
				return tableCellStyle
			})
		fmt.Println(t.Render())

		if err := multierr.Combine(perr, lerr); err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
		}
		return nil
	})
}

type RelaxCommand struct{}

func (c *RelaxCommand) Execute(args []string) error {
	return withRobot(func(ctx context.Context, r *robot.Robot) error {
		if err := r.Disable(ctx); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("Torque disabled on all actuators."))
		return nil
	})
}

// withRobot loads the configuration, opens the bus and runs fn with a
// context cancelled on Ctrl+C. Run failures are reported with the last
// known positions.
func withRobot(fn func(ctx context.Context, r *robot.Robot) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	r, err := openRobot(cfg, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, cancel := interruptContext()
	defer cancel()

	err = fn(ctx, r)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		fmt.Println(statusStyle.Render("Stopped."))
		return nil
	default:
		var runErr *choreo.RunError
		if errors.As(err, &runErr) {
			reportFailure(err)
			return errors.New("motion failed")
		}
		return err
	}
}
