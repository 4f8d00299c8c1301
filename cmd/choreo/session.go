package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gwillem/servochoreo/pkg/choreo"
	"github.com/gwillem/servochoreo/pkg/dxl"
	"github.com/gwillem/servochoreo/pkg/dxl/dxlsim"
	"github.com/gwillem/servochoreo/pkg/motion"
	"github.com/gwillem/servochoreo/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// newLogger builds the process logger. With quiet set (the TUI owns the
// terminal) logs only go to --log-file, if given.
func newLogger(quiet bool) (*zap.SugaredLogger, error) {
	level := zap.InfoLevel
	if opts.Verbose {
		level = zap.DebugLevel
	}

	if opts.LogFile == "" {
		if quiet {
			return zap.NewNop().Sugar(), nil
		}
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		return logger.Sugar(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{opts.LogFile}
	cfg.ErrorOutputPaths = []string{opts.LogFile}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return logger.Sugar(), nil
}

func loadConfig() (*robot.Config, error) {
	if !robot.ConfigExists(opts.Config) {
		return nil, fmt.Errorf("no configuration at %s, run 'choreo init' first", opts.Config)
	}
	cfg, err := robot.LoadConfigFrom(opts.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", opts.Config, err)
	}
	return cfg, nil
}

// openRobot connects to the configured bus, or to simulated actuators
// resting at their home positions when --simulate is set.
func openRobot(cfg *robot.Config, logger *zap.SugaredLogger) (*robot.Robot, error) {
	if !opts.Simulate {
		return robot.Open(cfg, logger)
	}

	table, err := cfg.ControlTable()
	if err != nil {
		return nil, err
	}
	sim := dxlsim.New(table, cfg.Actuators.Homes(), dxlsim.WithLatency(time.Millisecond))
	logger.Infow("using simulated bus", "actuators", len(cfg.Actuators))
	return robot.New(sim, cfg, logger)
}

func newChoreographer(r *robot.Robot, logger *zap.SugaredLogger, extra ...choreo.Option) *choreo.Choreographer {
	cfg := r.Config()
	mon := motion.NewMonitor(r.Proxy(),
		motion.WithPollInterval(cfg.PollInterval.Std()),
		motion.WithMaxPolls(cfg.MaxPolls),
		motion.WithLogger(logger),
	)
	options := append([]choreo.Option{
		choreo.WithLogger(logger),
		choreo.WithActuatorIDs(r.Actuators().IDs()...),
		choreo.WithGoalCheck(r.CheckGoal),
	}, extra...)
	return choreo.NewChoreographer(r.Proxy(), mon, options...)
}

// interruptContext is cancelled on Ctrl+C.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// armed runs fn between arming and disarming every actuator. Torque is
// kept after a successful fn when keep is set.
func armed(ctx context.Context, r *robot.Robot, c *choreo.Choreographer, keep bool, fn func(ctx context.Context) error) error {
	return r.Armed(ctx, keep, func(ctx context.Context, held map[int]int) error {
		c.Seed(held)
		return fn(ctx)
	})
}

// reportFailure prints where a run stopped and the last known positions.
func reportFailure(err error) {
	fmt.Println()
	fmt.Println(errorStyle.Render("Run aborted: " + err.Error()))

	var runErr *choreo.RunError
	if !errors.As(err, &runErr) {
		return
	}
	if dev, ok := dxl.AsDeviceError(err); ok && dev.Overload() {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Actuator %d reports overload, check it mechanically before re-arming.", dev.ID)))
	}
	fmt.Println(subHeaderStyle.Render("Last known positions"))
	for _, id := range slices.Sorted(maps.Keys(runErr.Positions)) {
		fmt.Printf("  %-8s %d\n", robot.Name(id), runErr.Positions[id])
	}
}
