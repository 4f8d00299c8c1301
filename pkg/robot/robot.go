package robot

import (
	"context"
	"fmt"
	"io"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gwillem/servochoreo/pkg/dxl"
)

// Robot owns one bus session: the transport, the serializer on top of it,
// and the configured actuator table.
type Robot struct {
	bus       *dxl.Bus
	proxy     *dxl.Proxy
	transport dxl.Transport
	cfg       *Config
	logger    *zap.SugaredLogger
}

// Open opens the configured serial port and creates a robot on it.
func Open(cfg *Config, logger *zap.SugaredLogger) (*Robot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	t, err := dxl.OpenFeetech(dxl.FeetechConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Timeout:  cfg.Timeout.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	r, err := New(t, cfg, logger)
	if err != nil {
		t.Close()
		return nil, err
	}
	return r, nil
}

// New creates a robot on an existing transport. If the transport
// implements io.Closer, Close closes it.
func New(t dxl.Transport, cfg *Config, logger *zap.SugaredLogger) (*Robot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	table, err := cfg.ControlTable()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	bus := dxl.NewBus(t)
	return &Robot{
		bus:       bus,
		proxy:     dxl.NewProxy(bus, table),
		transport: t,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Close closes the bus and its transport.
func (r *Robot) Close() error {
	r.bus.Close()
	if c, ok := r.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Proxy returns the actuator proxy.
func (r *Robot) Proxy() *dxl.Proxy {
	return r.proxy
}

// Bus returns the bus serializer.
func (r *Robot) Bus() *dxl.Bus {
	return r.bus
}

// Config returns the session configuration.
func (r *Robot) Config() *Config {
	return r.cfg
}

// Actuators returns the configured actuator table.
func (r *Robot) Actuators() Actuators {
	return r.cfg.Actuators
}

// Logger returns the session logger.
func (r *Robot) Logger() *zap.SugaredLogger {
	return r.logger
}

// Enable arms every actuator: torque limit first, then torque on. The
// EEPROM max torque is only written when configured. It stops at the
// first failure.
func (r *Robot) Enable(ctx context.Context) error {
	for _, id := range r.cfg.Actuators.IDs() {
		if r.cfg.MaxTorque > 0 {
			if err := r.proxy.SetMaxTorque(ctx, id, r.cfg.MaxTorque); err != nil {
				return fmt.Errorf("set max torque: %w", err)
			}
		}
		if err := r.proxy.SetTorqueLimit(ctx, id, r.cfg.TorqueLimit); err != nil {
			return fmt.Errorf("set torque limit: %w", err)
		}
		if err := r.proxy.EnableTorque(ctx, id); err != nil {
			return fmt.Errorf("enable torque: %w", err)
		}
		r.logger.Debugw("armed", "id", id, "torque_limit", r.cfg.TorqueLimit)
	}
	r.logger.Infow("torque enabled", "actuators", len(r.cfg.Actuators))
	return nil
}

// Disable turns torque off on every actuator. Every actuator is attempted
// even if ctx is already cancelled; failures are combined.
func (r *Robot) Disable(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	for _, id := range r.cfg.Actuators.IDs() {
		if e := r.proxy.DisableTorque(ctx, id); e != nil {
			r.logger.Warnw("disable torque failed", "id", id, "error", e)
			err = multierr.Append(err, e)
		}
	}
	if err == nil {
		r.logger.Infow("torque disabled", "actuators", len(r.cfg.Actuators))
	}
	return err
}

// ReadPositions reads every actuator's present position. Actuators that
// fail to answer are left out of the map and their errors combined.
func (r *Robot) ReadPositions(ctx context.Context) (map[int]int, error) {
	positions := make(map[int]int, len(r.cfg.Actuators))
	var err error
	for _, id := range r.cfg.Actuators.IDs() {
		pos, e := r.proxy.ReadPresentPosition(ctx, id)
		if e != nil {
			if ctx.Err() != nil {
				return positions, ctx.Err()
			}
			err = multierr.Append(err, e)
			continue
		}
		positions[id] = pos
	}
	return positions, err
}

// ReadLoads reads every actuator's present load, like ReadPositions.
func (r *Robot) ReadLoads(ctx context.Context) (map[int]int, error) {
	loads := make(map[int]int, len(r.cfg.Actuators))
	var err error
	for _, id := range r.cfg.Actuators.IDs() {
		load, e := r.proxy.ReadPresentLoad(ctx, id)
		if e != nil {
			if ctx.Err() != nil {
				return loads, ctx.Err()
			}
			err = multierr.Append(err, e)
			continue
		}
		loads[id] = load
	}
	return loads, err
}

// CheckGoal checks a goal against the soft range of actuator id.
func (r *Robot) CheckGoal(id, pos int) error {
	return r.cfg.Actuators.CheckGoal(id, pos)
}

// WritePositions writes goal positions in ascending ID order. Goals are
// checked against each actuator's soft range before anything is sent.
func (r *Robot) WritePositions(ctx context.Context, goals map[int]int) error {
	ids := make([]int, 0, len(goals))
	for id, pos := range goals {
		if err := r.CheckGoal(id, pos); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		if err := r.proxy.SetGoalPosition(ctx, id, goals[id]); err != nil {
			return fmt.Errorf("write positions: %w", err)
		}
	}
	return nil
}

// Hold reads each actuator's present position and writes it back as its
// goal, so a freshly armed actuator stays where it is. Actuators in except
// are skipped. It returns the held positions.
func (r *Robot) Hold(ctx context.Context, except ...int) (map[int]int, error) {
	held := make(map[int]int, len(r.cfg.Actuators))
	for _, id := range r.cfg.Actuators.IDs() {
		if slices.Contains(except, id) {
			continue
		}
		pos, err := r.proxy.ReadPresentPosition(ctx, id)
		if err != nil {
			return held, fmt.Errorf("hold: %w", err)
		}
		if err := r.proxy.SetGoalPosition(ctx, id, pos); err != nil {
			return held, fmt.Errorf("hold: %w", err)
		}
		held[id] = pos
	}
	r.logger.Debugw("holding", "positions", held)
	return held, nil
}

// Armed holds every actuator in place, enables torque and runs fn with the
// held positions. Torque is disabled again afterwards; keep leaves it on,
// but only when fn succeeded.
func (r *Robot) Armed(ctx context.Context, keep bool, fn func(ctx context.Context, held map[int]int) error) error {
	held, err := r.Hold(ctx)
	if err != nil {
		return err
	}
	if err := r.Enable(ctx); err != nil {
		return multierr.Append(err, r.Disable(ctx))
	}

	err = fn(ctx, held)
	if err != nil || !keep {
		err = multierr.Append(err, r.Disable(ctx))
	} else {
		r.logger.Infow("torque left enabled", "actuators", len(r.cfg.Actuators))
	}
	return err
}
