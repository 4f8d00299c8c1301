package choreo

import (
	"context"
	"errors"
	"testing"

	"github.com/gwillem/servochoreo/pkg/dxl"
	"github.com/gwillem/servochoreo/pkg/dxl/dxlsim"
	"github.com/gwillem/servochoreo/pkg/motion"
	"github.com/gwillem/servochoreo/pkg/robot"
)

func newController(t *testing.T, cfg *robot.Config, ctrl Config) (*Controller, *dxlsim.Bus) {
	t.Helper()
	sim := dxlsim.New(dxl.ControlTableMX, map[int]int{1: 2048, 2: 2048, 3: 2048, 4: 2048, 5: 2048, 6: 2048})
	r, err := robot.New(sim, cfg, nil)
	if err != nil {
		t.Fatalf("robot.New failed: %v", err)
	}
	if ctrl.Plan.Driver.ID == 0 {
		plan, err := NewPlan(cfg)
		if err != nil {
			t.Fatalf("NewPlan failed: %v", err)
		}
		ctrl.Plan = plan
	}
	ctrl.MonitorOptions = append(ctrl.MonitorOptions, motion.WithSleep(noSleep))

	c, err := NewController(r, ctrl)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, sim
}

func TestController_FullPlanReturnsHome(t *testing.T) {
	cfg := robot.Default()
	cfg.Plan.Pause = 0

	var snaps []Snapshot
	c, sim := newController(t, cfg, Config{
		Hold:       true,
		OnSnapshot: func(s Snapshot) { snaps = append(snaps, s) },
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if len(snaps) != 102 {
		t.Errorf("got %d snapshots, want 102", len(snaps))
	}
	if v := sim.Violations(); v != 0 {
		t.Errorf("%d overlapping transactions", v)
	}
	for id := 1; id <= 6; id++ {
		a, _ := sim.Actuator(id)
		if abs(a.Present-2048) > 20 {
			t.Errorf("actuator %d ended at %d, want 2048 +/- 20", id, a.Present)
		}
		if a.Torque {
			t.Errorf("actuator %d still torqued", id)
		}
		if a.TorqueLimit != 300 {
			t.Errorf("actuator %d torque limit %d", id, a.TorqueLimit)
		}
	}

	// The even group reaches its extreme at least once per phase.
	extremes := 0
	for _, tx := range goalWrites(sim.Log()) {
		if tx.ID == 4 && tx.Value == 2553 {
			extremes++
		}
	}
	if extremes != 102 {
		t.Errorf("actuator 4 reached 2553 %d times, want 102", extremes)
	}

	final := <-c.States()
	if !final.Done || final.Error != nil {
		t.Errorf("final state %+v", final)
	}
	if want := uint64(len(sim.Log())); final.Transactions != want {
		t.Errorf("final state reports %d transactions, simulator saw %d", final.Transactions, want)
	}
}

func TestController_FailureDisablesTorque(t *testing.T) {
	cfg := robot.Default()
	// Enough for a 505 step reset at the simulator's slew; only the
	// stalled actuator can run out.
	cfg.MaxPolls = 20
	c, sim := newController(t, cfg, Config{Hold: true})
	sim.Stall(5, true)

	err := c.Start(context.Background())
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected RunError, got %v", err)
	}
	if runErr.ActuatorID != 5 || runErr.Goal != 2023 || len(runErr.Positions) != 6 {
		t.Errorf("run error %+v", runErr)
	}
	for id := 1; id <= 6; id++ {
		if a, _ := sim.Actuator(id); a.Torque {
			t.Errorf("actuator %d still torqued after failure", id)
		}
	}

	final := <-c.States()
	if !final.Done || !errors.As(final.Error, &runErr) {
		t.Errorf("final state %+v", final)
	}
}

func TestController_KeepTorqueAfterSuccess(t *testing.T) {
	cfg := robot.Default()
	cfg.Plan.Driver.End = 2038
	cfg.Plan.Pause = 0
	c, sim := newController(t, cfg, Config{Hold: true, KeepTorque: true})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for id := 1; id <= 6; id++ {
		if a, _ := sim.Actuator(id); !a.Torque {
			t.Errorf("actuator %d lost torque despite KeepTorque", id)
		}
	}
}

func TestController_KeepTorqueIgnoredOnFailure(t *testing.T) {
	cfg := robot.Default()
	cfg.MaxPolls = 20
	c, sim := newController(t, cfg, Config{Hold: true, KeepTorque: true})
	sim.Stall(5, true)

	err := c.Start(context.Background())
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.ActuatorID != 5 {
		t.Fatalf("expected RunError on actuator 5, got %v", err)
	}
	for id := 1; id <= 6; id++ {
		if a, _ := sim.Actuator(id); a.Torque {
			t.Errorf("actuator %d still torqued after failed run", id)
		}
	}
}

func TestController_KeepTorqueIgnoredOnCancel(t *testing.T) {
	cfg := robot.Default()
	cfg.Plan.Loops = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, sim := newController(t, cfg, Config{
		KeepTorque: true,
		OnSnapshot: func(s Snapshot) { cancel() },
	})

	err := c.Start(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for id := 1; id <= 6; id++ {
		if a, _ := sim.Actuator(id); a.Torque {
			t.Errorf("actuator %d still torqued after cancel", id)
		}
	}
}

func TestController_Logs(t *testing.T) {
	cfg := robot.Default()
	cfg.Plan.Driver.End = 2038
	cfg.Plan.Pause = 0
	c, _ := newController(t, cfg, Config{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	// The log channel holds at most 10 lines and drops the rest.
	n := 0
	for {
		select {
		case <-c.Logs():
			n++
			continue
		default:
		}
		break
	}
	if n != 10 {
		t.Errorf("got %d log lines, want a full buffer of 10", n)
	}
}

func TestNewController_RejectsInvalidPlan(t *testing.T) {
	sim := dxlsim.New(dxl.ControlTableMX, map[int]int{1: 2048})
	r, err := robot.New(sim, robot.Default(), nil)
	if err != nil {
		t.Fatal(err)
	}
	plan := Plan{Driver: Sweep{ID: 1, Trajectory: motion.Trajectory{Start: 2048, End: 2100, Step: -5}}}
	if _, err := NewController(r, Config{Plan: plan}); !dxl.IsConfig(err) {
		t.Errorf("expected ConfigError, got %v", err)
	}
}

func TestNewController_RejectsSoftRangeViolation(t *testing.T) {
	cfg := robot.Default()
	plan, err := NewPlan(cfg)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}

	// Actuator 2 sweeps to 2553, outside its soft range.
	cfg.Actuators[1].RangeMin = 1900
	cfg.Actuators[1].RangeMax = 2200
	cfg.Poses = nil
	sim := dxlsim.New(dxl.ControlTableMX, map[int]int{1: 2048, 2: 2048, 3: 2048, 4: 2048, 5: 2048, 6: 2048})
	r, err := robot.New(sim, cfg, nil)
	if err != nil {
		t.Fatalf("robot.New failed: %v", err)
	}
	defer r.Close()

	if _, err := NewController(r, Config{Plan: plan}); !dxl.IsConfig(err) {
		t.Errorf("expected ConfigError, got %v", err)
	}
	if n := len(sim.Log()); n != 0 {
		t.Errorf("%d transactions issued for a rejected plan", n)
	}
}
