package dxl_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gwillem/servochoreo/pkg/dxl"
	"github.com/gwillem/servochoreo/pkg/dxl/dxlsim"
)

func TestBus_MutualExclusion(t *testing.T) {
	sim := dxlsim.New(dxl.ControlTableMX, map[int]int{1: 2048, 2: 2048, 3: 2048},
		dxlsim.WithLatency(100*time.Microsecond))
	bus := dxl.NewBus(sim)
	proxy := dxl.NewProxy(bus, dxl.ControlTableMX)
	ctx := context.Background()

	var wg sync.WaitGroup
	for id := 1; id <= 3; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				proxy.SetGoalPosition(ctx, id, 2048+i)
				proxy.ReadPresentPosition(ctx, id)
			}
		}(id)
	}
	wg.Wait()

	if v := sim.Violations(); v != 0 {
		t.Errorf("overlapping transactions: %d", v)
	}
	if got := bus.Transactions(); got != 120 {
		t.Errorf("transactions: got %d, want 120", got)
	}
}

func TestBus_CancelledContext(t *testing.T) {
	sim := dxlsim.New(dxl.ControlTableMX, map[int]int{1: 2048})
	proxy := dxl.NewProxy(dxl.NewBus(sim), dxl.ControlTableMX)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := proxy.SetGoalPosition(ctx, 1, 2000); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if n := len(sim.Log()); n != 0 {
		t.Errorf("cancelled call reached the bus: %d transactions", n)
	}
}

func TestBus_Closed(t *testing.T) {
	sim := dxlsim.New(dxl.ControlTableMX, map[int]int{1: 2048})
	bus := dxl.NewBus(sim)
	proxy := dxl.NewProxy(bus, dxl.ControlTableMX)

	bus.Close()
	if _, err := proxy.ReadPresentPosition(context.Background(), 1); !dxl.IsComm(err) {
		t.Errorf("expected CommError after Close, got %v", err)
	}
}
