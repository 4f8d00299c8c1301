package robot

import (
	"math"
	"slices"
	"testing"

	"github.com/gwillem/servochoreo/pkg/dxl"
)

func TestActuator_Travel(t *testing.T) {
	act := Actuator{Home: 2048, RangeMin: 1548, RangeMax: 2248}

	tests := []struct {
		raw      int
		expected float64
	}{
		{2048, 0.0},    // home
		{1548, -100.0}, // lower limit
		{2248, 100.0},  // upper limit
		{1798, -50.0},  // halfway down
		{2148, 50.0},   // halfway up
		{2348, 150.0},  // past the upper limit
	}

	for _, tt := range tests {
		got := act.Travel(tt.raw, 4095)
		if math.Abs(got-tt.expected) > 0.001 {
			t.Errorf("Travel(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}
}

func TestActuator_TravelRegisterSpan(t *testing.T) {
	act := Actuator{ID: 1, Home: 2048}

	if got := act.Travel(0, 4095); math.Abs(got+100) > 0.001 {
		t.Errorf("Travel(0) = %f, want -100", got)
	}
	if got := act.Travel(4095, 4095); math.Abs(got-100) > 0.001 {
		t.Errorf("Travel(4095) = %f, want 100", got)
	}

	edge := Actuator{ID: 2, Home: 0}
	if got := edge.Travel(0, 4095); got != 0 {
		t.Errorf("Travel at home on the register edge = %f, want 0", got)
	}
}

func TestActuator_CheckGoal(t *testing.T) {
	act := Actuator{ID: 3, RangeMin: 1500, RangeMax: 2600}

	for _, pos := range []int{1500, 2048, 2600} {
		if err := act.CheckGoal(pos); err != nil {
			t.Errorf("CheckGoal(%d): unexpected error %v", pos, err)
		}
	}
	for _, pos := range []int{1499, 2601} {
		if err := act.CheckGoal(pos); !dxl.IsConfig(err) {
			t.Errorf("CheckGoal(%d): expected ConfigError, got %v", pos, err)
		}
	}

	free := Actuator{ID: 4}
	if err := free.CheckGoal(4000); err != nil {
		t.Errorf("no range: unexpected error %v", err)
	}
}

func TestActuators_ByParity(t *testing.T) {
	acts := DefaultActuators()

	if got := acts.ByParity(true, 1); !slices.Equal(got, []int{2, 4, 6}) {
		t.Errorf("even = %v, want [2 4 6]", got)
	}
	if got := acts.ByParity(false, 1); !slices.Equal(got, []int{3, 5}) {
		t.Errorf("odd excluding 1 = %v, want [3 5]", got)
	}
}

func TestActuators_ByID(t *testing.T) {
	acts := Actuators{
		{ID: 1, Home: 2048},
		{ID: 6, Home: 1710},
	}

	act, ok := acts.ByID(6)
	if !ok {
		t.Fatal("ByID(6) returned false")
	}
	if act.Home != 1710 {
		t.Errorf("ByID(6) returned wrong actuator: %+v", act)
	}

	if _, ok := acts.ByID(99); ok {
		t.Error("ByID(99) should return false")
	}

	if got := acts.IDs(); !slices.Equal(got, []int{1, 6}) {
		t.Errorf("IDs() = %v, want [1 6]", got)
	}
}

func TestActuators_CheckGoal(t *testing.T) {
	acts := Actuators{
		{ID: 1, Home: 2048},
		{ID: 2, Home: 2048, RangeMin: 1900, RangeMax: 2200},
	}

	if err := acts.CheckGoal(1, 4000); err != nil {
		t.Errorf("actuator without range: unexpected error %v", err)
	}
	if err := acts.CheckGoal(2, 2553); !dxl.IsConfig(err) {
		t.Errorf("actuator 2 at 2553: expected ConfigError, got %v", err)
	}
	if err := acts.CheckGoal(9, 4000); err != nil {
		t.Errorf("unknown actuator: unexpected error %v", err)
	}
}
