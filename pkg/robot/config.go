package robot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/gwillem/servochoreo/pkg/dxl"
)

const DefaultConfigFile = "choreo.json"

// Config holds the bus, actuator and choreography configuration.
type Config struct {
	Port          string   `json:"port"`
	BaudRate      int      `json:"baud_rate"`
	PositionWidth int      `json:"position_width"`
	Timeout       Duration `json:"timeout"`

	TorqueLimit int `json:"torque_limit"`
	MaxTorque   int `json:"max_torque,omitempty"` // EEPROM, only written when set

	Tolerance    int      `json:"tolerance"`
	PollInterval Duration `json:"poll_interval"`
	MaxPolls     int      `json:"max_polls"`

	Actuators Actuators     `json:"actuators"`
	Plan      PlanConfig    `json:"plan"`
	Poses     []map[int]int `json:"poses,omitempty"`
}

// PlanConfig describes the nested choreography.
type PlanConfig struct {
	Driver DriverConfig  `json:"driver"`
	Groups []GroupConfig `json:"groups"`

	Loops         int      `json:"loops"` // 0 runs until cancelled
	Pause         Duration `json:"pause"`
	ReadSnapshots bool     `json:"read_snapshots,omitempty"`
}

// DriverConfig is the driving actuator's own trajectory.
type DriverConfig struct {
	ID    int `json:"id"`
	Start int `json:"start"`
	End   int `json:"end"`
	Step  int `json:"step"`
}

// GroupConfig selects dependent actuators, either by explicit IDs or by
// ID parity ("even" or "odd"), and gives their sweep.
type GroupConfig struct {
	Name       string `json:"name"`
	IDs        []int  `json:"ids,omitempty"`
	Parity     string `json:"parity,omitempty"`
	Home       int    `json:"home"`
	End        int    `json:"end"`
	Step       int    `json:"step"`
	Concurrent bool   `json:"concurrent,omitempty"`
}

// Duration is a time.Duration stored as a string like "100ms".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the six actuator setup: actuator 1 steps down from the
// centre while the even actuators sweep up and the odd ones sweep down.
func Default() *Config {
	return &Config{
		Port:          "/dev/ttyUSB0",
		BaudRate:      1_000_000,
		PositionWidth: 2,
		Timeout:       Duration(100 * time.Millisecond),
		TorqueLimit:   300,
		Tolerance:     20,
		PollInterval:  Duration(10 * time.Millisecond),
		MaxPolls:      600,
		Actuators:     DefaultActuators(),
		Plan: PlanConfig{
			Driver: DriverConfig{ID: 1, Start: DefaultHome, End: 1540, Step: -5},
			Groups: []GroupConfig{
				{Name: "even", Parity: "even", Home: DefaultHome, End: 2557, Step: 5},
				{Name: "odd", Parity: "odd", Home: DefaultHome, End: 1540, Step: -5},
			},
			Loops: 1,
			Pause: Duration(time.Second),
		},
		Poses: []map[int]int{
			{1: 2390, 2: 1706, 3: 2390, 4: 1706, 5: 2390, 6: 1706},
			{1: 2048, 2: 2048, 3: 2048, 4: 2048, 5: 2048, 6: 2048},
			{1: 2350, 2: 2350, 3: 2350, 4: 2350, 5: 2350, 6: 2350},
			{1: 1700, 2: 1700, 3: 1700, 4: 1700, 5: 1700, 6: 1700},
			{1: 1024, 2: 3072, 3: 1024, 4: 3072, 5: 1024, 6: 3072},
			{1: 1024, 2: 3072, 3: 1536, 4: 3072, 5: 1024, 6: 2560},
			{1: 1024, 2: 3072, 3: 1024, 4: 2560, 5: 1536, 6: 3072},
			{1: 1536, 2: 3072, 3: 1024, 4: 3072, 5: 1024, 6: 2560},
			{1: 1024, 2: 2560, 3: 1536, 4: 3072, 5: 1024, 6: 3072},
		},
	}
}

// ControlTable returns the MX control table for the configured position width.
func (c *Config) ControlTable() (dxl.ControlTable, error) {
	width := c.PositionWidth
	if width == 0 {
		width = 2
	}
	return dxl.ControlTableMX.WithPositionWidth(width)
}

// Validate checks the configuration without touching the bus.
func (c *Config) Validate() error {
	table, err := c.ControlTable()
	if err != nil {
		return err
	}
	if len(c.Actuators) == 0 {
		return errors.New("no actuators configured")
	}
	seen := make(map[int]bool, len(c.Actuators))
	for _, act := range c.Actuators {
		if act.ID < 0 || act.ID > dxl.MaxID {
			return &dxl.ConfigError{Field: "actuator id", Value: act.ID, Err: dxl.ErrInvalidID}
		}
		if seen[act.ID] {
			return &dxl.ConfigError{Field: "actuator id", Value: act.ID, Err: errors.New("duplicate")}
		}
		seen[act.ID] = true
		if err := table.GoalPosition.Check(act.Home); err != nil {
			return fmt.Errorf("actuator %d home: %w", act.ID, err)
		}
		if act.HasRange() {
			if err := table.GoalPosition.Check(act.RangeMin); err != nil {
				return fmt.Errorf("actuator %d range_min: %w", act.ID, err)
			}
			if err := table.GoalPosition.Check(act.RangeMax); err != nil {
				return fmt.Errorf("actuator %d range_max: %w", act.ID, err)
			}
		}
		if err := act.CheckGoal(act.Home); err != nil {
			return fmt.Errorf("actuator %d home: %w", act.ID, err)
		}
	}
	if err := table.TorqueLimit.Check(c.TorqueLimit); err != nil {
		return err
	}
	if err := table.MaxTorque.Check(c.MaxTorque); err != nil {
		return err
	}
	if c.Tolerance < 0 {
		return &dxl.ConfigError{Field: "tolerance", Value: c.Tolerance, Err: dxl.ErrOutOfRange}
	}
	if c.MaxPolls < 1 {
		return &dxl.ConfigError{Field: "max_polls", Value: c.MaxPolls, Err: dxl.ErrOutOfRange}
	}

	if !seen[c.Plan.Driver.ID] {
		return &dxl.ConfigError{Field: "driver id", Value: c.Plan.Driver.ID, Err: errors.New("not in actuator table")}
	}
	for _, g := range c.Plan.Groups {
		switch g.Parity {
		case "", "even", "odd":
		default:
			return fmt.Errorf("group %q: unknown parity %q", g.Name, g.Parity)
		}
		if g.Parity == "" && len(g.IDs) == 0 {
			return fmt.Errorf("group %q: needs ids or parity", g.Name)
		}
		for _, id := range g.IDs {
			if !seen[id] {
				return &dxl.ConfigError{Field: fmt.Sprintf("group %q id", g.Name), Value: id, Err: errors.New("not in actuator table")}
			}
			if id == c.Plan.Driver.ID {
				return &dxl.ConfigError{Field: fmt.Sprintf("group %q id", g.Name), Value: id, Err: errors.New("driver cannot be a dependent")}
			}
		}
	}
	if c.Plan.Loops < 0 {
		return &dxl.ConfigError{Field: "loops", Value: c.Plan.Loops, Err: dxl.ErrOutOfRange}
	}

	for i, pose := range c.Poses {
		for id, pos := range pose {
			if !seen[id] {
				return &dxl.ConfigError{Field: fmt.Sprintf("pose %d id", i), Value: id, Err: errors.New("not in actuator table")}
			}
			if err := table.GoalPosition.Check(pos); err != nil {
				return fmt.Errorf("pose %d actuator %d: %w", i, id, err)
			}
			if err := c.Actuators.CheckGoal(id, pos); err != nil {
				return fmt.Errorf("pose %d: %w", i, err)
			}
		}
	}
	return nil
}

// GroupIDs resolves a group's members in ascending ID order. The driver
// is never a member.
func (c *Config) GroupIDs(g GroupConfig) []int {
	if g.Parity != "" {
		return c.Actuators.ByParity(g.Parity == "even", c.Plan.Driver.ID)
	}
	ids := slices.Clone(g.IDs)
	slices.Sort(ids)
	return ids
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file. Missing fields
// keep their defaults.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Tables are replaced wholesale, never merged element by element.
	cfg := Default()
	cfg.Actuators, cfg.Plan.Groups, cfg.Poses = nil, nil, nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Actuators == nil {
		cfg.Actuators = DefaultActuators()
	}
	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the config file exists
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
