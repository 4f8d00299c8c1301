package dxl

import (
	"context"
)

// Proxy performs typed register operations against actuators on a Bus.
// It holds no per-actuator state; every method takes the actuator ID.
type Proxy struct {
	bus   *Bus
	table ControlTable
}

// NewProxy creates a proxy using the given control table.
func NewProxy(bus *Bus, table ControlTable) *Proxy {
	return &Proxy{bus: bus, table: table}
}

// Table returns the proxy's control table.
func (p *Proxy) Table() ControlTable {
	return p.table
}

// Bus returns the serializer the proxy issues transactions on.
func (p *Proxy) Bus() *Bus {
	return p.bus
}

// Torque Control

// EnableTorque turns torque on.
func (p *Proxy) EnableTorque(ctx context.Context, id int) error {
	return p.write(ctx, id, p.table.TorqueEnable, 1)
}

// DisableTorque turns torque off.
func (p *Proxy) DisableTorque(ctx context.Context, id int) error {
	return p.write(ctx, id, p.table.TorqueEnable, 0)
}

// SetTorqueLimit writes the RAM torque limit (0-1023).
func (p *Proxy) SetTorqueLimit(ctx context.Context, id, value int) error {
	return p.write(ctx, id, p.table.TorqueLimit, value)
}

// SetMaxTorque writes the EEPROM max torque (0-1023).
func (p *Proxy) SetMaxTorque(ctx context.Context, id, value int) error {
	return p.write(ctx, id, p.table.MaxTorque, value)
}

// Position Control

// SetGoalPosition commands the actuator to move to position.
func (p *Proxy) SetGoalPosition(ctx context.Context, id, position int) error {
	return p.write(ctx, id, p.table.GoalPosition, position)
}

// ReadPresentPosition reads the current position.
func (p *Proxy) ReadPresentPosition(ctx context.Context, id int) (int, error) {
	return p.read(ctx, id, p.table.PresentPosition)
}

// ReadPresentLoad reads the current load. Negative values are clockwise.
func (p *Proxy) ReadPresentLoad(ctx context.Context, id int) (int, error) {
	raw, err := p.read(ctx, id, p.table.PresentLoad)
	if err != nil {
		return 0, err
	}
	return decodeLoad(raw), nil
}

func (p *Proxy) write(ctx context.Context, id int, reg Register, value int) error {
	if err := reg.Check(value); err != nil {
		return err
	}
	_, err := p.bus.Transact(ctx, Request{
		Op:       OpWrite,
		ID:       id,
		Register: reg,
		Data:     reg.Encode(value),
	})
	return err
}

func (p *Proxy) read(ctx context.Context, id int, reg Register) (int, error) {
	resp, err := p.bus.Transact(ctx, Request{Op: OpRead, ID: id, Register: reg})
	if err != nil {
		return 0, err
	}
	v, err := reg.Decode(resp.Data)
	if err != nil {
		return 0, &CommError{ID: id, Op: reg.Name, Err: err}
	}
	return v, nil
}
