// Package dxl provides typed register access to Dynamixel actuators sharing
// one half-duplex bus.
package dxl

import (
	"encoding/binary"
	"fmt"
)

// MaxID is the highest addressable actuator ID. 254 is broadcast.
const MaxID = 253

// Register describes one entry of an actuator's control table.
type Register struct {
	Name    string
	Address byte
	Size    int // 1, 2 or 4 bytes
	Max     int // Largest value accepted for writes

	// ValueSize is the number of leading bytes that carry the value when
	// an access also spans the next register. Zero means Size.
	ValueSize int
}

// Check validates v against the register's range.
func (r Register) Check(v int) error {
	if v < 0 || v > r.Max {
		return &ConfigError{
			Field: r.Name,
			Value: v,
			Err:   fmt.Errorf("%w: valid range 0-%d", ErrOutOfRange, r.Max),
		}
	}
	return nil
}

// Encode converts v into little-endian register bytes.
func (r Register) Encode(v int) []byte {
	buf := make([]byte, r.Size)
	switch r.Size {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	}
	return buf
}

// Decode converts little-endian register bytes into a value.
func (r Register) Decode(data []byte) (int, error) {
	if len(data) != r.Size {
		return 0, fmt.Errorf("%s: expected %d bytes, got %d", r.Name, r.Size, len(data))
	}
	size := r.Size
	if r.ValueSize > 0 {
		size = r.ValueSize
	}
	switch size {
	case 1:
		return int(data[0]), nil
	case 2:
		return int(binary.LittleEndian.Uint16(data)), nil
	default:
		return int(binary.LittleEndian.Uint32(data)), nil
	}
}

// ControlTable is the subset of registers the proxy uses.
type ControlTable struct {
	MaxTorque       Register
	TorqueEnable    Register
	GoalPosition    Register
	TorqueLimit     Register
	PresentPosition Register
	PresentLoad     Register
}

// ControlTableMX is the MX series table for Protocol 1.0.
var ControlTableMX = ControlTable{
	MaxTorque:       Register{Name: "max_torque", Address: 14, Size: 2, Max: 1023},
	TorqueEnable:    Register{Name: "torque_enable", Address: 24, Size: 1, Max: 1},
	GoalPosition:    Register{Name: "goal_position", Address: 30, Size: 2, Max: 4095},
	TorqueLimit:     Register{Name: "torque_limit", Address: 34, Size: 2, Max: 1023},
	PresentPosition: Register{Name: "present_position", Address: 36, Size: 2, Max: 4095},
	PresentLoad:     Register{Name: "present_load", Address: 40, Size: 2, Max: 2047},
}

// WithPositionWidth returns a copy of the table whose goal and present
// position accesses are width bytes long (2 or 4).
//
// Width 4 is legacy access that includes the speed word: a goal write also
// sets moving speed (address 32) to zero, which is maximum speed without
// speed control, and a present read also returns present speed (address
// 38). Only the low 2 bytes are decoded as the position.
func (t ControlTable) WithPositionWidth(width int) (ControlTable, error) {
	if width != 2 && width != 4 {
		return t, &ConfigError{Field: "position_width", Value: width, Err: fmt.Errorf("%w: must be 2 or 4", ErrOutOfRange)}
	}
	t.GoalPosition.Size = width
	t.PresentPosition.Size = width
	if width == 4 {
		t.GoalPosition.ValueSize = 2
		t.PresentPosition.ValueSize = 2
	}
	return t, nil
}

// decodeLoad converts the raw 11-bit load value into a signed load.
// Bit 10 is the direction; clockwise load is reported negative.
func decodeLoad(raw int) int {
	if raw > 1023 {
		return -(raw - 1024)
	}
	return raw
}
