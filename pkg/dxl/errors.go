package dxl

import (
	"errors"
	"fmt"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// Sentinel errors describing why a value or plan was rejected.
var (
	ErrOutOfRange    = errors.New("value out of register range")
	ErrZeroStep      = errors.New("step must not be zero")
	ErrStepDirection = errors.New("step sign does not match direction from start to end")
	ErrInvalidID     = errors.New("invalid actuator ID")
	ErrReentrant     = errors.New("re-entrant bus transaction")
)

// ConfigError reports an invalid local value. It is never retried.
type ConfigError struct {
	Field string // What was being validated (e.g., "goal_position", "step")
	Value int
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %d: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CommError reports a missing or garbled reply.
type CommError struct {
	ID  int
	Op  string
	Err error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("actuator %d %s: communication error: %v", e.ID, e.Op, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// DeviceError reports a non-zero status byte returned by an actuator.
type DeviceError struct {
	ID   int
	Op   string
	Code byte
}

func (e *DeviceError) Error() string {
	// Dynamixel 1.0 and Feetech STS share the status bit layout.
	return fmt.Sprintf("actuator %d %s: device fault 0x%02X (%s)",
		e.ID, e.Op, e.Code, feetech.StatusError(e.Code).Error())
}

// Overload reports whether the fault includes the overload bit, the usual
// sign of a mechanical problem that warrants disabling torque.
func (e *DeviceError) Overload() bool {
	return feetech.StatusError(e.Code)&feetech.ErrOverload != 0
}

// IsConfig returns true if err is or wraps a ConfigError.
func IsConfig(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsComm returns true if err is or wraps a CommError.
func IsComm(err error) bool {
	var target *CommError
	return errors.As(err, &target)
}

// IsDevice returns true if err is or wraps a DeviceError.
func IsDevice(err error) bool {
	var target *DeviceError
	return errors.As(err, &target)
}

// AsDeviceError extracts a DeviceError from an error chain, if present.
func AsDeviceError(err error) (*DeviceError, bool) {
	var target *DeviceError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
