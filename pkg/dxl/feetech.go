package dxl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// FeetechTransport implements Transport on top of a feetech.Bus.
//
// The Feetech STS packet format is the Dynamixel Protocol 1.0 format
// (0xFF 0xFF header, ID, length, instruction, parameters, inverted
// checksum, little-endian words), so feetech.Bus frames MX series traffic
// without modification.
type FeetechTransport struct {
	bus *feetech.Bus
}

// NewFeetechTransport wraps an already opened feetech bus.
func NewFeetechTransport(bus *feetech.Bus) *FeetechTransport {
	return &FeetechTransport{bus: bus}
}

// FeetechConfig configures OpenFeetech.
type FeetechConfig struct {
	// Transport overrides the serial port, e.g. a scripted port in tests.
	Transport feetech.Transport

	Port     string
	BaudRate int

	// Timeout bounds a single reply. Default is 100ms.
	Timeout time.Duration
}

// OpenFeetech opens the serial port and builds a Protocol 1.0 transport on it.
func OpenFeetech(cfg FeetechConfig) (*FeetechTransport, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 100 * time.Millisecond
	}

	port := cfg.Transport
	if port == nil {
		sp, err := OpenSerial(SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		port = sp
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Transport: port,
		Protocol:  feetech.ProtocolSTS,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("open bus: %w", err)
	}

	return NewFeetechTransport(bus), nil
}

// Read implements Transport.
func (t *FeetechTransport) Read(ctx context.Context, id int, addr byte, size int) ([]byte, error) {
	data, err := t.bus.ReadRegister(ctx, id, addr, size)
	if err != nil {
		return nil, classify(id, "read", err)
	}
	if len(data) != size {
		return nil, &CommError{ID: id, Op: "read", Err: fmt.Errorf("malformed reply: got %d bytes, want %d", len(data), size)}
	}
	return data, nil
}

// Write implements Transport.
func (t *FeetechTransport) Write(ctx context.Context, id int, addr byte, data []byte) error {
	if err := t.bus.WriteRegister(ctx, id, addr, data); err != nil {
		return classify(id, "write", err)
	}
	return nil
}

// Close closes the underlying bus and port.
func (t *FeetechTransport) Close() error {
	return t.bus.Close()
}

// classify maps feetech errors onto the CommError/DeviceError taxonomy.
func classify(id int, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var status feetech.StatusError
	if errors.As(err, &status) && status.HasError() {
		return &DeviceError{ID: id, Op: op, Code: byte(status)}
	}
	if servoErr, ok := feetech.GetServoError(err); ok && servoErr.Status.HasError() {
		return &DeviceError{ID: id, Op: op, Code: byte(servoErr.Status)}
	}

	return &CommError{ID: id, Op: op, Err: err}
}
