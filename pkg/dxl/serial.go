package dxl

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialPort adapts a go.bug.st/serial port to feetech.Transport.
type SerialPort struct {
	port serial.Port
	name string
}

// SerialConfig holds configuration for opening a serial port.
type SerialConfig struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
}

// OpenSerial opens a serial port in 8N1 mode.
func OpenSerial(cfg SerialConfig) (*SerialPort, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port path is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1_000_000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 100 * time.Millisecond
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}

	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return &SerialPort{port: port, name: cfg.Port}, nil
}

// Name returns the port path.
func (s *SerialPort) Name() string {
	return s.name
}

func (s *SerialPort) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialPort) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialPort) Close() error {
	return s.port.Close()
}

// SetReadTimeout sets the read timeout duration.
func (s *SerialPort) SetReadTimeout(timeout time.Duration) error {
	return s.port.SetReadTimeout(timeout)
}

// Flush discards any buffered input data.
func (s *SerialPort) Flush() error {
	return s.port.ResetInputBuffer()
}
