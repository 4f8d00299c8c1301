package dxl

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// scriptedPort is a feetech.Transport that replays a canned reply and
// records every byte written to it.
type scriptedPort struct {
	ReadData  []byte
	WriteData []byte
	Closed    bool
}

var _ feetech.Transport = (*scriptedPort)(nil)

func (p *scriptedPort) Read(b []byte) (int, error) {
	n := copy(b, p.ReadData)
	p.ReadData = p.ReadData[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.WriteData = append(p.WriteData, b...)
	return len(b), nil
}

func (p *scriptedPort) Close() error {
	p.Closed = true
	return nil
}

func (p *scriptedPort) SetReadTimeout(time.Duration) error { return nil }

// Flush keeps ReadData, the reply must survive the pre-write flush.
func (p *scriptedPort) Flush() error { return nil }

func openMock(t *testing.T, mock *scriptedPort) *FeetechTransport {
	t.Helper()
	tr, err := OpenFeetech(FeetechConfig{
		Transport: mock,
		Timeout:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("OpenFeetech failed: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestFeetechTransport_Read(t *testing.T) {
	mock := &scriptedPort{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x04, 0x00, 0x00, 0x08, 0xF2}, // Position 2048
	}
	tr := openMock(t, mock)

	reg := ControlTableMX.PresentPosition
	data, err := tr.Read(context.Background(), 1, reg.Address, reg.Size)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	pos, err := reg.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pos != 2048 {
		t.Errorf("position: got %d, want 2048", pos)
	}

	// Expected: FF FF 01 04 02 24 02 D2
	if len(mock.WriteData) < 8 {
		t.Fatalf("no packet written")
	}
	if mock.WriteData[4] != feetech.InstRead {
		t.Errorf("wrong instruction: got %02X, want %02X", mock.WriteData[4], feetech.InstRead)
	}
	if mock.WriteData[5] != reg.Address {
		t.Errorf("wrong address: got %d, want %d", mock.WriteData[5], reg.Address)
	}
}

func TestFeetechTransport_WriteAck(t *testing.T) {
	mock := &scriptedPort{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC},
	}
	tr := openMock(t, mock)

	reg := ControlTableMX.GoalPosition
	if err := tr.Write(context.Background(), 1, reg.Address, reg.Encode(2048)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if mock.WriteData[4] != feetech.InstWrite {
		t.Errorf("wrong instruction: got %02X, want %02X", mock.WriteData[4], feetech.InstWrite)
	}
	if mock.WriteData[6] != 0x00 || mock.WriteData[7] != 0x08 {
		t.Errorf("goal bytes: got % X, want 00 08", mock.WriteData[6:8])
	}
}

func TestFeetechTransport_DeviceError(t *testing.T) {
	mock := &scriptedPort{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x02, 0x20, 0xDC}, // Overload
	}
	tr := openMock(t, mock)

	err := tr.Write(context.Background(), 1, ControlTableMX.GoalPosition.Address, []byte{0x00, 0x08})
	devErr, ok := AsDeviceError(err)
	if !ok {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if devErr.Code != 0x20 {
		t.Errorf("code: got 0x%02X, want 0x20", devErr.Code)
	}
	if !devErr.Overload() {
		t.Error("expected overload flag")
	}
	if IsComm(err) {
		t.Error("device fault must not be classified as communication error")
	}
}

func TestFeetechTransport_NoResponse(t *testing.T) {
	tr := openMock(t, &scriptedPort{})

	_, err := tr.Read(context.Background(), 3, ControlTableMX.PresentPosition.Address, 2)
	if !IsComm(err) {
		t.Fatalf("expected CommError, got %v", err)
	}
	if !errors.Is(err, feetech.ErrNoResponse) {
		t.Errorf("expected wrapped ErrNoResponse, got %v", err)
	}
}

func TestFeetechTransport_BadChecksum(t *testing.T) {
	mock := &scriptedPort{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x04, 0x00, 0x00, 0x08, 0x00},
	}
	tr := openMock(t, mock)

	_, err := tr.Read(context.Background(), 1, ControlTableMX.PresentPosition.Address, 2)
	if !IsComm(err) {
		t.Fatalf("expected CommError, got %v", err)
	}
}

func TestFeetechTransport_CloseClosesPort(t *testing.T) {
	port := &scriptedPort{}
	tr, err := OpenFeetech(FeetechConfig{Transport: port})
	if err != nil {
		t.Fatalf("OpenFeetech failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !port.Closed {
		t.Error("port left open after Close")
	}
}
