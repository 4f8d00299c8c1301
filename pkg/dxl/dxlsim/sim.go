// Package dxlsim provides a simulated actuator bus for tests and dry runs.
package dxlsim

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/servochoreo/pkg/dxl"
)

// ErrNoActuator is returned for IDs that are not on the simulated bus.
var ErrNoActuator = errors.New("no response from actuator")

// Actuator is the simulated state of one actuator.
type Actuator struct {
	ID          int
	Goal        int
	Present     int
	Load        int
	Torque      bool
	TorqueLimit int
	MaxTorque   int
	Stalled     bool
}

// Transaction records one call made on the simulated bus.
type Transaction struct {
	Op    dxl.Op
	ID    int
	Addr  byte
	Value int
}

// Bus implements dxl.Transport with simulated actuators. Every present
// position read moves a torqued actuator up to Slew units toward its goal.
type Bus struct {
	table   dxl.ControlTable
	slew    int
	latency time.Duration

	inflight   atomic.Int32
	violations atomic.Int64

	mu        sync.Mutex
	actuators map[int]*Actuator
	failReads map[int]int
	faults    map[int]byte
	log       []Transaction
}

// Option configures a simulated bus.
type Option func(*Bus)

// WithSlew sets how far an actuator moves per position read.
func WithSlew(units int) Option {
	return func(b *Bus) { b.slew = units }
}

// WithLatency makes every transaction take at least d.
func WithLatency(d time.Duration) Option {
	return func(b *Bus) { b.latency = d }
}

// New creates a bus with one actuator per entry in positions, each
// resting at the given position with torque disabled.
func New(table dxl.ControlTable, positions map[int]int, opts ...Option) *Bus {
	b := &Bus{
		table:     table,
		slew:      50,
		actuators: make(map[int]*Actuator, len(positions)),
		failReads: make(map[int]int),
		faults:    make(map[int]byte),
	}
	for id, pos := range positions {
		b.actuators[id] = &Actuator{ID: id, Goal: pos, Present: pos, TorqueLimit: 1023, MaxTorque: 1023}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Read implements dxl.Transport.
func (b *Bus) Read(ctx context.Context, id int, addr byte, size int) ([]byte, error) {
	b.enter()
	defer b.exit()

	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.actuators[id]
	if !ok {
		return nil, &dxl.CommError{ID: id, Op: "read", Err: ErrNoActuator}
	}
	if n := b.failReads[id]; n > 0 {
		b.failReads[id] = n - 1
		return nil, &dxl.CommError{ID: id, Op: "read", Err: ErrNoActuator}
	}
	if code := b.faults[id]; code != 0 {
		return nil, &dxl.DeviceError{ID: id, Op: "read", Code: code}
	}

	var v int
	switch addr {
	case b.table.PresentPosition.Address:
		b.advance(a)
		v = a.Present
	case b.table.GoalPosition.Address:
		v = a.Goal
	case b.table.PresentLoad.Address:
		v = a.Load
		if v < 0 {
			v = -v + 1024
		}
	case b.table.TorqueEnable.Address:
		if a.Torque {
			v = 1
		}
	case b.table.TorqueLimit.Address:
		v = a.TorqueLimit
	case b.table.MaxTorque.Address:
		v = a.MaxTorque
	default:
		return nil, &dxl.DeviceError{ID: id, Op: "read", Code: 0x08}
	}

	b.log = append(b.log, Transaction{Op: dxl.OpRead, ID: id, Addr: addr, Value: v})
	return encode(v, size), nil
}

// Write implements dxl.Transport.
func (b *Bus) Write(ctx context.Context, id int, addr byte, data []byte) error {
	b.enter()
	defer b.exit()

	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.actuators[id]
	if !ok {
		return &dxl.CommError{ID: id, Op: "write", Err: ErrNoActuator}
	}
	if code := b.faults[id]; code != 0 {
		return &dxl.DeviceError{ID: id, Op: "write", Code: code}
	}

	v := decode(data)
	switch addr {
	case b.table.GoalPosition.Address:
		a.Goal = v
	case b.table.TorqueEnable.Address:
		a.Torque = v != 0
	case b.table.TorqueLimit.Address:
		a.TorqueLimit = v
	case b.table.MaxTorque.Address:
		a.MaxTorque = v
	default:
		return &dxl.DeviceError{ID: id, Op: "write", Code: 0x08}
	}

	b.log = append(b.log, Transaction{Op: dxl.OpWrite, ID: id, Addr: addr, Value: v})
	return nil
}

// advance moves a toward its goal. Caller holds b.mu.
func (b *Bus) advance(a *Actuator) {
	if !a.Torque || a.Stalled {
		a.Load = 0
		return
	}
	diff := a.Goal - a.Present
	switch {
	case diff > b.slew:
		a.Present += b.slew
	case diff < -b.slew:
		a.Present -= b.slew
	default:
		a.Present = a.Goal
	}
	// Load roughly follows the remaining error, capped at the torque limit.
	a.Load = min(max(diff, -a.TorqueLimit), a.TorqueLimit)
}

func (b *Bus) enter() {
	if b.inflight.Add(1) > 1 {
		b.violations.Add(1)
	}
	if b.latency > 0 {
		time.Sleep(b.latency)
	}
}

func (b *Bus) exit() {
	b.inflight.Add(-1)
}

// Violations returns how many calls started while another was in flight.
func (b *Bus) Violations() int64 {
	return b.violations.Load()
}

// Actuator returns a copy of the actuator state.
func (b *Bus) Actuator(id int) (Actuator, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.actuators[id]
	if !ok {
		return Actuator{}, false
	}
	return *a, true
}

// Stall freezes or releases an actuator.
func (b *Bus) Stall(id int, stalled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.actuators[id]; ok {
		a.Stalled = stalled
	}
}

// FailReads makes the next n reads from id fail with a CommError.
func (b *Bus) FailReads(id, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failReads[id] = n
}

// SetFault makes every transaction with id return a DeviceError with code.
// A zero code clears the fault.
func (b *Bus) SetFault(id int, code byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[id] = code
}

// Log returns a copy of every successful transaction so far.
func (b *Bus) Log() []Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Transaction, len(b.log))
	copy(out, b.log)
	return out
}

// ResetLog clears the transaction log.
func (b *Bus) ResetLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = nil
}

// Close implements io.Closer.
func (b *Bus) Close() error {
	return nil
}

func encode(v, size int) []byte {
	buf := make([]byte, size)
	switch size {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	}
	return buf
}

func decode(data []byte) int {
	switch len(data) {
	case 1:
		return int(data[0])
	case 2:
		return int(binary.LittleEndian.Uint16(data))
	case 4:
		return int(binary.LittleEndian.Uint32(data))
	}
	return 0
}
