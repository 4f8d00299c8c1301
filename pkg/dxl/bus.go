package dxl

import (
	"context"
	"fmt"
	"sync"
)

// Transport performs raw register transactions on the physical bus.
// Implementations do not need to be safe for concurrent use; Bus
// guarantees that at most one call is in flight.
type Transport interface {
	// Read reads size bytes starting at addr on actuator id.
	Read(ctx context.Context, id int, addr byte, size int) ([]byte, error)

	// Write writes data starting at addr on actuator id.
	Write(ctx context.Context, id int, addr byte, data []byte) error
}

// Op is the kind of a bus transaction.
type Op int

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// Request is a single addressed read or write.
type Request struct {
	Op       Op
	ID       int
	Register Register
	Data     []byte // Write payload; ignored for reads
}

// Response carries the bytes returned by a read.
type Response struct {
	Data []byte
}

// Bus serializes transactions onto one Transport.
type Bus struct {
	transport Transport

	mu     sync.Mutex
	count  uint64
	closed bool
}

// NewBus wraps a transport.
func NewBus(t Transport) *Bus {
	return &Bus{transport: t}
}

// Transact blocks until the bus is free and performs exactly one
// transaction. Failures are returned unchanged.
func (b *Bus) Transact(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if req.ID < 0 || req.ID > MaxID {
		return Response{}, &ConfigError{Field: "id", Value: req.ID, Err: ErrInvalidID}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Response{}, &CommError{ID: req.ID, Op: req.Register.Name, Err: fmt.Errorf("bus is closed")}
	}
	b.count++

	switch req.Op {
	case OpWrite:
		return Response{}, b.transport.Write(ctx, req.ID, req.Register.Address, req.Data)
	default:
		data, err := b.transport.Read(ctx, req.ID, req.Register.Address, req.Register.Size)
		return Response{Data: data}, err
	}
}

// Transactions returns the number of transactions issued so far.
func (b *Bus) Transactions() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Close marks the bus closed. Subsequent transactions fail with a
// CommError. The transport itself is closed by its owner.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
