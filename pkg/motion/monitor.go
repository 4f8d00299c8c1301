package motion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gwillem/servochoreo/pkg/dxl"
)

// Default polling parameters.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxPolls     = 600
)

// PositionReader reads an actuator's present position.
type PositionReader interface {
	ReadPresentPosition(ctx context.Context, id int) (int, error)
}

// Arrival is the outcome of a successful wait.
type Arrival struct {
	Position int
	Polls    int
}

// TimeoutError is returned when an actuator does not arrive within the
// poll budget.
type TimeoutError struct {
	ID        int
	Target    int
	LastKnown int
	Known     bool // False if no poll succeeded
	Polls     int
	LastErr   error // Last failed poll, if any
}

func (e *TimeoutError) Error() string {
	last := "unknown"
	if e.Known {
		last = fmt.Sprintf("%d", e.LastKnown)
	}
	msg := fmt.Sprintf("actuator %d did not reach %d after %d polls (last position %s)", e.ID, e.Target, e.Polls, last)
	if e.LastErr != nil {
		msg += fmt.Sprintf(": %v", e.LastErr)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// Monitor polls actuators until they reach a target.
type Monitor struct {
	reader       PositionReader
	pollInterval time.Duration
	maxPolls     int
	logger       *zap.SugaredLogger
	sleep        func(ctx context.Context, d time.Duration) error
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithPollInterval sets the delay between polls.
func WithPollInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.pollInterval = d }
}

// WithMaxPolls bounds the number of polls per wait.
func WithMaxPolls(n int) MonitorOption {
	return func(m *Monitor) { m.maxPolls = n }
}

// WithLogger sets the logger used for poll traces.
func WithLogger(l *zap.SugaredLogger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// WithSleep replaces the sleep function. Tests use it to avoid real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) MonitorOption {
	return func(m *Monitor) { m.sleep = fn }
}

// NewMonitor creates a monitor reading through r.
func NewMonitor(r PositionReader, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		reader:       r,
		pollInterval: DefaultPollInterval,
		maxPolls:     DefaultMaxPolls,
		logger:       zap.NewNop().Sugar(),
		sleep:        Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxPolls returns the poll budget per wait.
func (m *Monitor) MaxPolls() int {
	return m.maxPolls
}

// PollInterval returns the delay between polls.
func (m *Monitor) PollInterval() time.Duration {
	return m.pollInterval
}

// Wait sleeps for one poll interval.
func (m *Monitor) Wait(ctx context.Context) error {
	return m.sleep(ctx, m.pollInterval)
}

// WaitUntilArrived polls id until |target - present| <= tolerance.
//
// Failed reads count as polls. After MaxPolls polls without arrival it
// returns a *TimeoutError. Cancellation is checked between polls.
func (m *Monitor) WaitUntilArrived(ctx context.Context, id, target, tolerance int) (Arrival, error) {
	if m.maxPolls < 1 {
		return Arrival{}, &dxl.ConfigError{Field: "max_polls", Value: m.maxPolls, Err: dxl.ErrOutOfRange}
	}
	if tolerance < 0 {
		return Arrival{}, &dxl.ConfigError{Field: "tolerance", Value: tolerance, Err: dxl.ErrOutOfRange}
	}

	timeout := &TimeoutError{ID: id, Target: target}

	for poll := 1; poll <= m.maxPolls; poll++ {
		if err := ctx.Err(); err != nil {
			return Arrival{}, err
		}

		present, err := m.reader.ReadPresentPosition(ctx, id)
		switch {
		case err == nil:
			timeout.LastKnown, timeout.Known = present, true
			m.logger.Debugw("poll", "id", id, "goal", target, "present", present, "poll", poll)
			if abs(target-present) <= tolerance {
				return Arrival{Position: present, Polls: poll}, nil
			}
		case ctx.Err() != nil:
			return Arrival{}, ctx.Err()
		case dxl.IsConfig(err):
			return Arrival{}, err
		case dxl.IsDevice(err):
			timeout.LastErr = err
			m.logger.Warnw("device fault while polling", "id", id, "poll", poll, "error", err)
		default:
			timeout.LastErr = err
			m.logger.Debugw("poll failed", "id", id, "poll", poll, "error", err)
		}

		timeout.Polls = poll
		if poll == m.maxPolls {
			break
		}
		if err := m.sleep(ctx, m.pollInterval); err != nil {
			return Arrival{}, err
		}
	}

	return Arrival{}, timeout
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
