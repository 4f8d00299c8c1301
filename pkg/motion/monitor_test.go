package motion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gwillem/servochoreo/pkg/dxl"
)

// scriptedReader returns positions (or errors) in order, repeating the
// last entry once the script is exhausted.
type scriptedReader struct {
	script []any
	calls  int
}

func (r *scriptedReader) ReadPresentPosition(ctx context.Context, id int) (int, error) {
	i := min(r.calls, len(r.script)-1)
	r.calls++
	switch v := r.script[i].(type) {
	case int:
		return v, nil
	case error:
		return 0, v
	}
	return 0, nil
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func TestMonitor_ArrivesOnFirstPollInWindow(t *testing.T) {
	tests := []struct {
		script    []any
		wantPos   int
		wantPolls int
	}{
		{[]any{2048}, 2048, 1},
		{[]any{1900, 2000, 2027, 2028}, 2028, 4},
		{[]any{2200, 2100, 2069, 2068}, 2068, 4},
		{[]any{1500, 2060, 2048}, 2060, 2},
	}

	for _, tt := range tests {
		r := &scriptedReader{script: tt.script}
		m := NewMonitor(r, WithMaxPolls(10), WithSleep(noSleep))

		got, err := m.WaitUntilArrived(context.Background(), 1, 2048, 20)
		if err != nil {
			t.Fatalf("script %v: unexpected error %v", tt.script, err)
		}
		if got.Position != tt.wantPos || got.Polls != tt.wantPolls {
			t.Errorf("script %v: got %+v, want position %d after %d polls", tt.script, got, tt.wantPos, tt.wantPolls)
		}
	}
}

func TestMonitor_TimeoutAfterExactlyMaxPolls(t *testing.T) {
	for _, maxPolls := range []int{1, 2, 7, 50} {
		r := &scriptedReader{script: []any{1000}}
		sleeps := 0
		m := NewMonitor(r,
			WithMaxPolls(maxPolls),
			WithSleep(func(ctx context.Context, d time.Duration) error {
				sleeps++
				return nil
			}),
		)

		_, err := m.WaitUntilArrived(context.Background(), 4, 2048, 20)
		var timeout *TimeoutError
		if !errors.As(err, &timeout) {
			t.Fatalf("maxPolls %d: expected TimeoutError, got %v", maxPolls, err)
		}
		if r.calls != maxPolls {
			t.Errorf("maxPolls %d: reader called %d times", maxPolls, r.calls)
		}
		if timeout.Polls != maxPolls {
			t.Errorf("maxPolls %d: timeout reports %d polls", maxPolls, timeout.Polls)
		}
		if sleeps != maxPolls-1 {
			t.Errorf("maxPolls %d: slept %d times, want %d", maxPolls, sleeps, maxPolls-1)
		}
		if !timeout.Known || timeout.LastKnown != 1000 || timeout.ID != 4 {
			t.Errorf("maxPolls %d: timeout %+v", maxPolls, timeout)
		}
	}
}

func TestMonitor_FailedPollsCount(t *testing.T) {
	commErr := &dxl.CommError{ID: 2, Op: "read", Err: errors.New("no reply")}
	devErr := &dxl.DeviceError{ID: 2, Op: "read", Code: 0x20}

	// Glitches that clear before the budget runs out are absorbed.
	r := &scriptedReader{script: []any{commErr, devErr, 2050}}
	m := NewMonitor(r, WithMaxPolls(5), WithSleep(noSleep))
	got, err := m.WaitUntilArrived(context.Background(), 2, 2048, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Polls != 3 {
		t.Errorf("polls: got %d, want 3", got.Polls)
	}

	// Persistent failures exhaust the budget.
	r = &scriptedReader{script: []any{commErr}}
	m = NewMonitor(r, WithMaxPolls(4), WithSleep(noSleep))
	_, err = m.WaitUntilArrived(context.Background(), 2, 2048, 20)
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeout.Known {
		t.Error("no poll succeeded, position must be unknown")
	}
	if r.calls != 4 {
		t.Errorf("reader called %d times, want 4", r.calls)
	}
	if !dxl.IsComm(err) {
		t.Error("timeout should wrap the last communication error")
	}
}

func TestMonitor_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &scriptedReader{script: []any{1000}}
	m := NewMonitor(r,
		WithMaxPolls(100),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			if r.calls == 3 {
				cancel()
			}
			return ctx.Err()
		}),
	)

	_, err := m.WaitUntilArrived(ctx, 1, 2048, 20)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if r.calls != 3 {
		t.Errorf("reader called %d times after cancel, want 3", r.calls)
	}
}

func TestMonitor_InvalidConfig(t *testing.T) {
	r := &scriptedReader{script: []any{2048}}

	m := NewMonitor(r, WithMaxPolls(0))
	if _, err := m.WaitUntilArrived(context.Background(), 1, 2048, 20); !dxl.IsConfig(err) {
		t.Errorf("max polls 0: expected ConfigError, got %v", err)
	}

	m = NewMonitor(r)
	if _, err := m.WaitUntilArrived(context.Background(), 1, 2048, -1); !dxl.IsConfig(err) {
		t.Errorf("negative tolerance: expected ConfigError, got %v", err)
	}
	if r.calls != 0 {
		t.Errorf("invalid config reached the bus %d times", r.calls)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return promptly")
	}
}
