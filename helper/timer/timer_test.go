package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, &Interval{Duration: 5 * time.Millisecond}, func(ctx context.Context) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, calls, 1)
}

func TestRunKeepsGoingAfterErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	calls := 0
	err := Run(ctx, &Interval{Duration: 5 * time.Millisecond}, func(ctx context.Context) error {
		calls++
		return errors.New("send failed")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, calls, 2)
}

func TestSlowCallbackDelaysNextRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	const interval = 10 * time.Millisecond
	const work = 30 * time.Millisecond

	var starts []time.Time
	_ = Run(ctx, &Interval{Duration: interval}, func(ctx context.Context) error {
		starts = append(starts, time.Now())
		time.Sleep(work)
		return nil
	})

	require.GreaterOrEqual(t, len(starts), 2)
	for i := 1; i < len(starts); i++ {
		// The next run is scheduled only after the previous one finished
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), work+interval)
	}
}

func TestInvalidInterval(t *testing.T) {
	f := func(ctx context.Context) error { return nil }
	for _, iv := range []*Interval{
		{Duration: 0},
		{Duration: time.Second, Jitter: time.Second},
		{Duration: time.Second, Jitter: -time.Millisecond},
	} {
		assert.ErrorIs(t, Run(context.Background(), iv, f), ErrInvalidInterval)
	}
}

func TestJitterBounds(t *testing.T) {
	next := delays(&Interval{Duration: 100 * time.Millisecond, Jitter: 10 * time.Millisecond})
	for i := 0; i < 1000; i++ {
		d := next()
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.Less(t, d, 110*time.Millisecond)
	}
	assert.Equal(t, time.Second, delays(&Interval{Duration: time.Second})())
}

func TestNilInterval(t *testing.T) {
	err := Run(context.Background(), nil, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidInterval)
}
