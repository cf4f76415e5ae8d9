package timer

import (
	"context"
	"errors"
	"reflect"
	"runtime"
	"time"

	"github.com/lthibault/jitterbug/v2"

	log "github.com/sirupsen/logrus"
)

var ErrInvalidInterval = errors.New("invalid interval")

type Interval struct {
	Duration time.Duration
	Jitter   time.Duration
}

func (i *Interval) validate() error {
	if i == nil || i.Duration <= 0 || i.Jitter < 0 || i.Jitter >= i.Duration {
		return ErrInvalidInterval
	}
	return nil
}

// delays draws each delay uniformly from [Duration-Jitter, Duration+Jitter).
func delays(interval *Interval) func() time.Duration {
	d := interval.Duration
	if interval.Jitter == 0 {
		return func() time.Duration { return d }
	}
	j := jitterbug.Uniform{Min: d - interval.Jitter}
	return func() time.Duration { return j.Jitter(d + interval.Jitter) }
}

// Run calls f repeatedly with the given interval until the context is cancelled.
// Each run schedules the next one only after f returns, so a slow f delays later
// runs instead of piling them up or skipping them. Errors returned by f are logged
// and do not stop the loop.
func Run(ctx context.Context, interval *Interval, f func(ctx context.Context) error) error {
	if err := interval.validate(); err != nil {
		return err
	}
	return run(ctx, interval, delays(interval), f)
}

func run(ctx context.Context, interval *Interval, next func() time.Duration, f func(ctx context.Context) error) error {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
	log.Debugf("timer.Run: running %s with interval %v (jitter %v)", funcName, interval.Duration, interval.Jitter)

	t := time.NewTimer(next())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debugf("timer.Run: context cancelled for %s", funcName)
			return ctx.Err()
		case <-t.C:
			if err := f(ctx); err != nil {
				log.Errorf("timer.Run: function %s returned error: %v", funcName, err)
			}
			t.Reset(next())
		}
	}
}
