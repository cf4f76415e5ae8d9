package commands

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"

	log "github.com/sirupsen/logrus"

	"teamer/config"
	"teamer/helper/timer"
	"teamer/swarm/session"
)

// RunSession keeps a party session up, reconnecting after disconnects, until ctx
// is cancelled or a handshake is refused.
func RunSession(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := session.DefaultOptions()
	opts.HandshakeTimeout = cfg.Session.HandshakeTimeout
	opts.PollInterval = timer.Interval{Duration: cfg.Session.PollInterval}
	opts.Terminated = cfg.Network.Terminated

	src := staticState(cfg)

	err := retry.Do(func() error {
		c, err := session.Dial(ctx, cfg.Session.Address, cfg.Session.Password, cfg.Player.Name, opts)
		if err != nil {
			var he *session.HandshakeError
			if errors.As(err, &he) {
				return retry.Unrecoverable(err)
			}
			return err
		}
		return c.Run(ctx, src)
	},
		retry.Context(ctx),
		retry.Attempts(cfg.Session.RetryAttempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(30*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("Session attempt %d failed: %v", n+1, err)
		}),
	)

	if ctx.Err() != nil {
		return nil
	}
	return err
}
