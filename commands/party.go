package commands

import (
	"context"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"teamer/config"
	"teamer/helper/timer"
	"teamer/swarm/session"
)

// RunParty runs a party server until ctx is cancelled.
func RunParty(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	l, err := net.Listen("tcp", cfg.Party.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Party.ListenAddress, err)
	}

	opts := session.DefaultServerOptions()
	opts.BroadcastInterval = timer.Interval{Duration: cfg.Party.RosterInterval}
	opts.Terminated = cfg.Network.Terminated
	if cfg.Party.PasswordHash != "" {
		opts.PasswordHash = []byte(cfg.Party.PasswordHash)
	} else {
		log.Warn("No party password configured, accepting every client")
	}

	return session.NewServer(l, opts).Serve(ctx)
}
