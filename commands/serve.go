package commands

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"

	"teamer/config"
	"teamer/datastore/leveldb"
	"teamer/helper/resolver"
	"teamer/helper/timer"
	"teamer/net/feed"
	"teamer/net/transport"
	"teamer/swarm/presence"
)

func transportOptions(cfg *config.Config) (transport.Options, error) {
	opts := transport.Options{
		BindAddress: cfg.Network.BindAddress,
		Port:        cfg.Network.Port,
	}

	host, _, err := net.SplitHostPort(cfg.Network.DiscoveryAddress)
	if err != nil {
		return opts, fmt.Errorf("invalid discovery address %q: %w", cfg.Network.DiscoveryAddress, err)
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsMulticast() {
		opts.Group = ip
		if cfg.Network.MulticastInterface != "" {
			ifi, err := net.InterfaceByName(cfg.Network.MulticastInterface)
			if err != nil {
				return opts, fmt.Errorf("multicast interface %q: %w", cfg.Network.MulticastInterface, err)
			}
			opts.Interface = ifi
		}
	}
	return opts, nil
}

func presenceOptions(cfg *config.Config) presence.Options {
	opts := presence.DefaultOptions()
	opts.DiscoveryAddress = cfg.Network.DiscoveryAddress
	opts.PeerPort = cfg.Network.Port
	opts.Timeout = cfg.Presence.Timeout
	opts.BroadcastInterval = timer.Interval{Duration: cfg.Presence.BroadcastInterval, Jitter: cfg.Presence.Jitter}
	opts.SweepInterval = timer.Interval{Duration: cfg.Presence.SweepInterval, Jitter: cfg.Presence.Jitter}
	opts.SendLegacy = cfg.Network.SendLegacy
	opts.AcceptLegacy = cfg.Network.AcceptLegacy
	opts.Terminated = cfg.Network.Terminated
	return opts
}

// RunServe runs the presence service with the address book peers, and the roster
// feed when configured, until ctx is cancelled.
func RunServe(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	book, err := leveldb.NewAddressBook(cfg.DataStore.AddressBookPath)
	if err != nil {
		return fmt.Errorf("failed to open address book: %w", err)
	}
	entries, err := book.Enumerate()
	book.Close()
	if err != nil {
		return fmt.Errorf("failed to read address book: %w", err)
	}

	topts, err := transportOptions(cfg)
	if err != nil {
		return err
	}
	tr, err := transport.New(ctx, topts)
	if err != nil {
		return err
	}

	res := resolver.New(resolver.Options{ResolveHostnames: cfg.Network.ResolveHostnames})
	svc := presence.New(tr, res, staticState(cfg), presenceOptions(cfg))

	for _, e := range entries {
		if _, err := svc.AddPeer(ctx, e.Address.String()); err != nil {
			log.Warnf("Skipping address book entry %s: %v", e.Address, err)
		}
	}

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return svc.Run(cctx)
	})

	if cfg.Feed.ListenAddress != "" {
		wg.Go(func() error {
			return feed.New(svc.Registry(), cfg.Feed.PushInterval).Serve(cctx, cfg.Feed.ListenAddress)
		})
	}

	log.Infof("Announcing %q to %s", cfg.Player.Name, cfg.Network.DiscoveryAddress)

	return wg.Wait()
}
