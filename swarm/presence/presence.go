// Package presence runs the discovery and liveness protocol.
// A Service periodically sends the local player state, first to the discovery
// address until some peer answers and then directly to every online peer. Received
// states update the registry; a sweep expires peers that went quiet.
package presence

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"

	"teamer/datamodel/peer"
	"teamer/helper/resolver"
	"teamer/helper/timer"
	"teamer/net/transport"
	"teamer/swarm/protocol"
	"teamer/swarm/registry"
)

type Phase int32

const (
	Idle Phase = iota
	Discovering
	Active
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Discovering:
		return "discovering"
	case Active:
		return "active"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// WorldSink receives world snapshots. They are forwarded as is and don't affect
// the registry.
type WorldSink interface {
	WorldSnapshot(from peer.Address, payload []byte)
}

// Transport is the part of transport.Transport the service needs.
type Transport interface {
	Listen(ctx context.Context, handler transport.Handler) error
	Send(addr string, data []byte) error
	LocalAddr() *net.UDPAddr
	Close() error
}

type Options struct {
	// Where discovery messages go, a broadcast or multicast host:port
	DiscoveryAddress string

	// Port assumed for peers added without one
	PeerPort int

	Timeout           time.Duration
	BroadcastInterval timer.Interval
	SweepInterval     timer.Interval

	// Send the pipe separated text format instead of binary
	SendLegacy bool
	// Try the text format when a datagram is not a valid binary message
	AcceptLegacy bool
	// Zero-terminated strings
	Terminated bool

	WorldSink WorldSink
}

func DefaultOptions() Options {
	return Options{
		DiscoveryAddress:  fmt.Sprintf("255.255.255.255:%d", transport.DefaultPort),
		PeerPort:          transport.DefaultPort,
		Timeout:           2 * time.Second,
		BroadcastInterval: timer.Interval{Duration: 500 * time.Millisecond},
		SweepInterval:     timer.Interval{Duration: 500 * time.Millisecond},
		AcceptLegacy:      true,
	}
}

var errStopped = errors.New("transport stopped")

type Service struct {
	opts      Options
	codec     protocol.Codec
	transport Transport
	resolver  *resolver.Resolver
	registry  *registry.Registry
	source    peer.StateSource

	phase atomic.Int32
	now   func() time.Time
}

func New(tr Transport, res *resolver.Resolver, source peer.StateSource, opts Options) *Service {
	return &Service{
		opts:      opts,
		codec:     protocol.Codec{Terminated: opts.Terminated},
		transport: tr,
		resolver:  res,
		registry:  registry.New(),
		source:    source,
		now:       time.Now,
	}
}

func (s *Service) State() Phase {
	return Phase(s.phase.Load())
}

func (s *Service) setPhase(p Phase) {
	if old := Phase(s.phase.Swap(int32(p))); old != p {
		log.Infof("presence: %s -> %s", old, p)
	}
}

// transition moves from one phase to another only if from is current.
func (s *Service) transition(from, to Phase) bool {
	if !s.phase.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	log.Infof("presence: %s -> %s", from, to)
	return true
}

// Registry is for reading. Snapshots taken from it are copies.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// AddPeer registers a persistent peer given as host or host:port. The address is
// normalized the same way as datagram sources so replies match the entry.
func (s *Service) AddPeer(ctx context.Context, hostport string) (peer.Address, error) {
	addr, err := peer.ParseAddress(hostport, s.opts.PeerPort)
	if err != nil {
		return peer.Address{}, err
	}
	addr = s.resolver.Normalize(ctx, addr)
	s.registry.AddPersistent(addr)

	log.WithField("peer", addr).Info("presence: added persistent peer")
	return addr, nil
}

func (s *Service) RemovePeer(ctx context.Context, hostport string) (bool, error) {
	addr, err := peer.ParseAddress(hostport, s.opts.PeerPort)
	if err != nil {
		return false, err
	}
	return s.registry.Remove(s.resolver.Normalize(ctx, addr)), nil
}

// Run sends the first discovery message and then runs the receiver, the
// broadcaster and the sweeper until ctx is cancelled or the transport is closed.
// The transport is closed on return.
func (s *Service) Run(ctx context.Context) error {
	defer s.setPhase(Idle)
	defer s.transport.Close()

	s.setPhase(Discovering)
	s.broadcast(ctx)

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		if err := s.transport.Listen(cctx, s.handle); err != nil {
			return err
		}
		return errStopped
	})

	wg.Go(func() error {
		return timer.Run(cctx, &s.opts.BroadcastInterval, s.broadcast)
	})

	wg.Go(func() error {
		return timer.Run(cctx, &s.opts.SweepInterval, s.sweep)
	})

	err := wg.Wait()
	if errors.Is(err, errStopped) || ctx.Err() != nil {
		return nil
	}
	return err
}

// Close stops a running service.
func (s *Service) Close() error {
	return s.transport.Close()
}

func (s *Service) encodeLocal() ([]byte, error) {
	state := s.source.LocalState()
	if s.opts.SendLegacy {
		return protocol.EncodeLegacy(state), nil
	}
	return s.codec.Encode(&protocol.StateMessage{State: state})
}

func (s *Service) targets() []string {
	var peers []registry.Peer
	var out []string

	if s.State() == Active {
		peers = s.registry.SnapshotOnline()
	} else {
		out = append(out, s.opts.DiscoveryAddress)
		peers = s.registry.SnapshotPersistent()
	}

	for _, p := range peers {
		out = append(out, p.Address.String())
	}
	return out
}

// Send failures are logged; one bad target doesn't affect the others.
func (s *Service) broadcast(ctx context.Context) error {
	msg, err := s.encodeLocal()
	if err != nil {
		return fmt.Errorf("failed to encode local state: %w", err)
	}

	for _, target := range s.targets() {
		if err := s.transport.Send(target, msg); err != nil {
			log.WithField("peer", target).Warnf("presence: send failed: %v", err)
		}
	}
	return nil
}

func (s *Service) sweep(ctx context.Context) error {
	res := s.registry.Sweep(s.now(), s.opts.Timeout)
	for _, addr := range res.Expired {
		log.WithField("peer", addr).Info("presence: peer expired")
	}
	for _, addr := range res.Offline {
		log.WithField("peer", addr).Info("presence: peer offline")
	}

	// A peer upserted after the count sees Discovering, or shows up in the
	// second count
	if s.registry.OnlineCount() == 0 && s.transition(Active, Discovering) {
		if s.registry.OnlineCount() > 0 {
			s.transition(Discovering, Active)
		}
	}
	return nil
}

// A datagram is ours if it comes from our port on one of our addresses
func (s *Service) isSelf(src *net.UDPAddr, addr peer.Address) bool {
	if src.Port != s.transport.LocalAddr().Port {
		return false
	}
	return s.resolver.IsSelf(src.IP.String()) || s.resolver.IsSelf(addr.Host)
}

func (s *Service) decode(data []byte) (protocol.Message, error) {
	msg, err := s.codec.Decode(data)
	if err == nil || !s.opts.AcceptLegacy {
		return msg, err
	}

	state, lerr := protocol.DecodeLegacy(data)
	if lerr != nil {
		return nil, err
	}
	return &protocol.StateMessage{State: state}, nil
}

func (s *Service) handle(src *net.UDPAddr, data []byte) {
	now := s.now()
	addr := s.resolver.Address(context.Background(), src)

	if s.isSelf(src, addr) {
		return
	}

	msg, err := s.decode(data)
	if err != nil {
		log.WithField("peer", addr).Debugf("presence: dropping datagram: %v", err)
		return
	}

	switch m := msg.(type) {
	case *protocol.StateMessage:
		s.registry.Upsert(addr, m.State, now)
		s.transition(Discovering, Active)
	case *protocol.WorldSnapshotMessage:
		if s.opts.WorldSink != nil {
			s.opts.WorldSink.WorldSnapshot(addr, m.Payload)
		}
	default:
		log.WithField("peer", addr).Debugf("presence: ignoring opcode %d", msg.Opcode())
	}
}
