// Package transport implements the UDP side of the team protocol.
// A Transport owns exactly one socket bound to the well-known port. It can send to
// the broadcast address, a multicast group or any single peer, and delivers every
// received datagram to a handler on the receiving goroutine.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"

	log "github.com/sirupsen/logrus"
)

const DefaultPort = 55555

// Largest UDP payload
const maxDatagramSize = 65535

var ErrClosed = errors.New("transport is closed")

// Handler receives a datagram. data is owned by the handler.
type Handler func(src *net.UDPAddr, data []byte)

type Options struct {
	// Local address to bind, empty for all interfaces
	BindAddress string

	Port int

	// When set the socket joins this IPv4 multicast group
	Group net.IP

	// Interface used for the multicast join, nil for the system default
	Interface *net.Interface
}

type Transport struct {
	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	group  net.IP
	closed atomic.Bool
	once   sync.Once
}

// New binds the socket. Broadcast is enabled on the socket before bind.
func New(ctx context.Context, opts Options) (*Transport, error) {
	lc := net.ListenConfig{Control: enableBroadcast}

	addr := net.JoinHostPort(opts.BindAddress, strconv.Itoa(opts.Port))
	pconn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	t := &Transport{conn: pconn.(*net.UDPConn)}

	if opts.Group != nil {
		if err := t.joinGroup(opts.Group, opts.Interface); err != nil {
			t.conn.Close()
			return nil, err
		}
	}

	log.Infof("transport: listening on %s", t.conn.LocalAddr())

	return t, nil
}

func (t *Transport) joinGroup(group net.IP, ifi *net.Interface) error {
	if group.To4() == nil || !group.IsMulticast() {
		return fmt.Errorf("%s is not an IPv4 multicast group", group)
	}

	t.pc = ipv4.NewPacketConn(t.conn)
	if err := t.pc.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		return fmt.Errorf("failed to join multicast group %s: %w", group, err)
	}
	// Our own announcements are filtered by address anyway, don't bother receiving them
	if err := t.pc.SetMulticastLoopback(false); err != nil {
		log.Warnf("transport: failed to disable multicast loopback: %v", err)
	}
	if ifi != nil {
		if err := t.pc.SetMulticastInterface(ifi); err != nil {
			log.Warnf("transport: failed to set multicast interface %s: %v", ifi.Name, err)
		}
	}
	t.group = group

	log.Infof("transport: joined multicast group %s", group)
	return nil
}

func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Listen reads datagrams until ctx is cancelled or the transport is closed.
// Read errors on an open socket are logged and the loop continues.
func (t *Transport) Listen(ctx context.Context, handler Handler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}
			log.Errorf("transport: failed to read datagram: %v", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		handler(src, data)
	}
}

// Send resolves addr (host:port) and sends one datagram. Delivery is not confirmed.
func (t *Transport) Send(addr string, data []byte) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	return t.SendTo(udpAddr, data)
}

func (t *Transport) SendTo(addr *net.UDPAddr, data []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("failed to send to %s: %w", addr, err)
	}
	return nil
}

// Close leaves the multicast group and closes the socket, unblocking Listen.
// Calling it more than once is fine.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		t.closed.Store(true)
		if t.pc != nil && t.group != nil {
			t.pc.LeaveGroup(nil, &net.UDPAddr{IP: t.group})
		}
		err = t.conn.Close()
		log.Debugf("transport: closed %s", t.conn.LocalAddr())
	})
	return err
}
