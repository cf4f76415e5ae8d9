// Package session implements the client/server variant of the team protocol.
// A client connects to a party server over TCP, authenticates with a password,
// streams its own player record and receives the full roster in return.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"teamer/datamodel/peer"
	"teamer/helper/timer"
	"teamer/net/framed"
	"teamer/swarm/protocol"
	"teamer/token"
)

var ErrDisconnected = errors.New("session disconnected")

// HandshakeError means the server didn't accept the session. The connection is
// closed; retrying is up to the caller.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake failed: %s: %v", e.Reason, e.Err)
	}
	return "handshake failed: " + e.Reason
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// How often the inbound queue is drained and the local record sent
	PollInterval timer.Interval

	Terminated bool
}

func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     2 * time.Second,
		PollInterval:     timer.Interval{Duration: 40 * time.Millisecond},
	}
}

type Client struct {
	conn      *framed.Conn
	codec     protocol.Codec
	opts      Options
	sessionID string

	connected atomic.Bool
	closeOnce sync.Once

	mu     sync.Mutex
	roster []protocol.PlayerRecord
}

// Dial connects and performs the handshake. On any handshake failure the
// connection is closed and a *HandshakeError returned.
func Dial(ctx context.Context, addr, password, name string, opts Options) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := &Client{
		conn:  framed.NewConn(conn),
		codec: protocol.Codec{Terminated: opts.Terminated},
		opts:  opts,
	}

	if err := c.handshake(ctx, password, name); err != nil {
		conn.Close()
		return nil, err
	}

	c.connected.Store(true)
	log.Infof("session: connected to %s as %s", addr, c.sessionID)

	return c, nil
}

func (c *Client) handshake(ctx context.Context, password, name string) error {
	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return &HandshakeError{Reason: "set deadline", Err: err}
	}

	hello, err := c.codec.Encode(&protocol.HelloMessage{Password: password, Name: name})
	if err != nil {
		return &HandshakeError{Reason: "encode hello", Err: err}
	}
	if err := c.conn.WriteMessage(hello); err != nil {
		return &HandshakeError{Reason: "send hello", Err: err}
	}

	f, err := c.conn.ReadFrame()
	if err != nil {
		return &HandshakeError{Reason: "no reply", Err: err}
	}
	if f.Opcode != protocol.OpHandshakeAck {
		return &HandshakeError{Reason: fmt.Sprintf("unexpected opcode %d", f.Opcode)}
	}

	msg, err := c.codec.Decode(f.Bytes())
	if err != nil {
		return &HandshakeError{Reason: "malformed session id", Err: err}
	}
	id := msg.(*protocol.HandshakeAckMessage).SessionID
	if err := token.ValidSessionID(id); err != nil {
		return &HandshakeError{Reason: "malformed session id", Err: err}
	}
	c.sessionID = id

	return c.conn.SetDeadline(time.Time{})
}

func (c *Client) SessionID() string {
	return c.sessionID
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Roster returns a copy of the last player list received.
func (c *Client) Roster() []protocol.PlayerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]protocol.PlayerRecord, len(c.roster))
	copy(out, c.roster)
	return out
}

// Run exchanges records until ctx is cancelled or the connection fails. A reader
// goroutine queues inbound frames; every poll drains the queue and sends the
// current local state. Any read or send failure ends the session with
// ErrDisconnected. The client is closed on return.
func (c *Client) Run(ctx context.Context, src peer.StateSource) error {
	defer c.Close()

	frames := make(chan *framed.Frame, 64)
	readErr := make(chan error, 1)
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.readLoop(pctx.Done(), frames, readErr)

	var failure error
	err := timer.Run(pctx, &c.opts.PollInterval, func(ctx context.Context) error {
		if err := c.poll(frames, readErr, src); err != nil {
			failure = err
			cancel()
		}
		return nil
	})

	if failure != nil {
		log.Warnf("session: %v", failure)
		return failure
	}
	return err
}

func (c *Client) readLoop(done <-chan struct{}, frames chan<- *framed.Frame, readErr chan<- error) {
	for {
		f, err := c.conn.ReadFrame()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- f:
		case <-done:
			return
		}
	}
}

func (c *Client) poll(frames <-chan *framed.Frame, readErr <-chan error, src peer.StateSource) error {
	for drained := false; !drained; {
		select {
		case f := <-frames:
			c.apply(f)
		default:
			drained = true
		}
	}

	select {
	case err := <-readErr:
		c.disconnect()
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	default:
	}

	if err := c.sendState(src.LocalState()); err != nil {
		c.disconnect()
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	return nil
}

func (c *Client) apply(f *framed.Frame) {
	msg, err := c.codec.Decode(f.Bytes())
	if err != nil {
		log.Debugf("session: dropping frame: %v", err)
		return
	}

	switch m := msg.(type) {
	case *protocol.PlayerListMessage:
		c.mu.Lock()
		c.roster = m.Players
		c.mu.Unlock()
	case *protocol.PlayerUpdateMessage:
		c.updateRecord(m.Player)
	default:
		log.Debugf("session: ignoring opcode %d", f.Opcode)
	}
}

func (c *Client) updateRecord(rec protocol.PlayerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.roster {
		if c.roster[i].ID == rec.ID {
			c.roster[i] = rec
			return
		}
	}
	c.roster = append(c.roster, rec)
}

func (c *Client) sendState(s peer.State) error {
	msg, err := c.codec.Encode(&protocol.PlayerUpdateMessage{Player: protocol.PlayerRecord{
		ID:    c.sessionID,
		Name:  s.Name,
		X:     s.X,
		Y:     s.Y,
		Mass:  s.Mass,
		Alive: true,
		Token: s.Token,
	}})
	if err != nil {
		return err
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(msg)
}

func (c *Client) disconnect() {
	if c.connected.Swap(false) {
		log.Infof("session: %s disconnected", c.sessionID)
	}
	c.Close()
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		err = c.conn.Close()
	})
	return err
}
