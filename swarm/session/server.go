package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"

	"teamer/helper/timer"
	"teamer/net/framed"
	"teamer/swarm/protocol"
	"teamer/token"
)

type ServerOptions struct {
	// bcrypt hash of the party password. Empty means any password is accepted.
	PasswordHash []byte

	// How often the full roster is pushed to every session
	BroadcastInterval timer.Interval

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	Terminated bool

	// Upper bound on concurrent sessions. Zero means as many as one roster
	// frame can carry.
	MaxSessions int
}

func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		BroadcastInterval: timer.Interval{Duration: 200 * time.Millisecond},
		HandshakeTimeout:  5 * time.Second,
		WriteTimeout:      2 * time.Second,
	}
}

// HashPassword returns the bcrypt hash stored in the party config.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

type serverSession struct {
	conn   *framed.Conn
	record protocol.PlayerRecord

	// Set once the ack is written; rosters go only to acked sessions
	acked bool
}

// Server is a party server: it authenticates clients and keeps every one of
// them up to date with the full roster.
type Server struct {
	listener net.Listener
	opts     ServerOptions
	codec    protocol.Codec

	mu       sync.Mutex
	sessions map[string]*serverSession
}

// Opcode and record count in front of the PlayerList records
const playerListHeaderSize = 1 + 4

func NewServer(listener net.Listener, opts ServerOptions) *Server {
	codec := protocol.Codec{Terminated: opts.Terminated}

	fit := (framed.MaxFrameSize - playerListHeaderSize) / codec.MaxRecordSize(token.SessionIDLength)
	if opts.MaxSessions <= 0 || opts.MaxSessions > fit {
		opts.MaxSessions = fit
	}

	return &Server{
		listener: listener,
		opts:     opts,
		codec:    codec,
		sessions: make(map[string]*serverSession),
	}
}

func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}

// Roster returns the current records ordered by session id.
func (srv *Server) Roster() []protocol.PlayerRecord {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	out := make([]protocol.PlayerRecord, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		out = append(out, s.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Serve accepts sessions and pushes the roster until ctx is cancelled. Every
// session is closed on return.
func (srv *Server) Serve(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return srv.accept(cctx)
	})

	wg.Go(func() error {
		return timer.Run(cctx, &srv.opts.BroadcastInterval, srv.broadcastRoster)
	})

	err := wg.Wait()

	srv.mu.Lock()
	for _, s := range srv.sessions {
		s.conn.Close()
	}
	srv.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (srv *Server) accept(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := srv.listener.Close(); err != nil {
			log.Warnf("session.Server: error closing listener %s: %v", srv.listener.Addr(), err)
		}
	}()

	log.Infof("session.Server: listening on %s", srv.listener.Addr())

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnf("session.Server: accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			log.Errorf("session.Server: accept error on %s: %v, stopping", srv.listener.Addr(), err)
			return err
		}

		tempDelay = 0
		go srv.serveConn(ctx, framed.NewConn(conn))
	}
}

func (srv *Server) serveConn(ctx context.Context, conn *framed.Conn) {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()

	id, name, err := srv.handshake(conn)
	if id != "" {
		defer func() {
			srv.mu.Lock()
			delete(srv.sessions, id)
			srv.mu.Unlock()
		}()
	}
	if err != nil {
		log.WithField("remote", remote).Warnf("session.Server: rejected: %v", err)
		return
	}

	log.WithField("remote", remote).Infof("session.Server: %s joined as %q", id, name)
	defer log.WithField("remote", remote).Infof("session.Server: %s left", id)

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			return
		}

		msg, err := srv.codec.Decode(f.Bytes())
		if err != nil {
			log.WithField("remote", remote).Debugf("session.Server: dropping frame: %v", err)
			continue
		}

		update, ok := msg.(*protocol.PlayerUpdateMessage)
		if !ok {
			continue
		}

		// The session id is assigned here, never taken from the client
		rec := update.Player
		rec.ID = id
		rec.Clamp()

		srv.mu.Lock()
		if s, ok := srv.sessions[id]; ok {
			s.record = rec
		}
		srv.mu.Unlock()
	}
}

var errBadPassword = errors.New("bad password")
var errNoHello = errors.New("first frame is not a hello")
var errPartyFull = errors.New("party is full")

// handshake registers the session before acknowledging it; a non-empty id is
// returned whenever a session was registered, even on error. A rejected client
// gets no reply, the connection is just closed.
func (srv *Server) handshake(conn *framed.Conn) (string, string, error) {
	if err := conn.SetDeadline(time.Now().Add(srv.opts.HandshakeTimeout)); err != nil {
		return "", "", err
	}

	f, err := conn.ReadFrame()
	if err != nil {
		return "", "", err
	}
	if f.Opcode != protocol.OpHello {
		return "", "", errNoHello
	}
	msg, err := srv.codec.Decode(f.Bytes())
	if err != nil {
		return "", "", err
	}
	hello := msg.(*protocol.HelloMessage)

	if len(srv.opts.PasswordHash) > 0 {
		if err := bcrypt.CompareHashAndPassword(srv.opts.PasswordHash, []byte(hello.Password)); err != nil {
			return "", "", errBadPassword
		}
	}

	name := protocol.ClampString(hello.Name, protocol.MaxNameLength)

	id, err := token.NewSessionID()
	if err != nil {
		return "", "", err
	}

	srv.mu.Lock()
	if len(srv.sessions) >= srv.opts.MaxSessions {
		srv.mu.Unlock()
		return "", "", errPartyFull
	}
	srv.sessions[id] = &serverSession{conn: conn, record: protocol.PlayerRecord{ID: id, Name: name}}
	srv.mu.Unlock()

	ack, err := srv.codec.Encode(&protocol.HandshakeAckMessage{SessionID: id})
	if err != nil {
		return id, "", err
	}
	if err := conn.WriteMessage(ack); err != nil {
		return id, "", err
	}

	srv.mu.Lock()
	srv.sessions[id].acked = true
	srv.mu.Unlock()

	return id, name, conn.SetDeadline(time.Time{})
}

func (srv *Server) broadcastRoster(ctx context.Context) error {
	roster := srv.Roster()
	if len(roster) == 0 {
		return nil
	}

	msg, err := srv.codec.Encode(&protocol.PlayerListMessage{Players: roster})
	if err != nil {
		return err
	}
	// Not a socket failure, so no session is dropped for it
	if len(msg) > framed.MaxFrameSize {
		return fmt.Errorf("%w: roster of %d players is %d bytes", framed.ErrFrameTooLarge, len(roster), len(msg))
	}

	srv.mu.Lock()
	conns := make([]*framed.Conn, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		if s.acked {
			conns = append(conns, s.conn)
		}
	}
	srv.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(srv.opts.WriteTimeout))
		if err := conn.WriteMessage(msg); err != nil {
			// The reader notices the closed socket and drops the session
			log.Debugf("session.Server: send to %s failed: %v", conn.RemoteAddr(), err)
			conn.Close()
		}
	}
	return nil
}
