// Package feed serves read-only registry snapshots over HTTP and WebSocket for
// overlays and other display collaborators.
package feed

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	log "github.com/sirupsen/logrus"

	"teamer/datamodel/peer"
	"teamer/helper/timer"
	"teamer/swarm/registry"
	"teamer/token"
)

// Source is satisfied by *registry.Registry.
type Source interface {
	Snapshot() []registry.Peer
	SnapshotOnline() []registry.Peer
}

type PeerView struct {
	Address    string      `json:"address"`
	Online     bool        `json:"online"`
	Persistent bool        `json:"persistent"`
	LastSeen   *time.Time  `json:"last_seen,omitempty"`
	State      *peer.State `json:"state,omitempty"`

	// The peer is not in a private room
	FreeForAll bool `json:"free_for_all,omitempty"`
}

func viewOf(peers []registry.Peer) []PeerView {
	out := make([]PeerView, 0, len(peers))
	for _, p := range peers {
		v := PeerView{
			Address:    p.Address.String(),
			Online:     p.Online,
			Persistent: p.Persistent,
		}
		if !p.LastSeen.IsZero() {
			seen := p.LastSeen
			v.LastSeen = &seen
		}
		if s, ok := p.State(); ok {
			v.State = &s
			v.FreeForAll = token.IsFreeForAll(s.Token)
		}
		out = append(out, v)
	}
	return out
}

type Server struct {
	engine   *gin.Engine
	source   Source
	interval timer.Interval
	upgrader websocket.Upgrader
}

func New(source Source, pushInterval time.Duration) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		source:   source,
		interval: timer.Interval{Duration: pushInterval},
		upgrader: websocket.Upgrader{
			// Overlays run from file:// or other local origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/peers", s.peers)
	s.engine.GET("/peers/online", s.onlinePeers)
	s.engine.GET("/ws", s.ws)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, l)
}

// ServeListener serves on l until ctx is cancelled. Request contexts derive
// from ctx, so open WebSocket feeds end with it even though Shutdown does not
// track hijacked connections.
func (s *Server) ServeListener(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:     s.engine,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Infof("feed: listening on %s", l.Addr())
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) peers(c *gin.Context) {
	c.JSON(http.StatusOK, viewOf(s.source.Snapshot()))
}

func (s *Server) onlinePeers(c *gin.Context) {
	c.JSON(http.StatusOK, viewOf(s.source.SnapshotOnline()))
}

// ws pushes the full snapshot at every interval until the client goes away.
func (s *Server) ws(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debugf("feed: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Nothing is expected from the client, reading only notices the close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := func(ctx context.Context) error {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(viewOf(s.source.Snapshot())); err != nil {
			cancel()
			return err
		}
		return nil
	}

	if err := push(ctx); err != nil {
		return
	}
	timer.Run(ctx, &s.interval, push)
}
