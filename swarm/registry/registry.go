// Package registry tracks known peers and their liveness.
package registry

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"teamer/datamodel/peer"
)

type Peer struct {
	Address peer.Address

	state    peer.State
	hasState bool

	// Receive time of the last state, zero if none arrived yet
	LastSeen time.Time

	Online     bool
	Persistent bool
}

// State returns the last received state. ok is false until the peer sent one.
func (p *Peer) State() (peer.State, bool) {
	return p.state, p.hasState
}

type SweepResult struct {
	Expired []peer.Address // Removed from the registry
	Offline []peer.Address // Persistent, marked offline
}

func (r *SweepResult) Empty() bool {
	return len(r.Expired) == 0 && len(r.Offline) == 0
}

type Registry struct {
	mu    sync.Mutex
	peers map[peer.Address]*Peer

	// Online peers without a LastSeen that one sweep already skipped
	pending map[peer.Address]bool
}

func New() *Registry {
	return &Registry{
		peers:   make(map[peer.Address]*Peer),
		pending: make(map[peer.Address]bool),
	}
}

// Upsert records a state received from addr at now. Returns true when the peer was
// not online before.
func (r *Registry) Upsert(addr peer.Address, state peer.State, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[addr]
	if !ok {
		p = &Peer{Address: addr}
		r.peers[addr] = p
		log.WithField("peer", addr).Infof("registry: new peer %q", state.Name)
	}

	wasOnline := p.Online
	p.state = state
	p.hasState = true
	p.LastSeen = now
	p.Online = true
	delete(r.pending, addr)

	if ok && !wasOnline {
		log.WithField("peer", addr).Infof("registry: peer %q is back online", state.Name)
	}

	return !wasOnline
}

// AddPersistent registers a manually added peer. It stays offline until its first
// state arrives. An already known peer becomes persistent.
func (r *Registry) AddPersistent(addr peer.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[addr]; ok {
		p.Persistent = true
		return
	}
	r.peers[addr] = &Peer{Address: addr, Persistent: true}
}

// Remove forgets a peer regardless of persistence. Returns false if it was unknown.
func (r *Registry) Remove(addr peer.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.peers[addr]
	delete(r.peers, addr)
	delete(r.pending, addr)
	return ok
}

// Sweep applies the liveness rule to every online peer: silent for longer than
// timeout means offline when persistent and removed otherwise. Offline peers are
// left alone. An online peer that never reported is given one sweep of grace.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res SweepResult
	for addr, p := range r.peers {
		if !p.Online {
			continue
		}

		if p.LastSeen.IsZero() {
			if !r.pending[addr] {
				r.pending[addr] = true
				continue
			}
		} else if now.Sub(p.LastSeen) <= timeout {
			continue
		}

		delete(r.pending, addr)
		if p.Persistent {
			p.Online = false
			res.Offline = append(res.Offline, addr)
		} else {
			delete(r.peers, addr)
			res.Expired = append(res.Expired, addr)
		}
	}

	sortAddresses(res.Expired)
	sortAddresses(res.Offline)
	return res
}

func (r *Registry) Get(addr peer.Address) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[addr]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Snapshot returns a copy of every peer, ordered by address.
func (r *Registry) Snapshot() []Peer {
	return r.collect(func(*Peer) bool { return true })
}

func (r *Registry) SnapshotOnline() []Peer {
	return r.collect(func(p *Peer) bool { return p.Online })
}

func (r *Registry) SnapshotPersistent() []Peer {
	return r.collect(func(p *Peer) bool { return p.Persistent })
}

// OnlineCount is SnapshotOnline without the copy.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, p := range r.peers {
		if p.Online {
			n++
		}
	}
	return n
}

func (r *Registry) collect(keep func(*Peer) bool) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if keep(p) {
			out = append(out, *p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return less(out[i].Address, out[j].Address)
	})
	return out
}

func less(a, b peer.Address) bool {
	if a.Host != b.Host {
		return a.Host < b.Host
	}
	return a.Port < b.Port
}

func sortAddresses(addrs []peer.Address) {
	sort.Slice(addrs, func(i, j int) bool { return less(addrs[i], addrs[j]) })
}
