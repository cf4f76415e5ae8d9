// Package resolver normalizes peer source addresses into registry keys.
// A source IP is reverse-resolved to a host name when possible and falls back to
// the literal IP when the lookup fails. Results are kept in a cache owned by the
// Resolver instance; concurrent lookups of the same IP are coalesced.
package resolver

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"

	"teamer/datamodel/peer"
)

// LookupFunc returns host names for an IP, like net.Resolver.LookupAddr.
type LookupFunc func(ctx context.Context, ip string) ([]string, error)

// ResolutionError is returned when reverse resolution fails. The caller should use
// the raw IP as identity.
type ResolutionError struct {
	IP  string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.IP, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

type Options struct {
	// Reverse-resolve IPs to names. When false the literal IP is always the key.
	ResolveHostnames bool

	// How long a lookup result (positive or negative) is reused
	CacheTTL time.Duration

	// Upper bound for a single lookup
	LookupTimeout time.Duration

	// Names and IPs that identify this host. When nil they are detected.
	SelfIdentities []string

	Lookup LookupFunc
}

type cacheEntry struct {
	host    string
	expires time.Time
}

type Resolver struct {
	opts Options
	now  func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry

	sg   singleflight.Group
	self map[string]struct{}
}

func New(opts Options) *Resolver {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 500 * time.Millisecond
	}
	if opts.Lookup == nil {
		opts.Lookup = net.DefaultResolver.LookupAddr
	}

	identities := opts.SelfIdentities
	if identities == nil {
		identities = LocalIdentities()
	}

	r := &Resolver{
		opts:  opts,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
		self:  make(map[string]struct{}),
	}
	for _, id := range identities {
		r.self[normalizeName(id)] = struct{}{}
	}

	log.Debugf("resolver: local identities %v", identities)

	return r
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSuffix(s, "."))
}

// Host returns the identity for ip: its first reverse name, or the literal IP.
func (r *Resolver) Host(ctx context.Context, ip net.IP) string {
	raw := ip.String()
	if !r.opts.ResolveHostnames {
		return raw
	}

	r.mu.Lock()
	if e, ok := r.cache[raw]; ok && r.now().Before(e.expires) {
		r.mu.Unlock()
		return e.host
	}
	r.mu.Unlock()

	v, _, _ := r.sg.Do(raw, func() (any, error) {
		host, err := r.lookup(ctx, raw)
		if err != nil {
			log.Debugf("resolver: %v, using raw address", err)
			host = raw
		}

		r.mu.Lock()
		r.cache[raw] = cacheEntry{host: host, expires: r.now().Add(r.opts.CacheTTL)}
		r.mu.Unlock()

		return host, nil
	})

	return v.(string)
}

func (r *Resolver) lookup(ctx context.Context, raw string) (string, error) {
	lctx, cancel := context.WithTimeout(ctx, r.opts.LookupTimeout)
	defer cancel()

	names, err := r.opts.Lookup(lctx, raw)
	if err != nil {
		return "", &ResolutionError{IP: raw, Err: err}
	}
	for _, n := range names {
		if n = normalizeName(n); n != "" {
			return n, nil
		}
	}
	return "", &ResolutionError{IP: raw, Err: fmt.Errorf("no names")}
}

// Address builds the registry key of a datagram source.
func (r *Resolver) Address(ctx context.Context, src *net.UDPAddr) peer.Address {
	return peer.NewAddress(r.Host(ctx, src.IP), src.Port)
}

// Normalize maps a user supplied address to the key that messages from that peer
// will have. Literal IPs go through Host, names are kept as given.
func (r *Resolver) Normalize(ctx context.Context, addr peer.Address) peer.Address {
	if ip := net.ParseIP(addr.Host); ip != nil {
		return peer.NewAddress(r.Host(ctx, ip), addr.Port)
	}
	return peer.NewAddress(normalizeName(addr.Host), addr.Port)
}

// IsSelf reports whether host (a name or IP) is one of the local identities.
func (r *Resolver) IsSelf(host string) bool {
	_, ok := r.self[normalizeName(host)]
	return ok
}

// LocalIdentities collects the names and addresses of this host: loopback aliases,
// the hostname, every interface address and the address used for outbound traffic.
func LocalIdentities() []string {
	ids := []string{"localhost", "127.0.0.1", "::1"}

	if hostname, err := os.Hostname(); err == nil {
		ids = append(ids, hostname)
	} else {
		log.Warnf("resolver: failed to get hostname: %v", err)
	}

	if ip := outboundIP(); ip != "" {
		ids = append(ids, ip)
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		log.Warnf("resolver: failed to list interface addresses: %v", err)
		return ids
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			ids = append(ids, ipnet.IP.String())
		}
	}
	return ids
}

// Connecting a UDP socket doesn't send packets, it only selects the route
func outboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
