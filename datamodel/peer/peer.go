package peer

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Address identifies a peer: a host (resolved name or literal IP) and a port.
// Address is comparable and is used directly as a map key.
type Address struct {
	Host string `cbor:"1,keyasint,omitempty" json:"host"`
	Port int    `cbor:"2,keyasint,omitempty" json:"port"`
}

func NewAddress(host string, port int) Address {
	return Address{Host: strings.ToLower(host), Port: port}
}

// ParseAddress accepts "host:port", or a bare host in which case defaultPort is used.
func ParseAddress(s string, defaultPort int) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port given
		host = strings.Trim(s, "[]")
		if strings.Contains(host, ":") && net.ParseIP(host) == nil {
			return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
		}
		if host == "" {
			return Address{}, fmt.Errorf("invalid address %q: empty host", s)
		}
		return NewAddress(host, defaultPort), nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Address{}, fmt.Errorf("invalid port in address %q", s)
	}
	if host == "" {
		return Address{}, fmt.Errorf("invalid address %q: empty host", s)
	}
	return NewAddress(host, port), nil
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// State is one snapshot of a player. A newer State replaces an older one as a whole.
type State struct {
	Name  string  `json:"name"`
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Token string  `json:"token"` // Party token, or token.FreeForAll
	Mass  uint32  `json:"mass"`
}

// BookEntry is a manually added peer address, kept across restarts.
type BookEntry struct {
	Address Address   `cbor:"1,keyasint"`
	Label   string    `cbor:"2,keyasint,omitempty"`
	Added   time.Time `cbor:"3,keyasint,omitempty"`
}

// AddressBook persists the addresses of manually added peers.
// Only addresses are stored, observed peer state is never written.
type AddressBook interface {
	// Get returns the entry for an address, or an error if it is unknown.
	Get(Address) (*BookEntry, error)

	// Put stores or replaces the entry for entry.Address.
	Put(*BookEntry) error

	// Delete removes the entry. Deleting an unknown address is not an error.
	Delete(Address) error

	// Enumerate returns every stored entry ordered by address.
	Enumerate() ([]*BookEntry, error)

	// Close releases the underlying storage.
	Close() error
}

// StateSource provides the local player state at send time.
type StateSource interface {
	LocalState() State
}

type StateSourceFunc func() State

func (f StateSourceFunc) LocalState() State {
	return f()
}
