package pool

import (
	"errors"
	"fmt"
	"net/netip"
)

var ErrExhausted = errors.New("address pool exhausted")

// Pool describes the fixed IPv4 range handed out to clients.
// The first host address is reserved for the server and never allocated.
type Pool struct {
	prefix  netip.Prefix
	gateway netip.Addr // Reserved server address
	first   netip.Addr // First allocatable host
	last    netip.Addr // Last allocatable host (inclusive)
}

// New parses an IPv4 CIDR such as "10.9.0.0/24".
// Returns an error for IPv6 ranges or ranges too small to hold a gateway and one client.
func New(cidr string) (*Pool, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid pool %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("invalid pool %q: only IPv4 ranges are supported", cidr)
	}
	if prefix.Bits() > 30 {
		return nil, fmt.Errorf("invalid pool %q: prefix must be /30 or wider", cidr)
	}
	prefix = prefix.Masked()

	network := prefix.Addr()
	gateway := network.Next()
	broadcast := lastAddr(prefix)

	return &Pool{
		prefix:  prefix,
		gateway: gateway,
		first:   gateway.Next(),
		last:    broadcast.Prev(),
	}, nil
}

// MustNew is New for static configuration in tests.
func MustNew(cidr string) *Pool {
	p, err := New(cidr)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pool) Prefix() netip.Prefix { return p.prefix }

func (p *Pool) Gateway() netip.Addr { return p.gateway }

// Size is the number of allocatable client addresses.
func (p *Pool) Size() int {
	return int(toUint32(p.last)-toUint32(p.first)) + 1
}

// Contains reports whether addr is an allocatable client address.
func (p *Pool) Contains(addr netip.Addr) bool {
	return addr.Is4() && addr.Compare(p.first) >= 0 && addr.Compare(p.last) <= 0
}

// Allocate returns the lowest allocatable address present in none of the used sets.
// It is a pure query: nothing is reserved, so callers must serialize
// allocate-then-persist themselves. Identical inputs always yield the same address.
func (p *Pool) Allocate(used ...map[netip.Addr]struct{}) (netip.Addr, error) {
	for addr := p.first; addr.Compare(p.last) <= 0; addr = addr.Next() {
		if !inAny(addr, used) {
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("%w: no free address in %s", ErrExhausted, p.prefix)
}

func inAny(addr netip.Addr, sets []map[netip.Addr]struct{}) bool {
	for _, set := range sets {
		if _, ok := set[addr]; ok {
			return true
		}
	}
	return false
}

func lastAddr(prefix netip.Prefix) netip.Addr {
	n := toUint32(prefix.Addr()) | (^uint32(0) >> prefix.Bits())
	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
}

func toUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
