// Package wireguard is the narrow boundary between the provisioning core and the live
// tunnel interface. Everything the core knows about the kernel device goes through Device.
package wireguard

import (
	"context"
	"errors"
	"net/netip"
	"time"
)

var (
	ErrKeyGeneration = errors.New("key generation failed")
	ErrPeerNotFound  = errors.New("peer not found on interface")
)

// Keypair holds base64-encoded Curve25519 keys.
type Keypair struct {
	PrivateKey string
	PublicKey  string
}

// Peer is one entry of the interface's peer table.
type Peer struct {
	PublicKey           string
	AllowedIPs          []netip.Prefix
	PersistentKeepalive time.Duration
}

// HasAddress reports whether addr is routed to this peer as a single-host range.
func (p Peer) HasAddress(addr netip.Addr) bool {
	for _, pfx := range p.AllowedIPs {
		if pfx.IsSingleIP() && pfx.Addr() == addr {
			return true
		}
	}
	return false
}

// Device is the capability set the core needs from the live interface.
type Device interface {
	GenerateKeypair(ctx context.Context) (Keypair, error)
	ListActivePeers(ctx context.Context) ([]Peer, error)
	RegisterPeer(ctx context.Context, peer Peer) error
	RemovePeer(ctx context.Context, publicKey string) error
}

// PeerAddresses flattens the single-host allowed IPs of every peer.
func PeerAddresses(peers []Peer) map[netip.Addr]struct{} {
	out := make(map[netip.Addr]struct{})
	for _, p := range peers {
		for _, pfx := range p.AllowedIPs {
			if pfx.IsSingleIP() {
				out[pfx.Addr()] = struct{}{}
			}
		}
	}
	return out
}

// FindPeer returns the peer with the given public key.
func FindPeer(peers []Peer, publicKey string) (Peer, bool) {
	for _, p := range peers {
		if p.PublicKey == publicKey {
			return p, true
		}
	}
	return Peer{}, false
}
