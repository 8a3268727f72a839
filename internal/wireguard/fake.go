package wireguard

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Fake is an in-memory Device used by tests across the repository.
// Its knobs simulate the failure modes of the real tool.
type Fake struct {
	mu    sync.Mutex
	peers map[string]Peer

	// Keys, when non-empty, are handed out in order before falling back to native generation.
	Keys []Keypair
	// KeygenErr makes GenerateKeypair fail.
	KeygenErr error
	// RegisterErr makes RegisterPeer fail without touching the table.
	RegisterErr error
	// SilentRegister makes RegisterPeer report success without adding the peer.
	SilentRegister bool
	// ListErr makes ListActivePeers fail.
	ListErr error
	// RemoveErr makes RemovePeer fail.
	RemoveErr error

	Registered []string
	Removed    []string
}

func NewFake() *Fake {
	return &Fake{peers: make(map[string]Peer)}
}

// AddPeer seeds a peer that exists on the interface but not in the registry.
func (f *Fake) AddPeer(p Peer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[p.PublicKey] = p
}

func (f *Fake) HasPeer(publicKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.peers[publicKey]
	return ok
}

func (f *Fake) PeerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *Fake) GenerateKeypair(ctx context.Context) (Keypair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.KeygenErr != nil {
		return Keypair{}, fmt.Errorf("%w: %v", ErrKeyGeneration, f.KeygenErr)
	}
	if len(f.Keys) > 0 {
		kp := f.Keys[0]
		f.Keys = f.Keys[1:]
		return kp, nil
	}
	return GenerateNativeKeypair()
}

func (f *Fake) ListActivePeers(ctx context.Context) ([]Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]Peer, 0, len(f.peers))
	for _, p := range f.peers {
		p.AllowedIPs = slices.Clone(p.AllowedIPs)
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Peer) int {
		if a.PublicKey < b.PublicKey {
			return -1
		}
		if a.PublicKey > b.PublicKey {
			return 1
		}
		return 0
	})
	return out, nil
}

func (f *Fake) RegisterPeer(ctx context.Context, peer Peer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RegisterErr != nil {
		return f.RegisterErr
	}
	f.Registered = append(f.Registered, peer.PublicKey)
	if f.SilentRegister {
		return nil
	}
	f.peers[peer.PublicKey] = peer
	return nil
}

func (f *Fake) RemovePeer(ctx context.Context, publicKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	if _, ok := f.peers[publicKey]; !ok {
		return ErrPeerNotFound
	}
	delete(f.peers, publicKey)
	f.Removed = append(f.Removed, publicKey)
	return nil
}
