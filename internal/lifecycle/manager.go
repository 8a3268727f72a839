// Package lifecycle provisions, retires and expires clients.
//
// Manager owns the single lock that serializes every registry read-mutate-write
// cycle. Provisioning, decommission and the sweeper all go through it, so no two
// of them can interleave between loading a snapshot and saving it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/EternisAI/wg-provisioner/internal/artifact"
	"github.com/EternisAI/wg-provisioner/internal/clients"
	"github.com/EternisAI/wg-provisioner/internal/notify"
	"github.com/EternisAI/wg-provisioner/internal/pool"
	"github.com/EternisAI/wg-provisioner/internal/registry"
	"github.com/EternisAI/wg-provisioner/internal/wireguard"
)

const DefaultKeepalive = 25 * time.Second

type Config struct {
	Server        artifact.ServerParams
	QRSize        int
	Keepalive     time.Duration
	WarningHours  []int
	RetainExpired bool
}

type Deps struct {
	Device    wireguard.Device
	Pool      *pool.Pool
	Registry  registry.Store
	Artifacts *artifact.Store
	Catalog   clients.Catalog
	Publisher notify.Publisher
}

type Manager struct {
	mu sync.Mutex

	device    wireguard.Device
	pool      *pool.Pool
	registry  registry.Store
	artifacts *artifact.Store
	catalog   clients.Catalog
	publisher notify.Publisher

	server        artifact.ServerParams
	qrSize        int
	keepalive     time.Duration
	warningHours  []int
	retainExpired bool

	now func() time.Time
}

func NewManager(cfg Config, deps Deps) *Manager {
	keepalive := cfg.Keepalive
	if keepalive <= 0 && cfg.Server.Keepalive > 0 {
		keepalive = time.Duration(cfg.Server.Keepalive) * time.Second
	}
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	server := cfg.Server
	server.Keepalive = int(keepalive / time.Second)

	// Descending and deduplicated so a sweep emits the largest threshold first.
	hours := slices.Clone(cfg.WarningHours)
	slices.SortFunc(hours, func(a, b int) int { return b - a })
	hours = slices.Compact(hours)

	publisher := deps.Publisher
	if publisher == nil {
		publisher = notify.Discard{}
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = clients.DefaultCatalog()
	}

	return &Manager{
		device:        deps.Device,
		pool:          deps.Pool,
		registry:      deps.Registry,
		artifacts:     deps.Artifacts,
		catalog:       catalog,
		publisher:     publisher,
		server:        server,
		qrSize:        cfg.QRSize,
		keepalive:     keepalive,
		warningHours:  hours,
		retainExpired: cfg.RetainExpired,
		now:           time.Now,
	}
}

// ProvisionRequest names the client and its validity. Either Plan or Duration must be set;
// an explicit Duration wins over the plan's.
type ProvisionRequest struct {
	Identity string
	Plan     string
	Duration clients.Duration
}

// Provisioned is a committed client together with the artifacts written for it.
type Provisioned struct {
	*clients.Record
	Config string
	QR     []byte
}

// Provision creates a client end to end. The record is persisted only after the peer
// is confirmed on the live interface; any failure after artifacts were written rolls
// them back before returning.
func (m *Manager) Provision(ctx context.Context, req ProvisionRequest) (*Provisioned, error) {
	if err := clients.ValidateIdentity(req.Identity); err != nil {
		return nil, err
	}
	validity, plan, err := m.catalog.Resolve(req.Plan, req.Duration)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if _, exists := snapshot[req.Identity]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateIdentity, req.Identity)
	}

	keys, err := m.device.GenerateKeypair(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyGenerationFailed, err)
	}
	if err := clients.ValidateKey(keys.PrivateKey); err != nil {
		return nil, fmt.Errorf("%w: private key: %w", ErrKeyGenerationFailed, err)
	}
	if err := clients.ValidateKey(keys.PublicKey); err != nil {
		return nil, fmt.Errorf("%w: public key: %w", ErrKeyGenerationFailed, err)
	}

	peers, err := m.device.ListActivePeers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInterfaceUnavailable, err)
	}
	address, err := m.pool.Allocate(snapshot.ActiveAddresses(), wireguard.PeerAddresses(peers))
	if err != nil {
		return nil, err
	}
	if _, onInterface := wireguard.FindPeer(peers, keys.PublicKey); onInterface || snapshot.HasPublicKey(keys.PublicKey) {
		return nil, ErrKeyCollision
	}

	config := artifact.RenderConfig(keys.PrivateKey, address, m.server)
	qr, err := artifact.RenderQR(config, m.qrSize)
	if err != nil {
		return nil, err
	}
	if err := m.artifacts.Write(req.Identity, config, qr); err != nil {
		return nil, err
	}

	// From here on external state changes; the caller can no longer abandon the sequence.
	opCtx := context.WithoutCancel(ctx)

	peer := wireguard.Peer{
		PublicKey:           keys.PublicKey,
		AllowedIPs:          []netip.Prefix{netip.PrefixFrom(address, address.BitLen())},
		PersistentKeepalive: m.keepalive,
	}
	if err := m.device.RegisterPeer(opCtx, peer); err != nil {
		m.rollback(opCtx, req.Identity, "")
		return nil, fmt.Errorf("%w: %w", ErrPeerRegistrationFailed, err)
	}
	if err := m.verifyPeer(opCtx, keys.PublicKey, address); err != nil {
		m.rollback(opCtx, req.Identity, keys.PublicKey)
		return nil, err
	}

	now := m.now().UTC().Truncate(time.Second)
	rec := &clients.Record{
		Identity:     req.Identity,
		Address:      address,
		PublicKey:    keys.PublicKey,
		PrivateKey:   keys.PrivateKey,
		ExpiresAt:    now.Add(validity),
		Plan:         plan,
		WarningFlags: clients.WarningFlags{},
		CreatedAt:    now,
	}
	snapshot[rec.Identity] = rec
	if err := m.registry.Save(opCtx, snapshot); err != nil {
		m.rollback(opCtx, req.Identity, keys.PublicKey)
		return nil, fmt.Errorf("%w: %w", ErrRegistryWrite, err)
	}

	slog.Info("Client provisioned", "client", rec)

	ev := notify.NewEvent(notify.KindProvisioned, rec.Identity, now)
	ev.Address = rec.Address.String()
	ev.ExpiresAt = rec.ExpiresAt
	m.publisher.Publish(ev)

	return &Provisioned{Record: rec.Clone(), Config: config, QR: qr}, nil
}

func (m *Manager) verifyPeer(ctx context.Context, publicKey string, address netip.Addr) error {
	peers, err := m.device.ListActivePeers(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPeerVerificationFailed, err)
	}
	peer, ok := wireguard.FindPeer(peers, publicKey)
	if !ok {
		return fmt.Errorf("%w: peer absent after registration", ErrPeerVerificationFailed)
	}
	if !peer.HasAddress(address) {
		return fmt.Errorf("%w: peer does not route %s", ErrPeerVerificationFailed, address)
	}
	return nil
}

// rollback undoes a partial provisioning. Cleanup failures are logged; the original
// error is what the caller sees.
func (m *Manager) rollback(ctx context.Context, identity, publicKey string) {
	if publicKey != "" {
		m.removePeer(ctx, identity, publicKey)
	}
	if err := m.artifacts.Remove(identity); err != nil {
		slog.Warn("Failed to remove artifacts during rollback", "identity", identity, "error", err)
	}
	slog.Warn("Provisioning rolled back", "identity", identity)
}

// removePeer revokes a peer best-effort. A peer already gone counts as removed.
func (m *Manager) removePeer(ctx context.Context, identity, publicKey string) {
	err := m.device.RemovePeer(ctx, publicKey)
	if err == nil || errors.Is(err, wireguard.ErrPeerNotFound) {
		return
	}
	slog.Warn("Failed to remove peer from interface", "identity", identity, "error", err)
}

// Decommission deletes a client unconditionally, expired or not. The registry is
// saved first; peer and artifact cleanup after that are best-effort.
func (m *Manager) Decommission(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.load(ctx)
	if err != nil {
		return err
	}
	rec, ok := snapshot[identity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, identity)
	}

	opCtx := context.WithoutCancel(ctx)
	delete(snapshot, identity)
	if err := m.registry.Save(opCtx, snapshot); err != nil {
		return fmt.Errorf("%w: %w", ErrRegistryWrite, err)
	}

	m.removePeer(opCtx, identity, rec.PublicKey)
	if err := m.artifacts.Remove(identity); err != nil {
		slog.Warn("Failed to remove artifacts", "identity", identity, "error", err)
	}

	slog.Info("Client decommissioned", "client", rec)

	ev := notify.NewEvent(notify.KindDecommissioned, identity, m.now())
	ev.Address = rec.Address.String()
	m.publisher.Publish(ev)
	return nil
}

func (m *Manager) Get(ctx context.Context, identity string) (*clients.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := snapshot[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	return rec, nil
}

// List returns every record, expired ones included, ordered by address.
func (m *Manager) List(ctx context.Context) ([]*clients.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Sorted(), nil
}

type Stats struct {
	clients.Stats
	PoolSize      int `json:"pool_size"`
	PoolAvailable int `json:"pool_available"`
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.load(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := snapshot.Stats()
	return Stats{
		Stats:         st,
		PoolSize:      m.pool.Size(),
		PoolAvailable: max(m.pool.Size()-st.Active, 0),
	}, nil
}

// Plans returns the enabled plans in catalog order.
func (m *Manager) Plans() []clients.Plan {
	out := make([]clients.Plan, 0, len(m.catalog))
	for _, p := range m.catalog {
		if !p.Disabled {
			out = append(out, p)
		}
	}
	return out
}

// Config returns the stored configuration artifact of an active client.
func (m *Manager) Config(ctx context.Context, identity string) ([]byte, error) {
	return m.readArtifact(ctx, identity, m.artifacts.ReadConfig)
}

// QR returns the stored QR artifact of an active client.
func (m *Manager) QR(ctx context.Context, identity string) ([]byte, error) {
	return m.readArtifact(ctx, identity, m.artifacts.ReadQR)
}

func (m *Manager) readArtifact(ctx context.Context, identity string, read func(string) ([]byte, error)) ([]byte, error) {
	rec, err := m.Get(ctx, identity)
	if err != nil {
		return nil, err
	}
	if rec.Expired {
		return nil, fmt.Errorf("%w: %s has expired", ErrNotFound, identity)
	}
	data, err := read(identity)
	if errors.Is(err, artifact.ErrArtifactNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return data, err
}

func (m *Manager) load(ctx context.Context) (clients.Snapshot, error) {
	snapshot, err := m.registry.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryRead, err)
	}
	if snapshot == nil {
		snapshot = clients.Snapshot{}
	}
	return snapshot, nil
}
