package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/wg-provisioner/internal/artifact"
	"github.com/EternisAI/wg-provisioner/internal/clients"
	"github.com/EternisAI/wg-provisioner/internal/notify"
	"github.com/EternisAI/wg-provisioner/internal/pool"
	"github.com/EternisAI/wg-provisioner/internal/registry"
	"github.com/EternisAI/wg-provisioner/internal/wireguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serverKey = "hSDwCYkwp1R0i33ctD73Wg2/Og0mOBr066SpjqqbTmo="

var epoch = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// flakyStore fails Save while saveErr is set.
type flakyStore struct {
	registry.Store
	mu      sync.Mutex
	saveErr error
}

func (s *flakyStore) Save(ctx context.Context, snapshot clients.Snapshot) error {
	s.mu.Lock()
	err := s.saveErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Save(ctx, snapshot)
}

func (s *flakyStore) failSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

type harness struct {
	manager   *Manager
	device    *wireguard.Fake
	store     *flakyStore
	artifacts *artifact.Store
	events    *notify.Recorder

	mu    sync.Mutex
	clock time.Time
}

type harnessOption func(*Config)

func retainExpired(cfg *Config) { cfg.RetainExpired = true }

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	dir := t.TempDir()

	fileStore, err := registry.NewFileStore(filepath.Join(dir, "clients.json"))
	require.NoError(t, err)
	artifacts, err := artifact.NewStore(filepath.Join(dir, "configs"))
	require.NoError(t, err)

	h := &harness{
		device:    wireguard.NewFake(),
		store:     &flakyStore{Store: fileStore},
		artifacts: artifacts,
		events:    &notify.Recorder{},
		clock:     epoch,
	}
	cfg := Config{
		Server: artifact.ServerParams{
			PublicKey:    serverKey,
			EndpointHost: "vpn.example.com",
			EndpointPort: 51820,
			DNS:          []string{"1.1.1.1"},
			AllowedIPs:   []string{"0.0.0.0/0"},
		},
		QRSize:       1,
		WarningHours: []int{24, 0, 72},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.manager = NewManager(cfg, Deps{
		Device:    h.device,
		Pool:      pool.MustNew("10.9.0.0/24"),
		Registry:  h.store,
		Artifacts: artifacts,
		Catalog:   clients.DefaultCatalog(),
		Publisher: h.events,
	})
	h.manager.now = h.now
	return h
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = h.clock.Add(d)
}

func (h *harness) provision(t *testing.T, identity string) *clients.Record {
	t.Helper()
	res, err := h.manager.Provision(context.Background(), ProvisionRequest{Identity: identity, Plan: "15d"})
	require.NoError(t, err)
	return res.Record
}

func (h *harness) snapshot(t *testing.T) clients.Snapshot {
	t.Helper()
	snap, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return snap
}

func TestProvision(t *testing.T) {
	h := newHarness(t)

	rec, err := h.manager.Provision(context.Background(), ProvisionRequest{Identity: "alice", Plan: "free"})
	require.NoError(t, err)

	assert.Equal(t, "alice", rec.Identity)
	assert.Equal(t, netip.MustParseAddr("10.9.0.2"), rec.Address)
	assert.NoError(t, clients.ValidateKey(rec.PublicKey))
	assert.NoError(t, clients.ValidateKey(rec.PrivateKey))
	assert.Equal(t, "free", rec.Plan)
	assert.Equal(t, epoch.Add(5*time.Hour), rec.ExpiresAt)
	assert.Equal(t, epoch, rec.CreatedAt)
	assert.False(t, rec.Expired)
	assert.Empty(t, rec.WarningFlags)

	stored := h.snapshot(t)["alice"]
	require.NotNil(t, stored)
	assert.Equal(t, rec.PublicKey, stored.PublicKey)
	assert.Equal(t, rec.Address, stored.Address)

	peers, err := h.device.ListActivePeers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, rec.PublicKey, peers[0].PublicKey)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.9.0.2/32")}, peers[0].AllowedIPs)
	assert.Equal(t, 25*time.Second, peers[0].PersistentKeepalive)

	conf, err := h.manager.Config(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, artifact.RenderConfig(rec.PrivateKey, rec.Address, h.manager.server), string(conf))
	assert.Contains(t, string(conf), "PersistentKeepalive = 25\n")
	assert.Equal(t, string(conf), rec.Config)

	qr, err := h.manager.QR(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), qr[:4])
	assert.Equal(t, qr, rec.QR)

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindProvisioned, events[0].Kind)
	assert.Equal(t, "10.9.0.2", events[0].Address)
}

func TestProvisionResultOutlivesDecommission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.manager.Provision(ctx, ProvisionRequest{Identity: "alice", Plan: "free"})
	require.NoError(t, err)
	require.NoError(t, h.manager.Decommission(ctx, "alice"))

	// the caller still holds what was delivered at commit time
	assert.Contains(t, res.Config, "Address = 10.9.0.2/32")
	assert.Equal(t, []byte("\x89PNG"), res.QR[:4])

	_, err = h.manager.Config(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProvisionRejectsOversizedDuration(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.Provision(context.Background(), ProvisionRequest{
		Identity: "big",
		Duration: clients.Duration{Days: 200000},
	})
	assert.ErrorIs(t, err, clients.ErrInvalidDuration)
	assert.Empty(t, h.snapshot(t))
	assert.False(t, h.artifacts.Exists("big"))
}

func TestProvisionExplicitDuration(t *testing.T) {
	h := newHarness(t)

	rec, err := h.manager.Provision(context.Background(), ProvisionRequest{
		Identity: "bob",
		Duration: clients.Duration{Days: 2, Hours: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, clients.CustomPlan, rec.Plan)
	assert.Equal(t, epoch.Add(51*time.Hour), rec.ExpiresAt)
}

func TestProvisionTruncatesTimestamps(t *testing.T) {
	h := newHarness(t)
	h.advance(1500 * time.Millisecond)

	rec := h.provision(t, "alice")
	assert.Equal(t, epoch.Add(time.Second), rec.CreatedAt)
	assert.Equal(t, 0, rec.ExpiresAt.Nanosecond())
}

func TestProvisionAssignsUniqueAscendingAddresses(t *testing.T) {
	h := newHarness(t)

	keys := map[string]bool{}
	for i := 0; i < 10; i++ {
		rec := h.provision(t, fmt.Sprintf("client%d", i))
		assert.Equal(t, netip.AddrFrom4([4]byte{10, 9, 0, byte(2 + i)}), rec.Address)
		assert.False(t, keys[rec.PublicKey], "duplicate public key")
		keys[rec.PublicKey] = true
	}
	assert.Len(t, h.snapshot(t), 10)
}

func TestProvisionSkipsAddressesOnInterface(t *testing.T) {
	h := newHarness(t)
	h.device.AddPeer(wireguard.Peer{
		PublicKey:  serverKey,
		AllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.9.0.2/32"), netip.MustParsePrefix("10.9.0.4/32")},
	})

	assert.Equal(t, netip.MustParseAddr("10.9.0.3"), h.provision(t, "a").Address)
	assert.Equal(t, netip.MustParseAddr("10.9.0.5"), h.provision(t, "b").Address)
}

func TestProvisionAfterDecommissionReusesLowestAddress(t *testing.T) {
	h := newHarness(t)
	h.provision(t, "a")
	h.provision(t, "b")
	h.provision(t, "c")

	require.NoError(t, h.manager.Decommission(context.Background(), "b"))
	assert.Equal(t, netip.MustParseAddr("10.9.0.3"), h.provision(t, "d").Address)
}

func TestProvisionRejectsInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.manager.Provision(ctx, ProvisionRequest{Identity: "bad name", Plan: "free"})
	assert.ErrorIs(t, err, clients.ErrInvalidIdentity)

	_, err = h.manager.Provision(ctx, ProvisionRequest{Identity: "alice", Plan: "lifetime"})
	assert.ErrorIs(t, err, clients.ErrUnknownPlan)

	_, err = h.manager.Provision(ctx, ProvisionRequest{Identity: "alice"})
	assert.ErrorIs(t, err, clients.ErrInvalidDuration)

	_, err = h.manager.Provision(ctx, ProvisionRequest{Identity: "alice", Duration: clients.Duration{Hours: -1}})
	assert.ErrorIs(t, err, clients.ErrInvalidDuration)

	assert.Empty(t, h.snapshot(t))
	assert.Empty(t, h.device.Registered)
}

func TestProvisionDuplicateIdentity(t *testing.T) {
	h := newHarness(t)
	first := h.provision(t, "alice")

	_, err := h.manager.Provision(context.Background(), ProvisionRequest{Identity: "alice", Plan: "30d"})
	assert.ErrorIs(t, err, ErrDuplicateIdentity)

	snap := h.snapshot(t)
	require.Len(t, snap, 1)
	assert.Equal(t, first.PublicKey, snap["alice"].PublicKey)
	assert.Equal(t, 1, h.device.PeerCount())
}

func TestProvisionKeyGenerationFailure(t *testing.T) {
	h := newHarness(t)
	h.device.KeygenErr = errors.New("wg: not found")

	_, err := h.manager.Provision(context.Background(), ProvisionRequest{Identity: "alice", Plan: "free"})
	assert.ErrorIs(t, err, ErrKeyGenerationFailed)
	assert.False(t, h.artifacts.Exists("alice"))
	assert.Empty(t, h.snapshot(t))
}

func TestProvisionMalformedKeys(t *testing.T) {
	h := newHarness(t)
	h.device.Keys = []wireguard.Keypair{{PrivateKey: "truncated", PublicKey: serverKey}}

	_, err := h.manager.Provision(context.Background(), ProvisionRequest{Identity: "alice", Plan: "free"})
	assert.ErrorIs(t, err, ErrKeyGenerationFailed)
	assert.ErrorIs(t, err, clients.ErrMalformedKey)
	assert.False(t, h.artifacts.Exists("alice"))
	assert.Empty(t, h.device.Registered)
}

func TestProvisionKeyCollision(t *testing.T) {
	h := newHarness(t)
	kp, err := wireguard.GenerateNativeKeypair()
	require.NoError(t, err)

	h.device.AddPeer(wireguard.Peer{PublicKey: kp.PublicKey})
	h.device.Keys = []wireguard.Keypair{kp}

	_, err = h.manager.Provision(context.Background(), ProvisionRequest{Identity: "alice", Plan: "free"})
	assert.ErrorIs(t, err, ErrKeyCollision)
	assert.False(t, h.artifacts.Exists("alice"))
	assert.Empty(t, h.snapshot(t))
}

func TestProvisionKeyCollisionWithRegistry(t *testing.T) {
	h := newHarness(t, retainExpired)
	rec := h.provision(t, "alice")

	// expired records still own their key
	h.advance(16 * 24 * time.Hour)
	_, err := h.manager.Sweep(context.Background())
	require.NoError(t, err)

	h.device.Keys = []wireguard.Keypair{{PrivateKey: rec.PrivateKey, PublicKey: rec.PublicKey}}
	_, err = h.manager.Provision(context.Background(), ProvisionRequest{Identity: "bob", Plan: "free"})
	assert.ErrorIs(t, err, ErrKeyCollision)
}

func TestProvisionRegistrationFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.provision(t, "alice")
	before := h.snapshot(t)
	h.device.RegisterErr = errors.New("wg: operation not permitted")

	_, err := h.manager.Provision(context.Background(), ProvisionRequest{Identity: "bob", Plan: "free"})
	assert.ErrorIs(t, err, ErrPeerRegistrationFailed)

	after := h.snapshot(t)
	assert.Len(t, after, len(before))
	assert.NotContains(t, after, "bob")
	assert.False(t, h.artifacts.Exists("bob"))
	_, statErr := os.Stat(h.artifacts.ConfigPath("bob"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, 1, h.device.PeerCount())
	assert.Equal(t, []notify.Kind{notify.KindProvisioned}, h.events.Kinds())
}

func TestProvisionSilentRegistrationFailsVerification(t *testing.T) {
	h := newHarness(t)
	h.device.SilentRegister = true

	_, err := h.manager.Provision(context.Background(), ProvisionRequest{Identity: "alice", Plan: "free"})
	assert.ErrorIs(t, err, ErrPeerVerificationFailed)
	assert.Empty(t, h.snapshot(t))
	assert.False(t, h.artifacts.Exists("alice"))
	assert.Len(t, h.device.Registered, 1)
}

func TestProvisionVerificationListFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// the first listing feeds allocation; only the post-registration one fails
	wrapped := &failingListDevice{Fake: h.device, failAfter: 1}
	h.manager.device = wrapped

	_, err := h.manager.Provision(ctx, ProvisionRequest{Identity: "alice", Plan: "free"})
	assert.ErrorIs(t, err, ErrPeerVerificationFailed)
	assert.Empty(t, h.snapshot(t))
	assert.False(t, h.artifacts.Exists("alice"))
	assert.Equal(t, 0, h.device.PeerCount(), "registered peer removed during rollback")
}

type failingListDevice struct {
	*wireguard.Fake
	calls     int
	failAfter int
}

func (d *failingListDevice) ListActivePeers(ctx context.Context) ([]wireguard.Peer, error) {
	d.calls++
	if d.calls > d.failAfter {
		return nil, errors.New("wg show: no such device")
	}
	return d.Fake.ListActivePeers(ctx)
}

func TestProvisionInterfaceUnavailable(t *testing.T) {
	h := newHarness(t)
	h.device.ListErr = errors.New("wg show: no such device")

	_, err := h.manager.Provision(context.Background(), ProvisionRequest{Identity: "alice", Plan: "free"})
	assert.ErrorIs(t, err, ErrInterfaceUnavailable)
	assert.False(t, h.artifacts.Exists("alice"))
}

func TestProvisionRegistryWriteFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.store.failSaves(errors.New("disk full"))

	_, err := h.manager.Provision(context.Background(), ProvisionRequest{Identity: "alice", Plan: "free"})
	assert.ErrorIs(t, err, ErrRegistryWrite)
	assert.Equal(t, 0, h.device.PeerCount())
	assert.False(t, h.artifacts.Exists("alice"))
	assert.Empty(t, h.events.Events())

	h.store.failSaves(nil)
	rec := h.provision(t, "alice")
	assert.Equal(t, netip.MustParseAddr("10.9.0.2"), rec.Address)
}

func TestProvisionCompletesAfterCallerCancels(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	dev := &cancellingDevice{Fake: h.device, cancel: cancel}
	h.manager.device = dev

	rec, err := h.manager.Provision(ctx, ProvisionRequest{Identity: "alice", Plan: "free"})
	require.NoError(t, err)
	assert.Equal(t, rec.PublicKey, h.snapshot(t)["alice"].PublicKey)
}

// cancellingDevice cancels the caller's context as soon as the peer is registered and
// rejects any later call made with a cancelled context.
type cancellingDevice struct {
	*wireguard.Fake
	cancel context.CancelFunc
}

func (d *cancellingDevice) RegisterPeer(ctx context.Context, p wireguard.Peer) error {
	err := d.Fake.RegisterPeer(ctx, p)
	d.cancel()
	return err
}

func (d *cancellingDevice) ListActivePeers(ctx context.Context) ([]wireguard.Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Fake.ListActivePeers(ctx)
}

func TestProvisionPoolExhausted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 253; i++ {
		_, err := h.manager.Provision(ctx, ProvisionRequest{Identity: fmt.Sprintf("c%d", i), Plan: "free"})
		require.NoError(t, err, "provision %d", i)
	}

	_, err := h.manager.Provision(ctx, ProvisionRequest{Identity: "overflow", Plan: "free"})
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Len(t, h.snapshot(t), 253)
	assert.False(t, h.artifacts.Exists("overflow"))

	addrs := map[netip.Addr]bool{}
	for _, rec := range h.snapshot(t) {
		assert.False(t, addrs[rec.Address], "address %s assigned twice", rec.Address)
		addrs[rec.Address] = true
	}
}

func TestProvisionConcurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.manager.Provision(ctx, ProvisionRequest{Identity: fmt.Sprintf("c%d", i), Plan: "15d"})
			errs <- err
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.manager.Sweep(ctx)
		errs <- err
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	snap := h.snapshot(t)
	require.Len(t, snap, 30)
	addrs := map[netip.Addr]bool{}
	keys := map[string]bool{}
	for _, rec := range snap {
		assert.False(t, addrs[rec.Address])
		assert.False(t, keys[rec.PublicKey])
		addrs[rec.Address] = true
		keys[rec.PublicKey] = true
	}
	assert.Equal(t, 30, h.device.PeerCount())
}

func TestDecommission(t *testing.T) {
	h := newHarness(t)
	rec := h.provision(t, "alice")
	h.provision(t, "bob")

	require.NoError(t, h.manager.Decommission(context.Background(), "alice"))

	snap := h.snapshot(t)
	assert.NotContains(t, snap, "alice")
	assert.Contains(t, snap, "bob")
	assert.False(t, h.artifacts.Exists("alice"))
	assert.False(t, h.device.HasPeer(rec.PublicKey))
	assert.Equal(t, notify.KindDecommissioned, h.events.Kinds()[2])

	_, err := h.manager.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecommissionNotFound(t *testing.T) {
	h := newHarness(t)
	h.provision(t, "alice")
	before := h.snapshot(t)

	err := h.manager.Decommission(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, len(before), len(h.snapshot(t)))
	assert.True(t, h.artifacts.Exists("alice"))
}

func TestDecommissionToleratesMissingPeer(t *testing.T) {
	h := newHarness(t)
	rec := h.provision(t, "alice")
	require.NoError(t, h.device.RemovePeer(context.Background(), rec.PublicKey))

	require.NoError(t, h.manager.Decommission(context.Background(), "alice"))
	assert.Empty(t, h.snapshot(t))
}

func TestDecommissionRegistryWriteFailure(t *testing.T) {
	h := newHarness(t)
	rec := h.provision(t, "alice")
	h.store.failSaves(errors.New("read-only file system"))

	err := h.manager.Decommission(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrRegistryWrite)
	assert.True(t, h.artifacts.Exists("alice"))
	assert.True(t, h.device.HasPeer(rec.PublicKey))
}

func TestDecommissionExpiredRecord(t *testing.T) {
	h := newHarness(t, retainExpired)
	h.provision(t, "alice")
	h.advance(16 * 24 * time.Hour)
	_, err := h.manager.Sweep(context.Background())
	require.NoError(t, err)
	require.True(t, h.snapshot(t)["alice"].Expired)

	require.NoError(t, h.manager.Decommission(context.Background(), "alice"))
	assert.Empty(t, h.snapshot(t))
}

func TestListAndStats(t *testing.T) {
	h := newHarness(t, retainExpired)
	ctx := context.Background()
	_, err := h.manager.Provision(ctx, ProvisionRequest{Identity: "zed", Plan: "free"})
	require.NoError(t, err)
	h.provision(t, "amy")
	_, err = h.manager.Provision(ctx, ProvisionRequest{Identity: "kim", Plan: "30d"})
	require.NoError(t, err)

	h.advance(6 * time.Hour)
	_, err = h.manager.Sweep(ctx)
	require.NoError(t, err)

	list, err := h.manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"zed", "amy", "kim"}, []string{list[0].Identity, list[1].Identity, list[2].Identity})

	st, err := h.manager.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 2, st.Active)
	assert.Equal(t, 1, st.Expired)
	assert.Equal(t, map[string]int{"free": 1, "15d": 1, "30d": 1}, st.PerPlan)
	assert.Equal(t, 253, st.PoolSize)
	assert.Equal(t, 251, st.PoolAvailable)
}

func TestPlans(t *testing.T) {
	h := newHarness(t)
	h.manager.catalog = append(clients.DefaultCatalog(), clients.Plan{Name: "old", Days: 1, Disabled: true})

	plans := h.manager.Plans()
	require.Len(t, plans, 3)
	assert.Equal(t, "free", plans[0].Name)
	assert.Equal(t, 500, plans[1].Prices["cup"])
}

func TestArtifactsOfExpiredClientAreGone(t *testing.T) {
	h := newHarness(t, retainExpired)
	h.provision(t, "alice")
	h.advance(16 * 24 * time.Hour)
	_, err := h.manager.Sweep(context.Background())
	require.NoError(t, err)

	_, err = h.manager.Config(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.manager.QR(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
