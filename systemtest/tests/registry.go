package tests

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/EternisAI/wg-provisioner/internal/clients"
	"github.com/EternisAI/wg-provisioner/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegistryRoundTrip checks the snapshot contract every registry backend must honor.
func TestRegistryRoundTrip(t *testing.T, store registry.Store) {
	ctx := context.Background()
	created := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, snap)

	snap = clients.Snapshot{
		"alice": {
			Identity:     "alice",
			PrivateKey:   "YGBgYGBgYGBgYGBgYGBgYGBgYGBgYGBgYGBgYGBgYGA=",
			PublicKey:    "hSDwCYkwp1R0i33ctD73Wg2/Og0mOBr066SpjqqbTmo=",
			Address:      netip.MustParseAddr("10.9.0.2"),
			Plan:         "30d",
			ExpiresAt:    created.Add(30 * 24 * time.Hour),
			CreatedAt:    created,
			WarningFlags: clients.WarningFlags{72, 24},
		},
		"bob": {
			Identity:   "bob",
			PrivateKey: "cHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHA=",
			PublicKey:  "Q0RFRkdISUpLTE1OT1BRUlNUVVZXWFlaW1xdXl9gYWI=",
			Address:    netip.MustParseAddr("10.9.0.3"),
			Plan:       "free",
			ExpiresAt:  created.Add(5 * time.Hour),
			CreatedAt:  created,
			Expired:    true,
		},
	}
	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, snap["alice"].Address, loaded["alice"].Address)
	assert.Equal(t, clients.WarningFlags{72, 24}, loaded["alice"].WarningFlags)
	assert.True(t, loaded["alice"].ExpiresAt.Equal(snap["alice"].ExpiresAt))
	assert.True(t, loaded["bob"].Expired)

	// a save replaces the whole snapshot
	delete(loaded, "bob")
	loaded["alice"].WarningFlags.Add(0)
	require.NoError(t, store.Save(ctx, loaded))

	again, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.NotContains(t, again, "bob")
	assert.Equal(t, clients.WarningFlags{72, 24, 0}, again["alice"].WarningFlags)

	require.NoError(t, store.Save(ctx, clients.Snapshot{}))
	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
