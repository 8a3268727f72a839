package clients

import (
	"bytes"
	"log/slog"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "YGBgYGBgYGBgYGBgYGBgYGBgYGBgYGBgYGBgYGBgYGA="

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey(testKey))

	err := ValidateKey("short")
	assert.ErrorIs(t, err, ErrMalformedKey)

	// 44 characters but not base64
	err = ValidateKey(strings.Repeat("!", 44))
	assert.ErrorIs(t, err, ErrMalformedKey)

	// 44 characters of valid base64 that decode to 33 bytes cannot exist; 31 bytes with padding can
	err = ValidateKey("YGBgYGBgYGBgYGBgYGBgYGBgYGBgYGBgYGBgYGBgYA==")
	assert.ErrorIs(t, err, ErrMalformedKey)
}

func TestValidateIdentity(t *testing.T) {
	assert.NoError(t, ValidateIdentity("alice42"))
	assert.ErrorIs(t, ValidateIdentity(""), ErrInvalidIdentity)
	assert.ErrorIs(t, ValidateIdentity("bob smith"), ErrInvalidIdentity)
	assert.ErrorIs(t, ValidateIdentity("../etc"), ErrInvalidIdentity)
	assert.ErrorIs(t, ValidateIdentity(strings.Repeat("a", 65)), ErrInvalidIdentity)
}

func TestWarningFlags(t *testing.T) {
	var w WarningFlags
	assert.True(t, w.Add(0))
	assert.True(t, w.Add(72))
	assert.True(t, w.Add(24))
	assert.False(t, w.Add(24))
	assert.Equal(t, WarningFlags{72, 24, 0}, w)
	assert.True(t, w.Has(72))
	assert.False(t, w.Has(48))
}

func TestCatalogResolve(t *testing.T) {
	c := DefaultCatalog()
	require.NoError(t, c.Validate())

	d, plan, err := c.Resolve("free", Duration{})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Hour, d)
	assert.Equal(t, "free", plan)

	d, plan, err = c.Resolve("30d", Duration{})
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, d)
	assert.Equal(t, "30d", plan)

	d, plan, err = c.Resolve("", Duration{Days: 1, Hours: 2})
	require.NoError(t, err)
	assert.Equal(t, 26*time.Hour, d)
	assert.Equal(t, CustomPlan, plan)

	_, _, err = c.Resolve("gold", Duration{})
	assert.ErrorIs(t, err, ErrUnknownPlan)

	_, _, err = c.Resolve("", Duration{})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, _, err = c.Resolve("", Duration{Hours: -1})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, _, err = c.Resolve("", Duration{Days: 200000})
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestCatalogValidate(t *testing.T) {
	assert.Error(t, Catalog{{Name: "a", Hours: 1}, {Name: "a", Days: 1}}.Validate())
	assert.Error(t, Catalog{{Name: "zero"}}.Validate())
	assert.Error(t, Catalog{{Hours: 1}}.Validate())

	c := Catalog{{Name: "old", Days: 1, Disabled: true}}
	_, err := c.Lookup("old")
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestSnapshotStatsAndAddresses(t *testing.T) {
	s := Snapshot{
		"a": {Identity: "a", Address: netip.MustParseAddr("10.9.0.2"), Plan: "free", PublicKey: "k1"},
		"b": {Identity: "b", Address: netip.MustParseAddr("10.9.0.3"), Plan: "30d", PublicKey: "k2"},
		"c": {Identity: "c", Address: netip.MustParseAddr("10.9.0.4"), Plan: "30d", PublicKey: "k3", Expired: true},
	}

	st := s.Stats()
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 2, st.Active)
	assert.Equal(t, 1, st.Expired)
	assert.Equal(t, map[string]int{"free": 1, "30d": 2}, st.PerPlan)

	used := s.ActiveAddresses()
	assert.Len(t, used, 2)
	assert.NotContains(t, used, netip.MustParseAddr("10.9.0.4"))

	assert.True(t, s.HasPublicKey("k3"))
	assert.False(t, s.HasPublicKey("k4"))

	sorted := s.Sorted()
	require.Len(t, sorted, 3)
	assert.Equal(t, "a", sorted[0].Identity)
	assert.Equal(t, "c", sorted[2].Identity)
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	s := Snapshot{"a": {Identity: "a", WarningFlags: WarningFlags{72}}}
	c := s.Clone()
	c["a"].WarningFlags.Add(24)
	c["a"].Expired = true

	assert.Equal(t, WarningFlags{72}, s["a"].WarningFlags)
	assert.False(t, s["a"].Expired)
}

func TestRecordLogValueOmitsPrivateKey(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	rec := &Record{
		Identity:   "alice",
		Address:    netip.MustParseAddr("10.9.0.2"),
		PublicKey:  testKey,
		PrivateKey: "c2VjcmV0c2VjcmV0c2VjcmV0c2VjcmV0c2VjcmV0MTI=",
	}
	logger.Info("provisioned", "record", rec)

	assert.Contains(t, buf.String(), "alice")
	assert.NotContains(t, buf.String(), rec.PrivateKey)
}

func TestDurationUpperBound(t *testing.T) {
	assert.NoError(t, Duration{Days: MaxDurationDays}.Validate())
	assert.NoError(t, Duration{Hours: MaxDurationDays * 24}.Validate())

	assert.ErrorIs(t, Duration{Days: MaxDurationDays + 1}.Validate(), ErrInvalidDuration)
	assert.ErrorIs(t, Duration{Days: MaxDurationDays, Hours: 1}.Validate(), ErrInvalidDuration)
	assert.ErrorIs(t, Duration{Hours: MaxDurationDays*24 + 1}.Validate(), ErrInvalidDuration)
	// large enough to overflow time.Duration if it were converted
	assert.ErrorIs(t, Duration{Days: 200000}.Validate(), ErrInvalidDuration)

	err := Catalog{{Name: "forever", Days: 100000}}.Validate()
	assert.ErrorIs(t, err, ErrInvalidDuration)
}
