package clients

import (
	"log/slog"
	"net/netip"
	"slices"
	"time"
)

// Record is the registry entry for one provisioned client.
type Record struct {
	Identity     string       `json:"identity"`
	Address      netip.Addr   `json:"address"`
	PublicKey    string       `json:"public_key"`
	PrivateKey   string       `json:"private_key"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Plan         string       `json:"plan"`
	WarningFlags WarningFlags `json:"warning_flags"`
	Expired      bool         `json:"expired"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Remaining returns the time left until the record expires.
func (r *Record) Remaining(now time.Time) time.Duration {
	return r.ExpiresAt.Sub(now)
}

// Clone returns a deep copy so callers can mutate without touching a shared snapshot.
func (r *Record) Clone() *Record {
	c := *r
	c.WarningFlags = slices.Clone(r.WarningFlags)
	return &c
}

// LogValue keeps the private key out of every log line.
func (r *Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("identity", r.Identity),
		slog.String("address", r.Address.String()),
		slog.String("public_key", r.PublicKey),
		slog.String("plan", r.Plan),
		slog.Time("expires_at", r.ExpiresAt),
		slog.Bool("expired", r.Expired),
	)
}

// WarningFlags is the set of warning thresholds (in hours) already delivered.
// It is kept sorted in descending order and only ever grows.
type WarningFlags []int

func (w WarningFlags) Has(hours int) bool {
	return slices.Contains(w, hours)
}

// Add records a threshold. It reports false when the threshold was already present.
func (w *WarningFlags) Add(hours int) bool {
	if w.Has(hours) {
		return false
	}
	*w = append(*w, hours)
	slices.SortFunc(*w, func(a, b int) int { return b - a })
	return true
}

// Snapshot is the full registry content keyed by identity.
type Snapshot map[string]*Record

// Clone deep-copies every record.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, rec := range s {
		out[id] = rec.Clone()
	}
	return out
}

// Sorted returns the records ordered by address, then identity.
func (s Snapshot) Sorted() []*Record {
	out := make([]*Record, 0, len(s))
	for _, rec := range s {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b *Record) int {
		if c := a.Address.Compare(b.Address); c != 0 {
			return c
		}
		if a.Identity < b.Identity {
			return -1
		}
		if a.Identity > b.Identity {
			return 1
		}
		return 0
	})
	return out
}

// ActiveAddresses returns the addresses held by records that have not expired.
func (s Snapshot) ActiveAddresses() map[netip.Addr]struct{} {
	used := make(map[netip.Addr]struct{}, len(s))
	for _, rec := range s {
		if rec.Expired {
			continue
		}
		used[rec.Address] = struct{}{}
	}
	return used
}

// HasPublicKey reports whether any record, expired or not, uses the key.
func (s Snapshot) HasPublicKey(publicKey string) bool {
	for _, rec := range s {
		if rec.PublicKey == publicKey {
			return true
		}
	}
	return false
}

// Stats summarises a snapshot.
type Stats struct {
	Count   int            `json:"count"`
	Active  int            `json:"active"`
	Expired int            `json:"expired"`
	PerPlan map[string]int `json:"per_plan"`
}

func (s Snapshot) Stats() Stats {
	st := Stats{PerPlan: make(map[string]int)}
	for _, rec := range s {
		st.Count++
		if rec.Expired {
			st.Expired++
		} else {
			st.Active++
		}
		st.PerPlan[rec.Plan]++
	}
	return st
}
