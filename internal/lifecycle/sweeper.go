package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/wg-provisioner/internal/clients"
	"github.com/EternisAI/wg-provisioner/internal/notify"
)

type SweepResult struct {
	Warnings int            `json:"warnings"`
	Expired  int            `json:"expired"`
	Removed  int            `json:"removed"`
	Events   []notify.Event `json:"events"`
}

// Sweep evaluates every active record against the current time once.
//
// A threshold t is due when the remaining whole hours, truncated toward zero, are at
// most t. Each threshold is delivered at most once per record, so sweeping twice at
// the same instant emits nothing the second time. A record whose time is up is revoked
// and marked expired; it is dropped from the registry unless expired records are
// retained. Events are published only after the snapshot is saved.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.load(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	opCtx := context.WithoutCancel(ctx)
	now := m.now().UTC()
	var result SweepResult

	for _, rec := range snapshot.Sorted() {
		if rec.Expired {
			continue
		}
		remaining := rec.Remaining(now)

		if remaining <= 0 {
			m.expire(opCtx, rec)
			if !m.retainExpired {
				delete(snapshot, rec.Identity)
				result.Removed++
			}
			result.Expired++

			ev := notify.NewEvent(notify.KindExpired, rec.Identity, now)
			ev.Address = rec.Address.String()
			ev.ExpiresAt = rec.ExpiresAt
			result.Events = append(result.Events, ev)
			continue
		}

		hours := int(remaining.Hours())
		for _, t := range m.warningHours {
			if hours > t || !rec.WarningFlags.Add(t) {
				continue
			}
			result.Warnings++

			ev := notify.NewEvent(notify.KindWarning, rec.Identity, now)
			ev.Threshold = t
			ev.HoursRemaining = hours
			ev.ExpiresAt = rec.ExpiresAt
			result.Events = append(result.Events, ev)
		}
	}

	if len(result.Events) == 0 {
		slog.Debug("Sweep completed, nothing due", "clients", len(snapshot))
		return result, nil
	}

	if err := m.registry.Save(opCtx, snapshot); err != nil {
		return SweepResult{}, fmt.Errorf("%w: %w", ErrRegistryWrite, err)
	}

	m.publisher.Publish(result.Events...)

	slog.Info("Sweep completed",
		"warnings", result.Warnings,
		"expired", result.Expired,
		"removed", result.Removed)
	return result, nil
}

// expire revokes the client on the interface and removes its artifacts. Both steps are
// best-effort and safe to repeat if a later save fails and the next sweep retries.
func (m *Manager) expire(ctx context.Context, rec *clients.Record) {
	m.removePeer(ctx, rec.Identity, rec.PublicKey)
	if err := m.artifacts.Remove(rec.Identity); err != nil {
		slog.Warn("Failed to remove artifacts of expired client", "identity", rec.Identity, "error", err)
	}
	rec.Expired = true
	slog.Info("Client expired", "client", rec)
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	slog.Info("Expiration sweeper started", "interval", interval, "warning_hours", m.warningHours)

	m.sweepLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Expiration sweeper stopped")
			return
		case <-ticker.C:
			m.sweepLogged(ctx)
		}
	}
}

func (m *Manager) sweepLogged(ctx context.Context) {
	if _, err := m.Sweep(ctx); err != nil {
		slog.Error("Sweep failed", "error", err)
	}
}
