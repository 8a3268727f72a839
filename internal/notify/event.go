// Package notify carries lifecycle events from the core to operator-facing sinks.
//
// Delivery is fire-and-forget: publishing never blocks the lifecycle transition
// that produced the event, and a failed delivery is logged and dropped.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindProvisioned    Kind = "provisioned"
	KindWarning        Kind = "warning"
	KindExpired        Kind = "expired"
	KindDecommissioned Kind = "decommissioned"
)

type Event struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Identity string    `json:"identity"`
	Address  string    `json:"address,omitempty"`
	At       time.Time `json:"at"`

	// Threshold is the warning boundary in hours; HoursRemaining is the truncated time left.
	Threshold      int       `json:"threshold,omitempty"`
	HoursRemaining int       `json:"hours_remaining,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitzero"`
}

func NewEvent(kind Kind, identity string, at time.Time) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		Identity: identity,
		At:       at.UTC(),
	}
}

// Text renders the event as a short operator message.
func (e Event) Text() string {
	var b strings.Builder
	switch e.Kind {
	case KindProvisioned:
		fmt.Fprintf(&b, "Client %s provisioned", e.Identity)
		if e.Address != "" {
			fmt.Fprintf(&b, " at %s", e.Address)
		}
		if !e.ExpiresAt.IsZero() {
			fmt.Fprintf(&b, ", expires %s UTC", e.ExpiresAt.UTC().Format("2006-01-02 15:04"))
		}
	case KindWarning:
		fmt.Fprintf(&b, "Client %s expires in %d hours", e.Identity, e.HoursRemaining)
		if !e.ExpiresAt.IsZero() {
			fmt.Fprintf(&b, " (%s UTC)", e.ExpiresAt.UTC().Format("2006-01-02 15:04"))
		}
	case KindExpired:
		fmt.Fprintf(&b, "Client %s expired and was revoked", e.Identity)
		if e.Address != "" {
			fmt.Fprintf(&b, ", address %s released", e.Address)
		}
	case KindDecommissioned:
		fmt.Fprintf(&b, "Client %s decommissioned", e.Identity)
	default:
		fmt.Fprintf(&b, "Client %s: %s", e.Identity, e.Kind)
	}
	return b.String()
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(events ...Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(...Event) {}
