package clients

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownPlan     = errors.New("unknown plan")
	ErrInvalidDuration = errors.New("invalid duration")
)

// CustomPlan labels records provisioned with an explicit duration.
const CustomPlan = "custom"

// MaxDurationDays caps any validity period, explicit or from a plan.
const MaxDurationDays = 3650

// Duration is a validity period expressed the way operators sell it.
type Duration struct {
	Days  int `json:"days,omitempty" mapstructure:"days"`
	Hours int `json:"hours,omitempty" mapstructure:"hours"`
}

func (d Duration) Std() time.Duration {
	return time.Duration(d.Days)*24*time.Hour + time.Duration(d.Hours)*time.Hour
}

func (d Duration) IsZero() bool {
	return d.Days == 0 && d.Hours == 0
}

func (d Duration) Validate() error {
	if d.Days < 0 || d.Hours < 0 {
		return fmt.Errorf("%w: negative component", ErrInvalidDuration)
	}
	if d.IsZero() {
		return fmt.Errorf("%w: must be positive", ErrInvalidDuration)
	}
	if d.Days > MaxDurationDays || d.Hours > MaxDurationDays*24 || d.Days*24+d.Hours > MaxDurationDays*24 {
		return fmt.Errorf("%w: exceeds %d days", ErrInvalidDuration, MaxDurationDays)
	}
	return nil
}

// Plan is a sellable duration tier. Prices are opaque to the core.
type Plan struct {
	Name     string         `json:"name" mapstructure:"name"`
	Days     int            `json:"days,omitempty" mapstructure:"days"`
	Hours    int            `json:"hours,omitempty" mapstructure:"hours"`
	Prices   map[string]int `json:"prices,omitempty" mapstructure:"prices"`
	Disabled bool           `json:"disabled,omitempty" mapstructure:"disabled"`
}

func (p Plan) Duration() Duration {
	return Duration{Days: p.Days, Hours: p.Hours}
}

// Catalog is the ordered list of plans offered to operators.
type Catalog []Plan

// DefaultCatalog mirrors the tiers of the reference deployment.
func DefaultCatalog() Catalog {
	return Catalog{
		{Name: "free", Hours: 5, Prices: map[string]int{"cup": 0, "saldo": 0}},
		{Name: "15d", Days: 15, Prices: map[string]int{"cup": 500, "saldo": 250}},
		{Name: "30d", Days: 30, Prices: map[string]int{"cup": 750, "saldo": 375}},
	}
}

func (c Catalog) Lookup(name string) (Plan, error) {
	for _, p := range c {
		if p.Name == name && !p.Disabled {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, name)
}

// Validate rejects duplicate names and plans without a usable duration.
func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c))
	for _, p := range c {
		if p.Name == "" {
			return errors.New("plan name is required")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate plan %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if err := p.Duration().Validate(); err != nil {
			return fmt.Errorf("plan %q: %w", p.Name, err)
		}
	}
	return nil
}

// Resolve turns a plan name and/or explicit duration into the duration and plan label to record.
// An explicit duration wins; the plan name is then kept as a label only.
func (c Catalog) Resolve(plan string, d Duration) (time.Duration, string, error) {
	if !d.IsZero() {
		if err := d.Validate(); err != nil {
			return 0, "", err
		}
		if plan == "" {
			plan = CustomPlan
		}
		return d.Std(), plan, nil
	}
	if plan == "" {
		return 0, "", fmt.Errorf("%w: plan or duration is required", ErrInvalidDuration)
	}
	p, err := c.Lookup(plan)
	if err != nil {
		return 0, "", err
	}
	return p.Duration().Std(), p.Name, nil
}
