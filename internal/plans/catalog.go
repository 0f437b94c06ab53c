// Package plans holds the static subscription plan table.
package plans

import (
	"errors"
	"fmt"
	"sort"

	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// ErrUnknownPlan is returned when a plan type is not registered
var ErrUnknownPlan = errors.New("unknown plan")

// Cadence controls how often a plan's usage counter resets
type Cadence string

// Cadence constants
const (
	CadenceDaily Cadence = "daily"
	CadenceNever Cadence = "never"
)

// Plan types
const (
	Free     = "free"
	Basic    = "basic"
	Pro      = "pro"
	Business = "business"
)

// Plan describes one subscription tier
type Plan struct {
	Type          string   `json:"type"`
	MinutesLimit  int      `json:"minutes_limit"`
	Cadence       Cadence  `json:"cadence"`
	ModelTier     string   `json:"model_tier"`
	ExportFormats []string `json:"export_formats"`
	Badge         string   `json:"badge"`
	Priority      int      `json:"priority"`
	PriceUSD      float64  `json:"price_usd"`
	DurationDays  int      `json:"duration_days"`
}

// IsUnlimited reports whether the plan has no minute cap
func (p Plan) IsUnlimited() bool {
	return p.MinutesLimit == models.UnlimitedMinutes
}

// ResetsDaily reports whether usage resets every calendar day
func (p Plan) ResetsDaily() bool {
	return p.Cadence == CadenceDaily
}

// AllowsExport reports whether the plan may export in the given format
func (p Plan) AllowsExport(format string) bool {
	for _, f := range p.ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Purchasable reports whether the plan can be bought
func (p Plan) Purchasable() bool {
	return p.PriceUSD > 0
}

// Catalog is a read-only plan table
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog builds a catalog from the given plans
func NewCatalog(plans ...Plan) *Catalog {
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		c.plans[p.Type] = p
	}
	return c
}

// Default returns the built-in plan table
func Default() *Catalog {
	return NewCatalog(
		Plan{
			Type:          Free,
			MinutesLimit:  5,
			Cadence:       CadenceDaily,
			ModelTier:     "base",
			ExportFormats: []string{"txt", "srt"},
			Badge:         "🆓",
			Priority:      0,
		},
		Plan{
			Type:          Basic,
			MinutesLimit:  180,
			Cadence:       CadenceNever,
			ModelTier:     "medium",
			ExportFormats: []string{"txt", "srt"},
			Badge:         "⭐",
			Priority:      1,
			PriceUSD:      4.99,
			DurationDays:  30,
		},
		Plan{
			Type:          Pro,
			MinutesLimit:  600,
			Cadence:       CadenceNever,
			ModelTier:     "large-v2",
			ExportFormats: []string{"txt", "srt", "pdf", "docx"},
			Badge:         "💎",
			Priority:      2,
			PriceUSD:      12.99,
			DurationDays:  30,
		},
		Plan{
			Type:          Business,
			MinutesLimit:  models.UnlimitedMinutes,
			Cadence:       CadenceNever,
			ModelTier:     "large-v3",
			ExportFormats: []string{"txt", "srt", "pdf", "docx", "vtt"},
			Badge:         "👑",
			Priority:      3,
			PriceUSD:      29.99,
			DurationDays:  30,
		},
	)
}

// Lookup returns the plan registered under planType
func (c *Catalog) Lookup(planType string) (Plan, error) {
	p, ok := c.plans[planType]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, planType)
	}
	return p, nil
}

// List returns all plans ordered by priority
func (c *Catalog) List() []Plan {
	list := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	return list
}
