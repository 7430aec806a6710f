package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Campaign lifecycle statuses. Only active campaigns are considered for
// rotation; the remaining states exist so the read model can mirror the
// campaign management service without translation.
const (
	CampaignStatusDraft    = "draft"
	CampaignStatusActive   = "active"
	CampaignStatusPaused   = "paused"
	CampaignStatusExpired  = "expired"
	CampaignStatusRejected = "rejected"
)

// Owner types distinguish private sellers from dealers. Used for the
// campaigns_created metric label and carried through to rotation results so
// clients can badge listings.
const (
	OwnerTypePrivate = "private"
	OwnerTypeDealer  = "dealer"
)

// DefaultQualityScore is assigned to a campaign until the first scheduled
// quality recalculation runs for it.
var DefaultQualityScore = decimal.NewFromFloat(0.5)

// Campaign is a read-only projection of a paid listing campaign. The
// campaign management and billing services own these rows; this service only
// selects among them.
type Campaign struct {
	ID               int             `json:"id"`
	VehicleID        int             `json:"vehicle_id"`
	OwnerID          int             `json:"owner_id"`
	OwnerType        string          `json:"owner_type"` // OwnerTypePrivate or OwnerTypeDealer.
	PlacementSection string          `json:"placement_section"`
	Status           string          `json:"status"`
	TotalBudget      decimal.Decimal `json:"total_budget"`
	SpentBudget      decimal.Decimal `json:"spent_budget"` // Never exceeds TotalBudget while active.
	Impressions      int64           `json:"impressions"`
	Clicks           int64           `json:"clicks"`
	QualityScore     decimal.Decimal `json:"quality_score"` // In [0.01, 1.0], DefaultQualityScore until first calculation.
	Price            decimal.Decimal `json:"price"` // Fixed asking price; zero when the listing has no price.
	// Listing signals projected from the listing service, used only by the
	// scheduled quality recalculation.
	ImageCount     int             `json:"image_count"`
	HasDescription bool            `json:"has_description"`
	SellerRating   decimal.Decimal `json:"seller_rating"` // In [0,1].
	ExpiresAt      time.Time       `json:"expires_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsEligible reports whether the campaign may appear in a rotation at the
// given time: it must be active, not past its expiry, and have budget left.
func (c *Campaign) IsEligible(now time.Time) bool {
	if c.Status != CampaignStatusActive {
		return false
	}
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return false
	}
	return c.SpentBudget.LessThan(c.TotalBudget)
}

// RemainingBudgetRatio returns (total - spent) / total, or zero when the
// total budget is not positive.
func (c *Campaign) RemainingBudgetRatio() decimal.Decimal {
	if !c.TotalBudget.IsPositive() {
		return decimal.Zero
	}
	return c.TotalBudget.Sub(c.SpentBudget).Div(c.TotalBudget)
}

// CTR returns clicks/impressions as a decimal, or zero when the campaign has
// no impressions yet.
func (c *Campaign) CTR() decimal.Decimal {
	if c.Impressions <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(c.Clicks).Div(decimal.NewFromInt(c.Impressions))
}
