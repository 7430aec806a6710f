package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rotation algorithms. These define how the engine picks and orders
// campaigns for a placement section.
const (
	// AlgorithmWeightedRandom samples campaigns without replacement with
	// probability proportional to their weighted score. Default when a config
	// carries an unrecognized value.
	AlgorithmWeightedRandom = "weighted_random"
	// AlgorithmRoundRobin cycles a shared offset through campaigns ordered by
	// creation time so every campaign gets surfaced over successive calls.
	AlgorithmRoundRobin = "round_robin"
	// AlgorithmCTROptimized ranks by observed click-through rate, quality
	// score as tie-breaker.
	AlgorithmCTROptimized = "ctr_optimized"
	// AlgorithmBudgetPriority ranks by remaining-budget ratio, total budget
	// as tie-breaker.
	AlgorithmBudgetPriority = "budget_priority"
)

// MinScore is the floor applied to quality and relevance scores. A score of
// exactly zero would make a campaign permanently unselectable under weighted
// sampling.
var MinScore = decimal.NewFromFloat(0.01)

// RotationConfig controls rotation for one placement section. Owned by the
// campaign management service; a missing or inactive config means no ads are
// configured for the section.
type RotationConfig struct {
	PlacementSection string `json:"placement_section"`
	Algorithm        string `json:"algorithm"`
	MaxVehiclesShown int    `json:"max_vehicles_shown"`
	// Weight coefficients for the relevance score. Only the weighted_random
	// algorithm uses them for selection; the other algorithms use them for
	// the informational score on selected items.
	WeightRemainingBudget  decimal.Decimal `json:"weight_remaining_budget"`
	WeightCtr              decimal.Decimal `json:"weight_ctr"`
	WeightQualityScore     decimal.Decimal `json:"weight_quality_score"`
	WeightRecency          decimal.Decimal `json:"weight_recency"`
	RefreshIntervalMinutes int             `json:"refresh_interval_minutes"` // Drives the cache TTL.
	Active                 bool            `json:"active"`
}

// RefreshInterval returns the refresh interval as a duration, defaulting to
// one minute when the configured value is not positive.
func (c *RotationConfig) RefreshInterval() time.Duration {
	if c.RefreshIntervalMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}

// RotationItem is one selected campaign within a rotation result.
type RotationItem struct {
	CampaignID int             `json:"campaign_id"`
	VehicleID  int             `json:"vehicle_id"`
	OwnerID    int             `json:"owner_id"`
	OwnerType  string          `json:"owner_type"`
	Position   int             `json:"position"` // 1-based, contiguous in selection order.
	Score      decimal.Decimal `json:"score"`    // Relevance score, >= MinScore.
}

// RotationResult is the ordered outcome of one rotation computation. It is
// immutable once produced and is what gets serialized into the cache.
type RotationResult struct {
	PlacementSection string         `json:"placement_section"`
	Items            []RotationItem `json:"items"`
	Algorithm        string         `json:"algorithm"`
	GeneratedAt      time.Time      `json:"generated_at"`
}
