// Package rotation decides which paid vehicle listings appear in a homepage
// placement section, in what order, and with what relevance score. The engine
// computes rotations; the cache layer stores them in Redis and degrades to
// direct computation when Redis is down.
package rotation

import (
	"context"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vehiclemarket/adrotation/internal/logic/quality"
	"github.com/vehiclemarket/adrotation/internal/models"
)

// nowFn returns the current time. Tests may replace it for fixed-time runs.
var nowFn = time.Now

// CampaignSource provides the campaign read model for a placement section.
type CampaignSource interface {
	// GetCampaignsByPlacement returns every campaign targeting the section,
	// regardless of status.
	GetCampaignsByPlacement(ctx context.Context, section string) ([]models.Campaign, error)
}

// Engine computes rotations. It is stateless apart from the round-robin
// offset, which is shared across all sections and advanced atomically on
// every round-robin call.
type Engine struct {
	campaigns CampaignSource
	logger    *zap.Logger

	// roundRobin is never reset, even when a section's eligible count
	// changes, so fairness holds statistically over many calls rather than
	// within a single window.
	roundRobin atomic.Uint64

	// randFn yields a uniform draw in [0,1) for weighted sampling.
	randFn func() float64
}

// NewEngine constructs an Engine backed by the given campaign source.
func NewEngine(src CampaignSource, logger *zap.Logger) *Engine {
	return &Engine{
		campaigns: src,
		logger:    logger,
		randFn:    rand.Float64,
	}
}

// SetRandFn replaces the random source used by weighted sampling. Tests use
// this for deterministic selection outcomes.
func (e *Engine) SetRandFn(fn func() float64) {
	e.randFn = fn
}

// ComputeRotation selects and orders campaigns for a section according to the
// config's algorithm. An empty eligible set yields an empty result, not an
// error.
func (e *Engine) ComputeRotation(ctx context.Context, section string, cfg *models.RotationConfig) (*models.RotationResult, error) {
	campaigns, err := e.campaigns.GetCampaignsByPlacement(ctx, section)
	if err != nil {
		return nil, err
	}

	now := nowFn()
	var eligible []models.Campaign
	for _, c := range campaigns {
		if c.IsEligible(now) {
			eligible = append(eligible, c)
		}
	}

	algorithm := cfg.Algorithm
	switch algorithm {
	case models.AlgorithmWeightedRandom, models.AlgorithmRoundRobin,
		models.AlgorithmCTROptimized, models.AlgorithmBudgetPriority:
	default:
		e.logger.Debug("unknown rotation algorithm, using weighted random",
			zap.String("section", section), zap.String("algorithm", algorithm))
		algorithm = models.AlgorithmWeightedRandom
	}

	result := &models.RotationResult{
		PlacementSection: section,
		Algorithm:        algorithm,
		GeneratedAt:      now,
	}
	if len(eligible) == 0 {
		return result, nil
	}

	// Shared state must not advance for a request that is already dead.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var selected []models.Campaign
	switch algorithm {
	case models.AlgorithmRoundRobin:
		selected = e.selectRoundRobin(eligible, cfg.MaxVehiclesShown)
	case models.AlgorithmCTROptimized:
		selected = selectCTROptimized(eligible, cfg.MaxVehiclesShown)
	case models.AlgorithmBudgetPriority:
		selected = selectBudgetPriority(eligible, cfg.MaxVehiclesShown)
	default:
		selected = e.selectWeightedRandom(eligible, cfg, now)
	}

	result.Items = make([]models.RotationItem, len(selected))
	for i, c := range selected {
		result.Items[i] = models.RotationItem{
			CampaignID: c.ID,
			VehicleID:  c.VehicleID,
			OwnerID:    c.OwnerID,
			OwnerType:  c.OwnerType,
			Position:   i + 1,
			Score:      displayScore(&c, cfg, now),
		}
	}
	return result, nil
}

// relevanceScore is the raw weighted score before the display floor:
// wBudget*remainingRatio + wCtr*ctr + wQuality*quality + wRecency*recency.
// Weighted sampling uses it directly so that zero-weight configs can be
// detected and fall back to deterministic selection.
func relevanceScore(c *models.Campaign, cfg *models.RotationConfig, now time.Time) decimal.Decimal {
	recency := quality.FreshnessFactor(c.CreatedAt, now)
	return cfg.WeightRemainingBudget.Mul(c.RemainingBudgetRatio()).
		Add(cfg.WeightCtr.Mul(c.CTR())).
		Add(cfg.WeightQualityScore.Mul(c.QualityScore)).
		Add(cfg.WeightRecency.Mul(recency))
}

// displayScore floors the relevance score at MinScore for the result payload.
func displayScore(c *models.Campaign, cfg *models.RotationConfig, now time.Time) decimal.Decimal {
	score := relevanceScore(c, cfg, now)
	if score.LessThan(models.MinScore) {
		return models.MinScore
	}
	return score
}

// clampMax bounds a configured max_vehicles_shown to [0, n].
func clampMax(max, n int) int {
	if max < 0 {
		return 0
	}
	if max > n {
		return n
	}
	return max
}

// selectWeightedRandom samples up to max campaigns without replacement with
// probability proportional to their relevance score. When every score is
// zero it degrades to the first max campaigns in load order. The walk is
// O(k*n), fine for the tens of campaigns a section carries; a Fenwick-tree
// sampler would be the replacement if sections ever grow to thousands.
func (e *Engine) selectWeightedRandom(eligible []models.Campaign, cfg *models.RotationConfig, now time.Time) []models.Campaign {
	max := clampMax(cfg.MaxVehiclesShown, len(eligible))

	scores := make([]decimal.Decimal, len(eligible))
	total := decimal.Zero
	for i := range eligible {
		scores[i] = relevanceScore(&eligible[i], cfg, now)
		total = total.Add(scores[i])
	}
	if !total.IsPositive() {
		return append([]models.Campaign(nil), eligible[:max]...)
	}

	remaining := append([]models.Campaign(nil), eligible...)
	selected := make([]models.Campaign, 0, max)
	for len(selected) < max && len(remaining) > 0 {
		draw := decimal.NewFromFloat(e.randFn()).Mul(total)
		idx := len(remaining) - 1
		cum := decimal.Zero
		for i, s := range scores {
			cum = cum.Add(s)
			if cum.GreaterThanOrEqual(draw) {
				idx = i
				break
			}
		}
		selected = append(selected, remaining[idx])
		total = total.Sub(scores[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
		scores = append(scores[:idx], scores[idx+1:]...)
	}
	return selected
}

// selectRoundRobin orders campaigns by creation time and returns max of them
// starting at the shared offset, wrapping around the eligible set.
func (e *Engine) selectRoundRobin(eligible []models.Campaign, max int) []models.Campaign {
	ordered := append([]models.Campaign(nil), eligible...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	max = clampMax(max, len(ordered))
	offset := int((e.roundRobin.Add(1) - 1) % uint64(len(ordered)))

	selected := make([]models.Campaign, 0, max)
	for i := 0; i < max; i++ {
		selected = append(selected, ordered[(offset+i)%len(ordered)])
	}
	return selected
}

// selectCTROptimized ranks by observed click-through rate descending, quality
// score breaking ties. Campaigns without impressions rank with a CTR of zero.
func selectCTROptimized(eligible []models.Campaign, max int) []models.Campaign {
	ordered := append([]models.Campaign(nil), eligible...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if cmp := ordered[i].CTR().Cmp(ordered[j].CTR()); cmp != 0 {
			return cmp > 0
		}
		return ordered[i].QualityScore.Cmp(ordered[j].QualityScore) > 0
	})
	return ordered[:clampMax(max, len(ordered))]
}

// selectBudgetPriority ranks by remaining-budget ratio descending, total
// budget breaking ties, so under-delivered campaigns surface first.
func selectBudgetPriority(eligible []models.Campaign, max int) []models.Campaign {
	ordered := append([]models.Campaign(nil), eligible...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if cmp := ordered[i].RemainingBudgetRatio().Cmp(ordered[j].RemainingBudgetRatio()); cmp != 0 {
			return cmp > 0
		}
		return ordered[i].TotalBudget.Cmp(ordered[j].TotalBudget) > 0
	})
	return ordered[:clampMax(max, len(ordered))]
}
