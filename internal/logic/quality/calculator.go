// Package quality computes campaign quality scores from listing content,
// engagement history, freshness, pricing, and seller reputation. Scores are
// recalculated out-of-band on a schedule; the rotation hot path only reads
// the stored value.
package quality

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vehiclemarket/adrotation/internal/analytics"
	"github.com/vehiclemarket/adrotation/internal/models"
)

// Sub-score weights. They sum to 1.0 so the final score stays in [0,1]
// before the floor is applied.
var (
	weightImages       = decimal.NewFromFloat(0.25)
	weightCompleteness = decimal.NewFromFloat(0.20)
	weightCTRHistory   = decimal.NewFromFloat(0.20)
	weightFreshness    = decimal.NewFromFloat(0.15)
	weightPrice        = decimal.NewFromFloat(0.10)
	weightSeller       = decimal.NewFromFloat(0.10)
)

var (
	one          = decimal.NewFromInt(1)
	two          = decimal.NewFromInt(2)
	three        = decimal.NewFromInt(3)
	neutralPrice = decimal.NewFromFloat(0.5)
	// perfectImageCount is the photo count at which the image sub-score saturates.
	perfectImageCount = decimal.NewFromInt(5)
	// saturationCTR is the click-through rate at which the history sub-score saturates.
	saturationCTR = decimal.NewFromFloat(0.15)
	// freshnessWindowDays is the age at which the freshness sub-score reaches zero.
	freshnessWindowDays = decimal.NewFromInt(30)
)

// Inputs carries the listing signals needed for one quality calculation.
type Inputs struct {
	ImageCount         int
	HasDescription     bool
	HasPrice           bool
	AverageMarketPrice decimal.Decimal // Zero when no comparable listings exist.
	SellerRating       decimal.Decimal // Expected in [0,1]; clamped if outside.
}

// Calculator computes quality scores. The only I/O is the trailing
// impression/click aggregate read from analytics.
type Calculator struct {
	analytics analytics.Service
	ctrWindow time.Duration
	logger    *zap.Logger
	nowFn     func() time.Time
}

// NewCalculator constructs a Calculator. ctrWindow bounds the engagement
// history query, conventionally 30 days.
func NewCalculator(svc analytics.Service, ctrWindow time.Duration, logger *zap.Logger) *Calculator {
	return &Calculator{
		analytics: svc,
		ctrWindow: ctrWindow,
		logger:    logger,
		nowFn:     time.Now,
	}
}

// Calculate returns the campaign's quality score in [0.01, 1.0].
// An analytics outage degrades the CTR-history sub-score to zero rather than
// failing the calculation; there is no fallback for the other signals since
// they arrive with the inputs.
func (c *Calculator) Calculate(ctx context.Context, campaign *models.Campaign, in Inputs) (decimal.Decimal, error) {
	now := c.nowFn()

	imageScore := minDecimal(one, decimal.NewFromInt(int64(in.ImageCount)).Div(perfectImageCount))

	var complete int64
	if in.HasDescription {
		complete++
	}
	if in.HasPrice {
		complete++
	}
	if in.ImageCount > 0 {
		complete++
	}
	completenessScore := decimal.NewFromInt(complete).Div(three)

	ctrScore, err := c.ctrHistoryScore(ctx, campaign.ID, now)
	if err != nil {
		if ctx.Err() != nil {
			return decimal.Zero, ctx.Err()
		}
		c.logger.Warn("ctr history unavailable, scoring without it",
			zap.Int("campaign_id", campaign.ID), zap.Error(err))
		ctrScore = decimal.Zero
	}

	freshnessScore := FreshnessFactor(campaign.CreatedAt, now)

	priceScore := neutralPrice
	if in.HasPrice && campaign.Price.IsPositive() && in.AverageMarketPrice.IsPositive() {
		ratio := campaign.Price.Div(in.AverageMarketPrice)
		if ratio.LessThanOrEqual(one) {
			priceScore = one
		} else {
			priceScore = maxDecimal(decimal.Zero, two.Sub(ratio))
		}
	}

	sellerScore := clampDecimal(in.SellerRating, decimal.Zero, one)

	score := weightImages.Mul(imageScore).
		Add(weightCompleteness.Mul(completenessScore)).
		Add(weightCTRHistory.Mul(ctrScore)).
		Add(weightFreshness.Mul(freshnessScore)).
		Add(weightPrice.Mul(priceScore)).
		Add(weightSeller.Mul(sellerScore))

	return clampDecimal(score, models.MinScore, one), nil
}

// ctrHistoryScore normalizes the trailing click-through rate so that
// saturationCTR or better scores 1.0.
func (c *Calculator) ctrHistoryScore(ctx context.Context, campaignID int, now time.Time) (decimal.Decimal, error) {
	since := now.Add(-c.ctrWindow)
	impressions, err := c.analytics.CountImpressions(ctx, campaignID, since)
	if err != nil {
		return decimal.Zero, err
	}
	if impressions <= 0 {
		return decimal.Zero, nil
	}
	clicks, err := c.analytics.CountClicks(ctx, campaignID, since)
	if err != nil {
		return decimal.Zero, err
	}
	ctr := decimal.NewFromInt(clicks).Div(decimal.NewFromInt(impressions))
	return minDecimal(one, ctr.Div(saturationCTR)), nil
}

// FreshnessFactor returns max(0, 1 - daysSinceCreated/30). Shared with the
// rotation engine's recency term.
func FreshnessFactor(createdAt, now time.Time) decimal.Decimal {
	if createdAt.IsZero() || !createdAt.Before(now) {
		return one
	}
	days := decimal.NewFromFloat(now.Sub(createdAt).Hours() / 24)
	return maxDecimal(decimal.Zero, one.Sub(days.Div(freshnessWindowDays)))
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
