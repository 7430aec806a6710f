package quality

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vehiclemarket/adrotation/internal/models"
)

// CampaignStore is the slice of the read model the recalculation sweep needs.
type CampaignStore interface {
	ListActiveCampaigns(ctx context.Context) ([]models.Campaign, error)
	GetAverageMarketPrice(ctx context.Context, section string, excludeCampaignID int) (decimal.Decimal, error)
	UpdateCampaignQualityScore(ctx context.Context, campaignID int, score decimal.Decimal) error
}

// Recalculator runs the scheduled quality sweep over active campaigns.
type Recalculator struct {
	calc   *Calculator
	store  CampaignStore
	logger *zap.Logger
}

// NewRecalculator constructs a Recalculator.
func NewRecalculator(calc *Calculator, store CampaignStore, logger *zap.Logger) *Recalculator {
	return &Recalculator{calc: calc, store: store, logger: logger}
}

// RecalculateAll computes and persists a fresh quality score for every
// active campaign. Per-campaign failures are logged and skipped so one bad
// row doesn't abort the sweep; the error return is reserved for not being
// able to list campaigns at all or for cancellation.
func (r *Recalculator) RecalculateAll(ctx context.Context) error {
	campaigns, err := r.store.ListActiveCampaigns(ctx)
	if err != nil {
		return err
	}

	var updated int
	for i := range campaigns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c := &campaigns[i]
		marketAvg, err := r.store.GetAverageMarketPrice(ctx, c.PlacementSection, c.ID)
		if err != nil {
			r.logger.Warn("market price lookup failed", zap.Int("campaign_id", c.ID), zap.Error(err))
			marketAvg = decimal.Zero
		}

		in := Inputs{
			ImageCount:         c.ImageCount,
			HasDescription:     c.HasDescription,
			HasPrice:           c.Price.IsPositive(),
			AverageMarketPrice: marketAvg,
			SellerRating:       c.SellerRating,
		}
		score, err := r.calc.Calculate(ctx, c, in)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("quality calculation failed", zap.Int("campaign_id", c.ID), zap.Error(err))
			continue
		}
		if err := r.store.UpdateCampaignQualityScore(ctx, c.ID, score); err != nil {
			r.logger.Warn("quality score persist failed", zap.Int("campaign_id", c.ID), zap.Error(err))
			continue
		}
		updated++
	}

	r.logger.Info("quality recalculation complete",
		zap.Int("campaigns", len(campaigns)), zap.Int("updated", updated))
	return nil
}
