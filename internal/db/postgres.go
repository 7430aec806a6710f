package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/vehiclemarket/adrotation/internal/models"
)

// Postgres wraps the campaign/config read model connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the read-model tables if they don't exist. In production
// these are populated by the campaign management service; creating them here
// keeps local development and integration tests self-contained.
const schemaSQL = `CREATE TABLE IF NOT EXISTS campaigns (
    id SERIAL PRIMARY KEY,
    vehicle_id INT NOT NULL,
    owner_id INT NOT NULL,
    owner_type TEXT NOT NULL,
    placement_section TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    total_budget NUMERIC(12,2) NOT NULL DEFAULT 0,
    spent_budget NUMERIC(12,2) NOT NULL DEFAULT 0,
    impressions BIGINT NOT NULL DEFAULT 0,
    clicks BIGINT NOT NULL DEFAULT 0,
    quality_score NUMERIC(4,2) NOT NULL DEFAULT 0.5,
    price NUMERIC(12,2),
    image_count INT NOT NULL DEFAULT 0,
    has_description BOOLEAN NOT NULL DEFAULT FALSE,
    seller_rating NUMERIC(3,2) NOT NULL DEFAULT 0,
    expires_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rotation_configs (
    placement_section TEXT PRIMARY KEY,
    algorithm TEXT NOT NULL DEFAULT 'weighted_random',
    max_vehicles_shown INT NOT NULL DEFAULT 5,
    weight_remaining_budget NUMERIC(4,2) NOT NULL DEFAULT 0.25,
    weight_ctr NUMERIC(4,2) NOT NULL DEFAULT 0.25,
    weight_quality_score NUMERIC(4,2) NOT NULL DEFAULT 0.25,
    weight_recency NUMERIC(4,2) NOT NULL DEFAULT 0.25,
    refresh_interval_minutes INT NOT NULL DEFAULT 5,
    active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_campaigns_section_status ON campaigns (placement_section, status);
CREATE INDEX IF NOT EXISTS idx_campaigns_vehicle_id ON campaigns (vehicle_id);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*Postgres, error) {
	// Register the otelsql wrapper for postgres
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema() error {
	ctx := context.Background()
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const campaignColumns = `id, vehicle_id, owner_id, owner_type, placement_section, status,
	total_budget, spent_budget, impressions, clicks, quality_score,
	COALESCE(price, 0), image_count, has_description, seller_rating,
	COALESCE(expires_at, 'epoch'::timestamptz), created_at`

// scanCampaign reads one campaign row. Decimal columns go through strings so
// NUMERIC values survive without a float round-trip.
func scanCampaign(rows *sql.Rows) (models.Campaign, error) {
	var c models.Campaign
	var total, spent, quality, price, rating string
	err := rows.Scan(&c.ID, &c.VehicleID, &c.OwnerID, &c.OwnerType, &c.PlacementSection,
		&c.Status, &total, &spent, &c.Impressions, &c.Clicks, &quality, &price,
		&c.ImageCount, &c.HasDescription, &rating,
		&c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	if c.SellerRating, err = decimal.NewFromString(rating); err != nil {
		return c, fmt.Errorf("campaign %d seller_rating: %w", c.ID, err)
	}
	if c.TotalBudget, err = decimal.NewFromString(total); err != nil {
		return c, fmt.Errorf("campaign %d total_budget: %w", c.ID, err)
	}
	if c.SpentBudget, err = decimal.NewFromString(spent); err != nil {
		return c, fmt.Errorf("campaign %d spent_budget: %w", c.ID, err)
	}
	if c.QualityScore, err = decimal.NewFromString(quality); err != nil {
		return c, fmt.Errorf("campaign %d quality_score: %w", c.ID, err)
	}
	if c.Price, err = decimal.NewFromString(price); err != nil {
		return c, fmt.Errorf("campaign %d price: %w", c.ID, err)
	}
	if c.ExpiresAt.Unix() == 0 {
		c.ExpiresAt = time.Time{}
	}
	return c, nil
}

// GetCampaignsByPlacement returns every campaign targeting the section,
// regardless of status. Eligibility filtering is the engine's job.
func (p *Postgres) GetCampaignsByPlacement(ctx context.Context, section string) ([]models.Campaign, error) {
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE placement_section = $1 ORDER BY id`, campaignColumns)
	rows, err := p.DB.QueryContext(ctx, query, section)
	if err != nil {
		return nil, fmt.Errorf("query campaigns for %q: %w", section, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ListActiveCampaigns returns all active campaigns. Used by the quality
// recalculation sweep.
func (p *Postgres) ListActiveCampaigns(ctx context.Context) ([]models.Campaign, error) {
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE status = $1 ORDER BY id`, campaignColumns)
	rows, err := p.DB.QueryContext(ctx, query, models.CampaignStatusActive)
	if err != nil {
		return nil, fmt.Errorf("query active campaigns: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// GetConfigBySection returns the rotation config for a section, or nil when
// none is configured.
func (p *Postgres) GetConfigBySection(ctx context.Context, section string) (*models.RotationConfig, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT placement_section, algorithm, max_vehicles_shown,
		weight_remaining_budget, weight_ctr, weight_quality_score, weight_recency,
		refresh_interval_minutes, active
		FROM rotation_configs WHERE placement_section = $1`, section)

	var cfg models.RotationConfig
	var wBudget, wCtr, wQuality, wRecency string
	err := row.Scan(&cfg.PlacementSection, &cfg.Algorithm, &cfg.MaxVehiclesShown,
		&wBudget, &wCtr, &wQuality, &wRecency, &cfg.RefreshIntervalMinutes, &cfg.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query config for %q: %w", section, err)
	}
	if cfg.WeightRemainingBudget, err = decimal.NewFromString(wBudget); err != nil {
		return nil, fmt.Errorf("config %q weight_remaining_budget: %w", section, err)
	}
	if cfg.WeightCtr, err = decimal.NewFromString(wCtr); err != nil {
		return nil, fmt.Errorf("config %q weight_ctr: %w", section, err)
	}
	if cfg.WeightQualityScore, err = decimal.NewFromString(wQuality); err != nil {
		return nil, fmt.Errorf("config %q weight_quality_score: %w", section, err)
	}
	if cfg.WeightRecency, err = decimal.NewFromString(wRecency); err != nil {
		return nil, fmt.Errorf("config %q weight_recency: %w", section, err)
	}
	return &cfg, nil
}

// ListConfiguredSections returns every placement section that has a rotation
// config row, active or not. Used by cache invalidation.
func (p *Postgres) ListConfiguredSections(ctx context.Context) ([]string, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT placement_section FROM rotation_configs ORDER BY placement_section`)
	if err != nil {
		return nil, fmt.Errorf("query configured sections: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var sections []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

// UpdateCampaignQualityScore persists a freshly computed quality score.
func (p *Postgres) UpdateCampaignQualityScore(ctx context.Context, campaignID int, score decimal.Decimal) error {
	res, err := p.DB.ExecContext(ctx, `UPDATE campaigns SET quality_score = $1 WHERE id = $2`,
		score.StringFixed(2), campaignID)
	if err != nil {
		return fmt.Errorf("update quality score for campaign %d: %w", campaignID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update quality score: campaign %d not found", campaignID)
	}
	return nil
}

// GetAverageMarketPrice returns the average asking price across active
// campaigns for the same vehicle segment (approximated by placement section),
// excluding the campaign itself. Zero means no comparable listings.
func (p *Postgres) GetAverageMarketPrice(ctx context.Context, section string, excludeCampaignID int) (decimal.Decimal, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT COALESCE(AVG(price), 0) FROM campaigns
		WHERE placement_section = $1 AND status = $2 AND id <> $3 AND price IS NOT NULL AND price > 0`,
		section, models.CampaignStatusActive, excludeCampaignID)

	var avg string
	if err := row.Scan(&avg); err != nil {
		return decimal.Zero, fmt.Errorf("query market price for %q: %w", section, err)
	}
	d, err := decimal.NewFromString(avg)
	if err != nil {
		return decimal.Zero, fmt.Errorf("market price for %q: %w", section, err)
	}
	return d, nil
}
