package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// Event types recorded for campaigns.
const (
	EventTypeImpression = "impression"
	EventTypeClick      = "click"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// Service defines the interface for campaign engagement analytics. The
// rotation subsystem records impression/click events through it and the
// quality calculator reads trailing aggregates from it.
type Service interface {
	// RecordImpression stores a single impression event for a campaign.
	RecordImpression(ctx context.Context, campaignID int, placement, ownerType string) error
	// RecordClick stores a single click event for a campaign.
	RecordClick(ctx context.Context, campaignID int, placement, ownerType string) error
	// CountImpressions returns the number of impressions for a campaign since the given time.
	CountImpressions(ctx context.Context, campaignID int, since time.Time) (int64, error)
	// CountClicks returns the number of clicks for a campaign since the given time.
	CountClicks(ctx context.Context, campaignID int, since time.Time) (int64, error)
}

// Analytics wraps a ClickHouse connection holding campaign engagement events.
type Analytics struct {
	DB *sql.DB
}

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(dsn string) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS campaign_events (
       timestamp   DateTime,
       event_type  String,
       event_id    String,
       campaign_id Int32,
       placement   String,
       owner_type  String
   ) ENGINE=MergeTree() ORDER BY (campaign_id, event_type, timestamp)`
	if _, err := db.ExecContext(context.Background(), create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db}, nil
}

func (a *Analytics) recordEvent(ctx context.Context, eventType string, campaignID int, placement, ownerType string) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	_, err := a.DB.ExecContext(ctx,
		`INSERT INTO campaign_events (timestamp, event_type, event_id, campaign_id, placement, owner_type)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), eventType, uuid.NewString(), int32(campaignID), placement, ownerType)
	if err != nil {
		return fmt.Errorf("record %s for campaign %d: %w", eventType, campaignID, err)
	}
	return nil
}

// RecordImpression stores a single impression event.
func (a *Analytics) RecordImpression(ctx context.Context, campaignID int, placement, ownerType string) error {
	return a.recordEvent(ctx, EventTypeImpression, campaignID, placement, ownerType)
}

// RecordClick stores a single click event.
func (a *Analytics) RecordClick(ctx context.Context, campaignID int, placement, ownerType string) error {
	return a.recordEvent(ctx, EventTypeClick, campaignID, placement, ownerType)
}

func (a *Analytics) countEvents(ctx context.Context, eventType string, campaignID int, since time.Time) (int64, error) {
	if a == nil || a.DB == nil {
		return 0, ErrUnavailable
	}
	row := a.DB.QueryRowContext(ctx,
		`SELECT count() FROM campaign_events WHERE campaign_id = ? AND event_type = ? AND timestamp >= ?`,
		int32(campaignID), eventType, since.UTC())
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s for campaign %d: %w", eventType, campaignID, err)
	}
	return n, nil
}

// CountImpressions returns impressions for a campaign since the given time.
func (a *Analytics) CountImpressions(ctx context.Context, campaignID int, since time.Time) (int64, error) {
	return a.countEvents(ctx, EventTypeImpression, campaignID, since)
}

// CountClicks returns clicks for a campaign since the given time.
func (a *Analytics) CountClicks(ctx context.Context, campaignID int, since time.Time) (int64, error) {
	return a.countEvents(ctx, EventTypeClick, campaignID, since)
}

// Close shuts down the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
