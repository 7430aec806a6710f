package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/vehiclemarket/adrotation/internal/middleware"
)

// eventRequest is the payload for impression and click events posted by the
// homepage frontend.
type eventRequest struct {
	CampaignID int    `json:"campaign_id"`
	Placement  string `json:"placement"`
	OwnerType  string `json:"owner_type"`
}

func decodeEventRequest(r *http.Request) (*eventRequest, bool) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, false
	}
	if req.CampaignID <= 0 || req.Placement == "" {
		return nil, false
	}
	return &req, true
}

// ImpressionHandler handles POST /event/impression.
func (s *Server) ImpressionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ImpressionHandler")
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "impression"
	const method = "POST"

	req, ok := decodeEventRequest(r)
	if !ok {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.Int("campaign_id", req.CampaignID),
		attribute.String("placement", req.Placement),
	)

	if err := s.Analytics.RecordImpression(ctx, req.CampaignID, req.Placement, req.OwnerType); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record impression failed")
		logger.Error("record impression", zap.Int("campaign_id", req.CampaignID), zap.Error(err))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "event not recorded", http.StatusInternalServerError)
		return
	}

	s.Metrics.IncrementImpressions(req.Placement)
	s.Metrics.IncrementRequests(endpoint, method, "202")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	w.WriteHeader(http.StatusAccepted)
}

// CampaignCreatedHandler handles POST /event/campaign-created, a webhook the
// campaign management service calls after inserting a campaign. It bumps the
// creation counter and drops the section's cached rotation so the new
// campaign can surface on the next refresh.
func (s *Server) CampaignCreatedHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "CampaignCreatedHandler")
	defer span.End()

	start := time.Now()
	const endpoint = "campaign_created"
	const method = "POST"

	req, ok := decodeEventRequest(r)
	if !ok {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("campaign_id", req.CampaignID))

	s.Metrics.IncrementCampaignsCreated(req.OwnerType)
	s.Cache.Invalidate(ctx, req.Placement)

	s.Metrics.IncrementRequests(endpoint, method, "202")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	w.WriteHeader(http.StatusAccepted)
}

// ClickHandler handles POST /event/click.
func (s *Server) ClickHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ClickHandler")
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "click"
	const method = "POST"

	req, ok := decodeEventRequest(r)
	if !ok {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.Int("campaign_id", req.CampaignID),
		attribute.String("placement", req.Placement),
	)

	if err := s.Analytics.RecordClick(ctx, req.CampaignID, req.Placement, req.OwnerType); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record click failed")
		logger.Error("record click", zap.Int("campaign_id", req.CampaignID), zap.Error(err))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "event not recorded", http.StatusInternalServerError)
		return
	}

	s.Metrics.IncrementClicks(req.Placement)
	s.Metrics.IncrementRequests(endpoint, method, "202")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	w.WriteHeader(http.StatusAccepted)
}
