package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vehiclemarket/adrotation/internal/middleware"
	"github.com/vehiclemarket/adrotation/internal/models"
)

var tracer = otel.Tracer("adrotation")

// writeJSON writes v as a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetRotationHandler handles GET /rotation/{section}. A section with no
// active config answers 200 with an empty item list so clients don't need a
// special case for "no ads configured".
func (s *Server) GetRotationHandler(w http.ResponseWriter, r *http.Request) {
	section := mux.Vars(r)["section"]
	ctx, span := tracer.Start(r.Context(), "GetRotationHandler",
		trace.WithAttributes(attribute.String("rotation.section", section)))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "rotation"
	const method = "GET"

	result, err := s.Cache.GetRotation(ctx, section)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rotation failed")
		logger.Error("get rotation", zap.String("section", section), zap.Error(err))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "rotation unavailable", http.StatusInternalServerError)
		return
	}
	if result == nil {
		result = &models.RotationResult{
			PlacementSection: section,
			GeneratedAt:      time.Now(),
		}
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

// RefreshRotationHandler handles POST /rotation/{section}/refresh, forcing a
// recomputation regardless of what is cached.
func (s *Server) RefreshRotationHandler(w http.ResponseWriter, r *http.Request) {
	section := mux.Vars(r)["section"]
	ctx, span := tracer.Start(r.Context(), "RefreshRotationHandler",
		trace.WithAttributes(attribute.String("rotation.section", section)))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "rotation_refresh"
	const method = "POST"

	result, err := s.Cache.RefreshRotation(ctx, section)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		logger.Error("refresh rotation", zap.String("section", section), zap.Error(err))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, "rotation unavailable", http.StatusInternalServerError)
		return
	}
	if result == nil {
		result = &models.RotationResult{
			PlacementSection: section,
			GeneratedAt:      time.Now(),
		}
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

// InvalidateHandler handles DELETE /rotation/{section}.
func (s *Server) InvalidateHandler(w http.ResponseWriter, r *http.Request) {
	section := mux.Vars(r)["section"]
	ctx, span := tracer.Start(r.Context(), "InvalidateHandler",
		trace.WithAttributes(attribute.String("rotation.section", section)))
	defer span.End()

	start := time.Now()
	const endpoint = "rotation_invalidate"
	const method = "DELETE"

	s.Cache.Invalidate(ctx, section)

	s.Metrics.IncrementRequests(endpoint, method, "204")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateAllHandler handles DELETE /rotation.
func (s *Server) InvalidateAllHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "InvalidateAllHandler")
	defer span.End()

	start := time.Now()
	const endpoint = "rotation_invalidate_all"
	const method = "DELETE"

	s.Cache.InvalidateAll(ctx)

	s.Metrics.IncrementRequests(endpoint, method, "204")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	w.WriteHeader(http.StatusNoContent)
}
