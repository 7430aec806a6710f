package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/vehiclemarket/adrotation/internal/analytics"
	"github.com/vehiclemarket/adrotation/internal/config"
	"github.com/vehiclemarket/adrotation/internal/logic/rotation"
	"github.com/vehiclemarket/adrotation/internal/middleware"
	"github.com/vehiclemarket/adrotation/internal/observability"
)

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger    *zap.Logger
	Cache     *rotation.Cache
	Analytics analytics.Service
	Metrics   observability.MetricsRegistry
	Config    config.Config
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, cache *rotation.Cache, svc analytics.Service, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	return &Server{
		Logger:    logger,
		Cache:     cache,
		Analytics: svc,
		Metrics:   metrics,
		Config:    cfg,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "adrotation")
	})
	r.Use(middleware.WithTraceLogger(s.Logger))

	r.HandleFunc("/rotation/{section}", s.GetRotationHandler).Methods(http.MethodGet)
	r.HandleFunc("/rotation/{section}/refresh", s.RefreshRotationHandler).Methods(http.MethodPost)
	r.HandleFunc("/rotation/{section}", s.InvalidateHandler).Methods(http.MethodDelete)
	r.HandleFunc("/rotation", s.InvalidateAllHandler).Methods(http.MethodDelete)
	r.HandleFunc("/event/impression", s.ImpressionHandler).Methods(http.MethodPost)
	r.HandleFunc("/event/click", s.ClickHandler).Methods(http.MethodPost)
	r.HandleFunc("/event/campaign-created", s.CampaignCreatedHandler).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}
