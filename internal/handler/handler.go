package handler

import (
	"context"

	"ticker-pulse/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type SentimentService interface {
	Analyze(ctx context.Context, req service.AnalyzeRequest) (service.AnalyzeResult, error)
}

type Handler struct {
	tracer    trace.Tracer
	sentiment SentimentService
}

func New(tracer trace.Tracer, sentiment SentimentService) *Handler {
	return &Handler{
		tracer:    tracer,
		sentiment: sentiment,
	}
}

// RegisterRoutes mounts the API. An empty apiKey disables authentication.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)

	api := r.Group("/api", APIKeyAuth(apiKey))
	api.POST("/sentiment/analyze", h.AnalyzeSentiment)
}
