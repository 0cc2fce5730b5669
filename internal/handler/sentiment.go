package handler

import (
	"errors"
	"net/http"

	"ticker-pulse/internal/domain"
	"ticker-pulse/internal/service"

	"github.com/gin-gonic/gin"
)

type analyzeRequest struct {
	Ticker          string  `json:"ticker"`
	Query           string  `json:"query"`
	Days            int     `json:"days"`
	MaxArticles     int     `json:"max_articles"`
	Source          string  `json:"source"`
	IncludeReasons  bool    `json:"include_reasons"`
	IncludeArticles bool    `json:"include_articles"`
	HalfLifeHours   float64 `json:"half_life_hours"`
	NoCache         bool    `json:"no_cache"`
}

// AnalyzeSentiment godoc
// @Summary      Analyze news sentiment for a stock ticker
// @Description  Fetches recent news, classifies each article and aggregates a weighted verdict
// @Tags         sentiment
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/sentiment/analyze [post]
func (h *Handler) AnalyzeSentiment(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.analyze-sentiment")
	defer span.End()

	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := h.sentiment.Analyze(ctx, service.AnalyzeRequest{
		Ticker:         req.Ticker,
		Query:          req.Query,
		Days:           req.Days,
		MaxArticles:    req.MaxArticles,
		Source:         req.Source,
		IncludeReasons: req.IncludeReasons,
		HalfLifeHours:  req.HalfLifeHours,
		NoCache:        req.NoCache,
	})
	if err != nil {
		status := statusForError(err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if len(result.Articles) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "no articles found for " + result.Summary.Ticker,
			"source": result.Source,
		})
		return
	}

	payload := gin.H{
		"summary":       result.Summary,
		"source":        result.Source,
		"lookback_days": result.LookbackDays,
	}
	if req.IncludeArticles {
		payload["articles"] = result.Articles
	}
	c.JSON(http.StatusOK, payload)
}

// statusForError maps the error taxonomy to HTTP: caller mistakes are
// 400, a misbehaving upstream payload is 502, upstream unavailability
// after retries is 503.
func statusForError(err error) int {
	var configErr *domain.ConfigError
	if errors.As(err, &configErr) {
		return http.StatusBadRequest
	}
	var parseErr *domain.ParseError
	if errors.As(err, &parseErr) {
		return http.StatusBadGateway
	}
	var remoteErr *domain.RemoteAPIError
	if errors.As(err, &remoteErr) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
