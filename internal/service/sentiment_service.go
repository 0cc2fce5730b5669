// Package service wires the news providers, the cache and the sentiment
// analyzer into one analysis pipeline shared by the CLI and the HTTP API.
package service

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"ticker-pulse/internal/cache"
	"ticker-pulse/internal/domain"
	"ticker-pulse/internal/provider"
	"ticker-pulse/internal/sentiment"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	SourceAuto      = "auto"
	SourceNewsAPI   = "newsapi"
	SourceGoogleRSS = "google-rss"

	defaultDays          = 3
	defaultMaxArticles   = 25
	defaultHalfLifeHours = 24.0
	maxTickerLength      = 24
)

// ValidateTicker normalizes and validates a stock symbol. Deliberately
// loose on the alphabet so index forms like ^GSPC and long exchange
// suffixes pass; only emptiness, whitespace and absurd length reject.
func ValidateTicker(raw string) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw))
	if ticker == "" {
		return "", domain.ConfigErrorf("ticker cannot be empty")
	}
	if strings.ContainsFunc(ticker, unicode.IsSpace) {
		return "", domain.ConfigErrorf("ticker cannot contain whitespace")
	}
	if utf8.RuneCountInString(ticker) > maxTickerLength {
		return "", domain.ConfigErrorf("ticker looks too long; expected a symbol like TSLA")
	}
	return ticker, nil
}

// ValidateBaseURL rejects anything that is not an absolute http(s) URL.
// Catching this up front matters: a malformed endpoint otherwise fails
// as a retryable network error and sits through the whole backoff cycle.
func ValidateBaseURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.ConfigErrorf("OpenAI base URL cannot be empty")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return domain.ConfigErrorf("OpenAI base URL must be an http(s) URL (e.g., https://api.openai.com/v1)")
	}
	return nil
}

type NewsAPISource interface {
	FetchEverything(ctx context.Context, q provider.EverythingQuery) ([]domain.Article, error)
}

type RSSSource interface {
	FetchSearch(ctx context.Context, q provider.RSSQuery) ([]domain.Article, error)
}

type SentimentAnalyzer interface {
	AnalyzeWithCache(ctx context.Context, params sentiment.AnalyzeParams) (domain.SentimentSummary, error)
}

// Service runs the full pipeline: fetch, dedup, classify, aggregate.
// newsAPI may be nil when no NewsAPI key is configured; auto source
// selection then goes straight to Google News.
type Service struct {
	tracer   trace.Tracer
	newsAPI  NewsAPISource
	rss      RSSSource
	analyzer SentimentAnalyzer
	store    cache.Store
	cacheTTL time.Duration
	cfg      sentiment.Config

	now func() time.Time
}

func New(
	tracer trace.Tracer,
	newsAPI NewsAPISource,
	rss RSSSource,
	analyzer SentimentAnalyzer,
	store cache.Store,
	cacheTTL time.Duration,
	cfg sentiment.Config,
) *Service {
	return &Service{
		tracer:   tracer,
		newsAPI:  newsAPI,
		rss:      rss,
		analyzer: analyzer,
		store:    store,
		cacheTTL: cacheTTL,
		cfg:      cfg,
		now:      time.Now,
	}
}

// AnalyzeRequest is one analysis run. Zero values take the documented
// defaults; out-of-range values are a ConfigError, not silently clamped.
type AnalyzeRequest struct {
	Ticker         string
	Query          string
	Days           int
	MaxArticles    int
	Source         string
	IncludeReasons bool
	HalfLifeHours  float64
	NoCache        bool
}

// AnalyzeResult carries the summary plus the run metadata callers render.
type AnalyzeResult struct {
	Summary      domain.SentimentSummary
	Articles     []domain.Article
	Source       string
	LookbackDays int
}

func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.analyze")
	defer span.End()

	ticker, err := ValidateTicker(req.Ticker)
	if err != nil {
		return AnalyzeResult{}, err
	}

	days := req.Days
	if days == 0 {
		days = defaultDays
	}
	if days < 1 {
		return AnalyzeResult{}, domain.ConfigErrorf("days must be >= 1, got %d", days)
	}

	maxArticles := req.MaxArticles
	if maxArticles == 0 {
		maxArticles = defaultMaxArticles
	}
	if maxArticles < 1 {
		return AnalyzeResult{}, domain.ConfigErrorf("max articles must be >= 1, got %d", maxArticles)
	}

	halfLife := req.HalfLifeHours
	if halfLife == 0 {
		halfLife = defaultHalfLifeHours
	}
	if halfLife <= 0 {
		return AnalyzeResult{}, domain.ConfigErrorf("half-life hours must be > 0, got %g", req.HalfLifeHours)
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = ticker
	}

	source := strings.ToLower(strings.TrimSpace(req.Source))
	if source == "" {
		source = SourceAuto
	}
	if source != SourceAuto && source != SourceNewsAPI && source != SourceGoogleRSS {
		return AnalyzeResult{}, domain.ConfigErrorf("unknown source %q: expected auto, newsapi or google-rss", req.Source)
	}

	span.SetAttributes(
		attribute.String("ticker", ticker),
		attribute.String("source", source),
		attribute.Int("days", days),
	)

	from := s.now().UTC().AddDate(0, 0, -days)
	articles, usedSource, err := s.fetchArticles(ctx, source, query, from)
	if err != nil {
		return AnalyzeResult{}, err
	}

	articles = dedupArticles(articles)
	if len(articles) > maxArticles {
		articles = articles[:maxArticles]
	}
	span.SetAttributes(attribute.Int("articles", len(articles)), attribute.String("source.used", usedSource))

	store := s.store
	if req.NoCache {
		store = nil
	}
	summary, err := s.analyzer.AnalyzeWithCache(ctx, sentiment.AnalyzeParams{
		Ticker:         ticker,
		Query:          query,
		Articles:       articles,
		Cache:          store,
		CacheTTL:       s.cacheTTL,
		Config:         s.cfg,
		IncludeReasons: req.IncludeReasons,
		HalfLifeHours:  halfLife,
	})
	if err != nil {
		return AnalyzeResult{}, err
	}

	return AnalyzeResult{
		Summary:      summary,
		Articles:     articles,
		Source:       usedSource,
		LookbackDays: days,
	}, nil
}

// fetchArticles resolves the source and returns the one actually used.
// In auto mode a NewsAPI failure degrades to Google News with a warning
// instead of failing the run.
func (s *Service) fetchArticles(ctx context.Context, source, query string, from time.Time) ([]domain.Article, string, error) {
	fetchRSS := func() ([]domain.Article, string, error) {
		articles, err := s.rss.FetchSearch(ctx, provider.RSSQuery{Query: query, From: from})
		return articles, SourceGoogleRSS, err
	}
	fetchNewsAPI := func() ([]domain.Article, string, error) {
		articles, err := s.newsAPI.FetchEverything(ctx, provider.EverythingQuery{
			Query: query,
			From:  from.Format("2006-01-02"),
		})
		return articles, SourceNewsAPI, err
	}

	switch source {
	case SourceGoogleRSS:
		return fetchRSS()
	case SourceNewsAPI:
		if s.newsAPI == nil {
			return nil, "", domain.ConfigErrorf("newsapi source requires NEWSAPI_KEY")
		}
		return fetchNewsAPI()
	default: // auto
		if s.newsAPI == nil {
			return fetchRSS()
		}
		articles, used, err := fetchNewsAPI()
		var remoteErr *domain.RemoteAPIError
		if err != nil && errors.As(err, &remoteErr) {
			log.Printf("warn: newsapi failed, falling back to google-rss: %v", err)
			return fetchRSS()
		}
		return articles, used, err
	}
}

// dedupArticles keeps the first occurrence per URL, falling back to the
// derived id for items without one. Order is preserved.
func dedupArticles(articles []domain.Article) []domain.Article {
	seen := make(map[string]struct{}, len(articles))
	out := make([]domain.Article, 0, len(articles))
	for _, a := range articles {
		key := strings.TrimSpace(a.URL)
		if key == "" {
			key = a.ID
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}
