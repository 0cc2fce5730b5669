package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"ticker-pulse/internal/cache"
	"ticker-pulse/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Prompt versions participate in cache keys. v2 requires a reason in the
// schema, v1 does not; cross-version reuse is allowed as long as the
// entry satisfies the reason requirement of the current run.
const (
	promptVersionNoReasons   = "openai_sentiment_v1"
	promptVersionWithReasons = "openai_sentiment_v2"

	defaultBatchSize = 20
)

// ArticleClassifier is what the analyzer needs from the classification
// layer. *Classifier satisfies it; tests substitute stubs.
type ArticleClassifier interface {
	Classify(ctx context.Context, ticker string, articles []domain.Article, cfg Config, includeReasons bool) ([]domain.ArticleSentiment, error)
}

// Analyzer orchestrates per-article classification against a cache so
// repeated runs over the same news window cost zero model calls.
type Analyzer struct {
	tracer     trace.Tracer
	classifier ArticleClassifier
}

func NewAnalyzer(tracer trace.Tracer, classifier ArticleClassifier) *Analyzer {
	return &Analyzer{tracer: tracer, classifier: classifier}
}

// AnalyzeParams bundles one analysis run. Cache may be nil to force fresh
// classification for every article.
type AnalyzeParams struct {
	Ticker         string
	Query          string
	Articles       []domain.Article
	Cache          cache.Store
	CacheTTL       time.Duration
	Config         Config
	IncludeReasons bool
	BatchSize      int
	HalfLifeHours  float64
}

// AnalyzeWithCache resolves each article from cache where possible,
// classifies the rest in batches, persists fresh results, and aggregates
// everything into a summary. Cache hits found under fallback keys are
// rewritten under the primary key so the next run hits directly.
func (a *Analyzer) AnalyzeWithCache(ctx context.Context, params AnalyzeParams) (domain.SentimentSummary, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment.analyze")
	defer span.End()

	// Defaults are resolved before any key derivation so that an explicit
	// model name and an empty one that defaults to it share cache entries.
	cfg := params.Config.withDefaults()
	span.SetAttributes(
		attribute.String("ticker", params.Ticker),
		attribute.Int("articles", len(params.Articles)),
		attribute.String("model", cfg.Model),
	)

	articlesByID := make(map[string]domain.Article, len(params.Articles))
	for _, article := range params.Articles {
		articlesByID[article.ID] = article
	}

	if len(params.Articles) == 0 {
		return Summarize(params.Ticker, params.Query, nil, articlesByID, params.HalfLifeHours), nil
	}

	promptVersion := promptVersionNoReasons
	if params.IncludeReasons {
		promptVersion = promptVersionWithReasons
	}

	results := make(map[string]domain.ArticleSentiment, len(params.Articles))
	var missing []domain.Article
	cacheHits := 0
	for _, article := range params.Articles {
		primary := cacheKey(promptVersion, cfg, params.Ticker, article.ID)
		if params.Cache == nil {
			missing = append(missing, article)
			continue
		}
		sentiment, ok := a.lookupCached(ctx, params, cfg, promptVersion, primary, article.ID)
		if !ok {
			missing = append(missing, article)
			continue
		}
		results[article.ID] = sentiment
		cacheHits++
	}
	span.SetAttributes(attribute.Int("cache.hits", cacheHits), attribute.Int("cache.misses", len(missing)))

	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	for start := 0; start < len(missing); start += batchSize {
		end := start + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		classified, err := a.classifier.Classify(ctx, params.Ticker, batch, cfg, params.IncludeReasons)
		if err != nil {
			return domain.SentimentSummary{}, err
		}
		for _, sentiment := range classified {
			results[sentiment.ArticleID] = sentiment
			if params.Cache != nil {
				params.Cache.Set(ctx, cacheKey(promptVersion, cfg, params.Ticker, sentiment.ArticleID), sentiment)
			}
		}
	}

	// Merge in input order; anything still unaccounted for (a classifier
	// bug, not an expected path) gets a neutral placeholder.
	ordered := make([]domain.ArticleSentiment, 0, len(params.Articles))
	for _, article := range params.Articles {
		sentiment, ok := results[article.ID]
		if !ok {
			log.Printf("warn: no sentiment resolved for article %s, defaulting neutral", article.ID)
			sentiment = domain.ArticleSentiment{ArticleID: article.ID, Label: domain.LabelNeutral}
		}
		if !params.IncludeReasons {
			sentiment.Reason = ""
		}
		ordered = append(ordered, sentiment)
	}

	return Summarize(params.Ticker, params.Query, ordered, articlesByID, params.HalfLifeHours), nil
}

// lookupCached walks the candidate keys in priority order and forwards
// any non-primary hit to the primary key.
func (a *Analyzer) lookupCached(ctx context.Context, params AnalyzeParams, cfg Config, promptVersion, primary, articleID string) (domain.ArticleSentiment, bool) {
	for _, candidate := range candidateKeys(params, cfg, promptVersion, articleID) {
		raw, ok := params.Cache.Get(ctx, candidate.key, params.CacheTTL)
		if !ok {
			continue
		}
		sentiment, ok := parseCached(raw, articleID, candidate.requireReason)
		if !ok {
			continue
		}
		if candidate.key != primary {
			params.Cache.Set(ctx, primary, sentiment)
		}
		return sentiment, true
	}
	return domain.ArticleSentiment{}, false
}

type cacheCandidate struct {
	key           string
	requireReason bool
}

// candidateKeys lists lookup keys from most to least specific: the
// current key format, its pre-versioning legacy form, then the opposite
// prompt version. A reasons-free run may reuse any entry; a
// reasons-required run may reuse v1 entries only when they carry one.
func candidateKeys(params AnalyzeParams, cfg Config, promptVersion, articleID string) []cacheCandidate {
	candidates := []cacheCandidate{
		{key: cacheKey(promptVersion, cfg, params.Ticker, articleID), requireReason: params.IncludeReasons},
		{key: legacyCacheKey(promptVersion, cfg, params.Ticker, articleID), requireReason: params.IncludeReasons},
	}
	if params.IncludeReasons {
		// A v1 entry that happens to carry a reason is still usable.
		candidates = append(candidates,
			cacheCandidate{key: cacheKey(promptVersionNoReasons, cfg, params.Ticker, articleID), requireReason: true},
			cacheCandidate{key: legacyCacheKey(promptVersionNoReasons, cfg, params.Ticker, articleID), requireReason: true},
		)
	} else {
		candidates = append(candidates,
			cacheCandidate{key: cacheKey(promptVersionWithReasons, cfg, params.Ticker, articleID), requireReason: false},
			cacheCandidate{key: legacyCacheKey(promptVersionWithReasons, cfg, params.Ticker, articleID), requireReason: false},
		)
	}
	return candidates
}

// cacheKey pins every classification-relevant parameter, so changing the
// model, temperature, token budget or endpoint invalidates naturally.
func cacheKey(promptVersion string, cfg Config, ticker, articleID string) string {
	return fmt.Sprintf("%s:%s:%s:%.6g:%d:%s:%s",
		promptVersion,
		strings.TrimRight(cfg.BaseURL, "/"),
		cfg.Model,
		cfg.Temperature,
		cfg.MaxOutputTokens,
		ticker,
		articleID,
	)
}

// legacyCacheKey is the older format that ignored endpoint and sampling
// parameters. Read-only: hits get forwarded to the current format.
func legacyCacheKey(promptVersion string, cfg Config, ticker, articleID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", promptVersion, cfg.Model, ticker, articleID)
}

// parseCached reconstructs a sentiment from a stored entry, applying the
// same validation as fresh classifier output, plus the numeric leniency
// older entries need (numbers stored as strings).
func parseCached(raw json.RawMessage, articleID string, requireReason bool) (domain.ArticleSentiment, bool) {
	var item map[string]any
	if err := json.Unmarshal(raw, &item); err != nil {
		return domain.ArticleSentiment{}, false
	}

	storedID, _ := item["article_id"].(string)
	if storedID != articleID {
		return domain.ArticleSentiment{}, false
	}
	labelRaw, _ := item["label"].(string)
	label := domain.SentimentLabel(labelRaw)
	if !label.IsValid() {
		return domain.ArticleSentiment{}, false
	}
	score, ok := lenientFloat(item["score"])
	if !ok {
		return domain.ArticleSentiment{}, false
	}
	confidence, ok := lenientFloat(item["confidence"])
	if !ok {
		return domain.ArticleSentiment{}, false
	}
	score, confidence = normalizeSentiment(label, score, confidence)

	reason, _ := item["reason"].(string)
	reason = truncateText(reason, reasonLimit)
	if requireReason && reason == "" {
		return domain.ArticleSentiment{}, false
	}

	return domain.ArticleSentiment{
		ArticleID:  articleID,
		Label:      label,
		Score:      score,
		Confidence: confidence,
		Reason:     reason,
	}, true
}

// lenientFloat accepts JSON numbers and numeric strings, rejecting
// non-finite values either way.
func lenientFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
