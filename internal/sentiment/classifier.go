package sentiment

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"ticker-pulse/internal/domain"
	"ticker-pulse/internal/transport"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	titleLimit       = 220
	descriptionLimit = 900
	reasonLimit      = 140

	systemPrompt = "You are a precise financial news sentiment engine. " +
		"Classify each article's expected impact on the stock's price over the next 1-5 trading days. " +
		"Use only the provided text. If unclear, choose neutral. " +
		"Return the requested JSON only."
)

// Config is the classification service configuration. It is an explicit
// value passed by the caller; nothing here reads the environment.
type Config struct {
	APIKey          string
	Model           string
	BaseURL         string
	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration
	MaxRetries      int
}

func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:          apiKey,
		Model:           "gpt-4o-mini",
		BaseURL:         "https://api.openai.com/v1",
		Temperature:     0.2,
		MaxOutputTokens: 900,
		Timeout:         45 * time.Second,
		MaxRetries:      6,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.APIKey)
	if strings.TrimSpace(c.Model) == "" {
		c.Model = d.Model
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = d.BaseURL
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = d.MaxOutputTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	return c
}

// Classifier sends article batches to the OpenAI Responses API and turns
// the structured output into validated ArticleSentiment values. The model
// output is untrusted: anything that fails validation is dropped per
// article and backfilled neutral, never fatal for the batch.
type Classifier struct {
	client *transport.Client
	tracer trace.Tracer
}

func NewClassifier(client *transport.Client, tracer trace.Tracer) *Classifier {
	return &Classifier{client: client, tracer: tracer}
}

// Classify returns exactly one entry per input article.
func (c *Classifier) Classify(ctx context.Context, ticker string, articles []domain.Article, cfg Config, includeReasons bool) ([]domain.ArticleSentiment, error) {
	ctx, span := c.tracer.Start(ctx, "sentiment.classify")
	defer span.End()
	span.SetAttributes(
		attribute.String("ticker", ticker),
		attribute.Int("articles", len(articles)),
		attribute.Bool("include_reasons", includeReasons),
	)

	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.ConfigErrorf("missing OpenAI API key")
	}
	cfg = cfg.withDefaults()

	payloadArticles := make([]map[string]any, 0, len(articles))
	for _, a := range articles {
		var publishedAt any
		if !a.PublishedAt.IsZero() {
			publishedAt = a.PublishedAt.UTC().Format(time.RFC3339)
		}
		payloadArticles = append(payloadArticles, map[string]any{
			"article_id":   a.ID,
			"title":        truncateText(a.Title, titleLimit),
			"description":  truncateText(a.Description, descriptionLimit),
			"source":       a.Source,
			"published_at": publishedAt,
		})
	}

	instructions := map[string]any{
		"label":      "positive/negative/neutral price impact",
		"score":      "number in [-1, 1] matching label sign; neutral should be 0",
		"confidence": "number in [0, 1]",
	}
	if includeReasons {
		instructions["reason"] = "short justification (<= 20 words)"
	}
	userDoc, err := json.Marshal(map[string]any{
		"ticker":       ticker,
		"instructions": instructions,
		"articles":     payloadArticles,
	})
	if err != nil {
		return nil, domain.ParseErrorf("encode classification request: %v", err)
	}

	body := map[string]any{
		"model": cfg.Model,
		"input": []map[string]any{
			{"role": "system", "content": []map[string]any{{"type": "text", "text": systemPrompt}}},
			{"role": "user", "content": []map[string]any{{"type": "text", "text": string(userDoc)}}},
		},
		"response_format":   responseSchema(includeReasons),
		"temperature":       cfg.Temperature,
		"max_output_tokens": cfg.MaxOutputTokens,
	}

	opts := transport.DefaultOptions()
	opts.Timeout = cfg.Timeout
	opts.MaxRetries = cfg.MaxRetries

	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/responses"
	headers := map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	response, err := c.client.DoJSON(ctx, "POST", endpoint, headers, body, opts)
	if err != nil {
		return nil, err
	}

	text := extractOutputText(response)
	if text == "" {
		return nil, domain.ParseErrorf("classification response contained no output text")
	}

	var parsed struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, domain.ParseErrorf("classification output was not valid JSON: %v", err)
	}
	if parsed.Results == nil {
		return nil, domain.ParseErrorf("classification output missing 'results' array")
	}

	byID := make(map[string]domain.ArticleSentiment, len(parsed.Results))
	for _, raw := range parsed.Results {
		if s, ok := validateResult(raw, includeReasons); ok {
			byID[s.ArticleID] = s
		}
	}

	results := make([]domain.ArticleSentiment, 0, len(articles))
	for _, a := range articles {
		if s, ok := byID[a.ID]; ok {
			results = append(results, s)
			continue
		}
		backfill := domain.ArticleSentiment{
			ArticleID: a.ID,
			Label:     domain.LabelNeutral,
		}
		if includeReasons {
			backfill.Reason = "No classification returned"
		}
		results = append(results, backfill)
	}
	return results, nil
}

// validateResult enforces the output contract on a single entry. Wrong
// types discard the entry; out-of-range numbers are clamped and the score
// sign is corrected to match the label.
func validateResult(raw json.RawMessage, includeReasons bool) (domain.ArticleSentiment, bool) {
	var item map[string]any
	if err := json.Unmarshal(raw, &item); err != nil {
		return domain.ArticleSentiment{}, false
	}

	articleID, ok := item["article_id"].(string)
	if !ok || articleID == "" {
		return domain.ArticleSentiment{}, false
	}
	labelRaw, _ := item["label"].(string)
	label := domain.SentimentLabel(labelRaw)
	if !label.IsValid() {
		return domain.ArticleSentiment{}, false
	}
	score, ok := item["score"].(float64)
	if !ok || math.IsNaN(score) || math.IsInf(score, 0) {
		return domain.ArticleSentiment{}, false
	}
	confidence, ok := item["confidence"].(float64)
	if !ok || math.IsNaN(confidence) || math.IsInf(confidence, 0) {
		return domain.ArticleSentiment{}, false
	}

	score, confidence = normalizeSentiment(label, score, confidence)

	reason := ""
	if includeReasons {
		if r, ok := item["reason"].(string); ok {
			reason = truncateText(r, reasonLimit)
		}
	}

	return domain.ArticleSentiment{
		ArticleID:  articleID,
		Label:      label,
		Score:      score,
		Confidence: confidence,
		Reason:     reason,
	}, true
}

// responseSchema builds the json_schema response_format. The reason field
// is part of the required schema only when reasons were requested, which
// is also why the two modes carry different prompt versions in cache keys.
func responseSchema(includeReasons bool) map[string]any {
	properties := map[string]any{
		"article_id": map[string]any{"type": "string"},
		"label":      map[string]any{"type": "string", "enum": []string{"positive", "negative", "neutral"}},
		"score":      map[string]any{"type": "number"},
		"confidence": map[string]any{"type": "number"},
	}
	required := []string{"article_id", "label", "score", "confidence"}
	if includeReasons {
		properties["reason"] = map[string]any{"type": "string"}
		required = append(required, "reason")
	}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"results": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties":           properties,
					"required":             required,
				},
			},
		},
		"required": []string{"results"},
	}

	return map[string]any{
		"type": "json_schema",
		"json_schema": map[string]any{
			"name":   "sentiment_results",
			"schema": schema,
			"strict": true,
		},
	}
}

// extractOutputText handles both Responses API shapes: the flat
// output_text field, or text reassembled from output[].content[].
func extractOutputText(response map[string]any) string {
	if flat, ok := response["output_text"].(string); ok && strings.TrimSpace(flat) != "" {
		return flat
	}

	output, _ := response["output"].([]any)
	var chunks []string
	for _, rawItem := range output {
		item, ok := rawItem.(map[string]any)
		if !ok || item["type"] != "message" {
			continue
		}
		contents, _ := item["content"].([]any)
		for _, rawContent := range contents {
			content, ok := rawContent.(map[string]any)
			if !ok || content["type"] != "output_text" {
				continue
			}
			if text, ok := content["text"].(string); ok {
				chunks = append(chunks, text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(chunks, "\n"))
}

// truncateText collapses whitespace and bounds length, marking cuts with
// an ellipsis.
func truncateText(text string, limit int) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	runes := []rune(cleaned)
	if len(runes) <= limit {
		return cleaned
	}
	return strings.TrimRight(string(runes[:limit-1]), " ") + "…"
}
