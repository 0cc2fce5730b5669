package provider

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ticker-pulse/internal/domain"
	"ticker-pulse/internal/transport"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const newsAPIBaseURL = "https://newsapi.org"

// NewsAPIProvider queries the NewsAPI "everything" search endpoint. The API
// key travels in a request header, never in the URL, so it cannot leak into
// error messages or logs even before redaction kicks in.
type NewsAPIProvider struct {
	client  *transport.Client
	tracer  trace.Tracer
	limiter *RateLimiter
	apiKey  string
	baseURL string
}

func NewNewsAPIProvider(client *transport.Client, tracer trace.Tracer, apiKey string) *NewsAPIProvider {
	return &NewsAPIProvider{
		client:  client,
		tracer:  tracer,
		limiter: NewRateLimiter(1, time.Second),
		apiKey:  apiKey,
		baseURL: newsAPIBaseURL,
	}
}

// EverythingQuery mirrors the /v2/everything parameters we use. Dates are
// ISO-8601 or YYYY-MM-DD strings, as NewsAPI expects.
type EverythingQuery struct {
	Query    string
	From     string
	To       string
	Language string
	SortBy   string
	PageSize int
	Page     int
}

func (q EverythingQuery) withDefaults() EverythingQuery {
	if q.Language == "" {
		q.Language = "en"
	}
	if q.SortBy == "" {
		q.SortBy = "publishedAt"
	}
	if q.PageSize <= 0 {
		q.PageSize = 50
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	return q
}

func (p *NewsAPIProvider) FetchEverything(ctx context.Context, query EverythingQuery) ([]domain.Article, error) {
	ctx, span := p.tracer.Start(ctx, "newsapi.fetch-everything")
	defer span.End()
	span.SetAttributes(attribute.String("news.query", query.Query))

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query = query.withDefaults()
	params := url.Values{}
	params.Set("q", query.Query)
	params.Set("language", query.Language)
	params.Set("sortBy", query.SortBy)
	params.Set("pageSize", strconv.Itoa(query.PageSize))
	params.Set("page", strconv.Itoa(query.Page))
	if query.From != "" {
		params.Set("from", query.From)
	}
	if query.To != "" {
		params.Set("to", query.To)
	}

	endpoint := p.baseURL + "/v2/everything?" + params.Encode()
	headers := map[string]string{"X-Api-Key": p.apiKey}

	data, err := p.client.DoJSON(ctx, "GET", endpoint, headers, nil, transport.DefaultOptions())
	if err != nil {
		return nil, err
	}

	rawArticles, _ := data["articles"].([]any)
	articles := make([]domain.Article, 0, len(rawArticles))
	for _, rawItem := range rawArticles {
		item, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}

		title := trimmedString(item["title"])
		description := trimmedString(item["description"])
		if title == "" && description == "" {
			continue
		}

		articleURL := trimmedString(item["url"])
		sourceName := ""
		if source, ok := item["source"].(map[string]any); ok {
			sourceName = trimmedString(source["name"])
		}
		publishedAt := parseISOTime(trimmedString(item["publishedAt"]))

		articles = append(articles, domain.Article{
			ID:          domain.ArticleID(articleURL, title, publishedAt),
			Title:       title,
			Description: description,
			URL:         articleURL,
			Source:      sourceName,
			PublishedAt: publishedAt,
		})
	}

	span.SetAttributes(attribute.Int("news.articles", len(articles)))
	return articles, nil
}

func trimmedString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
