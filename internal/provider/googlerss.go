package provider

import (
	"context"
	"encoding/xml"
	"net/url"
	"time"

	"ticker-pulse/internal/domain"
	"ticker-pulse/internal/transport"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const googleNewsBaseURL = "https://news.google.com"

// GoogleRSSProvider searches Google News RSS. Keyless, so it doubles as the
// fallback when no NewsAPI key is configured.
type GoogleRSSProvider struct {
	client  *transport.Client
	tracer  trace.Tracer
	limiter *RateLimiter
	baseURL string
}

func NewGoogleRSSProvider(client *transport.Client, tracer trace.Tracer) *GoogleRSSProvider {
	return &GoogleRSSProvider{
		client:  client,
		tracer:  tracer,
		limiter: NewRateLimiter(1, time.Second),
		baseURL: googleNewsBaseURL,
	}
}

// RSSQuery configures a feed search. From, when set, drops items published
// strictly before that instant; items exactly at the cutoff stay in.
type RSSQuery struct {
	Query string
	HL    string
	GL    string
	CEID  string
	From  time.Time
}

func (q RSSQuery) withDefaults() RSSQuery {
	if q.HL == "" {
		q.HL = "en-US"
	}
	if q.GL == "" {
		q.GL = "US"
	}
	if q.CEID == "" {
		q.CEID = "US:en"
	}
	return q
}

func (p *GoogleRSSProvider) FetchSearch(ctx context.Context, query RSSQuery) ([]domain.Article, error) {
	ctx, span := p.tracer.Start(ctx, "googlerss.fetch-search")
	defer span.End()
	span.SetAttributes(attribute.String("news.query", query.Query))

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query = query.withDefaults()
	params := url.Values{}
	params.Set("q", query.Query)
	params.Set("hl", query.HL)
	params.Set("gl", query.GL)
	params.Set("ceid", query.CEID)

	endpoint := p.baseURL + "/rss/search?" + params.Encode()
	opts := transport.DefaultOptions()
	opts.Timeout = 20 * time.Second

	resp, err := p.client.Do(ctx, "GET", endpoint, map[string]string{
		"Accept": "application/rss+xml, application/xml, text/xml",
	}, nil, opts)
	if err != nil {
		return nil, err
	}

	var rss struct {
		Channel struct {
			Items []struct {
				Title       string `xml:"title"`
				Link        string `xml:"link"`
				Description string `xml:"description"`
				Source      string `xml:"source"`
				PubDate     string `xml:"pubDate"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal(resp.Body, &rss); err != nil {
		return nil, &domain.ParseError{Message: "google news rss returned invalid XML", Err: err}
	}

	articles := make([]domain.Article, 0, len(rss.Channel.Items))
	for _, item := range rss.Channel.Items {
		title := trimmedString(item.Title)
		description := cleanHTML(item.Description)
		if title == "" && description == "" {
			continue
		}

		publishedAt := parseRFC2822(item.PubDate)
		if !query.From.IsZero() && !publishedAt.IsZero() && publishedAt.Before(query.From) {
			continue
		}

		link := trimmedString(item.Link)
		articles = append(articles, domain.Article{
			ID:          domain.ArticleID(link, title, publishedAt),
			Title:       title,
			Description: description,
			URL:         link,
			Source:      trimmedString(item.Source),
			PublishedAt: publishedAt,
		})
	}

	span.SetAttributes(attribute.Int("news.articles", len(articles)))
	return articles, nil
}
