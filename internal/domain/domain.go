package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type SentimentLabel string

const (
	LabelPositive SentimentLabel = "positive"
	LabelNegative SentimentLabel = "negative"
	LabelNeutral  SentimentLabel = "neutral"
)

func (l SentimentLabel) IsValid() bool {
	return l == LabelPositive || l == LabelNegative || l == LabelNeutral
}

type Signal string

const (
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
	SignalHold Signal = "hold"
)

// Article is a normalized news item. Providers construct it once; nothing
// downstream mutates it. A zero PublishedAt means the source had no usable
// timestamp; when set it is always UTC.
type Article struct {
	ID          string    `json:"article_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url,omitempty"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
}

// ArticleSentiment is one classification verdict. Invariant: the sign of
// Score matches Label (neutral pins Score to zero), Score in [-1, 1],
// Confidence in [0, 1].
type ArticleSentiment struct {
	ArticleID  string         `json:"article_id"`
	Label      SentimentLabel `json:"label"`
	Score      float64        `json:"score"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason,omitempty"`
}

// SentimentSummary is the per-run ticker verdict. Results keeps the order of
// the articles the caller supplied.
type SentimentSummary struct {
	Ticker           string             `json:"ticker"`
	Query            string             `json:"query"`
	AsOf             time.Time          `json:"as_of"`
	Score            float64            `json:"score"`
	Label            SentimentLabel     `json:"label"`
	Confidence       float64            `json:"confidence"`
	Signal           Signal             `json:"signal"`
	ArticlesAnalyzed int                `json:"articles_analyzed"`
	Results          []ArticleSentiment `json:"results"`
}

// ArticleID derives the stable dedup identifier shared by every provider:
// the same article hashes to the same id regardless of which feed carried
// it, which is what makes cross-run cache reuse work.
func ArticleID(url, title string, publishedAt time.Time) string {
	published := ""
	if !publishedAt.IsZero() {
		published = publishedAt.UTC().Format(time.RFC3339)
	}
	joined := strings.TrimSpace(url) + "|" + strings.TrimSpace(title) + "|" + published
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])[:16]
}
