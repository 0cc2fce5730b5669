// Package sentiment turns raw article text into a ticker-level sentiment
// verdict: a schema-constrained OpenAI classification per article, a
// cache-aware orchestration layer, and recency/confidence-weighted
// aggregation into one score, label and trade signal.
package sentiment

import (
	"math"
	"time"

	"ticker-pulse/internal/domain"
)

const (
	labelThreshold       = 0.15
	minSignalConfidence  = 0.55
	defaultHalfLifeHours = 24.0
)

var utcNow = func() time.Time { return time.Now().UTC() }

// Summarize folds per-article judgments into one ticker summary. Results
// keep their input order. Weighting: recency half-life decay times clamped
// confidence; articles without a timestamp get full recency weight.
func Summarize(ticker, query string, results []domain.ArticleSentiment, articlesByID map[string]domain.Article, halfLifeHours float64) domain.SentimentSummary {
	if halfLifeHours <= 0 {
		halfLifeHours = defaultHalfLifeHours
	}

	now := utcNow()
	totalWeight := 0.0
	totalRecency := 0.0
	weightedScore := 0.0
	for _, r := range results {
		var publishedAt time.Time
		if article, ok := articlesByID[r.ArticleID]; ok {
			publishedAt = article.PublishedAt
		}
		recency := recencyWeight(publishedAt, halfLifeHours, now)
		weight := recency * clamp(r.Confidence, 0, 1)

		totalWeight += weight
		totalRecency += recency
		weightedScore += r.Score * weight
	}

	score := 0.0
	if totalWeight > 0 {
		score = weightedScore / totalWeight
	}
	score = clamp(score, -1, 1)

	// Deliberate: confidence is discounted by total recency, not by count,
	// so a pile of stale low-confidence articles drags the overall
	// confidence down even when the newest ones are strong.
	confidence := 0.0
	if totalRecency > 0 {
		confidence = totalWeight / totalRecency
	}
	confidence = clamp(confidence, 0, 1)

	return domain.SentimentSummary{
		Ticker:           ticker,
		Query:            query,
		AsOf:             now,
		Score:            score,
		Label:            labelFromScore(score),
		Confidence:       confidence,
		Signal:           signalFromScore(score, confidence),
		ArticlesAnalyzed: len(results),
		Results:          results,
	}
}

func recencyWeight(publishedAt time.Time, halfLifeHours float64, now time.Time) float64 {
	if publishedAt.IsZero() {
		return 1.0
	}
	ageSeconds := now.Sub(publishedAt).Seconds()
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	halfLifeSeconds := halfLifeHours * 3600.0
	if halfLifeSeconds < 1 {
		halfLifeSeconds = 1
	}
	return math.Pow(0.5, ageSeconds/halfLifeSeconds)
}

func labelFromScore(score float64) domain.SentimentLabel {
	if score > labelThreshold {
		return domain.LabelPositive
	}
	if score < -labelThreshold {
		return domain.LabelNegative
	}
	return domain.LabelNeutral
}

func signalFromScore(score, confidence float64) domain.Signal {
	if confidence < minSignalConfidence {
		return domain.SignalHold
	}
	if score > labelThreshold {
		return domain.SignalBuy
	}
	if score < -labelThreshold {
		return domain.SignalSell
	}
	return domain.SignalHold
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeSentiment applies the shared clamping and sign rules: neutral
// pins the score to zero, positive and negative force the matching sign.
// Fresh classifications and cache reconstructions both go through here.
func normalizeSentiment(label domain.SentimentLabel, score, confidence float64) (float64, float64) {
	score = clamp(score, -1, 1)
	confidence = clamp(confidence, 0, 1)
	switch label {
	case domain.LabelNeutral:
		score = 0
	case domain.LabelPositive:
		score = math.Abs(score)
	case domain.LabelNegative:
		score = -math.Abs(score)
	}
	return score, confidence
}
