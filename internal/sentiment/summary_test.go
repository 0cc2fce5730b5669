package sentiment

import (
	"math"
	"testing"
	"time"

	"ticker-pulse/internal/domain"
)

func TestSummarizeWeightsByConfidence(t *testing.T) {
	results := []domain.ArticleSentiment{
		{ArticleID: "a", Label: domain.LabelPositive, Score: 0.7, Confidence: 0.9},
		{ArticleID: "b", Label: domain.LabelNegative, Score: -0.6, Confidence: 0.8},
	}

	// No timestamps, so recency weight is 1 for both.
	summary := Summarize("TSLA", "TSLA stock", results, map[string]domain.Article{}, 24)

	wantScore := (0.7*0.9 - 0.6*0.8) / (0.9 + 0.8)
	if math.Abs(summary.Score-wantScore) > 1e-9 {
		t.Fatalf("score = %v, want %v", summary.Score, wantScore)
	}
	wantConfidence := (0.9 + 0.8) / 2.0
	if math.Abs(summary.Confidence-wantConfidence) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", summary.Confidence, wantConfidence)
	}
	if summary.Label != domain.LabelNeutral {
		t.Fatalf("near-zero score should label neutral, got %s", summary.Label)
	}
	if summary.Signal != domain.SignalHold {
		t.Fatalf("neutral score should signal hold, got %s", summary.Signal)
	}
	if summary.ArticlesAnalyzed != 2 || len(summary.Results) != 2 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
}

func TestSummarizeRecencyDecay(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	prev := utcNow
	utcNow = func() time.Time { return now }
	defer func() { utcNow = prev }()

	articles := map[string]domain.Article{
		"fresh": {ID: "fresh", PublishedAt: now},
		"stale": {ID: "stale", PublishedAt: now.Add(-48 * time.Hour)},
	}
	results := []domain.ArticleSentiment{
		{ArticleID: "fresh", Label: domain.LabelPositive, Score: 0.8, Confidence: 1.0},
		{ArticleID: "stale", Label: domain.LabelNegative, Score: -0.8, Confidence: 1.0},
	}

	summary := Summarize("TSLA", "q", results, articles, 24)

	// 48h at a 24h half-life leaves the stale article a quarter of the
	// fresh article's weight, so positive should dominate.
	wantScore := (0.8*1.0 - 0.8*0.25) / (1.0 + 0.25)
	if math.Abs(summary.Score-wantScore) > 1e-9 {
		t.Fatalf("score = %v, want %v", summary.Score, wantScore)
	}
	if summary.Label != domain.LabelPositive {
		t.Fatalf("expected positive label, got %s", summary.Label)
	}
	if summary.Signal != domain.SignalBuy {
		t.Fatalf("high-confidence positive should signal buy, got %s", summary.Signal)
	}
	if !summary.AsOf.Equal(now) {
		t.Fatalf("AsOf = %v, want %v", summary.AsOf, now)
	}
}

func TestSummarizeZeroWeight(t *testing.T) {
	results := []domain.ArticleSentiment{
		{ArticleID: "a", Label: domain.LabelPositive, Score: 0.9, Confidence: 0},
	}
	summary := Summarize("TSLA", "q", results, nil, 24)
	if summary.Score != 0 || summary.Confidence != 0 {
		t.Fatalf("zero total weight must yield zero score and confidence: %+v", summary)
	}
	if summary.Label != domain.LabelNeutral || summary.Signal != domain.SignalHold {
		t.Fatalf("unexpected verdict: %s/%s", summary.Label, summary.Signal)
	}
}

func TestSummarizeEmptyResults(t *testing.T) {
	summary := Summarize("TSLA", "q", nil, nil, 24)
	if summary.Score != 0 || summary.Confidence != 0 || summary.ArticlesAnalyzed != 0 {
		t.Fatalf("empty input should be an all-zero neutral summary: %+v", summary)
	}
}

func TestSignalThresholds(t *testing.T) {
	tests := []struct {
		score, confidence float64
		want              domain.Signal
	}{
		{0.5, 0.9, domain.SignalBuy},
		{-0.5, 0.9, domain.SignalSell},
		{0.5, 0.54, domain.SignalHold},
		{0.1, 0.9, domain.SignalHold},
		{-0.1, 0.9, domain.SignalHold},
		{0.16, 0.55, domain.SignalBuy},
	}
	for _, tt := range tests {
		if got := signalFromScore(tt.score, tt.confidence); got != tt.want {
			t.Fatalf("signalFromScore(%v, %v) = %s, want %s", tt.score, tt.confidence, got, tt.want)
		}
	}
}

func TestRecencyWeight(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	if w := recencyWeight(time.Time{}, 24, now); w != 1.0 {
		t.Fatalf("missing timestamp should weigh 1.0, got %v", w)
	}
	if w := recencyWeight(now.Add(-24*time.Hour), 24, now); math.Abs(w-0.5) > 1e-9 {
		t.Fatalf("one half-life should weigh 0.5, got %v", w)
	}
	if w := recencyWeight(now.Add(time.Hour), 24, now); w != 1.0 {
		t.Fatalf("future timestamps clamp to full weight, got %v", w)
	}
}

func TestNormalizeSentiment(t *testing.T) {
	if score, _ := normalizeSentiment(domain.LabelNeutral, 0.8, 0.5); score != 0 {
		t.Fatalf("neutral must pin score to 0, got %v", score)
	}
	if score, _ := normalizeSentiment(domain.LabelPositive, -0.6, 0.5); score != 0.6 {
		t.Fatalf("positive flips sign, got %v", score)
	}
	if score, _ := normalizeSentiment(domain.LabelNegative, 0.6, 0.5); score != -0.6 {
		t.Fatalf("negative flips sign, got %v", score)
	}
	if score, confidence := normalizeSentiment(domain.LabelPositive, 4.2, 7.0); score != 1 || confidence != 1 {
		t.Fatalf("out-of-range values clamp, got %v/%v", score, confidence)
	}
	if score, confidence := normalizeSentiment(domain.LabelPositive, math.NaN(), math.Inf(1)); score != 0 || confidence != 0 {
		t.Fatalf("non-finite values zero out, got %v/%v", score, confidence)
	}
}
