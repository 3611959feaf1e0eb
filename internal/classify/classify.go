// Package classify judges whether an item is market-relevant and extracts
// sentiment, direction and the assets it mentions.
package classify

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrClassification wraps every failure to obtain a usable judgment.
var ErrClassification = errors.New("classification failed")

const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"

	DirectionBullish = "bullish"
	DirectionBearish = "bearish"
	DirectionNeutral = "neutral"

	ImpactHigh   = "high"
	ImpactMedium = "medium"
	ImpactLow    = "low"

	DefaultScore = 5
	MaxScore     = 10

	maxHeadline = 120
)

// Result is the judgment for one item.
type Result struct {
	Relevant  bool
	Headline  string
	Sentiment string   // positive, negative, neutral
	Score     int      // 0-10
	Impact    string   // high, medium, low
	Direction string   // bullish, bearish, neutral
	Assets    []string // tickers or asset names
}

// Classifier judges raw item text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// Headline returns text up to the first sentence boundary, capped at 120
// bytes without splitting words.
func Headline(text string) string {
	return firstSentence(strings.TrimSpace(text), maxHeadline)
}

func firstSentence(text string, maxLen int) string {
	if text == "" {
		return ""
	}

	end := len(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		end = idx
	}

	// Sentence punctuation followed by a space or newline ends the sentence.
	for i := 0; i < end-1; i++ {
		if (text[i] == '.' || text[i] == '!' || text[i] == '?') && (text[i+1] == ' ' || text[i+1] == '\n') {
			end = i + 1
			break
		}
	}
	if end > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if idx := strings.LastIndexByte(text[:cut], ' '); idx > 0 {
			return text[:idx] + "..."
		}
		return text[:cut] + "..."
	}

	return strings.TrimSpace(text[:end])
}

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case SentimentPositive, "bullish":
		return SentimentPositive
	case SentimentNegative, "bearish":
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

func normalizeDirection(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case DirectionBullish, "up", "long":
		return DirectionBullish
	case DirectionBearish, "down", "short":
		return DirectionBearish
	default:
		return DirectionNeutral
	}
}

func normalizeImpact(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ImpactHigh:
		return ImpactHigh
	case ImpactLow:
		return ImpactLow
	default:
		return ImpactMedium
	}
}

// impactFromScore maps a 0-10 scale onto impact levels.
func impactFromScore(n int) string {
	switch {
	case n >= 7:
		return ImpactHigh
	case n >= 4:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxScore {
		return MaxScore
	}
	return n
}
