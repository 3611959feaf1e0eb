package classify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Keyword lists used when the configuration leaves them empty.
var (
	DefaultWeights = map[string]int{
		"fed":           3,
		"fomc":          3,
		"rate cut":      4,
		"rate hike":     4,
		"inflation":     3,
		"cpi":           3,
		"tariff":        3,
		"sec":           2,
		"etf":           3,
		"merger":        3,
		"acquisition":   3,
		"earnings":      2,
		"guidance":      2,
		"bankruptcy":    4,
		"hack":          4,
		"exploit":       4,
		"halving":       3,
		"bitcoin":       2,
		"ethereum":      2,
		"crypto":        1,
		"stablecoin":    2,
		"treasury":      2,
		"recession":     3,
		"stimulus":      3,
		"buyback":       2,
		"delisting":     3,
		"price target":  2,
		"all-time high": 3,
	}
	DefaultBullish = []string{
		"rally", "surge", "soar", "beat", "approve", "approved", "approval",
		"buy", "bullish", "record high", "all-time high", "rate cut", "upgrade",
		"inflows", "adoption", "moon", "pump", "stimulus", "buyback",
	}
	DefaultBearish = []string{
		"crash", "plunge", "selloff", "sell-off", "miss", "reject", "rejected",
		"ban", "sell", "bearish", "rate hike", "downgrade", "outflows", "hack",
		"exploit", "bankruptcy", "lawsuit", "recession", "dump", "delisting",
	}
	DefaultAssets = []string{
		"BTC", "ETH", "SOL", "XRP", "DOGE", "BNB", "ADA", "USDT", "USDC",
		"USD", "EUR", "JPY", "GBP", "CNY", "SPX", "NDX", "DXY", "GOLD", "OIL",
		"TSLA", "NVDA", "AAPL", "MSFT", "MSTR", "COIN",
	}
)

// assetAliases maps common names onto tickers.
var assetAliases = map[string]string{
	"bitcoin":  "BTC",
	"ethereum": "ETH",
	"solana":   "SOL",
	"dogecoin": "DOGE",
	"tesla":    "TSLA",
	"nvidia":   "NVDA",
	"apple":    "AAPL",
	"s&p 500":  "SPX",
	"nasdaq":   "NDX",
	"dollar":   "USD",
	"euro":     "EUR",
	"yen":      "JPY",
}

// KeywordOptions configures a KeywordClassifier. Empty lists fall back to
// the package defaults.
type KeywordOptions struct {
	Weights   map[string]int
	Bullish   []string
	Bearish   []string
	Assets    []string
	Threshold int
}

type weightedTerm struct {
	term   string
	weight int
	re     *regexp.Regexp
}

type assetTerm struct {
	ticker string
	re     *regexp.Regexp
}

// KeywordClassifier scores text against weighted keywords without calling
// any external service.
type KeywordClassifier struct {
	weights   []weightedTerm
	bullish   []*regexp.Regexp
	bearish   []*regexp.Regexp
	assets    []assetTerm
	threshold int
}

// NewKeyword compiles the keyword lists into a classifier.
func NewKeyword(opts KeywordOptions) (*KeywordClassifier, error) {
	if opts.Threshold < 1 {
		return nil, errors.New("keywords: threshold must be at least 1")
	}
	weights := opts.Weights
	if len(weights) == 0 {
		weights = DefaultWeights
	}
	bullish := opts.Bullish
	if len(bullish) == 0 {
		bullish = DefaultBullish
	}
	bearish := opts.Bearish
	if len(bearish) == 0 {
		bearish = DefaultBearish
	}
	assets := opts.Assets
	if len(assets) == 0 {
		assets = DefaultAssets
	}

	kc := &KeywordClassifier{threshold: opts.Threshold}

	terms := make([]string, 0, len(weights))
	for term := range weights {
		terms = append(terms, term)
	}
	slices.Sort(terms)
	for _, term := range terms {
		re, err := wordRegexp(term)
		if err != nil {
			return nil, fmt.Errorf("keywords: %q: %w", term, err)
		}
		kc.weights = append(kc.weights, weightedTerm{term: term, weight: weights[term], re: re})
	}

	var err error
	if kc.bullish, err = compileTerms(bullish); err != nil {
		return nil, err
	}
	if kc.bearish, err = compileTerms(bearish); err != nil {
		return nil, err
	}

	for _, ticker := range assets {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if ticker == "" {
			continue
		}
		re, err := regexp.Compile(`(?:^|[^\pL\pN$])\$?` + regexp.QuoteMeta(ticker) + `(?:$|[^\pL\pN])`)
		if err != nil {
			return nil, fmt.Errorf("keywords: asset %q: %w", ticker, err)
		}
		kc.assets = append(kc.assets, assetTerm{ticker: ticker, re: re})
	}
	return kc, nil
}

// wordRegexp matches term case-insensitively on word boundaries.
func wordRegexp(term string) (*regexp.Regexp, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, errors.New("empty term")
	}
	return regexp.Compile(`(?i)(?:^|[^\pL\pN])` + regexp.QuoteMeta(term) + `(?:$|[^\pL\pN])`)
}

func compileTerms(terms []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(terms))
	for _, term := range terms {
		re, err := wordRegexp(term)
		if err != nil {
			return nil, fmt.Errorf("keywords: %q: %w", term, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Classify scores text. It never fails for non-empty text.
func (kc *KeywordClassifier) Classify(_ context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: empty text", ErrClassification)
	}

	total := 0
	for _, w := range kc.weights {
		if w.re.MatchString(text) {
			total += w.weight
		}
	}

	bull := countMatches(kc.bullish, text)
	bear := countMatches(kc.bearish, text)
	direction, sentiment := DirectionNeutral, SentimentNeutral
	switch {
	case bull > bear:
		direction, sentiment = DirectionBullish, SentimentPositive
	case bear > bull:
		direction, sentiment = DirectionBearish, SentimentNegative
	}

	impact := ImpactLow
	switch {
	case total >= 2*kc.threshold:
		impact = ImpactHigh
	case total >= kc.threshold:
		impact = ImpactMedium
	}

	return Result{
		Relevant:  total >= kc.threshold,
		Headline:  Headline(text),
		Sentiment: sentiment,
		Score:     clampScore(total),
		Impact:    impact,
		Direction: direction,
		Assets:    kc.findAssets(text),
	}, nil
}

func countMatches(res []*regexp.Regexp, text string) int {
	n := 0
	for _, re := range res {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

func (kc *KeywordClassifier) findAssets(text string) []string {
	var found []string
	upper := strings.ToUpper(text)
	for _, a := range kc.assets {
		if a.re.MatchString(upper) {
			found = append(found, a.ticker)
		}
	}
	lower := strings.ToLower(text)
	for name, ticker := range assetAliases {
		if strings.Contains(lower, name) && kc.knowsAsset(ticker) {
			found = append(found, ticker)
		}
	}
	slices.Sort(found)
	return slices.Compact(found)
}

func (kc *KeywordClassifier) knowsAsset(ticker string) bool {
	for _, a := range kc.assets {
		if a.ticker == ticker {
			return true
		}
	}
	return false
}
