package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.x.ai/v1"
	DefaultModel   = "grok-2-latest"

	llmTimeout = 60 * time.Second

	systemPrompt = "You are a financial market analysis assistant. " +
		"Analyze the user's input and return a JSON object with the following keys: " +
		"'sentiment' (positive, negative, or neutral), " +
		"'score' (integer from 0 to 10), " +
		"'impact' (high, medium, or low), " +
		"'direction' (bullish, bearish or neutral), " +
		"'assets' (a list of asset names or tickers), " +
		"'relevant' (boolean, true only if the text could move a financial market), " +
		"'headline' (a one-line headline under 120 characters). " +
		"Only return a valid JSON object. Do not include any explanations or extra text."
)

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// LLMOptions configures an LLMClassifier.
type LLMOptions struct {
	APIKey            string
	BaseURL           string // OpenAI-compatible endpoint, default xAI
	Model             string
	RequestsPerMinute int // 0 disables client-side limiting
	HTTPClient        *http.Client
}

// LLMClassifier asks an OpenAI-compatible chat model for a JSON judgment.
type LLMClassifier struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewLLM creates an LLM classifier.
func NewLLM(opts LLMOptions) (*LLMClassifier, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("llm: api key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	} else {
		cfg.HTTPClient = &http.Client{Timeout: llmTimeout}
	}

	l := &LLMClassifier{
		client: openai.NewClientWithConfig(cfg),
		model:  opts.Model,
	}
	if opts.RequestsPerMinute > 0 {
		l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return l, nil
}

// Classify sends text to the model and parses its JSON answer.
func (l *LLMClassifier) Classify(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: empty text", ErrClassification)
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrClassification, err)
		}
	}

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrClassification, err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices in response", ErrClassification)
	}

	res, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		return Result{}, err
	}
	if res.Headline == "" {
		res.Headline = Headline(text)
	}
	return res, nil
}

// llmAnswer accepts the loose shapes models return: numbers as strings,
// booleans as strings, assets as a comma-separated string.
type llmAnswer struct {
	Relevant  any    `json:"relevant"`
	Headline  string `json:"headline"`
	Sentiment string `json:"sentiment"`
	Score     any    `json:"score"`
	Impact    any    `json:"impact"`
	Direction string `json:"direction"`
	Assets    any    `json:"assets"`
}

// parseResult extracts the JSON object from model output. Code fences and
// surrounding prose are tolerated; missing fields take neutral defaults.
func parseResult(content string) (Result, error) {
	raw := extractJSON(content)
	if raw == "" {
		return Result{}, fmt.Errorf("%w: empty model output", ErrClassification)
	}

	var ans llmAnswer
	if err := json.Unmarshal([]byte(raw), &ans); err != nil {
		return Result{}, fmt.Errorf("%w: parse model output: %w", ErrClassification, err)
	}

	score, ok := toInt(ans.Score)
	if !ok {
		score = DefaultScore
	}

	impact := ImpactMedium
	switch v := ans.Impact.(type) {
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			impact = impactFromScore(n)
		} else {
			impact = normalizeImpact(v)
		}
	case float64:
		impact = impactFromScore(int(math.Round(v)))
	}

	return Result{
		Relevant:  toBool(ans.Relevant),
		Headline:  strings.TrimSpace(ans.Headline),
		Sentiment: normalizeSentiment(ans.Sentiment),
		Score:     clampScore(score),
		Impact:    impact,
		Direction: normalizeDirection(ans.Direction),
		Assets:    toStrings(ans.Assets),
	}, nil
}

func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.Index(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}
	if !(strings.HasPrefix(content, "{") && strings.HasSuffix(content, "}")) {
		if m := jsonObjectRe.FindString(content); m != "" {
			content = m
		}
	}
	return content
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(math.Round(n)), true
	case string:
		s := strings.TrimSpace(n)
		if i := strings.IndexByte(s, '/'); i > 0 {
			s = s[:i]
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(math.Round(f)), true
		}
	}
	return 0, false
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, _ := strconv.ParseBool(strings.TrimSpace(b))
		return ok
	case float64:
		return b != 0
	}
	return false
}

func toStrings(v any) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch a := v.(type) {
	case []any:
		for _, e := range a {
			if s, ok := e.(string); ok {
				add(s)
			}
		}
	case string:
		for _, s := range strings.Split(a, ",") {
			add(s)
		}
	}
	return out
}
