// Package notify delivers alerts to a Telegram chat and answers the /stats
// command.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ppiankov/marketpan/internal/stats"
)

// ErrDelivery wraps every failure to deliver an alert.
var ErrDelivery = errors.New("delivery failed")

const (
	httpTimeout        = 60 * time.Second
	defaultPollTimeout = 10 // seconds, getUpdates long poll
	retryDelay         = 2 * time.Second
)

// StatsProvider returns the last committed statistics snapshot.
type StatsProvider interface {
	Snapshot() stats.Snapshot
}

// Options configures a Telegram notifier.
type Options struct {
	Token   string
	ChatID  string // numeric ID or @channel
	TopicID int    // forum topic, 0 for none

	// APIEndpoint overrides the Bot API URL format, e.g. for tests.
	APIEndpoint string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Telegram sends alerts through the Bot API.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	chatID      string
	topicID     int
	logger      *slog.Logger
	pollTimeout int
	now         func() time.Time
}

// NewTelegram connects to the Bot API. The token is verified with getMe.
func NewTelegram(opts Options) (*Telegram, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	if strings.TrimSpace(opts.ChatID) == "" {
		return nil, errors.New("telegram: chat id is required")
	}
	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}

	return &Telegram{
		bot:         bot,
		chatID:      strings.TrimSpace(opts.ChatID),
		topicID:     opts.TopicID,
		logger:      logger,
		pollTimeout: defaultPollTimeout,
		now:         time.Now,
	}, nil
}

// Username returns the bot's username as reported by getMe.
func (t *Telegram) Username() string {
	return t.bot.Self.UserName
}

// Check re-verifies the token.
func (t *Telegram) Check(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	me, err := t.bot.GetMe()
	if err != nil {
		return "", fmt.Errorf("telegram: getMe: %w", err)
	}
	return me.UserName, nil
}

// Send delivers one alert to the configured chat.
func (t *Telegram) Send(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	if err := t.sendMarkdown(t.chatID, t.topicID, 0, FormatAlert(a)); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrDelivery, a.Item.Kind, a.Item.ID, err)
	}
	t.logger.Info("alert sent", "kind", a.Item.Kind, "id", a.Item.ID, "source", a.Item.Source)
	return nil
}

func (t *Telegram) sendMarkdown(chatID string, topicID, replyTo int, text string) error {
	params := tgbotapi.Params{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": tgbotapi.ModeMarkdownV2,
	}
	params.AddBool("disable_web_page_preview", true)
	params.AddNonZero("message_thread_id", topicID)
	params.AddNonZero("reply_to_message_id", replyTo)

	_, err := t.bot.MakeRequest("sendMessage", params)
	return err
}

// Listen long-polls for updates and answers /stats and /start with the
// provider's snapshot. It returns when ctx is cancelled.
func (t *Telegram) Listen(ctx context.Context, provider StatsProvider) error {
	offset := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := t.getUpdates(offset)
		if err != nil {
			t.logger.Warn("telegram getUpdates", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			t.handleUpdate(ctx, u, provider)
		}
	}
}

func (t *Telegram) getUpdates(offset int) ([]tgbotapi.Update, error) {
	params := tgbotapi.Params{
		"allowed_updates": `["message"]`,
	}
	params.AddNonZero("offset", offset)
	params.AddNonZero("timeout", t.pollTimeout)

	resp, err := t.bot.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, err
	}
	var updates []tgbotapi.Update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (t *Telegram) handleUpdate(_ context.Context, u tgbotapi.Update, provider StatsProvider) {
	msg := u.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}

	switch msg.Command() {
	case "stats", "start":
		text := FormatStats(provider.Snapshot(), t.now())
		chatID := strconv.FormatInt(msg.Chat.ID, 10)
		if err := t.sendMarkdown(chatID, 0, msg.MessageID, text); err != nil {
			t.logger.Warn("reply to command", "command", msg.Command(), "chat", chatID, "error", err)
			return
		}
		t.logger.Debug("answered command", "command", msg.Command(), "chat", chatID)
	}
}

// Printer writes alerts to w instead of sending them.
type Printer struct {
	W io.Writer
}

func (p *Printer) Send(_ context.Context, a Alert) error {
	if _, err := io.WriteString(p.W, FormatAlertText(a)); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}
