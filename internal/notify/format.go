package notify

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ppiankov/marketpan/internal/classify"
	"github.com/ppiankov/marketpan/internal/source"
	"github.com/ppiankov/marketpan/internal/stats"
)

// Alert is one relevant item and its classification.
type Alert struct {
	Item   source.Item
	Result classify.Result
}

func esc(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s)
}

// FormatAlert renders an alert as a MarkdownV2 message. Tweets get the
// market-alert layout; news and feed items get the news layout.
func FormatAlert(a Alert) string {
	r := a.Result
	var b strings.Builder

	if a.Item.Kind == source.KindTweets {
		b.WriteString("🚨 Market Alert\n")
		b.WriteString("👤 " + esc(a.Item.Publisher) + "\n")
		b.WriteString("💬 " + esc(a.Item.Text) + "\n\n")
	} else {
		headline := a.Item.Title
		if headline == "" {
			headline = r.Headline
		}
		b.WriteString("📰 Market News\n")
		b.WriteString("📌 " + esc(orDefault(a.Item.Publisher, "Unknown")) + "\n")
		b.WriteString("🚨 " + esc(headline) + "\n\n")
	}

	fmt.Fprintf(&b, "📈 Sentiment: %s \\(%s\\)\n", esc(capitalize(r.Sentiment)), esc(fmt.Sprintf("%d/10", r.Score)))
	b.WriteString("💥 Impact: " + esc(capitalize(r.Impact)) + "\n")
	b.WriteString("🔮 Direction: " + esc(capitalize(r.Direction)) + "\n")
	b.WriteString("💰 Assets: " + esc(orDefault(strings.Join(r.Assets, ", "), "n/a")) + "\n")

	if a.Item.Kind == source.KindTweets {
		b.WriteString("🔗 View Tweet: " + esc(a.Item.URL))
	} else {
		b.WriteString("🔗 Read more: " + esc(a.Item.URL))
	}
	return b.String()
}

// FormatAlertText renders an alert without markup, for terminals.
func FormatAlertText(a Alert) string {
	r := a.Result
	headline := a.Item.Title
	if headline == "" {
		headline = r.Headline
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s\n", a.Item.Kind, orDefault(a.Item.Publisher, a.Item.Source), headline)
	fmt.Fprintf(&b, "  sentiment=%s score=%d/10 impact=%s direction=%s", r.Sentiment, r.Score, r.Impact, r.Direction)
	if len(r.Assets) > 0 {
		fmt.Fprintf(&b, " assets=%s", strings.Join(r.Assets, ","))
	}
	b.WriteString("\n")
	if a.Item.URL != "" {
		b.WriteString("  " + a.Item.URL + "\n")
	}
	return b.String()
}

// FormatStats renders the /stats reply as MarkdownV2.
func FormatStats(s stats.Snapshot, now time.Time) string {
	body := stats.Format(s, now)
	// Inside a pre block only backslash and backtick need escaping.
	body = strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(body)
	return "📊 *Monitoring Statistics*\n```\n" + body + "\n```"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
