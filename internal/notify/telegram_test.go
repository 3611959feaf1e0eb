package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/marketpan/internal/classify"
	"github.com/ppiankov/marketpan/internal/source"
	"github.com/ppiankov/marketpan/internal/stats"
)

const testToken = "123:abc"

// fakeBotAPI is a minimal Bot API server that records sendMessage calls.
type fakeBotAPI struct {
	mu        sync.Mutex
	sent      []map[string]string
	updates   []string
	failSend  bool
	sentReply chan struct{}
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")

		switch strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/") {
		case "getMe":
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Market","username":"marketpan_bot"}}`)
		case "sendMessage":
			if f.failSend {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`)
				return
			}
			form := make(map[string]string)
			for k := range r.PostForm {
				form[k] = r.PostForm.Get(k)
			}
			f.mu.Lock()
			f.sent = append(f.sent, form)
			f.mu.Unlock()
			if form["reply_to_message_id"] != "" && f.sentReply != nil {
				select {
				case f.sentReply <- struct{}{}:
				default:
				}
			}
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":99,"date":0,"chat":{"id":1,"type":"private"}}}`)
		case "getUpdates":
			f.mu.Lock()
			batch := "[]"
			if len(f.updates) > 0 {
				batch = "[" + strings.Join(f.updates, ",") + "]"
				f.updates = nil
			}
			f.mu.Unlock()
			fmt.Fprintf(w, `{"ok":true,"result":%s}`, batch)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}
}

func (f *fakeBotAPI) messages() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.sent...)
}

func newTestTelegram(t *testing.T, f *fakeBotAPI, topic int) *Telegram {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	tg, err := NewTelegram(Options{
		Token:       testToken,
		ChatID:      "-100200300",
		TopicID:     topic,
		APIEndpoint: srv.URL + "/bot%s/%s",
	})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	tg.pollTimeout = 0
	return tg
}

func tweetAlert() Alert {
	return Alert{
		Item: source.Item{
			ID:        "1900000000000000002",
			Kind:      source.KindTweets,
			Source:    "elonmusk",
			Text:      "Doge to the moon!",
			URL:       "https://twitter.com/elonmusk/status/1900000000000000002",
			Publisher: "elonmusk",
		},
		Result: classify.Result{
			Relevant:  true,
			Sentiment: "positive",
			Score:     8,
			Impact:    "high",
			Direction: "bullish",
			Assets:    []string{"DOGE"},
		},
	}
}

func TestNewTelegram_Validation(t *testing.T) {
	if _, err := NewTelegram(Options{ChatID: "1"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewTelegram(Options{Token: "t"}); err == nil {
		t.Fatal("expected error for missing chat id")
	}
}

func TestNewTelegram_VerifiesToken(t *testing.T) {
	f := &fakeBotAPI{}
	tg := newTestTelegram(t, f, 0)
	if tg.Username() != "marketpan_bot" {
		t.Errorf("username = %q", tg.Username())
	}
	name, err := tg.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if name != "marketpan_bot" {
		t.Errorf("check username = %q", name)
	}
}

func TestSend(t *testing.T) {
	f := &fakeBotAPI{}
	tg := newTestTelegram(t, f, 42)

	if err := tg.Send(context.Background(), tweetAlert()); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs := f.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m["chat_id"] != "-100200300" {
		t.Errorf("chat_id = %q", m["chat_id"])
	}
	if m["message_thread_id"] != "42" {
		t.Errorf("message_thread_id = %q, want 42", m["message_thread_id"])
	}
	if m["parse_mode"] != "MarkdownV2" {
		t.Errorf("parse_mode = %q", m["parse_mode"])
	}
	if m["disable_web_page_preview"] != "true" {
		t.Errorf("disable_web_page_preview = %q", m["disable_web_page_preview"])
	}
	if !strings.Contains(m["text"], "Market Alert") {
		t.Errorf("text = %q", m["text"])
	}
}

func TestSend_NoTopic(t *testing.T) {
	f := &fakeBotAPI{}
	tg := newTestTelegram(t, f, 0)
	if err := tg.Send(context.Background(), tweetAlert()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, ok := f.messages()[0]["message_thread_id"]; ok {
		t.Error("message_thread_id sent without a topic")
	}
}

func TestSend_Failure(t *testing.T) {
	f := &fakeBotAPI{failSend: true}
	tg := newTestTelegram(t, f, 0)

	err := tg.Send(context.Background(), tweetAlert())
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
}

type staticStats struct{ s stats.Snapshot }

func (p staticStats) Snapshot() stats.Snapshot { return p.s }

func TestListen_AnswersStats(t *testing.T) {
	f := &fakeBotAPI{
		sentReply: make(chan struct{}, 1),
		updates: []string{
			`{"update_id":7,"message":{"message_id":5,"date":0,"chat":{"id":555,"type":"private"},"text":"hello"}}`,
			`{"update_id":8,"message":{"message_id":6,"date":0,"chat":{"id":555,"type":"private"},"text":"/stats","entities":[{"type":"bot_command","offset":0,"length":6}]}}`,
		},
	}
	tg := newTestTelegram(t, f, 0)

	snap := stats.Snapshot{Fetched: 10, Forwarded: 3, StartedAt: time.Now().Add(-time.Hour)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tg.Listen(ctx, staticStats{s: snap}) }()

	select {
	case <-f.sentReply:
	case <-time.After(5 * time.Second):
		t.Fatal("no reply to /stats")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("listen returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not stop after cancel")
	}

	msgs := f.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1 (plain text ignored)", len(msgs))
	}
	m := msgs[0]
	if m["chat_id"] != "555" || m["reply_to_message_id"] != "6" {
		t.Errorf("reply routed to chat %q / message %q", m["chat_id"], m["reply_to_message_id"])
	}
	if !strings.Contains(m["text"], "Monitoring Statistics") || !strings.Contains(m["text"], "Fetched:") {
		t.Errorf("text = %q", m["text"])
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{W: &buf}
	if err := p.Send(context.Background(), tweetAlert()); err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "[tweets] elonmusk") || !strings.Contains(out, "assets=DOGE") {
		t.Errorf("output = %q", out)
	}
}
