package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recorder) Notify(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return r.err
}

func TestAsyncDeliversBeforeClose(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 4)
	for i := 0; i < 3; i++ {
		if err := a.Notify(context.Background(), Message{Title: "buy"}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	a.Close()
	if len(rec.msgs) != 3 {
		t.Errorf("delivered %d messages, want 3", len(rec.msgs))
	}
	// After Close, Notify is a no-op.
	if err := a.Notify(context.Background(), Message{}); err != nil {
		t.Errorf("Notify after Close = %v", err)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("boom")}
	err := Multi{ok, bad}.Notify(context.Background(), Message{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Multi error = %v, want boom", err)
	}
	if len(ok.msgs) != 1 {
		t.Error("healthy notifier should still receive the message")
	}
}

func TestDiscordPostsEmbed(t *testing.T) {
	var got map[string][]map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	err := d.Notify(context.Background(), Message{Channel: "trade", Level: LevelTrade, Title: "BUY AAPL", Text: "10 @ 100"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(got["embeds"]) != 1 {
		t.Fatalf("embeds = %v", got)
	}
	if title := got["embeds"][0]["title"]; title != "[trade] BUY AAPL" {
		t.Errorf("title = %v", title)
	}
}

func TestDiscordErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if err := NewDiscord(srv.URL).Notify(context.Background(), Message{}); err == nil {
		t.Error("expected error on 429")
	}
}

func TestTelegramSendMessage(t *testing.T) {
	var path string
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.baseURL = srv.URL
	if err := tg.Notify(context.Background(), Message{Title: "SELL <X>", Text: "done"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if body["chat_id"] != "42" || body["text"] != "<b>SELL &lt;X&gt;</b>\ndone" {
		t.Errorf("body = %v", body)
	}
}
