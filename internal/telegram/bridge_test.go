package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nugget/spectrumbot/internal/agent"
	"github.com/nugget/spectrumbot/internal/events"
	"github.com/nugget/spectrumbot/internal/prompts"
)

// testRunner records every Handle call and returns a canned response.
type testRunner struct {
	mu   sync.Mutex
	reqs []*agent.Request
	resp *agent.Response
	err  error
}

func (r *testRunner) Handle(_ context.Context, req *agent.Request) (*agent.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return r.resp, r.err
}

func (r *testRunner) requests() []*agent.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*agent.Request(nil), r.reqs...)
}

// fakeBot feeds updates from a channel and records what the bridge sends.
type fakeBot struct {
	updates chan tgbotapi.Update

	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	actions  int
	stopped  bool
	pollWait int
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeBot) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	f.mu.Lock()
	f.pollWait = cfg.Timeout
	f.mu.Unlock()
	return f.updates
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := c.(tgbotapi.ChatActionConfig); ok {
		f.actions++
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeBot) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: chatID, FirstName: "Budi"},
			Chat:      &tgbotapi.Chat{ID: chatID, Type: "private"},
			Text:      text,
		},
	}
}

// startBridge runs the bridge until the test ends and returns a func
// that stops it and waits for Start to return.
func startBridge(t *testing.T, b *Bridge) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Start(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("bridge did not stop")
		}
	}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return stop
}

func waitForMessages(t *testing.T, bot *fakeBot, n int) []tgbotapi.MessageConfig {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := bot.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d sent messages, got %d", n, len(bot.messages()))
	return nil
}

func TestBridge_MessageRoutesToAgent(t *testing.T) {
	bot := newFakeBot()
	runner := &testRunner{resp: &agent.Response{Content: "Banner Flexi Rp 25.000/m²", State: agent.StateDone}}
	bus := events.New()
	ch := bus.Subscribe(8)

	b := NewBridge(BridgeConfig{Bot: bot, Runner: runner, Bus: bus, PollTimeout: 30 * time.Second})
	stop := startBridge(t, b)

	bot.updates <- textUpdate(42, "harga banner?")
	msgs := waitForMessages(t, bot, 1)
	stop()

	if msgs[0].ChatID != 42 || msgs[0].Text != "Banner Flexi Rp 25.000/m²" {
		t.Errorf("sent = %+v", msgs[0])
	}

	reqs := runner.requests()
	if len(reqs) != 1 {
		t.Fatalf("runner called %d times, want 1", len(reqs))
	}
	if reqs[0].ConversationID != "telegram-42" {
		t.Errorf("ConversationID = %q", reqs[0].ConversationID)
	}
	if reqs[0].Message != "harga banner?" || reqs[0].Channel != "telegram" {
		t.Errorf("request = %+v", reqs[0])
	}

	bot.mu.Lock()
	actions, stopped, wait := bot.actions, bot.stopped, bot.pollWait
	bot.mu.Unlock()
	if actions == 0 {
		t.Error("typing action should be sent while the turn runs")
	}
	if !stopped {
		t.Error("StopReceivingUpdates should be called on shutdown")
	}
	if wait != 30 {
		t.Errorf("poll timeout = %d, want 30", wait)
	}

	select {
	case e := <-ch:
		if e.Source != events.SourceTelegram || e.Kind != events.KindMessageReceived {
			t.Errorf("event = %s/%s", e.Source, e.Kind)
		}
		if e.Data["conversation_id"] != "telegram-42" {
			t.Errorf("event conversation = %v", e.Data["conversation_id"])
		}
	default:
		t.Error("expected message_received event")
	}
}

func TestBridge_RunnerErrorSendsFallback(t *testing.T) {
	bot := newFakeBot()
	runner := &testRunner{err: errors.New("context canceled")}
	b := NewBridge(BridgeConfig{Bot: bot, Runner: runner})
	stop := startBridge(t, b)

	bot.updates <- textUpdate(7, "halo")
	msgs := waitForMessages(t, bot, 1)
	stop()

	if msgs[0].Text != prompts.ErrorFallback {
		t.Errorf("text = %q, want error fallback", msgs[0].Text)
	}
}

// heldRunner blocks each turn until release is closed and records
// whether the turn's context was still live when it finished.
type heldRunner struct {
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (r *heldRunner) Handle(ctx context.Context, _ *agent.Request) (*agent.Response, error) {
	r.entered <- struct{}{}
	<-r.release
	r.ctxErr <- ctx.Err()
	return &agent.Response{Content: "Siap Kak", State: agent.StateDone}, nil
}

func TestBridge_ShutdownLetsTurnFinish(t *testing.T) {
	bot := newFakeBot()
	runner := &heldRunner{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
	b := NewBridge(BridgeConfig{Bot: bot, Runner: runner})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Start(ctx)
		close(done)
	}()

	bot.updates <- textUpdate(9, "pesan banner 2 meter")
	select {
	case <-runner.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("turn never started")
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Start returned before the in-flight turn finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	if err := <-runner.ctxErr; err != nil {
		t.Errorf("turn context err = %v, want live context after shutdown", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}

	msgs := bot.messages()
	if len(msgs) != 1 || msgs[0].Text != "Siap Kak" {
		t.Errorf("sent = %+v, want the turn's reply", msgs)
	}
}

func TestBridge_IgnoresNonText(t *testing.T) {
	bot := newFakeBot()
	runner := &testRunner{resp: &agent.Response{Content: "ok"}}
	b := NewBridge(BridgeConfig{Bot: bot, Runner: runner})
	stop := startBridge(t, b)

	bot.updates <- tgbotapi.Update{UpdateID: 1}
	bot.updates <- textUpdate(9, "   ")
	bot.updates <- textUpdate(9, "ping")
	waitForMessages(t, bot, 1)
	stop()

	if n := len(runner.requests()); n != 1 {
		t.Errorf("runner called %d times, want 1", n)
	}
}

func TestBridge_EmptyResponseNoReply(t *testing.T) {
	bot := newFakeBot()
	runner := &testRunner{resp: &agent.Response{Content: ""}}
	b := NewBridge(BridgeConfig{Bot: bot, Runner: runner})

	b.handleMessage(context.Background(), textUpdate(5, "halo").Message)

	if msgs := bot.messages(); len(msgs) != 0 {
		t.Errorf("sent %d messages for empty response", len(msgs))
	}
}

func TestBridge_RateLimitedChatGetsNotice(t *testing.T) {
	bot := newFakeBot()
	runner := &testRunner{resp: &agent.Response{Content: "ok"}}
	b := NewBridge(BridgeConfig{Bot: bot, Runner: runner, RateLimit: 1})
	stop := startBridge(t, b)

	bot.updates <- textUpdate(3, "satu")
	bot.updates <- textUpdate(3, "dua")
	msgs := waitForMessages(t, bot, 2)
	stop()

	var notices int
	for _, m := range msgs {
		if m.Text == prompts.RateLimited {
			notices++
		}
	}
	if notices != 1 {
		t.Errorf("rate limit notices = %d, want 1", notices)
	}
	if n := len(runner.requests()); n != 1 {
		t.Errorf("runner called %d times, want 1", n)
	}
}

func TestBridge_RateLimitPerChat(t *testing.T) {
	b := NewBridge(BridgeConfig{Bot: newFakeBot(), Runner: &testRunner{}, RateLimit: 2})

	if !b.allowChat(1) {
		t.Error("message 1 should be allowed")
	}
	if !b.allowChat(1) {
		t.Error("message 2 should be allowed")
	}
	if b.allowChat(1) {
		t.Error("message 3 should be rate-limited")
	}
	if !b.allowChat(2) {
		t.Error("different chat should be allowed")
	}
}

func TestBridge_RateLimitDisabledWhenZero(t *testing.T) {
	b := NewBridge(BridgeConfig{Bot: newFakeBot(), Runner: &testRunner{}})

	for i := range 100 {
		if !b.allowChat(1) {
			t.Fatalf("message %d should be allowed with rate limit disabled", i+1)
		}
	}
}

func TestBridge_LongReplyIsSplit(t *testing.T) {
	bot := newFakeBot()
	long := strings.Repeat("a", maxMessageLen) + "\n" + strings.Repeat("b", 10)
	runner := &testRunner{resp: &agent.Response{Content: long}}
	b := NewBridge(BridgeConfig{Bot: bot, Runner: runner})

	b.handleMessage(context.Background(), textUpdate(5, "katalog").Message)

	msgs := bot.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if got := msgs[0].Text + msgs[1].Text; got != long {
		t.Error("split parts should reassemble to the original reply")
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"short", "halo", 10, []string{"halo"}},
		{"exact", "abcde", 5, []string{"abcde"}},
		{"newline", "abcd\nefgh", 6, []string{"abcd\n", "efgh"}},
		{"hard cut", "abcdefgh", 3, []string{"abc", "def", "gh"}},
		{"runes", "ééééé", 2, []string{"éé", "éé", "é"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitMessage(tt.text, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("splitMessage() = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("part %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSenderName(t *testing.T) {
	if got := senderName(nil); got != "" {
		t.Errorf("nil user = %q", got)
	}
	if got := senderName(&tgbotapi.User{UserName: "budi"}); got != "@budi" {
		t.Errorf("username = %q", got)
	}
	if got := senderName(&tgbotapi.User{FirstName: "Budi", LastName: "Santoso"}); got != "Budi Santoso" {
		t.Errorf("full name = %q", got)
	}
}
