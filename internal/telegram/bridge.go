// Package telegram bridges a Telegram bot to the agent loop. Each chat
// is one conversation, keyed telegram-<chat id>.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sourcegraph/conc"

	"github.com/nugget/spectrumbot/internal/agent"
	"github.com/nugget/spectrumbot/internal/events"
	"github.com/nugget/spectrumbot/internal/httpkit"
	"github.com/nugget/spectrumbot/internal/prompts"
)

// Runner abstracts the agent loop for testability. The real
// implementation is *agent.Loop.
type Runner interface {
	Handle(ctx context.Context, req *agent.Request) (*agent.Response, error)
}

// Bot is the subset of *tgbotapi.BotAPI the bridge uses.
type Bot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	StopReceivingUpdates()
}

// handleTimeout bounds how long a single inbound message may be
// processed (agent loop + reply send).
const handleTimeout = 5 * time.Minute

// rateWindow is the sliding window for per-chat rate limiting.
const rateWindow = time.Minute

// cleanupInterval controls how often stale rate-limit entries are
// evicted.
const cleanupInterval = 10 * time.Minute

// typingInterval re-sends the typing action. Telegram clears it after
// about five seconds.
const typingInterval = 4 * time.Second

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Bot         Bot
	Runner      Runner
	Logger      *slog.Logger
	Bus         *events.Bus
	RateLimit   int // per chat per minute; 0 = unlimited
	PollTimeout time.Duration
}

// Bridge receives Telegram updates, routes text messages through the
// agent loop, and sends the reply back to the chat.
type Bridge struct {
	bot         Bot
	runner      Runner
	logger      *slog.Logger
	bus         *events.Bus
	rateLimit   int
	pollTimeout time.Duration

	mu          sync.Mutex
	chatTimes   map[int64][]time.Time
	lastCleanup time.Time
}

// NewBot connects to the Bot API with the shared HTTP client settings.
// The client timeout outlasts the long-poll timeout.
func NewBot(token string, pollTimeout time.Duration, logger *slog.Logger) (*tgbotapi.BotAPI, error) {
	client := httpkit.NewClient(
		httpkit.WithTimeout(pollTimeout+30*time.Second),
		httpkit.WithLogger(logger),
	)
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	return bot, nil
}

// NewBridge creates a Telegram bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 60 * time.Second
	}
	return &Bridge{
		bot:         cfg.Bot,
		runner:      cfg.Runner,
		logger:      logger,
		bus:         cfg.Bus,
		rateLimit:   cfg.RateLimit,
		pollTimeout: poll,
		chatTimes:   make(map[int64][]time.Time),
	}
}

// ConversationID returns the conversation key for a chat.
func ConversationID(chatID int64) string {
	return fmt.Sprintf("telegram-%d", chatID)
}

// Start long-polls for updates until ctx is cancelled. Chats are handled
// concurrently; the loop serializes turns within one conversation.
// Start returns once in-flight messages have finished.
func (b *Bridge) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(b.pollTimeout / time.Second)
	updates := b.bot.GetUpdatesChan(u)

	b.logger.Info("telegram bridge started", "poll_timeout", b.pollTimeout)

	var wg conc.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("telegram bridge shutting down")
			b.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				b.logger.Info("telegram update channel closed, bridge stopping")
				return
			}

			msg := update.Message
			if msg == nil || msg.Chat == nil {
				continue
			}
			if strings.TrimSpace(msg.Text) == "" {
				b.logger.Debug("telegram ignoring non-text message",
					"chat_id", msg.Chat.ID,
				)
				continue
			}

			if !b.allowChat(msg.Chat.ID) {
				b.logger.Warn("telegram message rate-limited", "chat_id", msg.Chat.ID)
				b.send(msg.Chat.ID, prompts.RateLimited)
				continue
			}

			wg.Go(func() { b.handleMessage(ctx, msg) })
		}
	}
}

// handleMessage runs one inbound message through the agent loop and
// sends the reply back to the chat. A started turn is not cancelled by
// bridge shutdown; only handleTimeout bounds it.
func (b *Bridge) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
	defer cancel()

	chatID := msg.Chat.ID
	convID := ConversationID(chatID)

	b.logger.Info("telegram message received",
		"chat_id", chatID,
		"conversation_id", convID,
		"from", senderName(msg.From),
		"message_len", len(msg.Text),
	)
	b.bus.Emit(events.SourceTelegram, events.KindMessageReceived, map[string]any{
		"conversation_id": convID,
		"message_len":     len(msg.Text),
	})

	stopTyping := b.keepTyping(ctx, chatID)
	resp, err := b.runner.Handle(ctx, &agent.Request{
		ConversationID: convID,
		Message:        msg.Text,
		Channel:        "telegram",
	})
	stopTyping()

	if err != nil {
		b.logger.Error("telegram agent run failed",
			"chat_id", chatID,
			"conversation_id", convID,
			"error", err,
		)
		b.send(chatID, prompts.ErrorFallback)
		return
	}

	b.logger.Info("telegram agent run completed",
		"chat_id", chatID,
		"conversation_id", convID,
		"state", resp.State,
		"iterations", resp.Iterations,
		"response_len", len(resp.Content),
	)

	if resp.Content == "" {
		return
	}
	if b.send(chatID, resp.Content) {
		b.logger.Info("telegram reply sent",
			"chat_id", chatID,
			"conversation_id", convID,
		)
	}
}

// keepTyping shows the typing action until the returned func is called.
func (b *Bridge) keepTyping(ctx context.Context, chatID int64) func() {
	done := make(chan struct{})
	var once sync.Once
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			if _, err := b.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
				b.logger.Debug("telegram typing action failed", "chat_id", chatID, "error", err)
			}
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
}

// send delivers text to a chat, split at Telegram's message limit.
// Reports whether every part was sent.
func (b *Bridge) send(chatID int64, text string) bool {
	for _, part := range splitMessage(text, maxMessageLen) {
		if _, err := b.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			b.logger.Error("telegram reply send failed",
				"chat_id", chatID,
				"error", err,
			)
			return false
		}
	}
	return true
}

// allowChat checks whether the chat is within the per-minute rate
// limit. Returns true if the message should be processed.
func (b *Bridge) allowChat(chatID int64) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := time.Now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	timestamps := b.chatTimes[chatID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= b.rateLimit {
		b.chatTimes[chatID] = valid
		return false
	}

	b.chatTimes[chatID] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts stale chat entries. Must be called with
// b.mu held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for chat, timestamps := range b.chatTimes {
		if len(timestamps) == 0 || timestamps[len(timestamps)-1].Before(cutoff) {
			delete(b.chatTimes, chat)
		}
	}
}

// splitMessage breaks text into parts of at most limit runes, preferring
// to cut at a newline.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func senderName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
