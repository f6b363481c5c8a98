package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/spectrumbot/internal/events"
	"github.com/nugget/spectrumbot/internal/memory"
	"github.com/nugget/spectrumbot/internal/prompts"
)

// Command is a control message handled without the model.
type Command int

// Commands.
const (
	CommandNone Command = iota
	CommandReset
	CommandHandoff
	CommandStart
)

var commandWords = map[string]Command{
	"/reset":   CommandReset,
	"reset":    CommandReset,
	"/clear":   CommandReset,
	"/cs":      CommandHandoff,
	"/handoff": CommandHandoff,
	"/admin":   CommandHandoff,
	"/start":   CommandStart,
}

// ParseCommand recognises a control message. Matching is
// case-insensitive, ignores surrounding space, and accepts Telegram's
// "/cmd@botname" form.
func ParseCommand(text string) Command {
	word := strings.ToLower(strings.TrimSpace(text))
	if strings.ContainsAny(word, " \t\n") {
		return CommandNone
	}
	if at := strings.IndexByte(word, '@'); at > 0 && word[0] == '/' {
		word = word[:at]
	}
	return commandWords[word]
}

// Handle answers a control command, or runs the loop for anything else.
func (l *Loop) Handle(ctx context.Context, req *Request) (*Response, error) {
	cmd := ParseCommand(req.Message)
	if cmd == CommandNone {
		return l.Run(ctx, req)
	}

	convID := conversationID(req)
	unlock, err := l.locks.Lock(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("wait for conversation %s: %w", convID, err)
	}
	defer unlock()

	resp := &Response{
		ConversationID: convID,
		State:          StateDone,
		RequestID:      generateRequestID(),
	}
	switch cmd {
	case CommandReset:
		resp.Content = l.Reset(convID)
	case CommandHandoff:
		resp.Content = l.handoffMessage(convID)
		l.bus.Emit(events.SourceAgent, events.KindHandoff, map[string]any{"conversation_id": convID})
	case CommandStart:
		resp.Content = prompts.Greeting(l.shopName)
	}
	l.logger.Info("command handled", "conversation", convID, "command", strings.TrimSpace(req.Message))
	return resp, nil
}

// Reset clears a conversation's memory and returns the acknowledgement.
func (l *Loop) Reset(convID string) string {
	if err := l.memory.Reset(convID); err != nil {
		l.logger.Error("failed to reset conversation", "conversation", convID, "error", err)
		return prompts.ErrorFallback
	}
	l.bus.Emit(events.SourceAgent, events.KindConversationReset, map[string]any{"conversation_id": convID})
	return prompts.ResetAck
}

// handoffMessage builds the admin link from the customer's latest
// message.
func (l *Loop) handoffMessage(convID string) string {
	if l.handoff == nil {
		return prompts.ErrorFallback
	}
	summary := "Halo admin, saya butuh bantuan."
	if history, err := l.memory.History(convID); err == nil {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == memory.RoleUser {
				summary = truncate(history[i].Content, 200)
				break
			}
		}
	}
	if convID != "default" {
		summary += " (ref: " + convID + ")"
	}
	return l.handoff.Message(summary)
}
