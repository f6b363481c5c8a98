package tools

import "context"

type contextKey string

const (
	conversationIDKey contextKey = "conversation_id"
	channelKey        contextKey = "channel"
)

// WithConversationID adds the conversation ID to the context.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// ConversationIDFromContext extracts the conversation ID from the context.
// Returns "default" if not set.
func ConversationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(conversationIDKey).(string); ok && id != "" {
		return id
	}
	return "default"
}

// WithChannel records the transport a turn arrived on (telegram, web, api).
func WithChannel(ctx context.Context, channel string) context.Context {
	if channel == "" {
		return ctx
	}
	return context.WithValue(ctx, channelKey, channel)
}

// ChannelFromContext returns the transport name, or "" if unset.
func ChannelFromContext(ctx context.Context) string {
	ch, _ := ctx.Value(channelKey).(string)
	return ch
}
