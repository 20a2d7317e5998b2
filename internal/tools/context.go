package tools

import "context"

type conversationIDKey struct{}

// WithConversationID stamps the owning conversation onto the context so
// resolvers that emit background signals know where to post them.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey{}, id)
}

// ConversationIDFrom returns the conversation id carried by the context, or
// the empty string when the dispatch was not conversation scoped.
func ConversationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey{}).(string)
	return id
}
