package llm

import "context"

// TokenUsage reports token accounting for one completion, when the
// concrete provider surfaces it on the returned Message.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Message is the opaque chat turn the query pipeline, chat session, and
// memory extractor exchange with whichever concrete provider is configured.
// Providers never see anything beyond plain role/content history: there is
// no tool-calling, attachment, or compaction vocabulary to round-trip.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
	// Usage reports token accounting for this message when the concrete
	// provider surfaces it. Nil when the provider doesn't report usage;
	// callers that need a count fall back to estimation.
	Usage *TokenUsage
}

// StreamHandler receives text deltas as a Provider streams a completion.
type StreamHandler interface {
	OnDelta(content string)
}

// Provider is the boundary between the retrieval/chat/memory components and
// a concrete model backend. Chat returns the full completion in one call;
// ChatStream delivers it incrementally via h.OnDelta, in model order.
type Provider interface {
	Chat(ctx context.Context, msgs []Message, model string) (Message, error)
	ChatStream(ctx context.Context, msgs []Message, model string, h StreamHandler) error
}
