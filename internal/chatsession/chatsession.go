// Package chatsession implements the Chat Session (C11): resolve or create
// a conversation, run the Query Pipeline over its history, persist both
// turns, and fire a best-effort memory update.
package chatsession

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ragserv/internal/llm"
	"ragserv/internal/observability"
	"ragserv/internal/persistence"
	"ragserv/internal/queryevents"
	"ragserv/internal/querypipeline"
	"ragserv/internal/validation"
)

const recentMessageWindow = 10

// MemoryExtractor updates a user's durable memory from recent conversation
// turns. Implemented by internal/memory.Extractor; declared here as an
// interface so this package doesn't depend on memory's LLM prompt details.
type MemoryExtractor interface {
	Extract(ctx context.Context, currentMemory string, recent []persistence.ChatMessage) (memory string, forget bool, changed bool, err error)
}

// Config controls one send_message/stream_chat call.
type Config struct {
	ContextLimit int
	UseRAG       bool
}

func (c Config) withDefaults() Config {
	if c.ContextLimit <= 0 {
		c.ContextLimit = 0 // querypipeline applies its own default
	}
	return c
}

// ChatResponse is the result of one send_message call.
type ChatResponse struct {
	ConversationID string
	MessageID      string
	Response       string
	Sources        []persistence.SourceRef
	Metrics        querypipeline.Metrics
}

// Session wires conversation persistence to the Query Pipeline.
type Session struct {
	store         persistence.ConversationStore
	pipeline      *querypipeline.Pipeline
	memory        MemoryExtractor
	titleProvider llm.Provider
	titleModel    string
}

// New constructs a Session. memory may be nil, in which case memory updates
// are skipped entirely (useful until internal/memory is wired in by the
// caller).
func New(store persistence.ConversationStore, pipeline *querypipeline.Pipeline, memory MemoryExtractor, titleProvider llm.Provider, titleModel string) *Session {
	return &Session{store: store, pipeline: pipeline, memory: memory, titleProvider: titleProvider, titleModel: titleModel}
}

// SendMessage runs the full turn: resolve the conversation, append the user
// message, run the Query Pipeline over full history, append the assistant
// message, and fire a best-effort memory update.
func (s *Session) SendMessage(ctx context.Context, userID, conversationID, message string, metadata map[string]string, cfg Config) (ChatResponse, error) {
	cfg = cfg.withDefaults()
	if err := validation.UserID(userID); err != nil {
		return ChatResponse{}, fmt.Errorf("chatsession: %w", err)
	}

	conv, err := s.resolveConversation(ctx, userID, conversationID)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chatsession: resolve conversation: %w", err)
	}

	if _, err := s.store.AppendMessage(ctx, persistence.ChatMessage{
		ConversationID: conv.ID,
		Role:           "user",
		Content:        message,
		Metadata:       metadata,
	}); err != nil {
		return ChatResponse{}, fmt.Errorf("chatsession: append user message: %w", err)
	}

	all, err := s.store.AllMessages(ctx, userID, conv.ID)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chatsession: load history: %w", err)
	}
	history := toLLMHistory(all)

	userMemory, _, err := s.store.GetMemory(ctx, userID)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chatsession: load memory: %w", err)
	}

	resp, err := s.pipeline.GenerateResponse(ctx, message, userID, history, cfg.ContextLimit, cfg.UseRAG, userMemory.Memory)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chatsession: generate response: %w", err)
	}

	assistantMsg, err := s.store.AppendMessage(ctx, persistence.ChatMessage{
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        resp.Response,
		Sources:        toSourceRefs(resp.Sources),
		Metadata:       metricsToMetadata(resp.Metrics),
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chatsession: append assistant message: %w", err)
	}

	s.updateMemory(ctx, userID, userMemory.Memory, all, assistantMsg)

	return ChatResponse{
		ConversationID: conv.ID,
		MessageID:      assistantMsg.ID,
		Response:       resp.Response,
		Sources:        assistantMsg.Sources,
		Metrics:        resp.Metrics,
	}, nil
}

// ChatChunk is one unit yielded by StreamChat: exactly one of its fields is
// populated, mirroring stream_chat's chunk variants.
type ChatChunk struct {
	Source  *persistence.SourceRef
	Token   string
	Metrics map[string]string
	Error   string
	IsFinal bool
}

// StreamChat mirrors SendMessage but yields a ChatChunk per Query Pipeline
// event. On success, the assistant message is persisted and memory updated
// after the final metrics chunk; on an Error event, a partial metrics chunk
// is emitted, the text streamed so far is persisted as the assistant turn
// with metadata truncated=true, and an error chunk ends the stream.
func (s *Session) StreamChat(ctx context.Context, userID, conversationID, message string, metadata map[string]string, cfg Config, emit func(ChatChunk) error) error {
	cfg = cfg.withDefaults()
	if err := validation.UserID(userID); err != nil {
		return fmt.Errorf("chatsession: %w", err)
	}

	conv, err := s.resolveConversation(ctx, userID, conversationID)
	if err != nil {
		return fmt.Errorf("chatsession: resolve conversation: %w", err)
	}

	if _, err := s.store.AppendMessage(ctx, persistence.ChatMessage{
		ConversationID: conv.ID,
		Role:           "user",
		Content:        message,
		Metadata:       metadata,
	}); err != nil {
		return fmt.Errorf("chatsession: append user message: %w", err)
	}

	all, err := s.store.AllMessages(ctx, userID, conv.ID)
	if err != nil {
		return fmt.Errorf("chatsession: load history: %w", err)
	}
	history := toLLMHistory(all)

	userMemory, _, err := s.store.GetMemory(ctx, userID)
	if err != nil {
		return fmt.Errorf("chatsession: load memory: %w", err)
	}

	var accumulated strings.Builder
	var sources []persistence.SourceRef
	streamErr := s.pipeline.StreamResponse(ctx, message, userID, history, cfg.ContextLimit, cfg.UseRAG, userMemory.Memory, func(ev queryevents.Event) error {
		switch e := ev.(type) {
		case queryevents.Sources:
			for _, src := range e.Sources {
				ref := persistence.SourceRef{ChunkID: src.ChunkID, DocumentID: src.DocumentID, RelevanceScore: src.RelevanceScore, Content: src.Content}
				sources = append(sources, ref)
				if err := emit(ChatChunk{Source: &ref}); err != nil {
					return err
				}
			}
			return nil
		case queryevents.Token:
			accumulated.WriteString(e.Content)
			return emit(ChatChunk{Token: e.Content})
		case queryevents.Metrics:
			metricsMap := querypipelineMetricsMap(e)
			if err := emit(ChatChunk{Metrics: metricsMap, IsFinal: true}); err != nil {
				return err
			}
			assistantMsg, err := s.store.AppendMessage(ctx, persistence.ChatMessage{
				ConversationID: conv.ID,
				Role:           "assistant",
				Content:        accumulated.String(),
				Sources:        sources,
				Metadata:       metricsMap,
			})
			if err != nil {
				observability.LoggerWithTrace(ctx).Error().Err(err).Msg("chatsession: persist assistant message after stream")
				return nil
			}
			s.updateMemory(ctx, userID, userMemory.Memory, all, assistantMsg)
			return nil
		case queryevents.Error:
			partial := map[string]string{"total_tokens": strconv.Itoa(len(strings.Fields(accumulated.String())))}
			if err := emit(ChatChunk{Metrics: partial}); err != nil {
				return err
			}
			if _, err := s.store.AppendMessage(ctx, persistence.ChatMessage{
				ConversationID: conv.ID,
				Role:           "assistant",
				Content:        accumulated.String(),
				Sources:        sources,
				Metadata:       map[string]string{"truncated": "true"},
			}); err != nil {
				observability.LoggerWithTrace(ctx).Error().Err(err).Msg("chatsession: persist truncated assistant message")
			}
			return emit(ChatChunk{Error: classifyError(e.Message), IsFinal: true})
		default:
			return nil
		}
	})
	if streamErr != nil {
		return emit(ChatChunk{Error: classifyError(streamErr.Error()), IsFinal: true})
	}
	return nil
}

// GetConversation returns a page of messages using offset-cursor
// pagination: cursor parses as an integer offset, and nextCursor is the
// string form of offset+limit, present only if a limit+1-th row existed.
func (s *Session) GetConversation(ctx context.Context, userID, conversationID string, limit int, cursor string) (messages []persistence.ChatMessage, nextCursor string, err error) {
	offset := 0
	if cursor != "" {
		offset, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("chatsession: invalid cursor %q: %w", cursor, err)
		}
	}
	msgs, hasMore, err := s.store.ListMessages(ctx, userID, conversationID, limit, offset)
	if err != nil {
		return nil, "", fmt.Errorf("chatsession: list messages: %w", err)
	}
	if hasMore {
		nextCursor = strconv.Itoa(offset + limit)
	}
	return msgs, nextCursor, nil
}

// GenerateTitle produces a short conversation title via a dedicated LLM
// call, falling back to a truncated first line of userMessage on failure
// or an empty completion. The Provider interface has no per-call sampling
// parameters, so no temperature or token cap is sent with this call; the
// prompt only asks for a 3-5 word title, and the reply is capped at 100
// bytes here.
func (s *Session) GenerateTitle(ctx context.Context, userMessage string) string {
	if s.titleProvider == nil {
		return fallbackTitle(userMessage)
	}
	prompt := []llm.Message{
		{Role: "system", Content: "Generate a title for this conversation in 3-5 words. No quotes, no punctuation at the end, no preamble. Respond with only the title."},
		{Role: "user", Content: userMessage},
	}
	reply, err := s.titleProvider.Chat(ctx, prompt, s.titleModel)
	if err != nil {
		return fallbackTitle(userMessage)
	}
	title := strings.Trim(strings.TrimSpace(reply.Content), "\"'")
	if title == "" {
		return fallbackTitle(userMessage)
	}
	if len(title) > 100 {
		title = title[:100]
	}
	return title
}

func fallbackTitle(userMessage string) string {
	line := userMessage
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if len(line) > 50 {
		line = line[:50]
	}
	return line
}

func (s *Session) resolveConversation(ctx context.Context, userID, conversationID string) (persistence.Conversation, error) {
	if conversationID != "" {
		return s.store.EnsureConversation(ctx, userID, conversationID)
	}
	return s.store.CreateConversation(ctx, userID, "")
}

func (s *Session) updateMemory(ctx context.Context, userID, currentMemory string, priorMessages []persistence.ChatMessage, assistantMsg persistence.ChatMessage) {
	if s.memory == nil {
		return
	}
	recent := append(append([]persistence.ChatMessage{}, priorMessages...), assistantMsg)
	if len(recent) > recentMessageWindow {
		recent = recent[len(recent)-recentMessageWindow:]
	}
	memory, forget, changed, err := s.memory.Extract(ctx, currentMemory, recent)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("user_id", userID).Msg("chatsession: memory update failed")
		return
	}
	switch {
	case forget:
		if err := s.store.DeleteMemory(ctx, userID); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("user_id", userID).Msg("chatsession: delete memory failed")
		}
	case changed:
		if err := s.store.UpsertMemory(ctx, userID, memory); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("user_id", userID).Msg("chatsession: upsert memory failed")
		}
	}
}

func toLLMHistory(msgs []persistence.ChatMessage) []llm.Message {
	if len(msgs) == 0 {
		return nil
	}
	// The just-appended user message is always the last element; the
	// pipeline appends the query itself, so history must exclude it.
	prior := msgs[:len(msgs)-1]
	out := make([]llm.Message, len(prior))
	for i, m := range prior {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func toSourceRefs(src []querypipeline.SourceRef) []persistence.SourceRef {
	out := make([]persistence.SourceRef, len(src))
	for i, s := range src {
		out[i] = persistence.SourceRef{ChunkID: s.ChunkID, DocumentID: s.DocumentID, RelevanceScore: s.RelevanceScore, Content: s.Content}
	}
	return out
}

func metricsToMetadata(m querypipeline.Metrics) map[string]string {
	return map[string]string{
		"retrieval_time_ms":  strconv.FormatInt(m.RetrievalTimeMS, 10),
		"generation_time_ms": strconv.FormatInt(m.GenerationTimeMS, 10),
		"total_time_ms":      strconv.FormatInt(m.TotalTimeMS, 10),
		"sources_retrieved":  strconv.Itoa(m.SourcesRetrieved),
		"avg_similarity":     strconv.FormatFloat(m.AvgSimilarity, 'f', 3, 64),
		"prompt_tokens":      strconv.Itoa(m.PromptTokens),
		"completion_tokens":  strconv.Itoa(m.CompletionTokens),
		"total_tokens":       strconv.Itoa(m.TotalTokens),
	}
}

func querypipelineMetricsMap(e queryevents.Metrics) map[string]string {
	return map[string]string{
		"retrieval_time_ms":  strconv.FormatInt(e.RetrievalTimeMS, 10),
		"generation_time_ms": strconv.FormatInt(e.GenerationTimeMS, 10),
		"total_time_ms":      strconv.FormatInt(e.TotalTimeMS, 10),
		"prompt_tokens":      strconv.Itoa(e.PromptTokens),
		"completion_tokens":  strconv.Itoa(e.CompletionTokens),
		"total_tokens":       strconv.Itoa(e.TotalTokens),
	}
}

// errorCodeKeywords maps a lowercase keyword found in an error message to
// the error taxonomy code stream_chat reports on the terminal error chunk.
var errorCodeKeywords = []struct {
	keyword string
	code    string
}{
	{"timeout", "TIMEOUT"},
	{"deadline exceeded", "TIMEOUT"},
	{"rate limit", "RATE_LIMITED"},
	{"too many requests", "RATE_LIMITED"},
	{"429", "RATE_LIMITED"},
	{"context length", "CONTEXT_TOO_LONG"},
	{"context_too_long", "CONTEXT_TOO_LONG"},
	{"maximum context", "CONTEXT_TOO_LONG"},
	{"model not found", "MODEL_UNAVAILABLE"},
	{"model unavailable", "MODEL_UNAVAILABLE"},
	{"unavailable", "MODEL_UNAVAILABLE"},
	{"invalid request", "INVALID_REQUEST"},
	{"invalid argument", "INVALID_REQUEST"},
}

// classifyError chooses an error taxonomy code by keyword match on msg,
// defaulting to INTERNAL_ERROR, and formats "{CODE}: {msg}".
func classifyError(msg string) string {
	lower := strings.ToLower(msg)
	code := "INTERNAL_ERROR"
	for _, kw := range errorCodeKeywords {
		if strings.Contains(lower, kw.keyword) {
			code = kw.code
			break
		}
	}
	return fmt.Sprintf("%s: %s", code, msg)
}
