package httpapi

import (
	"net/http"
	"strconv"

	"ragserv/internal/chatsession"
	"ragserv/internal/persistence"
)

type chatConfigDTO struct {
	ContextLimit int  `json:"contextLimit"`
	UseRAG       bool `json:"useRag"`
}

func (c chatConfigDTO) toConfig() chatsession.Config {
	return chatsession.Config{ContextLimit: c.ContextLimit, UseRAG: c.UseRAG}
}

type sendMessageRequest struct {
	UserID         string            `json:"userId"`
	ConversationID string            `json:"conversationId,omitempty"`
	Message        string            `json:"message"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Config         chatConfigDTO     `json:"config,omitempty"`
}

type metricsDTO struct {
	RetrievalTimeMS  int64   `json:"retrievalTimeMs"`
	GenerationTimeMS int64   `json:"generationTimeMs"`
	TotalTimeMS      int64   `json:"totalTimeMs"`
	SourcesRetrieved int     `json:"sourcesRetrieved"`
	AvgSimilarity    float64 `json:"avgSimilarity"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
}

type sendMessageResponse struct {
	ConversationID string                  `json:"conversationId"`
	MessageID      string                  `json:"messageId"`
	Response       string                  `json:"response"`
	Sources        []persistence.SourceRef `json:"sources,omitempty"`
	Metrics        metricsDTO              `json:"metrics"`
}

// handleSendMessage implements POST /api/v1/chat/messages: a single
// non-streamed conversational turn.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.chat.SendMessage(r.Context(), req.UserID, req.ConversationID, req.Message, req.Metadata, req.Config.toConfig())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sendMessageResponse{
		ConversationID: resp.ConversationID,
		MessageID:      resp.MessageID,
		Response:       resp.Response,
		Sources:        resp.Sources,
		Metrics: metricsDTO{
			RetrievalTimeMS:  resp.Metrics.RetrievalTimeMS,
			GenerationTimeMS: resp.Metrics.GenerationTimeMS,
			TotalTimeMS:      resp.Metrics.TotalTimeMS,
			SourcesRetrieved: resp.Metrics.SourcesRetrieved,
			AvgSimilarity:    resp.Metrics.AvgSimilarity,
			PromptTokens:     resp.Metrics.PromptTokens,
			CompletionTokens: resp.Metrics.CompletionTokens,
			TotalTokens:      resp.Metrics.TotalTokens,
		},
	})
}

type streamChunkDTO struct {
	Source  *persistence.SourceRef `json:"source,omitempty"`
	Token   string                 `json:"token,omitempty"`
	Metrics map[string]string      `json:"metrics,omitempty"`
	Error   string                 `json:"error,omitempty"`
	IsFinal bool                   `json:"isFinal,omitempty"`
}

// handleStreamChat implements POST /api/v1/chat/stream: the same turn as
// SendMessage, but sources, tokens, and metrics are pushed over SSE as they
// become available rather than returned as one JSON body.
func (s *Server) handleStreamChat(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sse, ok := newSSEWriter(w)
	if !ok {
		respondError(w, withCode(CodeInternal, errStreamingUnsupported))
		return
	}

	emit := func(chunk chatsession.ChatChunk) error {
		switch {
		case chunk.Source != nil:
			return sse.send("source", streamChunkDTO{Source: chunk.Source})
		case chunk.Error != "":
			return sse.send("error", streamChunkDTO{Error: chunk.Error, IsFinal: chunk.IsFinal})
		case chunk.Metrics != nil:
			return sse.send("metrics", streamChunkDTO{Metrics: chunk.Metrics, IsFinal: chunk.IsFinal})
		default:
			return sse.send("token", streamChunkDTO{Token: chunk.Token})
		}
	}

	if err := s.chat.StreamChat(r.Context(), req.UserID, req.ConversationID, req.Message, req.Metadata, req.Config.toConfig(), emit); err != nil {
		_ = sse.send("error", streamChunkDTO{Error: err.Error(), IsFinal: true})
	}
}

type getConversationResponse struct {
	Messages   []persistence.ChatMessage `json:"messages"`
	NextCursor string                    `json:"nextCursor,omitempty"`
}

// handleGetConversation implements GET /api/v1/chat/conversations/{id},
// offset-cursor paginated via the user_id, limit, and cursor query params.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID := r.URL.Query().Get("user_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	cursor := r.URL.Query().Get("cursor")

	msgs, next, err := s.chat.GetConversation(r.Context(), userID, id, limit, cursor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, getConversationResponse{Messages: msgs, NextCursor: next})
}

// handleDeleteConversation implements DELETE /api/v1/chat/conversations/{id}.
// chatsession.Session exposes no wrapper for deletion, so this calls the
// store directly.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID := r.URL.Query().Get("user_id")
	if err := s.store.DeleteConversation(r.Context(), userID, id); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type generateTitleRequest struct {
	UserID      string `json:"userId"`
	UserMessage string `json:"userMessage"`
}

type generateTitleResponse struct {
	Title string `json:"title"`
}

// handleGenerateTitle implements POST /api/v1/chat/conversations/{id}/title:
// derive a short title from userMessage and persist it on the conversation.
func (s *Server) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req generateTitleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	title := s.chat.GenerateTitle(r.Context(), req.UserMessage)
	if err := s.store.SetConversationTitle(r.Context(), req.UserID, id, title); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, generateTitleResponse{Title: title})
}
