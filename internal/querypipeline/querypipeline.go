// Package querypipeline implements the Query Pipeline (C10): retrieve and
// pack context under a token budget, assemble the prompt, and call the LLM
// provider either unary (GenerateResponse) or streaming (StreamResponse).
package querypipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ragserv/internal/llm"
	"ragserv/internal/promptbuilder"
	"ragserv/internal/queryevents"
	"ragserv/internal/search"
)

const defaultMaxContextTokens = 4000

// defaultContextFraction is the share of a model's context window the
// pipeline reserves for retrieved chunks when the caller doesn't pass an
// explicit contextLimit.
const defaultContextFraction = 0.25

// charsPerToken is the estimator used throughout the pipeline: token count
// for a piece of text is approximated as len(text)/charsPerToken. No
// tokenizer call is made on the hot path.
const charsPerToken = 4

// SourceRef is one retrieved chunk attributed in a response.
type SourceRef struct {
	ChunkID        string
	DocumentID     string
	RelevanceScore float64
	Content        string
}

// Metrics carries the timings and token accounting produced by one
// generate_response call.
type Metrics struct {
	RetrievalTimeMS  int64
	GenerationTimeMS int64
	TotalTimeMS      int64
	SourcesRetrieved int
	AvgSimilarity    float64
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// QueryResponse is the result of one unary generate_response call.
type QueryResponse struct {
	Response string
	Context  string
	Sources  []SourceRef
	Metrics  Metrics
}

// Pipeline wires a Searcher and an LLM Provider together under the
// generate_response / stream_response contract.
type Pipeline struct {
	searcher *search.Searcher
	provider llm.Provider
	model    string
	now      func() time.Time
}

// New constructs a Pipeline. now defaults to time.Now; tests may override it
// via WithClock.
func New(searcher *search.Searcher, provider llm.Provider, model string) *Pipeline {
	return &Pipeline{searcher: searcher, provider: provider, model: model, now: time.Now}
}

// WithClock overrides the pipeline's clock, for deterministic timing tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

func ms(d time.Duration) int64 { return int64(d / time.Millisecond) }

func estimateTokens(s string) int { return (len(s) + charsPerToken - 1) / charsPerToken }

// contextBudget resolves the max-context-tokens limit for one call: an
// explicit positive limit always wins; otherwise the pipeline sizes the
// budget off the configured model's context window, falling back to a flat
// default when the model is unrecognized and has no env override.
func (p *Pipeline) contextBudget(limit int) int {
	if limit > 0 {
		return limit
	}
	if size, ok := llm.ContextSize(p.model); ok {
		if budget := int(float64(size) * defaultContextFraction); budget > 0 {
			return budget
		}
	}
	return defaultMaxContextTokens
}

// optimizeContext sorts results by similarity score descending and greedily
// appends chunks while the running token estimate of their content fits
// within maxContextTokens; the highest-scoring chunk is always kept, even
// when it alone exceeds the budget. It returns the joined context block and
// the chunks that were kept (for source attribution).
func optimizeContext(results []search.Result, maxContextTokens int) (string, []search.Result) {
	if len(results) == 0 {
		return "", nil
	}
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	sorted := make([]search.Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SimilarityScore > sorted[j].SimilarityScore
	})

	kept := make([]search.Result, 0, len(sorted))
	chunks := make([]promptbuilder.ContextChunk, 0, len(sorted))
	budget := maxContextTokens
	for i, r := range sorted {
		c := promptbuilder.ContextChunk{Index: i + 1, Score: r.SimilarityScore, DocumentID: r.DocumentID, Content: r.Content}
		cost := estimateTokens(c.Content)
		if cost > budget && len(kept) > 0 {
			break
		}
		kept = append(kept, r)
		chunks = append(chunks, c)
		budget -= cost
	}
	return promptbuilder.FormatContextBlock(chunks), kept
}

func toSourceRefs(kept []search.Result) []SourceRef {
	out := make([]SourceRef, len(kept))
	for i, r := range kept {
		out[i] = SourceRef{ChunkID: r.ChunkID, DocumentID: r.DocumentID, RelevanceScore: r.SimilarityScore, Content: r.Content}
	}
	return out
}

func avgSimilarity(kept []search.Result) float64 {
	if len(kept) == 0 {
		return 0
	}
	var sum float64
	for _, r := range kept {
		sum += r.SimilarityScore
	}
	return sum / float64(len(kept))
}

// apologyResponse is returned when the LLM call fails; callers still get a
// QueryResponse with zero token usage rather than a bare error.
const apologyResponse = "I'm sorry, I wasn't able to generate a response right now. Please try again shortly."

// GenerateResponse runs the unary query pipeline: retrieve (if useRAG),
// pack context, build the prompt, and call the LLM once.
func (p *Pipeline) GenerateResponse(ctx context.Context, query, userID string, history []llm.Message, contextLimit int, useRAG bool, userMemory string) (QueryResponse, error) {
	t0 := p.now()

	var contextBlock string
	var kept []search.Result
	if useRAG {
		results, err := p.searcher.Search(ctx, query, userID, 0)
		if err != nil {
			return QueryResponse{}, fmt.Errorf("querypipeline: retrieve: %w", err)
		}
		contextBlock, kept = optimizeContext(results, p.contextBudget(contextLimit))
	}
	retrievalMS := ms(p.now().Sub(t0))

	messages := promptbuilder.Build(userMemory, contextBlock, history, query)

	t1 := p.now()
	reply, err := p.provider.Chat(ctx, messages, p.model)
	generationMS := ms(p.now().Sub(t1))
	totalMS := ms(p.now().Sub(t0))

	if err != nil {
		return QueryResponse{
			Response: apologyResponse,
			Context:  contextBlock,
			Sources:  toSourceRefs(kept),
			Metrics: Metrics{
				RetrievalTimeMS:  retrievalMS,
				GenerationTimeMS: generationMS,
				TotalTimeMS:      totalMS,
				SourcesRetrieved: len(kept),
				AvgSimilarity:    avgSimilarity(kept),
			},
		}, nil
	}

	prompt, completion, total := tokenCounts(reply, messages)
	return QueryResponse{
		Response: reply.Content,
		Context:  contextBlock,
		Sources:  toSourceRefs(kept),
		Metrics: Metrics{
			RetrievalTimeMS:  retrievalMS,
			GenerationTimeMS: generationMS,
			TotalTimeMS:      totalMS,
			SourcesRetrieved: len(kept),
			AvgSimilarity:    avgSimilarity(kept),
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      total,
		},
	}, nil
}

// tokenCounts prefers the usage the provider reports on the reply message and
// falls back to estimating from message/content length when Usage is nil.
func tokenCounts(reply llm.Message, prompt []llm.Message) (promptTokens, completionTokens, total int) {
	if reply.Usage != nil {
		return reply.Usage.PromptTokens, reply.Usage.CompletionTokens, reply.Usage.TotalTokens
	}
	for _, m := range prompt {
		promptTokens += estimateTokens(m.Content)
	}
	completionTokens = estimateTokens(reply.Content)
	return promptTokens, completionTokens, promptTokens + completionTokens
}

// EventFunc receives one queryevents.Event at a time, in stream order.
type EventFunc func(queryevents.Event) error

// streamHandler adapts llm.StreamHandler to forward text deltas as
// queryevents.Token, accumulating the full reply for token estimation.
type streamHandler struct {
	emit EventFunc
	buf  strings.Builder
	err  error
}

func (h *streamHandler) OnDelta(content string) {
	if h.err != nil || content == "" {
		return
	}
	h.buf.WriteString(content)
	if err := h.emit(queryevents.Token{Content: content}); err != nil {
		h.err = err
	}
}

// StreamResponse runs the streaming query pipeline, invoking emit once per
// event in the required order: exactly one Sources event before any Token
// events, zero or more Token events in model order, then exactly one
// terminal event, Metrics on success or Error on failure.
func (p *Pipeline) StreamResponse(ctx context.Context, query, userID string, history []llm.Message, contextLimit int, useRAG bool, userMemory string, emit EventFunc) error {
	t0 := p.now()

	var contextBlock string
	var kept []search.Result
	if useRAG {
		results, err := p.searcher.Search(ctx, query, userID, 0)
		if err != nil {
			if emitErr := emit(queryevents.Sources{}); emitErr != nil {
				return emitErr
			}
			return emit(queryevents.Error{Message: err.Error(), IsFinal: true})
		}
		contextBlock, kept = optimizeContext(results, p.contextBudget(contextLimit))
	}
	retrievalMS := ms(p.now().Sub(t0))

	sourcesEvent := queryevents.Sources{
		Sources:          toQuerySourceRefs(kept),
		RetrievalTimeMS:  retrievalMS,
		SourcesRetrieved: len(kept),
		AvgSimilarity:    avgSimilarity(kept),
	}
	if err := emit(sourcesEvent); err != nil {
		return err
	}

	messages := promptbuilder.Build(userMemory, contextBlock, history, query)

	h := &streamHandler{emit: emit}
	t1 := p.now()
	err := p.provider.ChatStream(ctx, messages, p.model, h)
	generationMS := ms(p.now().Sub(t1))
	totalMS := ms(p.now().Sub(t0))

	if h.err != nil {
		return h.err
	}
	if err != nil {
		return emit(queryevents.Error{Message: err.Error(), IsFinal: true})
	}

	promptTokens := 0
	for _, m := range messages {
		promptTokens += estimateTokens(m.Content)
	}
	completionTokens := estimateTokens(h.buf.String())

	return emit(queryevents.Metrics{
		RetrievalTimeMS:  retrievalMS,
		GenerationTimeMS: generationMS,
		TotalTimeMS:      totalMS,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		IsFinal:          true,
	})
}

func toQuerySourceRefs(kept []search.Result) []queryevents.SourceRef {
	out := make([]queryevents.SourceRef, len(kept))
	for i, r := range kept {
		out[i] = queryevents.SourceRef{ChunkID: r.ChunkID, DocumentID: r.DocumentID, RelevanceScore: r.SimilarityScore, Content: r.Content}
	}
	return out
}
