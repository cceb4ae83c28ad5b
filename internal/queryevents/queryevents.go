// Package queryevents defines the ordered event sequence streamed out of
// the Query Pipeline: exactly one Sources event, zero or more Token
// events in model order, then exactly one terminal event (Metrics or
// Error, never both).
package queryevents

// Event is implemented by the four concrete event types a stream_response
// call can yield.
type Event interface {
	isEvent()
}

// Sources is always the first event of a stream and carries the full
// retrieved source list plus retrieval metrics gathered before generation
// started.
type Sources struct {
	Sources          []SourceRef
	RetrievalTimeMS  int64
	SourcesRetrieved int
	AvgSimilarity    float64
}

// SourceRef is one retrieved chunk attributed in a response.
type SourceRef struct {
	ChunkID        string
	DocumentID     string
	RelevanceScore float64
	Content        string
}

// Token carries one LLM delta, in model order.
type Token struct {
	Content string
}

// Metrics is the terminal success event, carrying full timings and token
// accounting.
type Metrics struct {
	RetrievalTimeMS   int64
	GenerationTimeMS  int64
	TotalTimeMS       int64
	PromptTokens      int
	CompletionTokens  int
	TotalTokens       int
	IsFinal           bool
}

// Error is the terminal failure event.
type Error struct {
	Message string
	IsFinal bool
}

func (Sources) isEvent() {}
func (Token) isEvent()   {}
func (Metrics) isEvent() {}
func (Error) isEvent()   {}
