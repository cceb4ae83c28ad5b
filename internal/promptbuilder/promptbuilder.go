// Package promptbuilder assembles the deterministic system message and the
// final message list fed to the LLM provider for both the unary and
// streaming query pipelines.
package promptbuilder

import (
	"fmt"
	"strings"

	"ragserv/internal/llm"
)

const identityClause = "You are a helpful assistant for this workspace. Answer using the information below when it is relevant, and be direct and concise."

const noMemory = "None provided."
const noContext = "No external documents provided."

const answeringRules = "When answering: prefer the user memory for personal facts about the user; prefer the knowledge base for factual questions about documents; never invent information not present in either section; if the two sections conflict on a personal fact, the user memory wins. Do not preface answers with phrases like \"according to memory\"."

// SystemMessage builds the system prompt in the fixed priority order:
// identity clause, user memory, knowledge base, answering rules.
func SystemMessage(userMemory, contextBlock string) string {
	memory := strings.TrimSpace(userMemory)
	if memory == "" {
		memory = noMemory
	}
	ctx := strings.TrimSpace(contextBlock)
	if ctx == "" {
		ctx = noContext
	}
	var b strings.Builder
	b.WriteString(identityClause)
	b.WriteString("\n\nUSER MEMORY (HIGHEST PRIORITY)\n")
	b.WriteString(memory)
	b.WriteString("\n\nKNOWLEDGE BASE (DOCUMENTS)\n")
	b.WriteString(ctx)
	b.WriteString("\n\n")
	b.WriteString(answeringRules)
	return b.String()
}

// Build returns [system, ...history, {user, query}]. history is passed
// through verbatim; it must not include the query being answered.
func Build(userMemory, contextBlock string, history []llm.Message, query string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: SystemMessage(userMemory, contextBlock)})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: query})
	return msgs
}

// ContextChunk is one retrieved chunk ready to be serialized into the
// knowledge-base block.
type ContextChunk struct {
	Index      int
	Score      float64
	DocumentID string
	Content    string
}

// FormatContextBlock renders chunks in source order as
// "[Source {i} | Score: {s} | Doc: {id}]\n{content}", joined by blank lines.
func FormatContextBlock(chunks []ContextChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[Source %d | Score: %.3f | Doc: %s]\n%s", c.Index, c.Score, c.DocumentID, c.Content)
	}
	return strings.Join(parts, "\n\n")
}
