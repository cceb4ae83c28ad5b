// Package memory implements the Memory Extractor (C12): an LLM-driven pass
// over recent conversation turns that extracts durable, self-stated facts
// about the user and merges them into their existing memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ragserv/internal/llm"
	"ragserv/internal/persistence"
)

// Extract's signature matches chatsession.MemoryExtractor exactly; memory
// intentionally doesn't import chatsession to avoid a needless dependency
// in the other direction (the interface is satisfied structurally).

const (
	sentinelNoUpdate  = "NO_UPDATE"
	sentinelForgetAll = "FORGET_ALL"

	// minCleanedLength below which a non-sentinel completion is treated as
	// too thin to be a real update.
	minCleanedLength = 5
)

// uncertaintyKeywords mark a line as not actually a stated fact; any line
// containing one, case-insensitively, is dropped during cleanup.
var uncertaintyKeywords = []string{
	"unknown", "unspecified", "unclear", "not mentioned", "not stated",
	"not provided", "not given", "uncertain", "no information", "no data",
	"not sure", "maybe", "possibly",
}

const systemPrompt = `You extract durable facts about a user from a conversation so they can be remembered across sessions.

Rules:
- Only extract facts the user directly stated about themselves, from their own (user) turns. Never extract facts from assistant turns.
- Output each extracted fact on its own line, prefixed with "- ".
- If the user asked to forget everything remembered about them, respond with exactly: FORGET_ALL
- If there is nothing new to remember, respond with exactly: NO_UPDATE
- Never guess or infer; if a detail is ambiguous, omit it rather than stating it uncertainly.
- Do not include commentary, headers, or code fences. Only the fact lines or one of the two sentinels.`

// Extractor implements chatsession.MemoryExtractor.
type Extractor struct {
	provider llm.Provider
	model    string
}

// New constructs an Extractor backed by the given provider/model.
func New(provider llm.Provider, model string) *Extractor {
	return &Extractor{provider: provider, model: model}
}

// Extract runs the extraction LLM call over currentMemory and recent, then
// applies the post-processing pipeline from SPEC_FULL §4.12: FORGET_ALL
// signals deletion (forget=true); NO_UPDATE or a too-short result signals no
// change (changed=false); otherwise the result is the new memory
// (changed=true): when currentMemory is non-empty, the cleaned lines unioned
// with its existing lines (as sets) and sorted; when it is empty, the cleaned
// lines in the order the model returned them.
func (e *Extractor) Extract(ctx context.Context, currentMemory string, recent []persistence.ChatMessage) (memory string, forget bool, changed bool, err error) {
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildExtractionInput(currentMemory, recent)},
	}
	reply, err := e.provider.Chat(ctx, messages, e.model)
	if err != nil {
		return "", false, false, fmt.Errorf("memory: extract: %w", err)
	}

	raw := strings.TrimSpace(reply.Content)
	if raw == sentinelForgetAll {
		return "", true, false, nil
	}
	cleaned := clean(raw)
	if raw == sentinelNoUpdate || len(cleaned) < minCleanedLength {
		return "", false, false, nil
	}

	if strings.TrimSpace(currentMemory) == "" {
		return cleaned, false, true, nil
	}
	return mergeLines(currentMemory, cleaned), false, true, nil
}

// buildExtractionInput renders currentMemory and the recent turns as plain
// text for the extraction prompt.
func buildExtractionInput(currentMemory string, recent []persistence.ChatMessage) string {
	var b strings.Builder
	b.WriteString("Current memory:\n")
	if strings.TrimSpace(currentMemory) == "" {
		b.WriteString("(none)\n")
	} else {
		b.WriteString(currentMemory)
		b.WriteString("\n")
	}
	b.WriteString("\nRecent conversation:\n")
	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// clean strips surrounding code fences and drops any line containing an
// uncertainty keyword, returning the remaining lines joined by "\n".
func clean(raw string) string {
	text := stripCodeFences(raw)
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if containsUncertainty(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// drop an optional language tag on the fence's opening line
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func containsUncertainty(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range uncertaintyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// mergeLines unions currentMemory's lines with newLines as sets, sorts them
// ascending, and joins with "\n".
func mergeLines(currentMemory, newLines string) string {
	set := make(map[string]struct{})
	for _, line := range strings.Split(currentMemory, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			set[line] = struct{}{}
		}
	}
	for _, line := range strings.Split(newLines, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			set[line] = struct{}{}
		}
	}
	merged := make([]string, 0, len(set))
	for line := range set {
		merged = append(merged, line)
	}
	sort.Strings(merged)
	return strings.Join(merged, "\n")
}
