package promptbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ragserv/internal/llm"
)

func TestSystemMessageOrderAndDefaults(t *testing.T) {
	msg := SystemMessage("", "")
	memIdx := indexOf(msg, "USER MEMORY (HIGHEST PRIORITY)")
	kbIdx := indexOf(msg, "KNOWLEDGE BASE (DOCUMENTS)")
	rulesIdx := indexOf(msg, "When answering:")

	assert.True(t, memIdx < kbIdx)
	assert.True(t, kbIdx < rulesIdx)
	assert.Contains(t, msg, noMemory)
	assert.Contains(t, msg, noContext)
}

func TestSystemMessageFillsProvidedValues(t *testing.T) {
	msg := SystemMessage("User's name is Alex.", "[Source 1 | Score: 0.900 | Doc: d1]\nParis is the capital of France.")
	assert.Contains(t, msg, "User's name is Alex.")
	assert.Contains(t, msg, "Paris is the capital of France.")
	assert.NotContains(t, msg, noMemory)
	assert.NotContains(t, msg, noContext)
}

func TestBuildAssemblesMessageList(t *testing.T) {
	history := []llm.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	msgs := Build("", "", history, "what's the weather?")
	assert.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, "hello", msgs[2].Content)
	assert.Equal(t, "user", msgs[3].Role)
	assert.Equal(t, "what's the weather?", msgs[3].Content)
}

func TestFormatContextBlock(t *testing.T) {
	block := FormatContextBlock([]ContextChunk{
		{Index: 1, Score: 0.876, DocumentID: "doc-1", Content: "first chunk"},
		{Index: 2, Score: 0.5, DocumentID: "doc-2", Content: "second chunk"},
	})
	assert.Contains(t, block, "[Source 1 | Score: 0.876 | Doc: doc-1]\nfirst chunk")
	assert.Contains(t, block, "[Source 2 | Score: 0.500 | Doc: doc-2]\nsecond chunk")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
