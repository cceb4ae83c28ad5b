package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragserv/internal/llm"
	"ragserv/internal/persistence"
)

type fakeProvider struct {
	reply   string
	chatErr error
}

func (f *fakeProvider) Chat(context.Context, []llm.Message, string) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: f.reply}, f.chatErr
}

func (f *fakeProvider) ChatStream(context.Context, []llm.Message, string, llm.StreamHandler) error {
	return errors.New("not used")
}

func TestExtractForgetAll(t *testing.T) {
	e := New(&fakeProvider{reply: "FORGET_ALL"}, "test-model")
	memory, forget, changed, err := e.Extract(context.Background(), "- likes go", []persistence.ChatMessage{
		{Role: "user", Content: "please forget everything you know about me"},
	})
	require.NoError(t, err)
	assert.True(t, forget)
	assert.False(t, changed)
	assert.Empty(t, memory)
}

func TestExtractNoUpdate(t *testing.T) {
	e := New(&fakeProvider{reply: "NO_UPDATE"}, "test-model")
	_, forget, changed, err := e.Extract(context.Background(), "- likes go", []persistence.ChatMessage{
		{Role: "user", Content: "what's the weather like?"},
	})
	require.NoError(t, err)
	assert.False(t, forget)
	assert.False(t, changed)
}

func TestExtractNewMemoryNoExisting(t *testing.T) {
	e := New(&fakeProvider{reply: "- name is Alex\n- lives in Berlin"}, "test-model")
	memory, forget, changed, err := e.Extract(context.Background(), "", []persistence.ChatMessage{
		{Role: "user", Content: "my name is Alex and I live in Berlin"},
	})
	require.NoError(t, err)
	assert.False(t, forget)
	assert.True(t, changed)
	// No existing memory: the cleaned extraction is returned as-is, not
	// sorted (sorting only applies when merging with existing lines).
	assert.Equal(t, "- name is Alex\n- lives in Berlin", memory)
}

func TestExtractMergesWithExistingMemory(t *testing.T) {
	e := New(&fakeProvider{reply: "- works as an engineer"}, "test-model")
	memory, _, changed, err := e.Extract(context.Background(), "- name is Alex", []persistence.ChatMessage{
		{Role: "user", Content: "I work as an engineer"},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "- name is Alex\n- works as an engineer", memory)
}

func TestExtractDropsUncertainLines(t *testing.T) {
	e := New(&fakeProvider{reply: "- name is Alex\n- hometown is unclear from the conversation"}, "test-model")
	memory, _, changed, err := e.Extract(context.Background(), "", []persistence.ChatMessage{
		{Role: "user", Content: "my name is Alex"},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "- name is Alex", memory)
}

func TestExtractStripsCodeFences(t *testing.T) {
	e := New(&fakeProvider{reply: "```\n- name is Alex\n```"}, "test-model")
	memory, _, changed, err := e.Extract(context.Background(), "", []persistence.ChatMessage{
		{Role: "user", Content: "my name is Alex"},
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "- name is Alex", memory)
}

func TestExtractTooShortAfterCleanupIsNoChange(t *testing.T) {
	e := New(&fakeProvider{reply: "-x"}, "test-model")
	_, forget, changed, err := e.Extract(context.Background(), "- name is Alex", nil)
	require.NoError(t, err)
	assert.False(t, forget)
	assert.False(t, changed)
}

func TestExtractPropagatesProviderError(t *testing.T) {
	e := New(&fakeProvider{chatErr: errors.New("boom")}, "test-model")
	_, _, _, err := e.Extract(context.Background(), "", nil)
	assert.Error(t, err)
}
