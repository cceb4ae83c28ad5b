// Package providers selects and constructs a concrete internal/llm.Provider
// from configuration.
package providers

import (
	"fmt"
	"net/http"

	"ragserv/internal/config"
	"ragserv/internal/llm"
	"ragserv/internal/llm/anthropic"
	"ragserv/internal/llm/google"
	openaillm "ragserv/internal/llm/openai"
)

// Build constructs an llm.Provider based on cfg.LLM.Provider.
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "", "anthropic":
		return anthropic.New(cfg.LLM.Anthropic, httpClient), nil
	case "openai":
		return openaillm.New(cfg.LLM.OpenAI, httpClient), nil
	case "google":
		return google.New(cfg.LLM.Google, httpClient)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}
