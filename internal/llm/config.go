package llm

import (
	"os"
	"time"
)

const (
	// DefaultChatCompletionURL is the endpoint used when LLM_API_BASE is unset.
	DefaultChatCompletionURL = "https://api.openai.com/v1/chat/completions"

	// DefaultModel is the model requested when LLM_MODEL is unset.
	DefaultModel = "gpt-4o-mini"
)

// Config holds the settings for the chat-completions client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

func NewConfig() *Config {
	baseURL := os.Getenv("LLM_API_BASE")
	if baseURL == "" {
		baseURL = DefaultChatCompletionURL
	}

	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = DefaultModel
	}

	return &Config{
		APIKey:  os.Getenv("LLM_API_KEY"),
		BaseURL: baseURL,
		Model:   model,
		Timeout: 60 * time.Second,
	}
}
