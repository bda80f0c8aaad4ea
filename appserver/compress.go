package appserver

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Chat completion wire types, OpenAI-compatible so any of the supported
// providers can sit behind the same client.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

const defaultSystemPrompt = "Process the following content according to the user's instruction. " +
	"Preserve key facts, names, numbers, and actionable information. " +
	"Output only the result, no preamble."

// LLMConfig selects the chat-completion provider used for summarization.
type LLMConfig struct {
	// Provider is one of "openai", "openrouter" or "custom".
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// LLMConfigFromEnv reads the provider selection and credentials from the
// environment, with the same variables and defaults the service has always
// shipped with.
func LLMConfigFromEnv() LLMConfig {
	cfg := LLMConfig{
		Provider:     envOr("LLM_PROVIDER", "openrouter"),
		SystemPrompt: envOr("COMPRESSION_PROMPT", defaultSystemPrompt),
		Timeout:      15 * time.Second,
	}

	switch cfg.Provider {
	case "openai":
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		cfg.BaseURL = envOr("OPENAI_BASE_URL", "https://api.openai.com/v1")
		cfg.Model = envOr("OPENAI_MODEL", "gpt-4o-mini")
	case "openrouter":
		cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
		cfg.BaseURL = envOr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
		cfg.Model = envOr("OPENROUTER_MODEL", "google/gemini-2.0-flash-lite-001")
	case "custom":
		cfg.APIKey = os.Getenv("CUSTOM_API_KEY")
		cfg.BaseURL = os.Getenv("CUSTOM_BASE_URL")
		cfg.Model = os.Getenv("CUSTOM_MODEL")
	}

	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Compressor summarizes large text payloads through an OpenAI-compatible
// chat completions endpoint.
type Compressor struct {
	cfg    LLMConfig
	client *http.Client
}

// NewCompressor validates the provider configuration and returns a client
// for it.
func NewCompressor(cfg LLMConfig) (*Compressor, error) {
	switch cfg.Provider {
	case "openai", "openrouter", "custom":
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for LLM provider %q", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("no base URL configured for LLM provider %q", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("no model configured for LLM provider %q", cfg.Provider)
	}

	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Compressor{cfg: cfg, client: &http.Client{}}, nil
}

// Compress asks the model to condense content down to roughly maxTokens
// tokens. The call is bounded by the configured timeout.
func (c *Compressor) Compress(ctx context.Context, content string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if maxTokens <= 0 {
		maxTokens = 512
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.cfg.SystemPrompt},
			{Role: "user", Content: content},
		},
		MaxTokens:   maxTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion returned %s", resp.Status)
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", err
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return completion.Choices[0].Message.Content, nil
}
