package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatGenerator calls any OpenAI-compatible /v1/chat/completions endpoint.
// Works with OpenAI, vLLM, LiteLLM, LocalAI, OpenRouter and self-hosted models.
type OpenAICompatGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	json       bool
	httpClient *http.Client
}

// NewOpenAICompatGenerator builds an OpenAI-compatible TextGenerator.
// baseURL should include the /v1 prefix, e.g. "http://localhost:8000/v1".
// apiKey can be empty for local models that do not require authentication.
func NewOpenAICompatGenerator(baseURL, apiKey, model string, opts ...Option) *OpenAICompatGenerator {
	o := buildOptions(120*time.Second, opts)
	return &OpenAICompatGenerator{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		json:       o.json,
		httpClient: &http.Client{Timeout: o.timeout},
	}
}

// GenerateText implements TextGenerator using the OpenAI chat completions API.
func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (Generation, error) {
	if g.model == "" {
		return Generation{}, fmt.Errorf("openai-compat generation model required")
	}
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})

	temperature := 0.0
	reqBody := oaiChatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: &temperature,
	}
	if g.json {
		reqBody.ResponseFormat = &oaiResponseFormat{Type: "json_object"}
	}

	header := http.Header{}
	if g.apiKey != "" {
		header.Set("Authorization", "Bearer "+g.apiKey)
	}
	var chatResp oaiChatResponse
	if err := postJSON(ctx, g.httpClient, "openai-compat", g.baseURL+"/chat/completions", header, reqBody, &chatResp); err != nil {
		return Generation{}, err
	}
	if len(chatResp.Choices) == 0 {
		return Generation{}, fmt.Errorf("empty response from openai-compat api")
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return Generation{}, fmt.Errorf("empty response from openai-compat api")
	}

	gen := Generation{Text: text, Model: chatResp.Model}
	if gen.Model == "" {
		gen.Model = g.model
	}
	if chatResp.Usage != nil {
		gen.PromptTokens = intPtr(chatResp.Usage.PromptTokens)
		gen.CompletionTokens = intPtr(chatResp.Usage.CompletionTokens)
	}
	return gen, nil
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponseFormat struct {
	Type string `json:"type"`
}

type oaiChatRequest struct {
	Model          string             `json:"model"`
	Messages       []oaiMessage       `json:"messages"`
	Temperature    *float64           `json:"temperature,omitempty"`
	ResponseFormat *oaiResponseFormat `json:"response_format,omitempty"`
}

type oaiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
