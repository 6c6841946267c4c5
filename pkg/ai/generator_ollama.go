package ai

import (
	"context"
	"fmt"
	"strings"
)

// OllamaGenerator wraps OllamaClient with a fixed model for text generation
// using the Ollama /api/chat endpoint.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
	json   bool
}

// NewOllamaGenerator builds an Ollama-based TextGenerator.
func NewOllamaGenerator(client *OllamaClient, model string, opts ...Option) *OllamaGenerator {
	o := buildOptions(0, opts)
	if o.timeout > 0 {
		client.httpClient.Timeout = o.timeout
	}
	return &OllamaGenerator{client: client, model: model, json: o.json}
}

// GenerateText implements TextGenerator using Ollama /api/chat.
func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (Generation, error) {
	model := strings.TrimSpace(g.model)
	if model == "" {
		return Generation{}, fmt.Errorf("ollama generation model required")
	}

	messages := make([]ollamaChatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: userPrompt})

	reqBody := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	}
	if g.json {
		reqBody.Format = "json"
	}

	var resp ollamaChatResponse
	if err := postJSON(ctx, g.client.httpClient, "ollama", g.client.baseURL+"/api/chat", nil, reqBody, &resp); err != nil {
		return Generation{}, err
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return Generation{}, fmt.Errorf("empty response from ollama")
	}
	gen := Generation{Text: resp.Message.Content, Model: resp.Model}
	if gen.Model == "" {
		gen.Model = model
	}
	// Ollama omits the counts when the prompt was served from cache.
	if resp.PromptEvalCount != nil && resp.EvalCount != nil {
		gen.PromptTokens = intPtr(*resp.PromptEvalCount)
		gen.CompletionTokens = intPtr(*resp.EvalCount)
	}
	return gen, nil
}

// Ollama /api/chat request/response types.

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         ollamaChatMessage `json:"message"`
	PromptEvalCount *int              `json:"prompt_eval_count"`
	EvalCount       *int              `json:"eval_count"`
}
