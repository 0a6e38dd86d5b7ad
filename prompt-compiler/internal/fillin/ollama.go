package fillin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"storyteller/prompt-compiler/internal/config"
)

// ollamaClient реализует Client через нативный Ollama API (локальная модель).
type ollamaClient struct {
	client *api.Client
	model  string
}

func newOllamaClient(cfg config.FillConfig) (*ollamaClient, error) {
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
	}

	// api.NewClient требует URL без суффикса /v1
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/v1")
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL '%s': %w", baseURL, err)
	}

	return &ollamaClient{
		client: api.NewClient(parsedURL, httpClient),
		model:  cfg.Model,
	}, nil
}

// Complete выполняет один chat-запрос к Ollama без стриминга.
func (c *ollamaClient) Complete(ctx context.Context, systemPrompt string, userPrompt string) (string, error) {
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream: func(b bool) *bool { return &b }(false),
		Format: []byte(`"json"`),
		Options: map[string]interface{}{
			"temperature": 0.4,
		},
	}

	startTime := time.Now()

	var resp api.ChatResponse
	err := c.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r // Сохраняем последний (полный) ответ
		return nil
	})

	fillRequestDuration.WithLabelValues("ollama", c.model).Observe(time.Since(startTime).Seconds())

	if err != nil {
		fillRequestsTotal.WithLabelValues("ollama", c.model, "error").Inc()
		return "", fmt.Errorf("%w: %v", ErrFillFailed, err)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		fillRequestsTotal.WithLabelValues("ollama", c.model, "error_empty_response").Inc()
		return "", fmt.Errorf("%w: empty response", ErrFillFailed)
	}

	fillRequestsTotal.WithLabelValues("ollama", c.model, "success").Inc()
	return resp.Message.Content, nil
}
