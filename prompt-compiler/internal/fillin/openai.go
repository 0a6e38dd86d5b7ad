package fillin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"

	"storyteller/prompt-compiler/internal/config"
)

var (
	fillRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prompt_compiler_fill_requests_total",
			Help: "Total number of fill-in requests to the generative model.",
		},
		[]string{"provider", "model", "status"},
	)
	fillRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prompt_compiler_fill_request_duration_seconds",
			Help:    "Histogram of fill-in request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)
)

// openAIClient реализует Client через OpenAI-совместимый API.
type openAIClient struct {
	client *openaigo.Client
	model  string
}

func newOpenAIClient(cfg config.FillConfig) (*openAIClient, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("fill-in API key is not configured (FILL_API_KEY)")
	}

	clientCfg := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &openAIClient{
		client: openaigo.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Complete выполняет один chat-completion запрос.
func (c *openAIClient) Complete(ctx context.Context, systemPrompt string, userPrompt string) (string, error) {
	startTime := time.Now()

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openaigo.ChatCompletionRequest{
			Model: c.model,
			Messages: []openaigo.ChatCompletionMessage{
				{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openaigo.ChatMessageRoleUser, Content: userPrompt},
			},
			// Низкая температура: шлюз добавляет детали, а не сочиняет сюжет.
			Temperature: 0.4,
			ResponseFormat: &openaigo.ChatCompletionResponseFormat{
				Type: openaigo.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)

	duration := time.Since(startTime)
	fillRequestDuration.WithLabelValues("openai", c.model).Observe(duration.Seconds())

	if err != nil {
		fillRequestsTotal.WithLabelValues("openai", c.model, "error").Inc()
		return "", fmt.Errorf("%w: %v", ErrFillFailed, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		fillRequestsTotal.WithLabelValues("openai", c.model, "error_empty_response").Inc()
		return "", fmt.Errorf("%w: empty response", ErrFillFailed)
	}

	fillRequestsTotal.WithLabelValues("openai", c.model, "success").Inc()
	return resp.Choices[0].Message.Content, nil
}
