package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Develata/rss-ai-news/internal/config"
)

// OpenAIClient implements Client over any OpenAI-compatible chat completion
// endpoint via the official SDK.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient builds a client from AI settings, reading the API key from
// the configured environment variable.
func NewOpenAIClient(cfg config.AI) (*OpenAIClient, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("api key not set: export %s", cfg.APIKeyEnv)
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Complete sends one system+user exchange and returns the assistant text.
// Failures are classified so callers can choose between retrying and
// stopping the run.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &APIError{StatusCode: http.StatusOK, Message: "empty choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", ErrRateLimited, apierr.Message)
		}
		return &APIError{StatusCode: apierr.StatusCode, Message: apierr.Message}
	}
	// Anything that never became an HTTP response: DNS, refused
	// connections, timeouts.
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
