package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI is the interface for chat completion APIs compatible with OpenAI
type OpenAI interface {
	ChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

type openaiClient struct {
	client *openai.Client
}

type openaiConfig struct {
	baseURL string
}

// OpenAIOption is a functional option for OpenAI client
type OpenAIOption func(*openaiConfig)

// WithBaseURL points the client at another OpenAI compatible endpoint
func WithBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) {
		c.baseURL = url
	}
}

// NewOpenAI creates a new OpenAI compatible API client
func NewOpenAI(apiKey string, opts ...OpenAIOption) OpenAI {
	var cfg openaiConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	client := openai.NewClient(reqOpts...)
	return &openaiClient{client: &client}
}

func (c *openaiClient) ChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chat completion", goerr.V("model", params.Model))
	}
	return resp, nil
}
