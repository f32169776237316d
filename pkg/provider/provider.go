package provider

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
)

// DefaultSystemPrompt steers answer providers towards naming concrete brands
const DefaultSystemPrompt = "You are a helpful shopping assistant. Answer the user's question with specific product and brand recommendations. Be detailed and mention specific brands by name."

// DefaultMaxTokens is the answer length limit of every provider
const DefaultMaxTokens = 1000

// Request is a single question to an AI answer service
type Request struct {
	Text string
	// SystemPrompt replaces DefaultSystemPrompt when not empty
	SystemPrompt string
}

func (r *Request) systemPrompt() string {
	if r.SystemPrompt != "" {
		return r.SystemPrompt
	}
	return DefaultSystemPrompt
}

// Response is the answer of a provider
type Response struct {
	Text       string
	Model      string
	TokensUsed int64
	Latency    time.Duration
	Provider   model.ProviderID
}

// Provider is a uniform query capability over one AI answer service.
// Errors returned by Query are tagged with model.ErrTagProvider.
type Provider interface {
	ID() model.ProviderID
	Query(ctx context.Context, req *Request) (*Response, error)
}

type config struct {
	model     string
	maxTokens int64
}

// Option configures a provider
type Option func(*config)

// WithModel overrides the default model of the provider
func WithModel(name string) Option {
	return func(c *config) {
		c.model = name
	}
}

// WithMaxTokens overrides DefaultMaxTokens
func WithMaxTokens(n int64) Option {
	return func(c *config) {
		c.maxTokens = n
	}
}

func newConfig(defaultModel string, opts []Option) config {
	cfg := config{
		model:     defaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func wrapError(err error, id model.ProviderID, msg string) error {
	return goerr.Wrap(err, msg,
		goerr.T(model.ErrTagProvider),
		goerr.V("provider", id))
}

func emptyAnswer(id model.ProviderID, modelName string) error {
	return goerr.New("provider returned empty answer",
		goerr.T(model.ErrTagProvider),
		goerr.V("provider", id),
		goerr.V("model", modelName))
}
